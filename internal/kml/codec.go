package kml

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

//go:embed default_style.kml
var defaultStyleKML []byte

// Marshal encodes a KML root with the XML header, UTF-8, unindented.
func Marshal(k *KML) ([]byte, error) {
	if k == nil {
		return nil, errors.New("marshal kml: nil root")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(k); err != nil {
		return nil, fmt.Errorf("marshal kml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal kml: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalGeometry encodes a bare geometry element, for embedding in
// hand-built placemark content.
func MarshalGeometry(g Geometry) (string, error) {
	if g == nil {
		return "", errors.New("marshal geometry: nil")
	}
	b, err := xml.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal geometry: %w", err)
	}
	return string(b), nil
}

// UnmarshalPlacemark decodes a standalone <Placemark> fragment.
func UnmarshalPlacemark(s string) (*Placemark, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("unmarshal placemark: empty content")
	}
	var p Placemark
	if err := xml.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshal placemark: %w", err)
	}
	return &p, nil
}

// UnmarshalStyle decodes a standalone <Style> fragment.
func UnmarshalStyle(s string) (*Style, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("unmarshal style: empty content")
	}
	var st Style
	if err := xml.Unmarshal([]byte(s), &st); err != nil {
		return nil, fmt.Errorf("unmarshal style: %w", err)
	}
	return &st, nil
}

// LoadStyleSet reads the style selectors of the top-level feature of a KML
// document.
func LoadStyleSet(r io.Reader) (StyleSet, error) {
	var root struct {
		XMLName  xml.Name `xml:"kml"`
		Document *struct {
			Styles    []Style    `xml:"Style"`
			StyleMaps []StyleMap `xml:"StyleMap"`
		} `xml:"Document"`
		Placemark *struct {
			Styles    []Style    `xml:"Style"`
			StyleMaps []StyleMap `xml:"StyleMap"`
		} `xml:"Placemark"`
	}
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return StyleSet{}, fmt.Errorf("decode style kml: %w", err)
	}
	switch {
	case root.Document != nil:
		return StyleSet{Styles: root.Document.Styles, StyleMaps: root.Document.StyleMaps}, nil
	case root.Placemark != nil:
		return StyleSet{Styles: root.Placemark.Styles, StyleMaps: root.Placemark.StyleMaps}, nil
	default:
		return StyleSet{}, nil
	}
}

// DefaultStyleSet returns the built-in "#default" styling.
func DefaultStyleSet() (StyleSet, error) {
	return LoadStyleSet(bytes.NewReader(defaultStyleKML))
}

func (p *Placemark) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != "Placemark" {
		return fmt.Errorf("expected element <Placemark>, have <%s>", start.Name.Local)
	}
	var aux struct {
		ID            string         `xml:"id,attr"`
		Name          string         `xml:"name"`
		Description   string         `xml:"description"`
		TimeStamp     *TimeStamp     `xml:"TimeStamp"`
		StyleURL      string         `xml:"styleUrl"`
		Styles        []Style        `xml:"Style"`
		StyleMaps     []StyleMap     `xml:"StyleMap"`
		Point         *Point         `xml:"Point"`
		LineString    *LineString    `xml:"LineString"`
		Polygon       *Polygon       `xml:"Polygon"`
		MultiGeometry *MultiGeometry `xml:"MultiGeometry"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	*p = Placemark{
		XMLName:     xml.Name{Local: "Placemark"},
		ID:          aux.ID,
		Name:        aux.Name,
		Description: aux.Description,
		TimeStamp:   aux.TimeStamp,
		StyleURL:    aux.StyleURL,
		Styles:      aux.Styles,
		StyleMaps:   aux.StyleMaps,
	}
	switch {
	case aux.Point != nil:
		p.Geometry = aux.Point
	case aux.LineString != nil:
		p.Geometry = aux.LineString
	case aux.Polygon != nil:
		p.Geometry = aux.Polygon
	case aux.MultiGeometry != nil:
		p.Geometry = aux.MultiGeometry
	}
	return nil
}

// UnmarshalXML keeps child geometries in document order.
func (m *MultiGeometry) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m.XMLName = xml.Name{Local: "MultiGeometry"}
	m.Geometries = nil
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("multigeometry: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			g, err := decodeGeometry(d, t)
			if err != nil {
				return err
			}
			if g == nil {
				if err := d.Skip(); err != nil {
					return fmt.Errorf("multigeometry: skip %s: %w", t.Name.Local, err)
				}
				continue
			}
			m.Geometries = append(m.Geometries, g)
		case xml.EndElement:
			return nil
		}
	}
}

func decodeGeometry(d *xml.Decoder, start xml.StartElement) (Geometry, error) {
	var g Geometry
	switch start.Name.Local {
	case "Point":
		g = &Point{}
	case "LineString":
		g = &LineString{}
	case "Polygon":
		g = &Polygon{}
	case "MultiGeometry":
		g = &MultiGeometry{}
	default:
		return nil, nil
	}
	if err := d.DecodeElement(g, &start); err != nil {
		return nil, fmt.Errorf("decode %s: %w", start.Name.Local, err)
	}
	return g, nil
}
