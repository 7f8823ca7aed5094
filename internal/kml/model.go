// Package kml defines the subset of the KML 2.2 object model the service
// produces, plus its XML codec.
package kml

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

const (
	Namespace = "http://www.opengis.net/kml/2.2"
	MimeType  = "application/vnd.google-earth.kml+xml"

	RefreshOnInterval = "onInterval"
)

// Coordinate is a lon/lat pair.
type Coordinate struct {
	X, Y float64
}

// Coordinates encodes as the KML "x,y x,y" tuple list.
type Coordinates []Coordinate

func (c Coordinates) MarshalText() ([]byte, error) {
	parts := make([]string, 0, len(c))
	for _, p := range c {
		parts = append(parts, strconv.FormatFloat(p.X, 'f', -1, 64)+","+strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	return []byte(strings.Join(parts, " ")), nil
}

func (c *Coordinates) UnmarshalText(b []byte) error {
	var out Coordinates
	for _, tuple := range strings.Fields(string(b)) {
		vals := strings.Split(tuple, ",")
		if len(vals) < 2 {
			return fmt.Errorf("coordinate %q: want x,y[,z]", tuple)
		}
		x, err := strconv.ParseFloat(vals[0], 64)
		if err != nil {
			return fmt.Errorf("coordinate %q: x: %w", tuple, err)
		}
		y, err := strconv.ParseFloat(vals[1], 64)
		if err != nil {
			return fmt.Errorf("coordinate %q: y: %w", tuple, err)
		}
		out = append(out, Coordinate{X: x, Y: y})
	}
	*c = out
	return nil
}

// Geometry is one of *Point, *LineString, *Polygon or *MultiGeometry.
type Geometry interface {
	geometryKind() string
}

type Point struct {
	XMLName     xml.Name    `xml:"Point"`
	Coordinates Coordinates `xml:"coordinates"`
}

func NewPoint(x, y float64) *Point {
	return &Point{Coordinates: Coordinates{{X: x, Y: y}}}
}

type LineString struct {
	XMLName     xml.Name    `xml:"LineString"`
	Coordinates Coordinates `xml:"coordinates"`
}

type LinearRing struct {
	Coordinates Coordinates `xml:"coordinates"`
}

type Boundary struct {
	LinearRing LinearRing `xml:"LinearRing"`
}

type Polygon struct {
	XMLName         xml.Name  `xml:"Polygon"`
	OuterBoundaryIs *Boundary `xml:"outerBoundaryIs,omitempty"`
}

type MultiGeometry struct {
	XMLName    xml.Name `xml:"MultiGeometry"`
	Geometries []Geometry
}

func (*Point) geometryKind() string         { return "Point" }
func (*LineString) geometryKind() string    { return "LineString" }
func (*Polygon) geometryKind() string       { return "Polygon" }
func (*MultiGeometry) geometryKind() string { return "MultiGeometry" }

// Kind names the geometry variant, or "" for nil.
func Kind(g Geometry) string {
	if g == nil {
		return ""
	}
	return g.geometryKind()
}

// Style keeps its body verbatim; the service never interprets style content.
type Style struct {
	XMLName xml.Name `xml:"Style"`
	ID      string   `xml:"id,attr,omitempty"`
	Inner   string   `xml:",innerxml"`
}

type StyleMap struct {
	XMLName xml.Name `xml:"StyleMap"`
	ID      string   `xml:"id,attr,omitempty"`
	Inner   string   `xml:",innerxml"`
}

// StyleSet is a list of style selectors attached to a feature or document.
type StyleSet struct {
	Styles    []Style
	StyleMaps []StyleMap
}

func (s StyleSet) Empty() bool { return len(s.Styles) == 0 && len(s.StyleMaps) == 0 }

func (s StyleSet) Clone() StyleSet {
	return StyleSet{
		Styles:    append([]Style(nil), s.Styles...),
		StyleMaps: append([]StyleMap(nil), s.StyleMaps...),
	}
}

type TimeStamp struct {
	When string `xml:"when"`
}

type Placemark struct {
	XMLName     xml.Name   `xml:"Placemark"`
	ID          string     `xml:"id,attr,omitempty"`
	Name        string     `xml:"name,omitempty"`
	Description string     `xml:"description,omitempty"`
	TimeStamp   *TimeStamp `xml:"TimeStamp,omitempty"`
	StyleURL    string     `xml:"styleUrl,omitempty"`
	Styles      []Style    `xml:"Style"`
	StyleMaps   []StyleMap `xml:"StyleMap"`
	Geometry    Geometry   `xml:",omitempty"`
}

// HasStyleSelectors reports whether explicit style objects are attached.
func (p *Placemark) HasStyleSelectors() bool {
	return len(p.Styles) > 0 || len(p.StyleMaps) > 0
}

func (p *Placemark) AddStyles(s StyleSet) {
	p.Styles = append(p.Styles, s.Styles...)
	p.StyleMaps = append(p.StyleMaps, s.StyleMaps...)
}

type Link struct {
	Href            string  `xml:"href"`
	RefreshMode     string  `xml:"refreshMode,omitempty"`
	RefreshInterval float64 `xml:"refreshInterval"`
	ViewBoundScale  float64 `xml:"viewBoundScale,omitempty"`
}

type NetworkLink struct {
	XMLName xml.Name `xml:"NetworkLink"`
	Name    string   `xml:"name,omitempty"`
	Link    *Link    `xml:"Link,omitempty"`
}

type Document struct {
	XMLName      xml.Name       `xml:"Document"`
	ID           string         `xml:"id,attr,omitempty"`
	Name         string         `xml:"name,omitempty"`
	Open         bool           `xml:"open"`
	Styles       []Style        `xml:"Style"`
	StyleMaps    []StyleMap     `xml:"StyleMap"`
	Placemarks   []*Placemark   `xml:"Placemark"`
	NetworkLinks []*NetworkLink `xml:"NetworkLink"`
}

func (d *Document) AddStyles(s StyleSet) {
	d.Styles = append(d.Styles, s.Styles...)
	d.StyleMaps = append(d.StyleMaps, s.StyleMaps...)
}

// Feature is the top-level content of a KML root: *Document or *Placemark.
type Feature interface {
	featureKind() string
}

func (*Document) featureKind() string  { return "Document" }
func (*Placemark) featureKind() string { return "Placemark" }

type KML struct {
	XMLName xml.Name `xml:"http://www.opengis.net/kml/2.2 kml"`
	Feature Feature  `xml:",omitempty"`
}

// EncloseDocument builds an open Document holding an optional placemark and
// style.
func EncloseDocument(p *Placemark, style *Style, id, name string) *Document {
	doc := &Document{ID: id, Name: name, Open: true}
	if style != nil {
		doc.Styles = append(doc.Styles, *style)
	}
	if p != nil {
		doc.Placemarks = append(doc.Placemarks, p)
	}
	return doc
}
