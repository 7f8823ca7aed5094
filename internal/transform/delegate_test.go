package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/kml"
)

type stubDelegate struct {
	content string
	style   string
	err     error
	panics  bool
}

func (d stubDelegate) KMLContent(context.Context, model.Entry, Arguments) (string, error) {
	if d.panics {
		panic("delegate bug")
	}
	return d.content, d.err
}

func (d stubDelegate) KMLStyle(context.Context) (string, error) {
	return d.style, nil
}

const (
	videoPlacemark = `<Placemark id="Placemark-v1"><name>Video</name><Point><coordinates>3,4</coordinates></Point></Placemark>`
	videoStyle     = `<Style id="video"><IconStyle><scale>2</scale></IconStyle></Style>`
)

func videoEntry() model.Entry {
	e := entry("v1", "Fallback", "POINT (9 9)")
	e.ContentType = "video"
	return e
}

func TestTransformEntry_DelegateWins(t *testing.T) {
	reg := NewDelegateRegistry()
	reg.Register(DelegateQualifier, "video", stubDelegate{content: videoPlacemark, style: videoStyle})
	tr := newTestTransformer(t, WithDelegates(reg))

	p, err := tr.TransformEntry(context.Background(), videoEntry(), Arguments{})
	if err != nil {
		t.Fatalf("TransformEntry: %v", err)
	}
	if p.Name != "Video" || len(p.Styles) != 1 || p.Styles[0].ID != "video" {
		t.Fatalf("placemark=%+v", p)
	}
	if pt, ok := p.Geometry.(*kml.Point); !ok || pt.Coordinates[0] != (kml.Coordinate{X: 3, Y: 4}) {
		t.Fatalf("geometry=%#v", p.Geometry)
	}

	c, err := tr.TransformResponse(context.Background(), response(videoEntry()), Arguments{})
	if err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
	s := string(c.Data)
	if strings.Contains(s, "#default") || strings.Contains(s, `<StyleMap id="default">`) {
		t.Fatalf("delegate placemark carries its own style:\n%s", s)
	}
}

func TestTransformEntry_DelegateFallthrough(t *testing.T) {
	cases := map[string]stubDelegate{
		"content error": {err: errors.New("nope"), style: videoStyle},
		"bad fragment":  {content: "<Folder/>", style: videoStyle},
		"bad style":     {content: videoPlacemark, style: ""},
		"panic":         {panics: true},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			reg := NewDelegateRegistry()
			reg.Register(DelegateQualifier, "video", d)
			tr := newTestTransformer(t, WithDelegates(reg))
			p, err := tr.TransformEntry(context.Background(), videoEntry(), Arguments{})
			if err != nil {
				t.Fatalf("TransformEntry: %v", err)
			}
			if p.Name != "Fallback" || p.ID != "Placemark-v1" || p.HasStyleSelectors() {
				t.Fatalf("want default placemark, got %+v", p)
			}
		})
	}
}

func TestDelegateRegistry(t *testing.T) {
	reg := NewDelegateRegistry()
	if _, ok := reg.Lookup(DelegateQualifier, "video"); ok {
		t.Fatalf("empty registry lookup succeeded")
	}
	reg.Register(DelegateQualifier, "video", stubDelegate{})
	reg.Register("other", "video", stubDelegate{})
	if reg.Len() != 2 {
		t.Fatalf("len=%d want 2", reg.Len())
	}
	reg.Unregister(DelegateQualifier, "video")
	if _, ok := reg.Lookup(DelegateQualifier, "video"); ok {
		t.Fatalf("lookup after unregister succeeded")
	}
	if _, ok := reg.Lookup("other", "video"); !ok {
		t.Fatalf("qualifier should be part of the key")
	}
}

func TestLoadDelegates(t *testing.T) {
	fsys := fstest.MapFS{
		"video.placemark.tmpl": {Data: []byte(
			`<Placemark id="{{ .ID }}"><name>{{ xml .Entry.Title }}</name>` +
				`<description>{{ xml (print (attr .Entry "codec")) }}</description>` +
				`{{ geometry .Entry.Location }}</Placemark>`)},
		"video.style.kml":       {Data: []byte(videoStyle)},
		"orphan.placemark.tmpl": {Data: []byte(`<Placemark/>`)},
		"README":                {Data: []byte("ignored")},
	}
	reg := NewDelegateRegistry()
	n, err := LoadDelegates(fsys, reg, quietLogger())
	if err != nil {
		t.Fatalf("LoadDelegates: %v", err)
	}
	if n != 1 || reg.Len() != 1 {
		t.Fatalf("loaded=%d len=%d want 1", n, reg.Len())
	}

	tr := newTestTransformer(t, WithDelegates(reg))
	e := model.Entry{
		ID:          "v2",
		Title:       "A & B",
		ContentType: "video",
		Location:    "LINESTRING (0 0, 1 1)",
		Attributes: map[string]model.Attribute{
			"codec": {Name: "codec", Format: model.FormatString, Value: "h264"},
		},
	}
	p, err := tr.TransformEntry(context.Background(), e, Arguments{})
	if err != nil {
		t.Fatalf("TransformEntry: %v", err)
	}
	if p.ID != "Placemark-v2" || p.Name != "A & B" || p.Description != "h264" {
		t.Fatalf("placemark=%+v", p)
	}
	if len(p.Styles) != 1 || p.Styles[0].ID != "video" {
		t.Fatalf("styles=%+v", p.Styles)
	}
	mg, ok := p.Geometry.(*kml.MultiGeometry)
	if !ok || len(mg.Geometries) != 2 || kml.Kind(mg.Geometries[1]) != "LineString" {
		t.Fatalf("geometry=%#v", p.Geometry)
	}
}

func TestLoadDelegates_BadTemplate(t *testing.T) {
	fsys := fstest.MapFS{
		"video.placemark.tmpl": {Data: []byte(`{{ .ID `)},
		"video.style.kml":      {Data: []byte(videoStyle)},
	}
	if _, err := LoadDelegates(fsys, NewDelegateRegistry(), quietLogger()); err == nil {
		t.Fatalf("expected parse error")
	}
}
