package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

func TestTemplateDescriber_Builtin(t *testing.T) {
	d, err := NewTemplateDescriber(nil, 0, WithPlatform("Catalog"))
	if err != nil {
		t.Fatalf("NewTemplateDescriber: %v", err)
	}
	eff := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	e := model.Entry{ID: "abc", Title: "Test", Effective: &eff}
	got, err := d.Describe(context.Background(), e, Arguments{RestURL: "http://h/services/catalog/abc"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	for _, want := range []string{
		"<h3>Test</h3>",
		"Effective: 2021-03-04T05:06:07 UTC",
		`<a href="http://h/services/catalog/abc">`,
		"<p>Catalog</p>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("description missing %q:\n%s", want, got)
		}
	}
}

func TestTemplateDescriber_ContentTypeOverride(t *testing.T) {
	fsys := fstest.MapFS{
		"description-video.tmpl": {Data: []byte(`video {{ .Entry.Title }} {{ attr .Entry "codec" }}`)},
		"description.tmpl":       {Data: []byte(`generic {{ .Entry.Title }}`)},
	}
	d, err := NewTemplateDescriber(fsys, 8)
	if err != nil {
		t.Fatalf("NewTemplateDescriber: %v", err)
	}
	e := model.Entry{
		Title:       "Clip",
		ContentType: "video",
		Attributes:  map[string]model.Attribute{"codec": {Name: "codec", Value: "h264"}},
	}
	got, err := d.Describe(context.Background(), e, Arguments{})
	if err != nil || got != "video Clip h264" {
		t.Fatalf("got %q, %v", got, err)
	}
	e.ContentType = "image"
	got, err = d.Describe(context.Background(), e, Arguments{})
	if err != nil || got != "generic Clip" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestTemplateDescriber_CachesCompiledAndMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"description.tmpl": {Data: []byte(`first`)},
	}
	d, err := NewTemplateDescriber(fsys, 8)
	if err != nil {
		t.Fatalf("NewTemplateDescriber: %v", err)
	}
	e := model.Entry{Title: "x", ContentType: "video"}
	if got, _ := d.Describe(context.Background(), e, Arguments{}); got != "first" {
		t.Fatalf("got %q", got)
	}
	// miss for description-video.tmpl plus the hit
	if d.CacheLen() != 2 {
		t.Fatalf("cache len=%d want 2", d.CacheLen())
	}

	fsys["description.tmpl"] = &fstest.MapFile{Data: []byte(`second`)}
	fsys["description-video.tmpl"] = &fstest.MapFile{Data: []byte(`video`)}
	if got, _ := d.Describe(context.Background(), e, Arguments{}); got != "first" {
		t.Fatalf("cached template not used, got %q", got)
	}
}

func TestTemplateDescriber_ParseError(t *testing.T) {
	fsys := fstest.MapFS{"description.tmpl": {Data: []byte(`{{ .Entry.Title `)}}
	d, err := NewTemplateDescriber(fsys, 0)
	if err != nil {
		t.Fatalf("NewTemplateDescriber: %v", err)
	}
	_, err = d.Describe(context.Background(), model.Entry{Title: "x"}, Arguments{})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if errors.Is(err, ErrNoTemplate) {
		t.Fatalf("parse error should not look like a missing template")
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2020, 1, 1, 1, 0, 0, 0, time.FixedZone("X", 3600))
	if got := formatDate(ts); got != "2020-01-01T00:00:00" {
		t.Fatalf("time=%q", got)
	}
	if got := formatDate(&ts); got != "2020-01-01T00:00:00" {
		t.Fatalf("*time=%q", got)
	}
	var nilTime *time.Time
	if got := formatDate(nilTime); got != "" {
		t.Fatalf("nil=%q", got)
	}
	if got := formatDate("raw"); got != "raw" {
		t.Fatalf("string=%q", got)
	}
}
