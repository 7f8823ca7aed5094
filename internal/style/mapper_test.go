package style

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

const styleURL = "http://example.com/style#myStyle"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entryWith(name string, f model.Format, v any) model.Entry {
	return model.Entry{
		ID:         "e1",
		Title:      "title",
		Attributes: map[string]model.Attribute{name: {Name: name, Format: f, Value: v}},
	}
}

func TestStyleFor_ByFormat(t *testing.T) {
	when := time.Date(2023, 1, 1, 0, 0, 0, 999_000_000, time.UTC)
	cases := []struct {
		name  string
		f     model.Format
		value any
		rule  string
	}{
		{"string", model.FormatString, "alpha", "alpha"},
		{"xml", model.FormatXML, "<a/>", "<a/>"},
		{"geometry", model.FormatGeometry, "POINT (1 2)", "POINT (1 2)"},
		{"boolean", model.FormatBoolean, true, "TRUE"},
		{"boolean-false", model.FormatBoolean, false, "nope"},
		{"date", model.FormatDate, when, "2023-01-01T00:00:00"},
		{"date-trailing-zone", model.FormatDate, when, "2023-01-01T00:00:00Z"},
		{"date-trailing-millis", model.FormatDate, when, "2023-01-01T00:00:00.000"},
		{"short", model.FormatShort, int16(12), "12"},
		{"integer", model.FormatInteger, int32(-7), "-7"},
		{"long", model.FormatLong, int64(1) << 40, "1099511627776"},
		{"float", model.FormatFloat, float32(1.1), "1.1"},
		{"double", model.FormatDouble, 2.5, "2.5"},
		{"plain-int", model.FormatInteger, 3, "3"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := NewMapper(quietLogger())
			if err := m.AddRule(c.name, c.rule, styleURL); err != nil {
				t.Fatalf("AddRule: %v", err)
			}
			if got := m.StyleFor(entryWith(c.name, c.f, c.value)); got != styleURL {
				t.Fatalf("StyleFor=%q want %q", got, styleURL)
			}
		})
	}
}

func TestStyleFor_NoMatch(t *testing.T) {
	cases := []struct {
		name  string
		f     model.Format
		value any
		rule  string
	}{
		{"string-differs", model.FormatString, "alpha", "beta"},
		{"boolean-differs", model.FormatBoolean, true, "false"},
		{"date-differs", model.FormatDate, time.Date(2023, 1, 1, 0, 0, 1, 0, time.UTC), "2023-01-01T00:00:00"},
		{"date-bad-rule", model.FormatDate, time.Now(), "yesterday"},
		{"date-extra-seconds-digit", model.FormatDate, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "2023-01-01T00:00:005"},
		{"date-truncated-rule", model.FormatDate, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "2023-01-01T00:00"},
		{"integer-bad-rule", model.FormatInteger, int32(5), "five"},
		{"short-overflow", model.FormatShort, int16(1), "70000"},
		{"double-bad-rule", model.FormatDouble, 1.0, "1.0.0"},
		{"binary", model.FormatBinary, []byte("POINT (1 2)"), "POINT (1 2)"},
		{"object", model.FormatObject, "POINT (1 2)", "POINT (1 2)"},
		{"nil-value", model.FormatString, nil, "x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := NewMapper(quietLogger())
			if err := m.AddRule(c.name, c.rule, styleURL); err != nil {
				t.Fatalf("AddRule: %v", err)
			}
			if got := m.StyleFor(entryWith(c.name, c.f, c.value)); got != "" {
				t.Fatalf("StyleFor=%q want no style", got)
			}
		})
	}
}

func TestStyleFor_DateInOtherZoneNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	m := NewMapper(quietLogger())
	_ = m.AddRule("created", "2023-01-01T00:00:00", styleURL)
	e := entryWith("created", model.FormatDate, time.Date(2023, 1, 1, 2, 0, 0, 500, loc))
	if got := m.StyleFor(e); got != styleURL {
		t.Fatalf("StyleFor=%q want %q", got, styleURL)
	}
}

func TestStyleFor_MissingAttribute(t *testing.T) {
	m := NewMapper(quietLogger())
	_ = m.AddRule("other", "x", styleURL)
	if got := m.StyleFor(model.Entry{ID: "bare"}); got != "" {
		t.Fatalf("StyleFor=%q want no style", got)
	}
}

func TestAddRule_Validation(t *testing.T) {
	m := NewMapper(quietLogger())
	if err := m.AddRule(" ", "v", "#s"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("blank name err=%v", err)
	}
	if err := m.AddRule("n", "", "#s"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("blank value err=%v", err)
	}
	if err := m.AddRule("n", "v", ""); err != nil {
		t.Fatalf("blank url should be allowed: %v", err)
	}
}

func TestLoadAndMappings(t *testing.T) {
	m := NewMapper(quietLogger())
	m.Load([]string{
		"severity=high;#red",
		"active=true;#green",
		"garbage",
		"noSemicolon=x",
		"=empty;#x",
	})
	got := m.Mappings()
	sort.Strings(got)
	want := []string{"active=true;#green", "severity=high;#red"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Mappings=%v want %v", got, want)
	}

	m.Load([]string{"a=b;#c"})
	if len(m.Rules()) != 1 {
		t.Fatalf("Load should replace the table, got %v", m.Rules())
	}
}

func TestMapper_ConcurrentUse(t *testing.T) {
	m := NewMapper(quietLogger())
	e := entryWith("k", model.FormatString, "v")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.AddRule("k", "v", "#s")
		}()
		go func() {
			defer wg.Done()
			_ = m.StyleFor(e)
		}()
	}
	wg.Wait()
	if m.StyleFor(e) != "#s" {
		t.Fatal("rule lost under concurrent use")
	}
}

func TestLoadMappings_InlineAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "styles.yaml")
	body := "mappings:\n  - \"kind=river;#blue\"\n  - \"kind=road;#grey\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadMappings(" a=b;#c , ,", path)
	if err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	want := []string{"a=b;#c", "kind=river;#blue", "kind=road;#grey"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := LoadMappings("", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := ReadFile(strings.NewReader("mappings: [unterminated")); err == nil {
		t.Fatal("expected yaml error")
	}
}
