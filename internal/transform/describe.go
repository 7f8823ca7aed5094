package transform

import (
	"bytes"
	"context"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

const (
	descriptionTemplate   = "description.tmpl"
	defaultTemplateCache  = 64
	contentTypeTmplPrefix = "description-"
)

var ErrNoTemplate = errors.New("no description template")

// Describer renders the description of a placemark.
type Describer interface {
	Describe(ctx context.Context, e model.Entry, args Arguments) (string, error)
}

type descriptionData struct {
	Entry      model.Entry
	RestURL    string
	RequestURL string
	Platform   string
}

// TemplateDescriber renders descriptions from text templates. For an entry
// of content type ct it uses "description-<ct>.tmpl" when present and
// "description.tmpl" otherwise, looking in the configured directory before
// the built-in set. Compiled templates, and misses, are kept in an LRU.
type TemplateDescriber struct {
	sources  []fs.FS
	platform string
	cache    *lru.Cache[string, *template.Template]
}

type DescriberOption func(*TemplateDescriber)

// WithPlatform sets a footer line shown in every description.
func WithPlatform(s string) DescriberOption {
	return func(d *TemplateDescriber) { d.platform = s }
}

// NewTemplateDescriber reads templates from fsys, which may be nil to use
// only the built-in set.
func NewTemplateDescriber(fsys fs.FS, cacheSize int, opts ...DescriberOption) (*TemplateDescriber, error) {
	if cacheSize <= 0 {
		cacheSize = defaultTemplateCache
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("template cache: %w", err)
	}
	builtin, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("builtin templates: %w", err)
	}
	d := &TemplateDescriber{cache: cache}
	if fsys != nil {
		d.sources = append(d.sources, fsys)
	}
	d.sources = append(d.sources, builtin)
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func (d *TemplateDescriber) Describe(_ context.Context, e model.Entry, args Arguments) (string, error) {
	names := []string{descriptionTemplate}
	if e.ContentType != "" {
		names = append([]string{contentTypeTmplPrefix + e.ContentType + ".tmpl"}, names...)
	}
	for _, name := range names {
		tmpl, err := d.template(name)
		if err != nil {
			return "", err
		}
		if tmpl == nil {
			continue
		}
		var buf bytes.Buffer
		err = tmpl.Execute(&buf, descriptionData{
			Entry:      e,
			RestURL:    args.RestURL,
			RequestURL: args.URL,
			Platform:   d.platform,
		})
		if err != nil {
			return "", fmt.Errorf("execute %s: %w", name, err)
		}
		return strings.TrimSpace(buf.String()), nil
	}
	return "", ErrNoTemplate
}

// CacheLen reports how many template names are cached.
func (d *TemplateDescriber) CacheLen() int { return d.cache.Len() }

// template returns nil, nil when no source has the name.
func (d *TemplateDescriber) template(name string) (*template.Template, error) {
	if t, ok := d.cache.Get(name); ok {
		return t, nil
	}
	for _, src := range d.sources {
		b, err := fs.ReadFile(src, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		t, err := template.New(name).Funcs(describeFuncs).Parse(string(b))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		d.cache.Add(name, t)
		return t, nil
	}
	d.cache.Add(name, nil)
	return nil, nil
}

var describeFuncs = template.FuncMap{
	"attr":       attrValue,
	"formatDate": formatDate,
}

func attrValue(e model.Entry, name string) any {
	a, ok := e.Attribute(name)
	if !ok || a.Value == nil {
		return ""
	}
	return a.Value
}

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(TimeLayout)
	default:
		return fmt.Sprint(v)
	}
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
