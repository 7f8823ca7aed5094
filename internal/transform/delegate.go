package transform

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"text/template"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
	"github.com/mohammed-shakir/catalog-kml/internal/core/ogc"
	"github.com/mohammed-shakir/catalog-kml/internal/kml"
)

// Delegate renders placemarks for one content type. KMLContent returns a
// standalone <Placemark> fragment and KMLStyle a standalone <Style>.
type Delegate interface {
	KMLContent(ctx context.Context, e model.Entry, args Arguments) (string, error)
	KMLStyle(ctx context.Context) (string, error)
}

type DelegateLookup interface {
	Lookup(qualifier, value string) (Delegate, bool)
}

type delegateKey struct {
	qualifier, value string
}

// DelegateRegistry is a concurrent (qualifier, value) -> Delegate table.
type DelegateRegistry struct {
	mu sync.RWMutex
	m  map[delegateKey]Delegate
}

func NewDelegateRegistry() *DelegateRegistry {
	return &DelegateRegistry{m: make(map[delegateKey]Delegate)}
}

func (r *DelegateRegistry) Register(qualifier, value string, d Delegate) {
	r.mu.Lock()
	r.m[delegateKey{qualifier, value}] = d
	r.mu.Unlock()
}

func (r *DelegateRegistry) Unregister(qualifier, value string) {
	r.mu.Lock()
	delete(r.m, delegateKey{qualifier, value})
	r.mu.Unlock()
}

func (r *DelegateRegistry) Lookup(qualifier, value string) (Delegate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[delegateKey{qualifier, value}]
	return d, ok
}

func (r *DelegateRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// viaDelegate reports false whenever the default path should run instead.
func (t *Transformer) viaDelegate(ctx context.Context, e model.Entry, args Arguments) (p *kml.Placemark, ok bool) {
	if t.delegates == nil || e.ContentType == "" {
		return nil, false
	}
	d, found := t.delegates.Lookup(DelegateQualifier, e.ContentType)
	if !found || d == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.WarnContext(ctx, "kml delegate panicked, using default transform", "content_type", e.ContentType, "entry_id", e.ID, "panic", fmt.Sprint(r))
			observability.ObserveEntry("delegate", "panic")
			p, ok = nil, false
		}
	}()

	p, err := delegatePlacemark(ctx, d, e, args)
	if err != nil {
		t.log.WarnContext(ctx, "kml delegate failed, using default transform", "content_type", e.ContentType, "entry_id", e.ID, "err", err)
		observability.ObserveEntry("delegate", "error")
		return nil, false
	}
	return p, true
}

func delegatePlacemark(ctx context.Context, d Delegate, e model.Entry, args Arguments) (*kml.Placemark, error) {
	content, err := d.KMLContent(ctx, e, args)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	styleXML, err := d.KMLStyle(ctx)
	if err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	p, err := kml.UnmarshalPlacemark(content)
	if err != nil {
		return nil, err
	}
	st, err := kml.UnmarshalStyle(styleXML)
	if err != nil {
		return nil, err
	}
	p.Styles = append(p.Styles, *st)
	return p, nil
}

const (
	placemarkSuffix = ".placemark.tmpl"
	styleSuffix     = ".style.kml"
)

// TemplateDelegate renders a placemark from a text template and serves a
// fixed style.
type TemplateDelegate struct {
	tmpl  *template.Template
	style string
}

type placemarkData struct {
	Entry   model.Entry
	ID      string
	RestURL string
	When    string
}

func NewTemplateDelegate(tmpl *template.Template, style string) *TemplateDelegate {
	return &TemplateDelegate{tmpl: tmpl, style: style}
}

func (d *TemplateDelegate) KMLContent(_ context.Context, e model.Entry, args Arguments) (string, error) {
	when := ""
	if e.Effective != nil {
		when = e.Effective.UTC().Format(TimeLayout)
	}
	var buf bytes.Buffer
	err := d.tmpl.Execute(&buf, placemarkData{
		Entry:   e,
		ID:      PlacemarkIDPrefix + e.ID,
		RestURL: args.RestURL,
		When:    when,
	})
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", d.tmpl.Name(), err)
	}
	return buf.String(), nil
}

func (d *TemplateDelegate) KMLStyle(context.Context) (string, error) {
	return d.style, nil
}

// LoadDelegates registers a TemplateDelegate for every
// "<contentType>.placemark.tmpl" in fsys that has a matching
// "<contentType>.style.kml". It returns how many were registered.
func LoadDelegates(fsys fs.FS, reg *DelegateRegistry, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	names, err := fs.Glob(fsys, "*"+placemarkSuffix)
	if err != nil {
		return 0, fmt.Errorf("load delegates: %w", err)
	}
	n := 0
	for _, name := range names {
		contentType := strings.TrimSuffix(path.Base(name), placemarkSuffix)
		style, err := fs.ReadFile(fsys, contentType+styleSuffix)
		if err != nil {
			log.Warn("skipping kml delegate without style", "content_type", contentType, "err", err)
			continue
		}
		tmpl, err := template.New(name).Funcs(delegateFuncs).ParseFS(fsys, name)
		if err != nil {
			return n, fmt.Errorf("load delegate %s: %w", contentType, err)
		}
		reg.Register(DelegateQualifier, contentType, NewTemplateDelegate(tmpl, string(style)))
		log.Info("registered kml delegate", "content_type", contentType)
		n++
	}
	return n, nil
}

var delegateFuncs = template.FuncMap{
	"geometry": func(wkt string) (string, error) {
		g, err := ogc.WKTToKML(wkt)
		if err != nil {
			return "", err
		}
		return kml.MarshalGeometry(g)
	},
	"xml":        escapeXML,
	"attr":       attrValue,
	"formatDate": formatDate,
}
