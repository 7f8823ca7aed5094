// Package transform renders catalog entries and query responses as KML.
//
// A Transformer turns one entry into a placemark, either through a delegate
// registered for the entry's content type or through the default path
// (geometry from WKT, timestamp, templated description, rule-based style).
// Whole responses become one Document with a shared default style and, for
// subscribed queries, a refreshing NetworkLink back to the update endpoint.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
	"github.com/mohammed-shakir/catalog-kml/internal/core/ogc"
	"github.com/mohammed-shakir/catalog-kml/internal/kml"
	"github.com/mohammed-shakir/catalog-kml/internal/logger"
	"github.com/mohammed-shakir/catalog-kml/internal/subscription"
)

const (
	// TimeLayout is the UTC layout of placemark timestamps.
	TimeLayout = "2006-01-02T15:04:05"

	PlacemarkIDPrefix = "Placemark-"
	DocumentIDPrefix  = "Subscription-"
	DefaultStyleURL   = "#default"
	DelegateQualifier = "type"

	DefaultInterval = 5.0
)

// ErrMissingGeometry marks an entry without a usable location. It is the
// only error that fails a transform.
var ErrMissingGeometry = errors.New("entry has no usable geometry")

// Arguments carry the request context of a transform.
type Arguments struct {
	// URL is the absolute request URL, query string included.
	URL            string
	SubscriptionID string
	// Interval is the refresh interval in seconds as sent by the client.
	Interval string
	// RestURL links to the entry in the catalog REST service. Filled per
	// entry from URL.
	RestURL string
}

// Content is a serialized document and its mime type.
type Content struct {
	Data     []byte
	MimeType string
}

type StyleResolver interface {
	StyleFor(e model.Entry) string
}

type Registrar interface {
	RegisterOrReplace(ctx context.Context, id string, q *model.Query, h subscription.DeliveryHandle) error
}

type Config struct {
	// DefaultStyle is attached once to any document with unstyled features.
	DefaultStyle kml.StyleSet
	// DefaultInterval applies when the client interval is absent or not a
	// finite number. Zero means DefaultInterval.
	DefaultInterval float64
}

type Option func(*Transformer)

func WithDelegates(d DelegateLookup) Option {
	return func(t *Transformer) { t.delegates = d }
}

func WithDescriber(d Describer) Option {
	return func(t *Transformer) { t.describer = d }
}

func WithStyles(s StyleResolver) Option {
	return func(t *Transformer) { t.styles = s }
}

func WithRegistrar(r Registrar) Option {
	return func(t *Transformer) { t.subs = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Transformer) { t.now = now }
}

func WithIDSource(f func() string) Option {
	return func(t *Transformer) { t.newID = f }
}

type Transformer struct {
	cfg       Config
	delegates DelegateLookup
	describer Describer
	styles    StyleResolver
	subs      Registrar
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

func New(cfg Config, opts ...Option) *Transformer {
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = DefaultInterval
	}
	t := &Transformer{
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TransformEntry builds one placemark. A registered delegate for the entry's
// content type wins; any delegate failure falls back to the default path.
func (t *Transformer) TransformEntry(ctx context.Context, e model.Entry, args Arguments) (*kml.Placemark, error) {
	if args.URL != "" {
		args.RestURL = RestURL(args.URL, e.ID)
	}
	if p, ok := t.viaDelegate(ctx, e, args); ok {
		observability.ObserveEntry("delegate", "ok")
		return p, nil
	}
	p, err := t.defaultPlacemark(ctx, e, args)
	if err != nil {
		observability.ObserveEntry("default", "error")
		return nil, err
	}
	observability.ObserveEntry("default", "ok")
	return p, nil
}

func (t *Transformer) defaultPlacemark(ctx context.Context, e model.Entry, args Arguments) (*kml.Placemark, error) {
	geo, err := ogc.WKTToKML(e.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %q: %w", ErrMissingGeometry, e.ID, err)
	}

	when := t.now()
	if e.Effective != nil {
		when = *e.Effective
	}
	p := &kml.Placemark{
		ID:          PlacemarkIDPrefix + e.ID,
		Name:        e.Title,
		TimeStamp:   &kml.TimeStamp{When: when.UTC().Format(TimeLayout)},
		Geometry:    geo,
		Description: e.Title,
	}

	if t.describer != nil {
		desc, err := t.describer.Describe(ctx, e, args)
		if err != nil {
			t.log.WarnContext(ctx, "failed to apply description template", "entry_id", e.ID, "err", err)
		} else {
			p.Description = desc
		}
	}

	if t.styles != nil {
		if url := t.styles.StyleFor(e); strings.TrimSpace(url) != "" {
			p.StyleURL = url
		}
	}
	return p, nil
}

// TransformResponse renders a result batch as one KML document. Features
// keep input order. The first entry without usable geometry fails the whole
// call. Subscription and serialization problems are logged and never fail
// it.
func (t *Transformer) TransformResponse(ctx context.Context, resp model.Response, args Arguments) (*Content, error) {
	ctx = logger.WithSubscription(ctx, args.SubscriptionID)
	docID := args.SubscriptionID
	if docID == "" {
		docID = t.newID()
		t.log.DebugContext(ctx, "no subscription id, generated document id", "doc_id", docID)
	}

	doc := &kml.Document{}
	needDefault := false
	for _, r := range resp.Results {
		p, err := t.TransformEntry(ctx, r.Entry, args)
		if err != nil {
			return nil, fmt.Errorf("transform response: %w", err)
		}
		if !p.HasStyleSelectors() && p.StyleURL == "" {
			p.StyleURL = DefaultStyleURL
			needDefault = true
		}
		doc.Placemarks = append(doc.Placemarks, p)
	}
	if needDefault {
		doc.AddStyles(t.cfg.DefaultStyle.Clone())
	}

	root := encloseKML(doc, DocumentIDPrefix+docID, fmt.Sprintf("Query Results (%d)", len(doc.Placemarks)))

	if args.SubscriptionID != "" {
		t.subscribe(ctx, root, resp.Query, args)
	}

	data, err := kml.Marshal(root)
	if err != nil {
		t.log.WarnContext(ctx, "failed to marshal kml", "err", err)
		data = []byte{}
	}
	observability.ObserveDocument(len(doc.Placemarks), len(data))
	return &Content{Data: data, MimeType: kml.MimeType}, nil
}

// Transform renders a single entry as a KML root holding just its placemark.
// Unstyled placemarks get the default style selectors inline.
func (t *Transformer) Transform(ctx context.Context, e model.Entry, args Arguments) (*Content, error) {
	p, err := t.TransformEntry(ctx, e, args)
	if err != nil {
		return nil, fmt.Errorf("transform entry to kml: %w", err)
	}
	if !p.HasStyleSelectors() && strings.TrimSpace(p.StyleURL) == "" {
		p.AddStyles(t.cfg.DefaultStyle.Clone())
	}
	data, err := kml.Marshal(&kml.KML{Feature: p})
	if err != nil {
		return nil, fmt.Errorf("transform entry to kml: %w", err)
	}
	return &Content{Data: data, MimeType: kml.MimeType}, nil
}

func (t *Transformer) subscribe(ctx context.Context, root *kml.KML, q *model.Query, args Arguments) {
	href, err := UpdateURL(args.URL, args.SubscriptionID)
	if err != nil {
		t.log.WarnContext(ctx, "unable to build subscription update url, returning kml without updates", "err", err)
		return
	}
	interval := ParseInterval(args.Interval, t.cfg.DefaultInterval)

	if doc, ok := root.Feature.(*kml.Document); ok {
		doc.NetworkLinks = append(doc.NetworkLinks, &kml.NetworkLink{
			Name: "Update",
			Link: &kml.Link{
				Href:            href,
				RefreshMode:     kml.RefreshOnInterval,
				RefreshInterval: interval,
				ViewBoundScale:  1,
			},
		})
	} else {
		t.log.WarnContext(ctx, "unable to add network link update, kml root is not a document")
	}

	if t.subs == nil {
		return
	}
	if q == nil {
		t.log.WarnContext(ctx, "response has no query, subscription will not re-run anything")
	}
	if err := t.subs.RegisterOrReplace(ctx, args.SubscriptionID, q, subscription.UpdateDelivery{}); err != nil {
		t.log.WarnContext(ctx, "unable to register subscription", "err", err)
	}
}

func encloseKML(doc *kml.Document, id, name string) *kml.KML {
	doc.ID = id
	doc.Name = name
	doc.Open = true
	return &kml.KML{Feature: doc}
}
