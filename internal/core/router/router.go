package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
	"github.com/mohammed-shakir/catalog-kml/internal/core/ogc"
	"github.com/mohammed-shakir/catalog-kml/internal/subscription"
	"github.com/mohammed-shakir/catalog-kml/internal/transform"
)

const (
	RouteQuery       = "/services/catalog/query"
	RouteEntry       = "/services/catalog/kml/entry"
	RouteUnsubscribe = "/services/catalog/kml/subscriptions/{id}"

	maxBodyBytes = 8 << 20
)

// Transformer renders catalog results as KML.
type Transformer interface {
	TransformResponse(ctx context.Context, resp model.Response, args transform.Arguments) (*transform.Content, error)
	Transform(ctx context.Context, e model.Entry, args transform.Arguments) (*transform.Content, error)
}

type Unsubscriber interface {
	Unregister(ctx context.Context, id string) error
}

// QueryParams are the request parameters of a KML query.
type QueryParams struct {
	SubscriptionID string
	Interval       string
	BBox           *model.BBox
	Filters        string
	Sort           *model.SortOrder
}

// HandleQuery renders a posted result batch as one KML document.
func HandleQuery(logger *slog.Logger, t Transformer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteQuery, sw.code, time.Since(start).Seconds())
		}()

		p, warn, err := ParseQueryRequest(r)
		if warn != "" {
			logger.WarnContext(r.Context(), warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		var resp model.Response
		if err := decodeBody(sw, r, &resp); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}
		for i := range resp.Results {
			if err := normalize(&resp.Results[i].Entry); err != nil {
				http.Error(sw, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if p.Sort != nil {
			model.SortByDistance(resp.Results, *p.Sort)
		}
		resp.Query = queryFor(resp.Query, r, p)

		c, err := t.TransformResponse(r.Context(), resp, transform.Arguments{
			URL:            RequestURL(r),
			SubscriptionID: p.SubscriptionID,
			Interval:       p.Interval,
		})
		if err != nil {
			writeTransformError(sw, r, logger, err)
			return
		}
		writeContent(sw, c)
	}
}

// HandleEntry renders one posted entry as a standalone placemark.
func HandleEntry(logger *slog.Logger, t Transformer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteEntry, sw.code, time.Since(start).Seconds())
		}()

		var e model.Entry
		if err := decodeBody(sw, r, &e); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}
		if err := normalize(&e); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}
		c, err := t.Transform(r.Context(), e, transform.Arguments{URL: RequestURL(r)})
		if err != nil {
			writeTransformError(sw, r, logger, err)
			return
		}
		writeContent(sw, c)
	}
}

// HandleUnsubscribe releases the subscription named in the path.
func HandleUnsubscribe(logger *slog.Logger, u Unsubscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteUnsubscribe, sw.code, time.Since(start).Seconds())
		}()

		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			http.Error(sw, "missing subscription id", http.StatusBadRequest)
			return
		}
		err := u.Unregister(r.Context(), id)
		switch {
		case err == nil:
			sw.WriteHeader(http.StatusNoContent)
		case errors.Is(err, subscription.ErrNotFound):
			http.Error(sw, "subscription not found", http.StatusNotFound)
		default:
			logger.WarnContext(r.Context(), "unsubscribe failed", "subscription_id", id, "err", err)
			http.Error(sw, "unsubscribe failed", http.StatusBadGateway)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func ParseQueryRequest(r *http.Request) (QueryParams, string, error) {
	var warn string
	q := r.URL.Query()

	p := QueryParams{
		SubscriptionID: strings.TrimSpace(q.Get("subscription")),
		Interval:       strings.TrimSpace(q.Get("interval")),
		Filters:        strings.TrimSpace(q.Get("filters")),
	}

	// a bad bbox only costs the subscription its spatial index
	if raw := strings.TrimSpace(q.Get("bbox")); raw != "" {
		bb, err := parseBBOX(raw)
		if err != nil {
			warn = fmt.Sprintf("ignoring invalid bbox %q: %v", raw, err)
		} else {
			p.BBox = &bb
		}
	}

	if p.Filters != "" && !isSafeFilter(p.Filters) {
		return QueryParams{}, warn, errors.New("invalid or disallowed filters")
	}

	if raw := strings.TrimSpace(q.Get("sort")); raw != "" {
		order, err := model.ParseSortOrder(raw)
		if err != nil {
			return QueryParams{}, warn, fmt.Errorf("invalid sort: %w", err)
		}
		p.Sort = &order
	}
	return p, warn, nil
}

// parseBBOX accepts x1,y1,x2,y2 with an optional trailing EPSG:4326.
func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected 4 or 5 comma-separated values: x1,y1,x2,y2[,EPSG:4326]")
	}
	var v [4]float64
	for i := range v {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	srid := "EPSG:4326"
	if len(parts) == 5 {
		srid = strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid != "EPSG:4326" {
			return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

var safeFilterPattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\-]+$`)

func isSafeFilter(s string) bool {
	if len(s) > 500 {
		return false
	}
	return safeFilterPattern.MatchString(s)
}

// RequestURL rebuilds the absolute URL the client used, honouring
// X-Forwarded-Proto and X-Forwarded-Host from a proxy.
func RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	if host == "" {
		return r.URL.RequestURI()
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func queryFor(q *model.Query, r *http.Request, p QueryParams) *model.Query {
	if q == nil {
		q = &model.Query{Raw: r.URL.RawQuery}
	}
	if q.BBox == nil {
		q.BBox = p.BBox
	}
	if q.Filters == "" {
		q.Filters = p.Filters
	}
	return q
}

func normalize(e *model.Entry) error {
	loc, err := ogc.NormalizeLocation(e.Location)
	if err != nil {
		return fmt.Errorf("entry %q location: %w", e.ID, err)
	}
	e.Location = loc
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeTransformError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, transform.ErrMissingGeometry) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	logger.ErrorContext(r.Context(), "kml transform failed", "err", err)
	http.Error(w, "kml transform failed", http.StatusInternalServerError)
}

func writeContent(w http.ResponseWriter, c *transform.Content) {
	w.Header().Set("Content-Type", c.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.Data)
}
