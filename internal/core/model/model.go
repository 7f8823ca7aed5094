// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String formats the bbox as x1,y1,x2,y2,srid, the form the query parameter uses.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

type Cells []string

// Query is the originating catalog query a subscription re-runs. The
// transformation engine treats it as opaque.
type Query struct {
	Raw     string `json:"raw,omitempty"`
	BBox    *BBox  `json:"bbox,omitempty"`
	Filters string `json:"filters,omitempty"`
}

// Entry is one geo-tagged catalog search result.
type Entry struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Effective   *time.Time           `json:"effective,omitempty"`
	ContentType string               `json:"contentType,omitempty"`
	Location    string               `json:"location,omitempty"`
	Attributes  map[string]Attribute `json:"attributes,omitempty"`
}

// Attribute returns the named attribute and whether it exists.
func (e Entry) Attribute(name string) (Attribute, bool) {
	if e.Attributes == nil {
		return Attribute{}, false
	}
	a, ok := e.Attributes[name]
	return a, ok
}

// Result is one hit of a catalog query. Distance is in meters and only set
// for queries with a spatial sort.
type Result struct {
	Entry    Entry    `json:"entry"`
	Distance *float64 `json:"distance,omitempty"`
}

// Response is a batch of results plus the query that produced it.
type Response struct {
	Results []Result `json:"results"`
	Query   *Query   `json:"query,omitempty"`
}
