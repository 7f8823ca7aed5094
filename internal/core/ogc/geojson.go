package ogc

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONToWKT re-encodes a GeoJSON geometry object as WKT.
func GeoJSONToWKT(s string) (string, error) {
	g, err := geojson.UnmarshalGeometry([]byte(s))
	if err != nil {
		return "", fmt.Errorf("parse geojson: %w", err)
	}
	geo := g.Geometry()
	if geo == nil {
		return "", fmt.Errorf("unsupported geojson type %q", g.Type)
	}
	return wkt.MarshalString(geo), nil
}

// NormalizeLocation accepts an entry location in WKT or as a GeoJSON geometry
// object and returns WKT. Blank and WKT input pass through untouched.
func NormalizeLocation(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s, nil
	}
	return GeoJSONToWKT(trimmed)
}
