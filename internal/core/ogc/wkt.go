package ogc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/catalog-kml/internal/kml"
)

var (
	ErrEmptyGeometry       = errors.New("wkt was blank or has no coordinates")
	ErrMalformedGeometry   = errors.New("unable to parse wkt to geometry")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

type UnsupportedGeometryError struct {
	Kind string
}

func (e *UnsupportedGeometryError) Error() string {
	return fmt.Sprintf("unknown / unsupported geometry type %q", e.Kind)
}

func (e *UnsupportedGeometryError) Is(target error) bool {
	return target == ErrUnsupportedGeometry
}

// WKTToKML converts a WKT geometry into its KML counterpart. Non-point
// geometries come back as MultiGeometry[Point(first coordinate), shape] so
// every feature has a point marker.
func WKTToKML(s string) (kml.Geometry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyGeometry
	}
	geo, err := parseWKT(s)
	if errors.Is(err, ErrEmptyGeometry) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGeometry, err)
	}
	out, err := toKML(geo)
	if err != nil {
		return nil, err
	}
	if _, isPoint := geo.(orb.Point); isPoint {
		return out, nil
	}
	first, ok := firstCoordinate(geo)
	if !ok {
		return nil, ErrEmptyGeometry
	}
	return &kml.MultiGeometry{Geometries: []kml.Geometry{kml.NewPoint(first.X(), first.Y()), out}}, nil
}

// multi-geometries are collections and convert member by member
func toKML(geo orb.Geometry) (kml.Geometry, error) {
	switch g := geo.(type) {
	case orb.Point:
		return kml.NewPoint(g.X(), g.Y()), nil
	case orb.LineString:
		return &kml.LineString{Coordinates: coordinates(g)}, nil
	case orb.Polygon:
		poly := &kml.Polygon{OuterBoundaryIs: &kml.Boundary{}}
		if len(g) > 0 {
			poly.OuterBoundaryIs.LinearRing.Coordinates = coordinates(g[0])
		}
		return poly, nil
	case orb.MultiPoint:
		return collect(len(g), func(i int) orb.Geometry { return g[i] })
	case orb.MultiLineString:
		return collect(len(g), func(i int) orb.Geometry { return g[i] })
	case orb.MultiPolygon:
		return collect(len(g), func(i int) orb.Geometry { return g[i] })
	case orb.Collection:
		return collect(len(g), func(i int) orb.Geometry { return g[i] })
	default:
		return nil, &UnsupportedGeometryError{Kind: kindName(geo)}
	}
}

func collect(n int, member func(int) orb.Geometry) (kml.Geometry, error) {
	mg := &kml.MultiGeometry{Geometries: make([]kml.Geometry, 0, n)}
	for i := 0; i < n; i++ {
		g, err := toKML(member(i))
		if err != nil {
			return nil, err
		}
		mg.Geometries = append(mg.Geometries, g)
	}
	return mg, nil
}

func coordinates(pts []orb.Point) kml.Coordinates {
	out := make(kml.Coordinates, 0, len(pts))
	for _, p := range pts {
		out = append(out, kml.Coordinate{X: p.X(), Y: p.Y()})
	}
	return out
}

func firstCoordinate(geo orb.Geometry) (orb.Point, bool) {
	switch g := geo.(type) {
	case orb.Point:
		return g, true
	case orb.MultiPoint:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.LineString:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.Ring:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.MultiLineString:
		for _, ls := range g {
			if p, ok := firstCoordinate(ls); ok {
				return p, true
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if p, ok := firstCoordinate(r); ok {
				return p, true
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if p, ok := firstCoordinate(poly); ok {
				return p, true
			}
		}
	case orb.Collection:
		for _, m := range g {
			if p, ok := firstCoordinate(m); ok {
				return p, true
			}
		}
	}
	return orb.Point{}, false
}

func kindName(geo orb.Geometry) string {
	switch geo.(type) {
	case orb.Ring:
		return "LinearRing"
	case orb.Bound:
		return "Bound"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", geo)
	}
}
