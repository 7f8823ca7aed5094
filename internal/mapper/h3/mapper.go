package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForBBox returns the cells covering a lon/lat box.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if bb.X2 <= bb.X1 || bb.Y2 <= bb.Y1 {
		return nil, fmt.Errorf("degenerate bbox %s", bb)
	}
	ring := orb.Ring{
		{bb.X1, bb.Y1},
		{bb.X2, bb.Y1},
		{bb.X2, bb.Y2},
		{bb.X1, bb.Y2},
		{bb.X1, bb.Y1},
	}
	return m.CellsForPolygon(orb.Polygon{ring}, res)
}

// CellsForPolygon returns the sorted, unique cells whose centers fall in
// poly. An area smaller than one cell still maps to the cell holding its
// first vertex, so every non-empty area has coverage.
func (m *Mapper) CellsForPolygon(poly orb.Polygon, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if len(poly) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(poly[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(poly); i++ {
		h := toLoop(poly[i])
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 3 distinct vertices", i-1)
		}
		holes = append(holes, h)
	}

	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(cells) == 0 {
		c, err := m.CellForPoint(outer[0].Lng, outer[0].Lat, res)
		if err != nil {
			return nil, err
		}
		return model.Cells{c}, nil
	}
	return sortedUnique(cells), nil
}

func (m *Mapper) CellForPoint(lon, lat float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %g,%g: %w", lon, lat, err)
	}
	return c.String(), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts an orb ring to an h3 loop in degrees, dropping the
// closing vertex when the ring is explicitly closed.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Lat(), Lng: p.Lon()})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

func sortedUnique(cells []h3.Cell) model.Cells {
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
