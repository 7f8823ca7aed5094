// Package mapper converts between geometric coordinates and H3 cells.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

type Interface interface {
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForPolygon(poly orb.Polygon, res int) (model.Cells, error)
	CellForPoint(lon, lat float64, res int) (string, error)
}
