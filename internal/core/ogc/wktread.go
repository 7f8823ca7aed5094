package ogc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokOpen
	tokClose
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	return fmt.Sprintf("%q at offset %d", t.text, t.pos)
}

// tokenize splits WKT into words, numbers and punctuation. Whitespace is
// insignificant between tokens.
func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokOpen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokClose, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case isLetter(c):
			j := i
			for j < len(s) && isLetter(rune(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: s[i:j], pos: i})
			i = j
		case isNumberStart(c):
			j := i + 1
			for j < len(s) && isNumberPart(rune(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j], pos: i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isLetter(c rune) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isNumberStart(c rune) bool { return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' }

func isNumberPart(c rune) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '-' || c == '+'
}

// wktParser reads the OGC text forms of point, linestring, linearring,
// polygon, their multi variants and geometry collections. Z, M and ZM
// ordinates are accepted and dropped. MULTIPOINT members may be bare or
// parenthesized.
type wktParser struct {
	toks []token
	i    int
}

func parseWKT(s string) (orb.Geometry, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &wktParser{toks: toks}
	g, err := p.geometry()
	if err != nil {
		return nil, err
	}
	if t, ok := p.peek(); ok {
		return nil, fmt.Errorf("unexpected %s after geometry", t)
	}
	return g, nil
}

func (p *wktParser) peek() (token, bool) {
	if p.i >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.i], true
}

func (p *wktParser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, errors.New("unexpected end of input")
	}
	p.i++
	return t, nil
}

func (p *wktParser) expect(kind tokenKind, what string) error {
	t, err := p.next()
	if err != nil {
		return fmt.Errorf("expected %s: %w", what, err)
	}
	if t.kind != kind {
		return fmt.Errorf("expected %s, got %s", what, t)
	}
	return nil
}

// word consumes the next token when it is the given keyword.
func (p *wktParser) word(kw string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokWord && strings.EqualFold(t.text, kw) {
		p.i++
		return true
	}
	return false
}

func (p *wktParser) isNext(kind tokenKind) bool {
	t, ok := p.peek()
	return ok && t.kind == kind
}

// list reads "( item {, item} )".
func (p *wktParser) list(item func() error) error {
	if err := p.expect(tokOpen, "'('"); err != nil {
		return err
	}
	for {
		if err := item(); err != nil {
			return err
		}
		t, err := p.next()
		if err != nil {
			return fmt.Errorf("expected ',' or ')': %w", err)
		}
		switch t.kind {
		case tokComma:
			continue
		case tokClose:
			return nil
		default:
			return fmt.Errorf("expected ',' or ')', got %s", t)
		}
	}
}

func (p *wktParser) geometry() (orb.Geometry, error) {
	t, err := p.next()
	if err != nil {
		return nil, fmt.Errorf("expected geometry type: %w", err)
	}
	if t.kind != tokWord {
		return nil, fmt.Errorf("expected geometry type, got %s", t)
	}
	_ = p.word("ZM") || p.word("Z") || p.word("M")
	empty := p.word("EMPTY")

	switch strings.ToUpper(t.text) {
	case "POINT":
		if empty {
			return nil, ErrEmptyGeometry
		}
		if err := p.expect(tokOpen, "'('"); err != nil {
			return nil, err
		}
		pt, err := p.coordinate()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokClose, "')'"); err != nil {
			return nil, err
		}
		return pt, nil
	case "LINESTRING":
		if empty {
			return orb.LineString{}, nil
		}
		pts, err := p.points()
		return orb.LineString(pts), err
	case "LINEARRING":
		if empty {
			return orb.Ring{}, nil
		}
		pts, err := p.points()
		return orb.Ring(pts), err
	case "POLYGON":
		if empty {
			return orb.Polygon{}, nil
		}
		return p.polygon()
	case "MULTIPOINT":
		if empty {
			return orb.MultiPoint{}, nil
		}
		return p.multiPoint()
	case "MULTILINESTRING":
		if empty {
			return orb.MultiLineString{}, nil
		}
		var mls orb.MultiLineString
		err := p.list(func() error {
			if p.word("EMPTY") {
				mls = append(mls, orb.LineString{})
				return nil
			}
			pts, err := p.points()
			mls = append(mls, orb.LineString(pts))
			return err
		})
		return mls, err
	case "MULTIPOLYGON":
		if empty {
			return orb.MultiPolygon{}, nil
		}
		var mp orb.MultiPolygon
		err := p.list(func() error {
			if p.word("EMPTY") {
				mp = append(mp, orb.Polygon{})
				return nil
			}
			poly, err := p.polygon()
			mp = append(mp, poly)
			return err
		})
		return mp, err
	case "GEOMETRYCOLLECTION":
		if empty {
			return orb.Collection{}, nil
		}
		var c orb.Collection
		err := p.list(func() error {
			g, err := p.geometry()
			if err != nil {
				return err
			}
			c = append(c, g)
			return nil
		})
		return c, err
	default:
		return nil, fmt.Errorf("unknown geometry type %s", t)
	}
}

// coordinate reads two to four ordinates and keeps x and y.
func (p *wktParser) coordinate() (orb.Point, error) {
	var ords []float64
	for len(ords) < 4 && p.isNext(tokNumber) {
		t, _ := p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return orb.Point{}, fmt.Errorf("bad number %s", t)
		}
		ords = append(ords, f)
	}
	if len(ords) < 2 {
		if t, ok := p.peek(); ok {
			return orb.Point{}, fmt.Errorf("expected coordinate, got %s", t)
		}
		return orb.Point{}, errors.New("expected coordinate: unexpected end of input")
	}
	return orb.Point{ords[0], ords[1]}, nil
}

func (p *wktParser) points() ([]orb.Point, error) {
	var pts []orb.Point
	err := p.list(func() error {
		pt, err := p.coordinate()
		pts = append(pts, pt)
		return err
	})
	return pts, err
}

func (p *wktParser) polygon() (orb.Polygon, error) {
	var poly orb.Polygon
	err := p.list(func() error {
		pts, err := p.points()
		poly = append(poly, orb.Ring(pts))
		return err
	})
	return poly, err
}

// multiPoint accepts both MULTIPOINT ((1 2), (3 4)) and MULTIPOINT (1 2, 3 4).
func (p *wktParser) multiPoint() (orb.MultiPoint, error) {
	var mp orb.MultiPoint
	err := p.list(func() error {
		if !p.isNext(tokOpen) {
			pt, err := p.coordinate()
			mp = append(mp, pt)
			return err
		}
		p.i++
		pt, err := p.coordinate()
		if err != nil {
			return err
		}
		mp = append(mp, pt)
		return p.expect(tokClose, "')'")
	})
	return mp, err
}
