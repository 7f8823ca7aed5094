package catalogevents

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC) }

var squarePolygon = json.RawMessage(`{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`)

func TestEvent_Validate_BBoxAndGeometryMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", EntryID: "e1", TS: mustTS(),
		BBox:     &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
		Geometry: squarePolygon,
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both bbox and geometry are set")
	}
	ev.BBox, ev.Geometry = nil, nil
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when neither bbox nor geometry is set")
	}
}

func TestEvent_Validate_HappyPaths(t *testing.T) {
	bbox := Event{
		Version: 1, Op: "delete", EntryID: "e1", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := bbox.Validate(); err != nil {
		t.Fatalf("bbox: %v", err)
	}
	poly := Event{Version: 1, Op: "insert", EntryID: "e1", TS: mustTS(), Geometry: squarePolygon}
	if err := poly.Validate(); err != nil {
		t.Fatalf("polygon: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return Event{
			Version: 1, Op: "update", EntryID: "e1", TS: mustTS(),
			BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
		}
	}
	cases := map[string]func(*Event){
		"version":        func(e *Event) { e.Version = 2 },
		"op":             func(e *Event) { e.Op = "upsert" },
		"entry id":       func(e *Event) { e.EntryID = "  " },
		"ts":             func(e *Event) { e.TS = time.Time{} },
		"srid":           func(e *Event) { e.BBox.SRID = "EPSG:3857" },
		"flat bbox":      func(e *Event) { e.BBox.X2 = e.BBox.X1 },
		"lat range":      func(e *Event) { e.BBox.Y2 = 91 },
		"point geometry": func(e *Event) { e.BBox = nil; e.Geometry = json.RawMessage(`{"type":"Point","coordinates":[1,2]}`) },
		"bad geometry":   func(e *Event) { e.BBox = nil; e.Geometry = json.RawMessage(`{`) },
	}
	for name, mutate := range cases {
		ev := base()
		mutate(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
