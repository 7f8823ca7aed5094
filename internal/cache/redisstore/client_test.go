package redisstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestPutIndexed_HGetUnion(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.PutIndexed(ctx, "sub:a", map[string]string{"token": "t1", "record": `{"id":"a"}`}, "a", []string{"cell:1", "cell:2"}); err != nil {
		t.Fatalf("PutIndexed a: %v", err)
	}
	if err := rc.PutIndexed(ctx, "sub:b", map[string]string{"token": "t2", "record": `{"id":"b"}`}, "b", []string{"cell:2"}); err != nil {
		t.Fatalf("PutIndexed b: %v", err)
	}

	got, err := rc.HGet(ctx, "sub:a", "record")
	if err != nil || string(got) != `{"id":"a"}` {
		t.Fatalf("HGet=%q err=%v", got, err)
	}
	if _, err := rc.HGet(ctx, "sub:a", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing field err=%v want ErrNotFound", err)
	}
	if ok, _ := mr.SIsMember("cell:1", "a"); !ok {
		t.Fatalf("index cell:1 missing member a")
	}

	ids, err := rc.Union(ctx, []string{"cell:1", "cell:2", "cell:none"})
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("Union=%v want [a b]", ids)
	}
}

func TestDelIndexedIf_GuardedDelete(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	_ = rc.PutIndexed(ctx, "sub:a", map[string]string{"token": "old"}, "a|old", []string{"cell:1"})
	// replacement written before the old registration is released
	_ = rc.PutIndexed(ctx, "sub:a", map[string]string{"token": "new"}, "a|new", []string{"cell:1", "cell:2"})

	deleted, err := rc.DelIndexedIf(ctx, "sub:a", "token", "old", "a|old", []string{"cell:1"})
	if err != nil {
		t.Fatalf("DelIndexedIf old: %v", err)
	}
	if deleted {
		t.Fatal("stale token must not delete the replacement record")
	}
	if tok, err := rc.HGet(ctx, "sub:a", "token"); err != nil || string(tok) != "new" {
		t.Fatalf("token=%q err=%v want new", tok, err)
	}
	if ok, _ := mr.SIsMember("cell:1", "a|old"); ok {
		t.Fatal("old index member should be removed")
	}
	if ok, _ := mr.SIsMember("cell:1", "a|new"); !ok {
		t.Fatal("new index member should survive")
	}

	deleted, err = rc.DelIndexedIf(ctx, "sub:a", "token", "new", "a|new", []string{"cell:1", "cell:2"})
	if err != nil || !deleted {
		t.Fatalf("DelIndexedIf new deleted=%v err=%v", deleted, err)
	}
	if mr.Exists("sub:a") {
		t.Fatal("record should be gone")
	}
}

func TestUnion_NoSets(t *testing.T) {
	rc, _ := newMini(t)
	ids, err := rc.Union(context.Background(), nil)
	if err != nil || ids != nil {
		t.Fatalf("Union(nil)=%v err=%v", ids, err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, addr, WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatal("expected ping error for closed server")
	}
}
