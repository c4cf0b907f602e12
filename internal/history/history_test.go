package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"bosstimer/internal/storage"
	logx "bosstimer/pkg/logx"
)

func TestRecordKeepsNewestWithinLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRecorder(storage.NewMemory(), logx.Nop(), 10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		if _, err := r.Record(ctx, Entry{Title: fmt.Sprintf("t%d", i), Type: "countdown", TriggeredAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	items, limit := r.List()
	if limit != 10 || len(items) != 10 {
		t.Fatalf("len = %d, limit = %d", len(items), limit)
	}
	for i, e := range items {
		if want := fmt.Sprintf("t%d", 14-i); e.Title != want {
			t.Fatalf("items[%d] = %s, want %s", i, e.Title, want)
		}
		if e.ID == "" {
			t.Fatalf("items[%d] has no id", i)
		}
	}
}

func TestSetLimitClampsAndPrunes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRecorder(storage.NewMemory(), logx.Nop(), 0)
	if r.Limit() != DefaultLimit {
		t.Fatalf("default limit = %d", r.Limit())
	}
	for i := 0; i < 5; i++ {
		_, _ = r.Record(ctx, Entry{Title: fmt.Sprint(i)})
	}

	tests := []struct{ in, want, items int }{
		{in: 3, want: 3, items: 3},
		{in: 0, want: 1, items: 1},
		{in: -7, want: 1, items: 1},
		{in: 500, want: 50, items: 1},
	}
	for _, tt := range tests {
		got, err := r.SetLimit(ctx, tt.in)
		if err != nil {
			t.Fatalf("SetLimit(%d): %v", tt.in, err)
		}
		items, _ := r.List()
		if got != tt.want || len(items) != tt.items {
			t.Fatalf("SetLimit(%d) = %d with %d items, want %d with %d", tt.in, got, len(items), tt.want, tt.items)
		}
	}
	items, _ := r.List()
	if items[0].Title != "4" {
		t.Fatalf("kept %s, want newest", items[0].Title)
	}
}

func TestDeleteClearAndPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	r := NewRecorder(kv, logx.Nop(), 20)
	a, _ := r.Record(ctx, Entry{Title: "a", Type: "daily", Extra: map[string]any{"lateMs": 12}})
	b, _ := r.Record(ctx, Entry{Title: "b", Type: "once"})

	if err := r.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}

	raw, ok, _ := kv.Get(ctx, StorageKey)
	if !ok {
		t.Fatal("history not persisted")
	}
	var doc struct {
		Items []map[string]any `json:"items"`
		Limit int              `json:"limit"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("persisted shape: %v", err)
	}
	if doc.Limit != 20 || len(doc.Items) != 1 || doc.Items[0]["id"] != b.ID {
		t.Fatalf("persisted = %s", raw)
	}

	reloaded := NewRecorder(kv, logx.Nop(), 5)
	reloaded.Load(ctx)
	items, limit := reloaded.List()
	if limit != 20 || len(items) != 1 || items[0].Title != "b" {
		t.Fatalf("reloaded = %+v limit %d", items, limit)
	}

	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	raw, _, _ = kv.Get(ctx, StorageKey)
	if string(raw) != `{"items":[],"limit":20}` {
		t.Fatalf("after Clear persisted = %s", raw)
	}
}

func TestLoadCorruptedStartsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Put(ctx, StorageKey, []byte(`[not json`))
	r := NewRecorder(kv, logx.Nop(), 7)
	r.Load(ctx)
	items, limit := r.List()
	if len(items) != 0 || limit != 7 {
		t.Fatalf("items = %v, limit = %d", items, limit)
	}
}
