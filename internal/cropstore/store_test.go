package cropstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"scanstation/internal/cropstore"
	"scanstation/internal/services"
	"scanstation/internal/testsupport"
	"scanstation/internal/workflow"
)

type memoryKV struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	getErr error
}

func newMemoryKV() *memoryKV { return &memoryKV{values: map[string]string{}} }

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.values[key] = value
	return nil
}

var oddRect = cropstore.Rect{Left: 10, Top: 20, Width: 300, Height: 400, NativeWidth: 1000, NativeHeight: 1500}

func TestSetThenLoadRoundTrip(t *testing.T) {
	kv := newMemoryKV()
	ctx := context.Background()

	store := cropstore.Load(ctx, kv, "session-1", nil)
	if !store.Empty() {
		t.Fatal("expected empty store")
	}
	if _, err := store.Set(ctx, workflow.ParityOdd, oddRect); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reloaded := cropstore.Load(ctx, kv, "session-1", nil)
	got, ok := reloaded.Get(workflow.ParityOdd)
	if !ok || got != oddRect {
		t.Fatalf("round trip mismatch: got %+v ok=%v", got, ok)
	}
	if _, ok := reloaded.Get(workflow.ParityEven); ok {
		t.Fatal("expected no even rectangle")
	}
	if raw := kv.values[cropstore.Key("session-1")]; raw == "" {
		t.Fatal("expected value under crop-params key")
	}
}

func TestRoundTripThroughSQLite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	kv := testsupport.MustOpenKV(t, cfg)
	ctx := context.Background()

	store := cropstore.Load(ctx, kv, "sess", nil)
	even := cropstore.Rect{Left: 0, Top: 0, Width: 50, Height: 60, NativeWidth: 100, NativeHeight: 100}
	if _, err := store.Set(ctx, workflow.ParityEven, even); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok := cropstore.Load(ctx, kv, "sess", nil).Get(workflow.ParityEven); !ok || got != even {
		t.Fatalf("unexpected reload %+v %v", got, ok)
	}
}

func TestSetSkipsUnchangedWrite(t *testing.T) {
	kv := newMemoryKV()
	ctx := context.Background()
	store := cropstore.Load(ctx, kv, "s", nil)

	wrote, err := store.Set(ctx, workflow.ParityOdd, oddRect)
	if err != nil || !wrote {
		t.Fatalf("expected first write, got wrote=%v err=%v", wrote, err)
	}
	wrote, err = store.Set(ctx, workflow.ParityOdd, oddRect)
	if err != nil || wrote {
		t.Fatalf("expected skipped write, got wrote=%v err=%v", wrote, err)
	}
	if kv.writes != 1 {
		t.Fatalf("expected 1 storage write, got %d", kv.writes)
	}

	reloaded := cropstore.Load(ctx, kv, "s", nil)
	if wrote, _ := reloaded.Set(ctx, workflow.ParityOdd, oddRect); wrote {
		t.Fatal("expected reloaded store to recognise stored value")
	}
	if wrote, _ := reloaded.Flush(ctx); wrote {
		t.Fatal("expected flush of unchanged mapping to skip")
	}
	if kv.writes != 1 {
		t.Fatalf("expected 1 storage write, got %d", kv.writes)
	}
}

func TestLoadTreatsCorruptRecordAsEmpty(t *testing.T) {
	kv := newMemoryKV()
	kv.values[cropstore.Key("bad")] = "{not json"
	store := cropstore.Load(context.Background(), kv, "bad", nil)
	if !store.Empty() {
		t.Fatal("expected corrupt record to load empty")
	}

	kv.getErr = errors.New("disk gone")
	if !cropstore.Load(context.Background(), kv, "bad", nil).Empty() {
		t.Fatal("expected unreadable record to load empty")
	}
}

func TestSetRejectsInvalidInput(t *testing.T) {
	store := cropstore.Load(context.Background(), newMemoryKV(), "s", nil)
	cases := map[string]struct {
		parity workflow.Parity
		rect   cropstore.Rect
	}{
		"unknown parity": {"left", oddRect},
		"zero width":     {workflow.ParityOdd, cropstore.Rect{Height: 1, NativeWidth: 1, NativeHeight: 1}},
		"out of bounds":  {workflow.ParityOdd, cropstore.Rect{Left: 90, Width: 20, Height: 1, NativeWidth: 100, NativeHeight: 100}},
		"no native size": {workflow.ParityOdd, cropstore.Rect{Width: 1, Height: 1}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Set(context.Background(), tc.parity, tc.rect); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if !store.Empty() {
		t.Fatal("rejected input must not be stored")
	}
}

func TestClearRemovesRectangles(t *testing.T) {
	kv := newMemoryKV()
	ctx := context.Background()
	store := cropstore.Load(ctx, kv, "s", nil)
	if _, err := store.Set(ctx, workflow.ParityOdd, oddRect); err != nil {
		t.Fatal(err)
	}
	if wrote, err := store.Clear(ctx); err != nil || !wrote {
		t.Fatalf("expected clear write, got %v %v", wrote, err)
	}
	if !cropstore.Load(ctx, kv, "s", nil).Empty() {
		t.Fatal("expected cleared store after reload")
	}
}
