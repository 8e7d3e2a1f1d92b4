package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"memorypin/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "slots/memories", bytes.NewReader([]byte("[1]")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"records": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "slots/memories" || info.Size != 3 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	h, err := store.Head(ctx, "slots/memories")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h.ContentType != "application/json" || h.Metadata["records"] != "1" || h.ETag != info.ETag {
		t.Fatalf("sidecar not reported by head: %+v", h)
	}
	g, rc, err := store.Get(ctx, "slots/memories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "[1]" || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts %+v", g)
	}
	ok, err := store.Delete(ctx, "slots/memories")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "slots", "memories"+sidecarExt)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("sidecar survived delete: %v", err)
	}
	ok, err = store.Delete(ctx, "slots/memories")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, err := store.Head(ctx, "slots/memories"); !core.IsNotExist(err) {
		t.Fatalf("expected not-exist after delete, got %v", err)
	}
}

func TestStore_OverwriteReplacesSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	first, err := store.Put(ctx, "memories", bytes.NewReader([]byte("first")), core.PutOptions{Metadata: map[string]string{"records": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, "memories", bytes.NewReader([]byte("second!")), core.PutOptions{})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if second.Size != 7 || second.ETag == first.ETag {
		t.Fatalf("unexpected overwrite info %+v -> %+v", first, second)
	}
	h, err := store.Head(ctx, "memories")
	if err != nil || h.Metadata != nil || h.Size != 7 {
		t.Fatalf("stale sidecar %+v %v", h, err)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "memories" && e.Name() != "memories"+sidecarExt {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestStore_CorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "memories", bytes.NewReader([]byte("[]")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "memories"+sidecarExt), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := store.Get(ctx, "memories"); err == nil {
		t.Fatalf("expected sidecar decode error")
	}
}

func TestStore_GetWithoutSidecar(t *testing.T) {
	store := newTempStore(t)
	if err := os.WriteFile(filepath.Join(store.Root(), "memories"), []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, rc, err := store.Get(context.Background(), "memories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	if info.Size != 2 {
		t.Fatalf("unexpected size %d", info.Size)
	}
	if h, err := store.Head(context.Background(), "memories"); err != nil || h.Size != 2 {
		t.Fatalf("head without sidecar: %+v %v", h, err)
	}
}

func TestStore_MissingSlotIsNotExist(t *testing.T) {
	store := newTempStore(t)
	if _, _, err := store.Get(context.Background(), "absent"); !core.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	if _, err := store.Head(context.Background(), "absent"); !core.IsNotExist(err) {
		t.Fatalf("expected not-exist head, got %v", err)
	}
}

func TestStore_KeyValidation(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"../escape", "/abs", "", "  ", "x.meta"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_PutReaderErrorLeavesPreviousPayload(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "memories", bytes.NewReader([]byte("keep")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "memories", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	_, rc, err := store.Get(ctx, "memories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "keep" {
		t.Fatalf("payload clobbered: %q", b)
	}
}

func TestStore_CancelledContext(t *testing.T) {
	store := newTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "memories", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if _, err := store.Head(ctx, "memories"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled head, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver")
	}
}
