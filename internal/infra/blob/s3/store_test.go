package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"memorypin/internal/blob/core"
)

func TestStore_MockedSlotFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	info, err := store.Put(ctx, "memories", bytes.NewReader([]byte("[]")), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "memories" || info.ContentType != "application/json" || info.Size != 2 {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "memories", bytes.NewReader([]byte(`[{"id":1}]`)), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := store.Get(ctx, "memories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != `[{"id":1}]` {
		t.Fatalf("get mismatch: %q", string(data))
	}
	if ok, err := store.Delete(ctx, "memories"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "memories"); err != nil || ok {
		t.Fatalf("second delete should report false, got %v %v", ok, err)
	}
}

func TestStore_MissingSlotIsNotExist(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "absent"); !core.IsNotExist(err) {
		t.Fatalf("get: expected not-exist, got %v", err)
	}
	if _, err := store.Head(ctx, "absent"); !core.IsNotExist(err) {
		t.Fatalf("head: expected not-exist, got %v", err)
	}
}

func TestStore_PrefixNamespacesKeys(t *testing.T) {
	store := NewMockForTests()
	store.prefix = "memorypin/"
	ctx := context.Background()
	if _, err := store.Put(ctx, "memories", bytes.NewReader([]byte("[]")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := store.Head(ctx, "memories")
	if err != nil || info.Key != "memories" {
		t.Fatalf("unexpected head %+v %v", info, err)
	}
}

func TestStore_New(t *testing.T) {
	_ = os.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	_ = os.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	defer func() {
		_ = os.Unsetenv("AWS_ACCESS_KEY_ID")
		_ = os.Unsetenv("AWS_SECRET_ACCESS_KEY")
	}()
	s, err := New(context.Background(), Config{Bucket: "bkt", Endpoint: "https://mock.s3.local", PathStyle: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 || s.Bucket() != "bkt" {
		t.Fatalf("unexpected store %+v", s)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestDecodeChunked(t *testing.T) {
	if b, ok := decodeChunked([]byte("2;chunk-signature=abc\r\n[]\r\n0\r\n\r\n")); !ok || string(b) != "[]" {
		t.Fatalf("decode: %q %v", b, ok)
	}
	if _, ok := decodeChunked([]byte("plain body")); ok {
		t.Fatalf("plain body should not decode")
	}
	if _, err := parseHex("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
}
