package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCountsOperations(t *testing.T) {
	rec := NewPrometheusRecorder("memorypin", nil)
	ctx := context.Background()
	rec.Observe(ctx, "add", true, 5*time.Millisecond)
	rec.Observe(ctx, "add", true, time.Millisecond)
	rec.Observe(ctx, "add", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.RecordCount(3)
	rec.ObserveGeocode("ok")

	if got := testutil.ToFloat64(rec.Operations.WithLabelValues("add", "success")); got != 2 {
		t.Fatalf("expected 2 successful adds, got %v", got)
	}
	if got := testutil.ToFloat64(rec.Operations.WithLabelValues("add", "error")); got != 1 {
		t.Fatalf("expected 1 failed add, got %v", got)
	}
	if got := testutil.ToFloat64(rec.Records); got != 3 {
		t.Fatalf("expected records gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(rec.GeocodeRequests.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 geocode request, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.Duration); n != 1 {
		t.Fatalf("expected one duration series, got %d", n)
	}
}

func TestPrometheusRecorderWriteText(t *testing.T) {
	rec := NewPrometheusRecorder("memorypin", nil)
	rec.RecordCount(2)
	var buf bytes.Buffer
	if err := rec.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), "memorypin_store_records 2") {
		t.Fatalf("unexpected exposition:\n%s", buf.String())
	}
	expected := `
# HELP memorypin_store_records Number of memories currently held
# TYPE memorypin_store_records gauge
memorypin_store_records 2
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "memorypin_store_records"); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
