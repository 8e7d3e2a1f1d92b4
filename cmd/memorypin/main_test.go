package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"memorypin/pkg/domain"
)

// setup points the CLI at a temporary filesystem slot and pins the clock.
func setup(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("MEMORYPIN_STORAGE_DRIVER", "fs")
	t.Setenv("MEMORYPIN_STORAGE_FS_ROOT", root)
	t.Setenv("MEMORYPIN_LOG_LEVEL", "error")
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	prev := nowFunc
	nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { nowFunc = prev })
	return root
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	code, out, errOut := run(t, args...)
	if code != 0 {
		t.Fatalf("%v exited %d: %s", args, code, errOut)
	}
	return out
}

func addParis(t *testing.T) string {
	t.Helper()
	return strings.TrimSpace(mustRun(t, "add",
		"--location", "Paris", "--date", "2024-01-01", "--text", "Trip",
		"--privacy", "public", "--lat", "48.85", "--lng", "2.35",
		"--tag", " food ", "--tag", "food", "--tag", "art"))
}

func TestUsageErrors(t *testing.T) {
	setup(t)
	cases := [][]string{
		nil,
		{"bogus"},
		{"--nope"},
		{"get"},
		{"clear"},
		{"list", "--format", "xml"},
		{"list", "extra"},
		{"add", "--lat", "1"},
		{"update", "--id", "5"},
	}
	for _, args := range cases {
		if code, _, _ := run(t, args...); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d", args, code)
		}
	}
}

func TestAddListGetRoundTrip(t *testing.T) {
	setup(t)
	id := addParis(t)
	if id == "" {
		t.Fatalf("add printed no id")
	}

	out := mustRun(t, "get", "--id", id)
	var rec domain.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("get output is not a record: %v\n%s", err, out)
	}
	if rec.Location != "Paris" || len(rec.Tags) != 2 || rec.Tags[0] != "food" || rec.Tags[1] != "art" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.CreatedAt == "" || rec.Coordinates == nil || rec.Coordinates.Lat != 48.85 {
		t.Fatalf("missing createdAt or coordinates: %+v", rec)
	}

	table := mustRun(t, "list")
	if !strings.Contains(table, "Paris") || !strings.Contains(table, "food,art") {
		t.Fatalf("list missing record:\n%s", table)
	}
	if private := mustRun(t, "list", "--privacy", "private", "--format", "json"); strings.TrimSpace(private) != "[]" {
		t.Fatalf("expected no private memories, got %s", private)
	}
}

func TestAddReportsEveryViolation(t *testing.T) {
	setup(t)
	code, _, errOut := run(t, "add", "--privacy", "secret")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	for _, want := range []string{"invalid memory:", "missing required fields", "location", "coordinates", "privacy"} {
		if !strings.Contains(errOut, want) {
			t.Fatalf("stderr missing %q:\n%s", want, errOut)
		}
	}
	if out := mustRun(t, "list", "--format", "json"); strings.TrimSpace(out) != "[]" {
		t.Fatalf("rejected add must not persist, got %s", out)
	}
}

func TestAddRejectsTooManyTags(t *testing.T) {
	setup(t)
	args := []string{"add", "--location", "x", "--date", "2024-01-01", "--text", "t", "--lat", "0", "--lng", "0"}
	for _, tag := range []string{"a", "b", "c", "d", "e", "f"} {
		args = append(args, "--tag", tag)
	}
	code, _, errOut := run(t, args...)
	if code != 1 || !strings.Contains(errOut, "maximum 5 tags") {
		t.Fatalf("expected tag cap error, got %d %s", code, errOut)
	}
}

func TestUpdateDeleteAndNotFound(t *testing.T) {
	setup(t)
	id := addParis(t)
	mustRun(t, "update", "--id", id, "--privacy", "private", "--text", "Second trip")
	out := mustRun(t, "list", "--privacy", "private")
	if !strings.Contains(out, "Paris") {
		t.Fatalf("update not persisted:\n%s", out)
	}
	code, _, errOut := run(t, "update", "--id", id, "--date", "someday")
	if code != 1 || !strings.Contains(errOut, "date must be") {
		t.Fatalf("expected date violation, got %d %s", code, errOut)
	}
	mustRun(t, "delete", "--id", id)
	code, _, errOut = run(t, "get", "--id", id)
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("expected not found, got %d %s", code, errOut)
	}
}

func TestSearchPrintsBounds(t *testing.T) {
	setup(t)
	addParis(t)
	out := mustRun(t, "search", "--query", "FOOD")
	if !strings.Contains(out, "Paris") || !strings.Contains(out, "bounds: ") {
		t.Fatalf("unexpected search output:\n%s", out)
	}
	if out := mustRun(t, "search", "--query", "tokyo"); strings.Contains(out, "bounds") {
		t.Fatalf("no matches should print no bounds:\n%s", out)
	}
}

func TestExportImportClear(t *testing.T) {
	setup(t)
	addParis(t)
	dir := t.TempDir()
	path := strings.TrimSpace(mustRun(t, "export", "--out", dir))
	if filepath.Dir(path) != dir || !strings.HasPrefix(filepath.Base(path), "memories_") {
		t.Fatalf("unexpected export path %q", path)
	}

	code, _, errOut := run(t, "clear")
	if code != 2 || !strings.Contains(errOut, "--yes") {
		t.Fatalf("clear without --yes must refuse, got %d %s", code, errOut)
	}
	mustRun(t, "clear", "--yes")
	if out := mustRun(t, "stats"); !strings.Contains(out, "total    0") || strings.Contains(out, "bytes") {
		t.Fatalf("expected empty store without a slot:\n%s", out)
	}

	if out := mustRun(t, "import", "--in", path); !strings.Contains(out, "imported 1 memories") {
		t.Fatalf("unexpected import output %q", out)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"id":1}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, _, errOut = run(t, "import", "--in", bad)
	if code != 1 || !strings.Contains(errOut, "at index 0 (id 1)") {
		t.Fatalf("expected indexed import error, got %d %s", code, errOut)
	}
	out := mustRun(t, "stats")
	if !strings.Contains(out, "total    1") {
		t.Fatalf("failed import must leave the store alone:\n%s", out)
	}
	if !strings.Contains(out, "slot     memories") || !strings.Contains(out, "bytes    ") {
		t.Fatalf("stats should describe the written slot:\n%s", out)
	}
}

func TestGeoJSONAndMarkers(t *testing.T) {
	setup(t)
	addParis(t)
	out := mustRun(t, "geojson")
	if !strings.Contains(out, `"FeatureCollection"`) || !strings.Contains(out, "2.35") {
		t.Fatalf("unexpected geojson:\n%s", out)
	}
	var doc struct {
		Markers []struct {
			Popup string `json:"popup"`
		} `json:"markers"`
		Bounds *struct{} `json:"bounds"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, "markers")), &doc); err != nil {
		t.Fatalf("markers output: %v", err)
	}
	if len(doc.Markers) != 1 || !strings.HasPrefix(doc.Markers[0].Popup, "Paris — 2024-01-01") || doc.Bounds == nil {
		t.Fatalf("unexpected markers %+v", doc)
	}
}

func TestGeocodeAndAddWithGeocode(t *testing.T) {
	setup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"display_name":"Kyoto, Japan","lat":"35.0116","lon":"135.7681","type":"city"}]`))
	}))
	defer srv.Close()
	t.Setenv("MEMORYPIN_GEOCODE_BASE_URL", srv.URL)

	out := mustRun(t, "geocode", "--query", "Kyoto")
	if !strings.Contains(out, "Kyoto, Japan") || !strings.Contains(out, "zoom 13") {
		t.Fatalf("unexpected geocode output:\n%s", out)
	}
	if code, _, _ := run(t, "geocode", "--query", "ky"); code != 2 {
		t.Fatalf("short query should be a usage error, got %d", code)
	}

	id := strings.TrimSpace(mustRun(t, "add", "--location", "Kyoto", "--geocode",
		"--date", "2023-04-02", "--text", "Temples", "--privacy", "private"))
	var rec domain.Record
	if err := json.Unmarshal([]byte(mustRun(t, "get", "--id", id)), &rec); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Coordinates == nil || rec.Coordinates.Lng != 135.7681 {
		t.Fatalf("coordinates not taken from geocoder: %+v", rec.Coordinates)
	}
}

func TestAddWithPhoto(t *testing.T) {
	setup(t)
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 30, 20))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	id := strings.TrimSpace(mustRun(t, "add", "--location", "Home", "--date", "2024-02-02",
		"--text", "Garden", "--lat", "0", "--lng", "0", "--photo", path))
	var rec domain.Record
	if err := json.Unmarshal([]byte(mustRun(t, "get", "--id", id)), &rec); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Photo == nil || !strings.HasPrefix(*rec.Photo, "data:image/jpeg;base64,") {
		t.Fatalf("photo not attached")
	}
	mustRun(t, "update", "--id", id, "--clear-photo")
	if err := json.Unmarshal([]byte(mustRun(t, "get", "--id", id)), &rec); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Photo != nil {
		t.Fatalf("photo not cleared")
	}
}

func TestMetricsAndTraceOutput(t *testing.T) {
	setup(t)
	dir := t.TempDir()
	metrics := filepath.Join(dir, "metrics.prom")
	trace := filepath.Join(dir, "trace.jsonl")
	mustRun(t, "--metrics-out", metrics, "--trace", trace, "add",
		"--location", "Rome", "--date", "2024-03-03", "--text", "Pasta", "--lat", "41.9", "--lng", "12.5")
	b, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(b), `memorypin_store_operations_total{operation="add",status="success"} 1`) {
		t.Fatalf("metrics missing add counter:\n%s", b)
	}
	tb, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(tb), `"operation":"add"`) {
		t.Fatalf("trace missing add span:\n%s", tb)
	}
}

func TestConfigErrorExitsOne(t *testing.T) {
	setup(t)
	t.Setenv("MEMORYPIN_STORAGE_DRIVER", "dynamo")
	if code, _, errOut := run(t, "list"); code != 1 || !strings.Contains(errOut, "config") {
		t.Fatalf("expected config error, got %d %s", code, errOut)
	}
}
