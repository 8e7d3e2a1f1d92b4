package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"memorypin/internal/geocode"
	"memorypin/internal/mapview"
	"memorypin/internal/photo"
	"memorypin/pkg/domain"
)

var commands = []command{
	{name: "add", summary: "pin a new memory", run: runAdd},
	{name: "list", summary: "list memories, newest first", run: runList},
	{name: "get", summary: "show one memory as JSON", run: runGet},
	{name: "update", summary: "change fields of a memory", run: runUpdate},
	{name: "delete", summary: "remove a memory", run: runDelete},
	{name: "search", summary: "find memories by location, text or tag", run: runSearch},
	{name: "export", summary: "write every memory as a JSON array", run: runExport},
	{name: "import", summary: "replace every memory from a JSON array", run: runImport},
	{name: "clear", summary: "remove every memory", run: runClear},
	{name: "geocode", summary: "look up a place", offline: true, run: runGeocode},
	{name: "geojson", summary: "print the map markers as GeoJSON", run: runGeoJSON},
	{name: "markers", summary: "print the map markers and the fitted view", run: runMarkers},
	{name: "stats", summary: "count memories by privacy", run: runStats},
}

// tagList collects repeated --tag flags.
type tagList []string

func (t *tagList) String() string { return strings.Join(*t, ",") }

func (t *tagList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

// normalizeTags trims, drops empties and duplicates, and enforces the tag cap.
func normalizeTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > domain.MaxTags {
		return nil, &domain.ValidationError{
			Fields:   []string{"tags"},
			Problems: []string{fmt.Sprintf("maximum %d tags allowed", domain.MaxTags)},
		}
	}
	return out, nil
}

// recordFlags are shared by add and update.
type recordFlags struct {
	location, date, text, privacy, photo string
	lat, lng                             float64
	tags                                 tagList
	geocode                              bool
}

func (f *recordFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.location, "location", "", "place name")
	fs.StringVar(&f.date, "date", "", "date of the memory (YYYY-MM-DD or RFC 3339)")
	fs.StringVar(&f.text, "text", "", "what happened")
	fs.StringVar(&f.privacy, "privacy", string(domain.PrivacyPublic), "public or private")
	fs.StringVar(&f.photo, "photo", "", "image file to attach")
	fs.Float64Var(&f.lat, "lat", 0, "latitude")
	fs.Float64Var(&f.lng, "lng", 0, "longitude")
	fs.Var(&f.tags, "tag", "tag (repeatable, at most 5)")
	fs.BoolVar(&f.geocode, "geocode", false, "resolve --location and use the first match")
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// coordinates resolves the pin position from --geocode or --lat/--lng.
func (f *recordFlags) coordinates(ctx context.Context, a *app, set map[string]bool) (*domain.Coordinates, error) {
	if f.geocode {
		if strings.TrimSpace(f.location) == "" {
			return nil, usagef("--geocode needs --location")
		}
		client, err := a.geocoder()
		if err != nil {
			return nil, err
		}
		found, err := client.Search(ctx, f.location)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no locations found for %q", f.location)
		}
		c := found[0].Coordinates
		a.logger.Info("location resolved", zap.String("query", f.location), zap.String("match", found[0].DisplayName))
		return &c, nil
	}
	if set["lat"] != set["lng"] {
		return nil, usagef("--lat and --lng must be given together")
	}
	if !set["lat"] {
		return nil, nil
	}
	c, err := mapview.NewLayer(a.logger).Click(f.lat, f.lng)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *app) geocoder() (*geocode.Client, error) {
	opts := []geocode.Option{geocode.WithLogger(a.logger)}
	if a.metrics != nil {
		opts = append(opts, geocode.WithRecorder(a.metrics))
	}
	return geocode.New(a.cfg.Geocode, opts...)
}

func (a *app) optimizePhoto(ctx context.Context, path string) (string, error) {
	return photo.NewOptimizer(a.cfg.Photo, a.logger).OptimizeFile(ctx, path)
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "add")
	var f recordFlags
	f.register(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	set := setFlags(fs)
	tags, err := normalizeTags(f.tags)
	if err != nil {
		return err
	}
	coords, err := f.coordinates(ctx, a, set)
	if err != nil {
		return err
	}
	now := a.now()
	rec := domain.Record{
		ID:          now.UnixMilli(),
		Location:    strings.TrimSpace(f.location),
		Date:        strings.TrimSpace(f.date),
		Text:        f.text,
		Privacy:     domain.Privacy(strings.ToLower(strings.TrimSpace(f.privacy))),
		Tags:        tags,
		Coordinates: coords,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}
	if f.photo != "" {
		uri, err := a.optimizePhoto(ctx, f.photo)
		if err != nil {
			return err
		}
		rec.Photo = &uri
	}
	if err := a.store.Add(ctx, rec); err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, rec.ID)
	return err
}

func idFlag(fs *flag.FlagSet) *int64 {
	return fs.Int64("id", 0, "memory id")
}

func requireID(id int64) error {
	if id == 0 {
		return usagef("--id is required")
	}
	return nil
}

func runUpdate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "update")
	id := idFlag(fs)
	var f recordFlags
	f.register(fs)
	clearPhoto := fs.Bool("clear-photo", false, "remove the attached photo")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	set := setFlags(fs)
	var patch domain.Patch
	if set["location"] {
		patch.Location = &f.location
	}
	if set["date"] {
		patch.Date = &f.date
	}
	if set["text"] {
		patch.Text = &f.text
	}
	if set["privacy"] {
		p := domain.Privacy(strings.ToLower(strings.TrimSpace(f.privacy)))
		patch.Privacy = &p
	}
	if set["tag"] {
		tags, err := normalizeTags(f.tags)
		if err != nil {
			return err
		}
		patch.Tags = &tags
	}
	coords, err := f.coordinates(ctx, a, set)
	if err != nil {
		return err
	}
	patch.Coordinates = coords
	patch.ClearPhoto = *clearPhoto
	if f.photo != "" {
		uri, err := a.optimizePhoto(ctx, f.photo)
		if err != nil {
			return err
		}
		patch.Photo = &uri
	}
	if patch.Empty() {
		return usagef("update: nothing to change")
	}
	if err := a.store.Update(ctx, *id, patch); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "updated %d\n", *id)
	return err
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "delete")
	id := idFlag(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if err := a.store.Delete(ctx, *id); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.stdout, "deleted %d\n", *id)
	return err
}

func runGet(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "get")
	id := idFlag(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	rec, err := a.store.GetByID(*id)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, rec)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, records []domain.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tDATE\tPRIVACY\tLOCATION\tTAGS\tPHOTO")
	for _, r := range records {
		hasPhoto := "no"
		if r.Photo != nil {
			hasPhoto = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Date, r.Privacy, r.Location, strings.Join(r.Tags, ","), hasPhoto)
	}
	return tw.Flush()
}

func privacyFlag(fs *flag.FlagSet) *string {
	return fs.String("privacy", string(domain.FilterAll), "all, public or private")
}

func runList(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "list")
	privacy := privacyFlag(fs)
	format := fs.String("format", "table", "table or json")
	if err := parse(fs, args); err != nil {
		return err
	}
	filter, err := domain.ParsePrivacyFilter(*privacy)
	if err != nil {
		return usagef("list: %v", err)
	}
	records := a.store.GetAll(filter)
	switch *format {
	case "table":
		return writeTable(a.stdout, records)
	case "json":
		return writeJSON(a.stdout, records)
	default:
		return usagef("list: unknown format %q", *format)
	}
}

func runSearch(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "search")
	query := fs.String("query", "", "text to look for; empty matches everything")
	if err := parse(fs, args); err != nil {
		return err
	}
	found := a.store.Search(*query)
	if err := writeTable(a.stdout, found); err != nil {
		return err
	}
	if b, ok := mapview.FitBounds(found); ok {
		_, err := fmt.Fprintf(a.stdout, "bounds: %.6f,%.6f,%.6f,%.6f\n", b.South, b.West, b.North, b.East)
		return err
	}
	return nil
}

// exportName is the file name used when --out names a directory.
func exportName(now time.Time) string {
	return "memories_" + now.UTC().Format(time.RFC3339) + ".json"
}

func runExport(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "export")
	out := fs.String("out", "", "file or directory to write to (default stdout)")
	if err := parse(fs, args); err != nil {
		return err
	}
	payload, err := a.store.ExportAll()
	if err != nil {
		return err
	}
	if *out == "" {
		_, err := fmt.Fprintln(a.stdout, string(payload))
		return err
	}
	path := *out
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, exportName(a.now()))
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, path)
	return err
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "import")
	in := fs.String("in", "", "JSON file to import")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *in == "" {
		return usagef("import: --in is required")
	}
	payload, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if err := a.store.ImportAll(ctx, payload); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "imported %d memories\n", a.store.Len())
	return err
}

func runClear(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "clear")
	yes := fs.Bool("yes", false, "confirm removal of every memory")
	if err := parse(fs, args); err != nil {
		return err
	}
	if !*yes {
		return usagef("clear: refusing to remove every memory without --yes")
	}
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.stdout, "cleared")
	return err
}

func runGeocode(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "geocode")
	query := fs.String("query", "", "place to look up")
	if err := parse(fs, args); err != nil {
		return err
	}
	client, err := a.geocoder()
	if err != nil {
		return err
	}
	found, err := client.Search(ctx, *query)
	if errors.Is(err, geocode.ErrQueryTooShort) {
		return usagef("geocode: %v", err)
	}
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return errors.New("no locations found")
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LAT\tLNG\tTYPE\tNAME")
	for _, c := range found {
		_, _ = fmt.Fprintf(tw, "%.6f\t%.6f\t%s\t%s\n", c.Coordinates.Lat, c.Coordinates.Lng, c.Type, c.DisplayName)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	layer := mapview.NewLayer(a.logger)
	layer.Center(found[0].Coordinates)
	v := layer.View()
	_, err = fmt.Fprintf(a.stdout, "view: %.6f,%.6f zoom %d\n", v.Center.Lat, v.Center.Lng, v.Zoom)
	return err
}

func runGeoJSON(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "geojson")
	privacy := privacyFlag(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	filter, err := domain.ParsePrivacyFilter(*privacy)
	if err != nil {
		return usagef("geojson: %v", err)
	}
	b, err := mapview.GeoJSON(a.store.GetAll(filter))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}

func runMarkers(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "markers")
	privacy := privacyFlag(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	filter, err := domain.ParsePrivacyFilter(*privacy)
	if err != nil {
		return usagef("markers: %v", err)
	}
	layer := mapview.NewLayer(a.logger)
	all := a.store.GetAll(domain.FilterAll)
	layer.Sync(all)
	visible := layer.Visible(filter)
	out := struct {
		Markers []mapview.Marker `json:"markers"`
		Bounds  *mapview.Bounds  `json:"bounds,omitempty"`
	}{Markers: visible}
	if b, ok := mapview.FitBounds(a.store.GetAll(filter)); ok {
		out.Bounds = &b
	}
	return writeJSON(a.stdout, out)
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "stats")
	if err := parse(fs, args); err != nil {
		return err
	}
	info, stored, err := a.store.SlotInfo(ctx)
	if err != nil {
		return err
	}
	st := a.store.Stats()
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "driver\t%s\n", a.slot.Driver())
	_, _ = fmt.Fprintf(tw, "total\t%d\n", st.Total)
	_, _ = fmt.Fprintf(tw, "public\t%d\n", st.Public)
	_, _ = fmt.Fprintf(tw, "private\t%d\n", st.Private)
	if st.Total > 0 {
		_, _ = fmt.Fprintf(tw, "newest\t%s\n", st.Newest)
		_, _ = fmt.Fprintf(tw, "oldest\t%s\n", st.Oldest)
	}
	if stored {
		_, _ = fmt.Fprintf(tw, "slot\t%s\n", info.Key)
		_, _ = fmt.Fprintf(tw, "bytes\t%d\n", info.Size)
		_, _ = fmt.Fprintf(tw, "written\t%s\n", info.LastModified.Format(time.RFC3339))
	}
	return tw.Flush()
}
