// Package core holds the MemoryStore, the single owner of the memory
// collection and the only component that touches the persistence slot.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"memorypin/internal/blob"
	"memorypin/pkg/domain"
)

// DefaultSlotKey names the slot the collection is persisted under.
const DefaultSlotKey = "memories"

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithSlotKey overrides the slot key.
func WithSlotKey(key string) Option {
	return func(s *MemoryStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *MemoryStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *MemoryStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

// MemoryStore keeps the collection sorted by date, newest first, and writes
// the whole collection to the slot after every successful mutation. A
// mutation that fails validation or persistence leaves both copies as they
// were.
type MemoryStore struct {
	mu      sync.Mutex
	slot    blob.Store
	key     string
	records []domain.Record

	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewMemoryStore loads the collection from slot. A nil slot gets an in-memory
// one. Load failures are logged and yield an empty collection.
func NewMemoryStore(ctx context.Context, slot blob.Store, opts ...Option) *MemoryStore {
	if slot == nil {
		slot = blob.NewMemory()
	}
	s := &MemoryStore{
		slot:    slot,
		key:     DefaultSlotKey,
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = s.load(ctx)
	s.metrics.RecordCount(len(s.records))
	return s
}

func (s *MemoryStore) load(ctx context.Context) []domain.Record {
	log := s.logger.With(zap.String("slot", s.key), zap.String("driver", string(s.slot.Driver())))
	_, rc, err := s.slot.Get(ctx, s.key)
	if blob.IsNotExist(err) {
		return nil
	}
	if err != nil {
		log.Warn("memory slot unreadable, starting empty", zap.Error(err))
		return nil
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		log.Warn("memory slot unreadable, starting empty", zap.Error(err))
		return nil
	}
	elems, err := domain.DecodeArray(payload)
	if err != nil {
		log.Warn("memory slot malformed, starting empty", zap.Error(err))
		return nil
	}
	records := make([]domain.Record, 0, len(elems))
	seen := make(map[int64]struct{}, len(elems))
	for i, raw := range elems {
		rec, err := domain.DecodeRecord(raw)
		if err != nil {
			log.Warn("dropping invalid memory", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			log.Warn("dropping duplicate memory", zap.Int("index", i), zap.Int64("id", rec.ID))
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	domain.SortByDateDesc(records)
	log.Debug("memories loaded", zap.Int("records", len(records)))
	return records
}

func (s *MemoryStore) instrument(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	}()
	return fn(ctx)
}

// mutate runs fn against a working copy of the collection. The copy is
// sorted, persisted and committed only if fn and the slot write succeed.
func (s *MemoryStore) mutate(ctx context.Context, op string, fn func([]domain.Record) ([]domain.Record, error)) error {
	return s.instrument(ctx, op, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		next, err := fn(append([]domain.Record(nil), s.records...))
		if err != nil {
			s.logger.Debug("memory mutation rejected", zap.String("operation", op), zap.Error(err))
			return err
		}
		domain.SortByDateDesc(next)
		if err := s.persist(ctx, next); err != nil {
			s.logger.Error("memory persistence failed, rolled back", zap.String("operation", op), zap.Error(err))
			return err
		}
		s.records = next
		s.metrics.RecordCount(len(next))
		s.logger.Debug("memories updated", zap.String("operation", op), zap.Int("records", len(next)))
		return nil
	})
}

func (s *MemoryStore) persist(ctx context.Context, records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: s.key, Err: err}
	}
	opts := blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"records": strconv.Itoa(len(records))},
	}
	if _, err := s.slot.Put(ctx, s.key, bytes.NewReader(payload), opts); err != nil {
		return &domain.PersistenceError{Op: "put", Key: s.key, Err: err}
	}
	return nil
}

func indexOf(records []domain.Record, id int64) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(records []domain.Record) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// GetAll returns copies of the records admitted by filter, newest first.
func (s *MemoryStore) GetAll(filter domain.PrivacyFilter) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(domain.Filter(s.records, filter))
}

// GetByID returns a copy of the record with id.
func (s *MemoryStore) GetByID(id int64) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.records, id); i >= 0 {
		return s.records[i].Clone(), nil
	}
	return domain.Record{}, fmt.Errorf("memory %d: %w", id, domain.ErrNotFound)
}

// Add validates rec and inserts it.
func (s *MemoryStore) Add(ctx context.Context, rec domain.Record) error {
	return s.mutate(ctx, "add", func(records []domain.Record) ([]domain.Record, error) {
		if err := domain.Validate(rec); err != nil {
			return nil, err
		}
		if indexOf(records, rec.ID) >= 0 {
			return nil, fmt.Errorf("memory %d: %w", rec.ID, domain.ErrDuplicateID)
		}
		return append([]domain.Record{rec.Clone()}, records...), nil
	})
}

// Update merges patch over the record with id and re-validates the result.
func (s *MemoryStore) Update(ctx context.Context, id int64, patch domain.Patch) error {
	return s.mutate(ctx, "update", func(records []domain.Record) ([]domain.Record, error) {
		i := indexOf(records, id)
		if i < 0 {
			return nil, fmt.Errorf("memory %d: %w", id, domain.ErrNotFound)
		}
		merged := patch.Apply(records[i])
		if err := domain.Validate(merged); err != nil {
			return nil, err
		}
		records[i] = merged
		return records, nil
	})
}

// Delete removes the record with id.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	return s.mutate(ctx, "delete", func(records []domain.Record) ([]domain.Record, error) {
		i := indexOf(records, id)
		if i < 0 {
			return nil, fmt.Errorf("memory %d: %w", id, domain.ErrNotFound)
		}
		return append(records[:i], records[i+1:]...), nil
	})
}

// Search returns copies of the records whose location, text or any tag
// contains query, ignoring case. A blank query matches every record.
func (s *MemoryStore) Search(query string) []domain.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Record, 0, len(s.records))
	for _, r := range s.records {
		if q == "" || r.Matches(q) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// ExportAll serializes the collection as an indented JSON array.
func (s *MemoryStore) ExportAll() ([]byte, error) {
	s.mu.Lock()
	records := s.records
	if records == nil {
		records = []domain.Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("export memories: %w", err)
	}
	return b, nil
}

// ImportAll replaces the collection with the records in payload. Nothing
// changes unless every record is valid and ids are unique.
func (s *MemoryStore) ImportAll(ctx context.Context, payload []byte) error {
	return s.mutate(ctx, "import", func([]domain.Record) ([]domain.Record, error) {
		records, err := domain.DecodeRecords(payload)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]struct{}, len(records))
		for _, r := range records {
			if _, dup := seen[r.ID]; dup {
				return nil, fmt.Errorf("import memory %d: %w", r.ID, domain.ErrDuplicateID)
			}
			seen[r.ID] = struct{}{}
		}
		return records, nil
	})
}

// Clear empties the collection and removes the slot.
func (s *MemoryStore) Clear(ctx context.Context) error {
	return s.instrument(ctx, "clear", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.slot.Delete(ctx, s.key); err != nil {
			perr := &domain.PersistenceError{Op: "delete", Key: s.key, Err: err}
			s.logger.Error("memory persistence failed, rolled back", zap.String("operation", "clear"), zap.Error(perr))
			return perr
		}
		s.records = nil
		s.metrics.RecordCount(0)
		s.logger.Debug("memories cleared", zap.String("slot", s.key))
		return nil
	})
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SlotInfo reports what the backend holds under the store's slot key. ok is
// false while nothing has been persisted.
func (s *MemoryStore) SlotInfo(ctx context.Context) (info blob.Info, ok bool, err error) {
	info, err = s.slot.Head(ctx, s.key)
	if blob.IsNotExist(err) {
		return blob.Info{}, false, nil
	}
	if err != nil {
		return blob.Info{}, false, &domain.PersistenceError{Op: "head", Key: s.key, Err: err}
	}
	return info, true, nil
}

// Stats summarises the collection.
type Stats struct {
	Total   int    `json:"total"`
	Public  int    `json:"public"`
	Private int    `json:"private"`
	Newest  string `json:"newest,omitempty"`
	Oldest  string `json:"oldest,omitempty"`
}

// Stats counts records by privacy and reports the date range.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.records)}
	for _, r := range s.records {
		switch r.Privacy {
		case domain.PrivacyPublic:
			st.Public++
		case domain.PrivacyPrivate:
			st.Private++
		}
		if _, err := domain.ParseDate(r.Date); err != nil {
			continue
		}
		if st.Newest == "" {
			st.Newest = r.Date
		}
		st.Oldest = r.Date
	}
	return st
}
