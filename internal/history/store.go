package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/YuminosukeSato/rpcbench/pkg/bench"
	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

const bucketRuns = "runs"

// ErrRunNotFound is returned when no entry or run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// Entry is one stored scenario result. Entries recorded during the same
// benchmark invocation share a RunID.
type Entry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Framework  string    `json:"framework"`
	Scenario   string    `json:"scenario"`

	RequestsPerSecond float64 `json:"requests_per_second"`
	SuccessRate       float64 `json:"success_rate"`
	P99Ns             int64   `json:"p99_ns"`

	// Result is the structured result document.
	Result json.RawMessage `json:"result"`
}

// Store keeps entries in a bbolt database. Keys are UUIDv7 strings, so
// key order is recording order.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise history: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores e, assigning an ID and timestamp when missing, and returns the
// stored entry.
func (s *Store) Save(e Entry) (Entry, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Entry{}, fmt.Errorf("failed to generate id: %w", err)
		}
		e.ID = id.String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put([]byte(e.ID), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to save entry: %w", err)
	}
	return e, nil
}

// Record stores a finished result under the run ID carried by ctx.
func (s *Store) Record(ctx context.Context, r *bench.Results) error {
	doc, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	runID, _ := rpcbench.RunIDFrom(ctx)

	_, err = s.Save(Entry{
		RunID:             runID,
		Framework:         r.Framework,
		Scenario:          r.Scenario,
		RequestsPerSecond: r.RequestsPerSecond,
		SuccessRate:       r.SuccessRate,
		P99Ns:             r.Latency.P99(),
		Result:            doc,
	})
	return err
}

var _ bench.Sink = (*Store)(nil)

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the entry with the given ID.
func (s *Store) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Run returns all entries of one benchmark invocation in recording order.
func (s *Store) Run(runID string) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			if e.RunID == runID {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return entries, nil
}
