// Package runhistory persists a record of every run-path invocation
// (command, start/end time, outcome) in a bbolt database, repurposing
// go-synth/builddb/db.go's build-tracking shape — bucket-per-concern,
// JSON-encoded records keyed by UUID — from port CRC tracking to swap
// history. Purely observational: spec.md's state machine does not consult
// this database, it is additive diagnostic surface queried by `pop-core
// history`.
package runhistory

import (
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/google/uuid"

	"pop-core/internal/coreerr"
)

const bucketRuns = "runs"

// Status values a Record can hold.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record describes one atomic-root-swap attempt.
type Record struct {
	UUID      string    `json:"uuid"`
	Command   []string  `json:"command"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Error     string    `json:"error,omitempty"`
}

// DB wraps a bbolt database of run records.
type DB struct {
	db *bolt.DB
}

// Open opens or creates a bbolt database at path, initializing the runs
// bucket if needed.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "open run history db %s", path)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, coreerr.Wrap(coreerr.Other, err, "init run history buckets")
	}

	return &DB{db: bdb}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Start creates a new Record with a fresh UUID and status "running",
// persists it, and returns its UUID for later completion.
func (d *DB) Start(command []string) (string, error) {
	rec := &Record{
		UUID:      uuid.NewString(),
		Command:   command,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
	if err := d.save(rec); err != nil {
		return "", err
	}
	return rec.UUID, nil
}

// Finish marks the run identified by id as completed, with the given
// status and optional error text.
func (d *DB) Finish(id string, status string, runErr error) error {
	rec, err := d.Get(id)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.EndTime = time.Now()
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return d.save(rec)
}

// Get retrieves a Record by UUID.
func (d *DB) Get(id string) (*Record, error) {
	var rec Record
	err := d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRuns))
		data := bucket.Get([]byte(id))
		if data == nil {
			return coreerr.New(coreerr.NotFound, "no run history record for %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every record, most recently started first.
func (d *DB) List() ([]*Record, error) {
	var records []*Record
	err := d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRuns))
		return bucket.ForEach(func(_, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	return records, nil
}

func (d *DB) save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return coreerr.Wrap(coreerr.Other, err, "marshal run record %s", rec.UUID)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRuns))
		return bucket.Put([]byte(rec.UUID), data)
	})
}
