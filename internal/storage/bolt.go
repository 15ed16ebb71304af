package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// journalBucket stores outcome records keyed by timestamp
const journalBucket = "_journal"

// BoltJournal is a bbolt implementation of the Journal interface
type BoltJournal struct {
	db *bbolt.DB
}

// NewBoltJournal opens (or creates) a journal database at path
func NewBoltJournal(path string) (*BoltJournal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(journalBucket)); err != nil {
			return fmt.Errorf("failed to create journal bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltJournal{db: db}, nil
}

// Append stores a record
func (j *BoltJournal) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		if bucket == nil {
			return fmt.Errorf("journal bucket not found")
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		// Sequence breaks ties between records with the same timestamp
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		key := []byte(fmt.Sprintf("%020d-%010d", rec.Timestamp.UnixNano(), seq))
		return bucket.Put(key, data)
	})
}

// Records returns up to limit most recent records, oldest first
func (j *BoltJournal) Records(limit int) ([]Record, error) {
	var records []Record

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		if bucket == nil {
			return fmt.Errorf("journal bucket not found")
		}

		// Walk backwards from the newest entry
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(records) < limit; k, v = cursor.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip corrupted entries
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest-first
	for i, k := 0, len(records)-1; i < k; i, k = i+1, k-1 {
		records[i], records[k] = records[k], records[i]
	}
	return records, nil
}

// Count returns the number of stored records
func (j *BoltJournal) Count() (int, error) {
	var count int
	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		if bucket == nil {
			return fmt.Errorf("journal bucket not found")
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Trim keeps only the last maxRecords records
func (j *BoltJournal) Trim(maxRecords int) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		if bucket == nil {
			return fmt.Errorf("journal bucket not found")
		}

		count := bucket.Stats().KeyN
		if count <= maxRecords {
			return nil
		}

		// Collect first, deleting while iterating skips keys
		toDelete := count - maxRecords
		keys := make([][]byte, 0, toDelete)
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < toDelete; k, _ = cursor.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete old record: %w", err)
			}
		}
		return nil
	})
}

// Close closes the journal
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
