package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *BoltJournal {
	t.Helper()
	j, err := NewBoltJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestBoltJournal(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AppendAndRead", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			err := j.Append(Record{
				Kind:      KindSync,
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Device:    "ESP1_1",
				Power:     float64(i),
				Success:   true,
			})
			if err != nil {
				t.Fatalf("Failed to append: %v", err)
			}
		}

		records, err := j.Records(10)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(records))
		}
		if records[0].Power != 0 || records[2].Power != 2 {
			t.Errorf("Expected oldest first, got %+v", records)
		}

		last, err := j.Records(2)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(last) != 2 || last[0].Power != 1 || last[1].Power != 2 {
			t.Errorf("Expected last two records, got %+v", last)
		}
	})

	t.Run("SameTimestamp", func(t *testing.T) {
		ts := base.Add(time.Hour)
		j.Append(Record{Kind: KindReset, Timestamp: ts, Resets: []string{"daily"}, Success: true})
		j.Append(Record{Kind: KindReset, Timestamp: ts, Error: "boom"})

		records, err := j.Records(2)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(records) != 2 || records[0].Error != "" || records[1].Error != "boom" {
			t.Errorf("Expected both records in insertion order, got %+v", records)
		}
	})

	t.Run("Trim", func(t *testing.T) {
		if err := j.Trim(2); err != nil {
			t.Fatalf("Failed to trim: %v", err)
		}

		count, err := j.Count()
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 records after trim, got %d", count)
		}

		records, _ := j.Records(10)
		if len(records) != 2 || records[0].Kind != KindReset {
			t.Errorf("Expected newest records kept, got %+v", records)
		}

		// Trim above count is a no-op
		if err := j.Trim(100); err != nil {
			t.Fatalf("Failed to trim: %v", err)
		}
		if count, _ := j.Count(); count != 2 {
			t.Errorf("Expected 2 records, got %d", count)
		}
	})
}

func TestBoltJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewBoltJournal(path)
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	j.Append(Record{Kind: KindSync, Device: "ESP4", Success: true})
	j.Close()

	j, err = NewBoltJournal(path)
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer j.Close()

	records, err := j.Records(5)
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 1 || records[0].Device != "ESP4" {
		t.Errorf("Expected persisted record, got %+v", records)
	}
	if records[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled in")
	}
}
