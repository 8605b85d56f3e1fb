package driftlog

import (
	"testing"
	"time"
)

func TestJournalAppendAndRead(t *testing.T) {
	j := New(t.TempDir())

	if j.Depth() != 0 {
		t.Fatalf("expected empty journal, depth %d", j.Depth())
	}

	j.Append(Entry{
		Operation:     "create",
		MessageID:     "mlzx9abcd",
		EscrowAccount: "0x3333333333333333333333333333333333333333",
		TxSignature:   "0xsig",
		Error:         "insert message: connection reset",
	})

	if j.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", j.Depth())
	}

	entries, err := j.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.MessageID != "mlzx9abcd" || got.Operation != "create" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Timestamp.IsZero() || time.Since(got.Timestamp) > time.Minute {
		t.Fatalf("timestamp not stamped: %v", got.Timestamp)
	}
}

func TestJournalDisabled(t *testing.T) {
	var nilJournal *Journal
	nilJournal.Append(Entry{MessageID: "m123"})
	if nilJournal.Depth() != 0 {
		t.Fatal("nil journal must report zero depth")
	}

	empty := New("")
	empty.Append(Entry{MessageID: "m123"})
	if empty.Depth() != 0 {
		t.Fatal("disabled journal must report zero depth")
	}
	if entries, err := empty.Entries(); err != nil || entries != nil {
		t.Fatalf("disabled journal must read empty, got %v %v", entries, err)
	}
}
