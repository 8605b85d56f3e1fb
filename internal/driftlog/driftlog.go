// Package driftlog journals payments that were confirmed on chain but
// whose mirror write failed. Nothing replays these automatically; they
// exist so the reconcile tooling can see how far the mirror has
// drifted from the chain.
package driftlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Operation     string    `json:"operation"`
	MessageID     string    `json:"messageId"`
	EscrowAccount string    `json:"escrowAccount"`
	TxSignature   string    `json:"txSignature"`
	Error         string    `json:"error"`
}

// Journal appends entries as individual JSON files under one directory.
// A nil Journal or an empty directory disables journaling.
type Journal struct {
	dir string
}

func New(dir string) *Journal {
	return &Journal{dir: dir}
}

// Append records e. Failures to write are logged and swallowed; the
// caller is already on an error path and the journal must not make it
// worse.
func (j *Journal) Append(e Entry) {
	if j == nil || j.dir == "" {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		log.Printf("driftlog marshal error: %v", err)
		return
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		log.Printf("driftlog mkdir error: %v", err)
		return
	}

	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), e.MessageID)
	if err := os.WriteFile(filepath.Join(j.dir, filename), data, 0o600); err != nil {
		log.Printf("driftlog write error: %v", err)
	}
}

// Depth counts pending entries.
func (j *Journal) Depth() int {
	if j == nil || j.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("driftlog read error: %v", err)
		}
		return 0
	}
	return len(entries)
}

// Entries loads every journaled record, oldest first by file name.
func (j *Journal) Entries() ([]Entry, error) {
	if j == nil || j.dir == "" {
		return nil, nil
	}
	files, err := os.ReadDir(j.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(j.dir, f.Name()))
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
		}
		out = append(out, e)
	}
	return out, nil
}
