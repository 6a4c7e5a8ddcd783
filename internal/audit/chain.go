// Package audit implements the hash-linked audit trail every coordinator
// decision appends to. Each entry's hash incorporates the previous entry's
// hash, so altering, reordering or removing an entry is detectable by
// recomputing the chain from the first entry. Dropping entries from the end
// leaves a shorter chain that still verifies.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrChainBroken is returned by Verify when a recomputed hash does not
// match the stored entry_hash.
var ErrChainBroken = errors.New("audit: chain hash mismatch")

// ZeroHash is the previous_hash of the first entry in a chain: 256 zero
// bits, hex-encoded (64 hex digits).
var ZeroHash = strings.Repeat("0", 64)

// Entry is one immutable audit record.
type Entry struct {
	Sequence     int64
	Timestamp    time.Time
	Actor        string
	Action       string
	Resource     string
	Before       json.RawMessage
	After        json.RawMessage
	PreviousHash string
	EntryHash    string
}

// Chain is an append-only hash-linked audit log. With a nil db it is a
// purely in-process log (used by tests and grounding doubles); with a db
// it persists every entry to the audit_entries table alongside the event
// log, reloading the existing trail on construction so a restart does not
// lose it.
type Chain struct {
	mu      sync.Mutex
	entries []Entry
	db      *sql.DB
}

// New builds an empty, in-memory-only Chain.
func New() *Chain {
	return &Chain{}
}

// NewWithDB builds a Chain backed by db's audit_entries table, reloading
// any entries already persisted there (ordered by sequence) before
// returning so Append continues the existing chain rather than starting a
// fresh one on every restart.
func NewWithDB(ctx context.Context, db *sql.DB) (*Chain, error) {
	c := &Chain{db: db}

	rows, err := db.QueryContext(ctx,
		`SELECT sequence, occurred_at, actor, action, resource, before_state, after_state, previous_hash, entry_hash
		 FROM audit_entries ORDER BY sequence ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var before, after []byte
		if err := rows.Scan(&e.Sequence, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &before, &after, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Before = before
		e.After = after
		c.entries = append(c.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: load entries: %w", err)
	}
	return c, nil
}

// Append computes entry_hash = H(seq || timestamp || actor || action ||
// resource || before || after || previous_hash), appends the entry, and,
// when the Chain is database-backed, persists it in the same order before
// returning.
func (c *Chain) Append(actor, action, resource string, before, after interface{}) (Entry, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal after: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := int64(len(c.entries)) + 1
	prevHash := ZeroHash
	if len(c.entries) > 0 {
		prevHash = c.entries[len(c.entries)-1].EntryHash
	}

	entry := Entry{
		Sequence:     seq,
		Timestamp:    time.Now(),
		Actor:        actor,
		Action:       action,
		Resource:     resource,
		Before:       beforeJSON,
		After:        afterJSON,
		PreviousHash: prevHash,
	}
	entry.EntryHash = hashEntry(entry)

	if c.db != nil {
		_, err := c.db.ExecContext(context.Background(),
			`INSERT INTO audit_entries (sequence, occurred_at, actor, action, resource, before_state, after_state, previous_hash, entry_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.Sequence, entry.Timestamp, entry.Actor, entry.Action, entry.Resource,
			[]byte(entry.Before), []byte(entry.After), entry.PreviousHash, entry.EntryHash,
		)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: persist entry: %w", err)
		}
	}

	c.entries = append(c.entries, entry)
	return entry, nil
}

func hashEntry(e Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s",
		e.Sequence, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor, e.Action, e.Resource, e.Before, e.After, e.PreviousHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify walks the chain from the first entry and recomputes every hash,
// failing fast at the first mismatch or broken link.
func (c *Chain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ZeroHash
	for _, e := range c.entries {
		if e.PreviousHash != prevHash {
			return fmt.Errorf("%w: entry %d previous_hash mismatch", ErrChainBroken, e.Sequence)
		}
		if hashEntry(e) != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Sequence)
		}
		prevHash = e.EntryHash
	}
	return nil
}

// Entries returns a copy of the full audit trail in sequence order.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
