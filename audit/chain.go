/*
Package audit seals every state change into an append-only, hash-linked
audit trail.

PURPOSE:
  Each record commits to its own content and to the record before it:

    content_hash(i)  = SHA-256(canonical JSON payload)
    metadata(i)      = event_type|entity_table|entity_id|user_id|created_at
    chain_hash(i)    = SHA-256(previous_hash(i) || content_hash(i) || metadata(i))
    previous_hash(i) = chain_hash(i-1), previous_hash(0) = GenesisHash

  Altering any field of any record breaks its own chain hash and every
  link after it. Verify walks the chain and reports the first break.

SEALING PIPELINE:
  Log(ctx, q, event)
    -> pending item appended to an in-process FIFO queue
    -> a single drain goroutine (started on demand, processing flag)
       pops one item, reads the head through the caller's Querier,
       asks the Hasher for the hashes, inserts the record, and delivers
       the result to the waiting caller
    -> only then is the next item popped

  The caller is blocked on its result while the drain goroutine writes
  through the caller's transaction, so the transaction is never used
  from two goroutines at once.

FAILURE:
  A hash timeout, worker failure or panic yields *IntegrityError
  (errors.Is(err, core.ErrAuditIntegrity)). Callers must abort: a state
  change that cannot be sealed is not committed.

SEE ALSO:
  - hasher.go: hash worker actor
  - verify.go: chain verification and queries
  - sales/engine.go: SALE_PROCESSED / STOCK_RECEIVED events
*/
package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/books-engine/core"
)

// GenesisHash is the previous_hash of the first record.
const GenesisHash = "GENESIS_HASH"

// Event types sealed by the engine.
const (
	EventSaleProcessed       = "SALE_PROCESSED"
	EventStockReceived       = "STOCK_RECEIVED"
	EventPeriodCreated       = "PERIOD_CREATED"
	EventPeriodStatusChanged = "PERIOD_STATUS_CHANGED"
)

// =============================================================================
// ERRORS
// =============================================================================

// IntegrityError reports a record that could not be sealed, or a chain
// that no longer verifies.
type IntegrityError struct {
	Op       string // "seal" or "verify"
	RecordID int64  // 0 when sealing
	Reason   string
	Err      error
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "audit %s failed", e.Op)
	if e.RecordID != 0 {
		fmt.Fprintf(&b, " at record %d", e.RecordID)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{core.ErrAuditIntegrity}
	}
	return []error{core.ErrAuditIntegrity, e.Err}
}

// =============================================================================
// TYPES
// =============================================================================

// Event is a state change to seal.
type Event struct {
	Type        string
	EntityTable string
	EntityID    string
	UserID      core.UserID
	Payload     any // marshalled to canonical JSON
}

// Validate checks the event without I/O.
func (e Event) Validate() error {
	if e.Type == "" {
		return core.Invalid("event_type", "is required")
	}
	if e.EntityTable == "" {
		return core.Invalid("entity_table", "is required")
	}
	if e.EntityID == "" {
		return core.Invalid("entity_id", "is required")
	}
	return nil
}

// Record is a sealed audit record.
type Record struct {
	ID           int64
	EventID      string
	EventType    string
	EntityTable  string
	EntityID     string
	UserID       core.UserID
	Payload      json.RawMessage
	ContentHash  string
	PreviousHash string
	ChainHash    string
	CreatedAt    string // RFC3339, kept verbatim: it is hashed
}

// Metadata renders the fields bound into chain_hash besides the payload.
func (r Record) Metadata() string {
	return strings.Join([]string{r.EventType, r.EntityTable, r.EntityID, string(r.UserID), r.CreatedAt}, "|")
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain seals events one at a time.
type Chain struct {
	hasher    *Hasher
	ownHasher bool
	now       func() time.Time
	observe   func(time.Duration, error)

	mu         sync.Mutex
	queue      []*pending
	processing bool
}

type pending struct {
	ctx   context.Context
	q     core.Querier
	event Event
	done  chan sealResult
}

type sealResult struct {
	record *Record
	err    error
}

// Option configures a Chain.
type Option func(*Chain)

// WithHasher uses an existing hash worker. The chain does not close it.
func WithHasher(h *Hasher) Option {
	return func(c *Chain) { c.hasher = h }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithSealObserver registers a callback invoked after every seal attempt.
func WithSealObserver(fn func(elapsed time.Duration, err error)) Option {
	return func(c *Chain) { c.observe = fn }
}

// New creates a chain. Without WithHasher it starts its own worker with
// the default timeout; Close stops it.
func New(opts ...Option) *Chain {
	c := &Chain{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.hasher == nil {
		c.hasher = NewHasher()
		c.ownHasher = true
	}
	return c
}

// Close stops the chain's own hash worker.
func (c *Chain) Close() {
	if c.ownHasher {
		c.hasher.Close()
	}
}

// Log seals ev through q and returns the record. It blocks until the
// event's turn in the queue has completed.
func (c *Chain) Log(ctx context.Context, q core.Querier, ev Event) (*Record, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	p := &pending{ctx: ctx, q: q, event: ev, done: make(chan sealResult, 1)}

	c.mu.Lock()
	c.queue = append(c.queue, p)
	if !c.processing {
		c.processing = true
		go c.drain()
	}
	c.mu.Unlock()

	res := <-p.done
	return res.record, res.err
}

func (c *Chain) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.processing = false
			c.mu.Unlock()
			return
		}
		p := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		start := time.Now()
		rec, err := c.sealSafely(p)
		if c.observe != nil {
			c.observe(time.Since(start), err)
		}
		p.done <- sealResult{record: rec, err: err}
	}
}

func (c *Chain) sealSafely(p *pending) (rec *Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, &IntegrityError{Op: "seal", Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return c.seal(p.ctx, p.q, p.event)
}

func (c *Chain) seal(ctx context.Context, q core.Querier, ev Event) (*Record, error) {
	payload, err := canonicalJSON(ev.Payload)
	if err != nil {
		return nil, core.Invalid("payload", "%v", err)
	}

	previous, err := c.Head(ctx, q)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		EventID:      uuid.NewString(),
		EventType:    ev.Type,
		EntityTable:  ev.EntityTable,
		EntityID:     ev.EntityID,
		UserID:       ev.UserID,
		Payload:      payload,
		PreviousHash: previous,
		CreatedAt:    core.FormatTimestamp(c.now()),
	}
	if rec.UserID == "" {
		rec.UserID = core.SystemUser
	}

	rec.ContentHash, rec.ChainHash, err = c.hasher.Hash(previous, payload, rec.Metadata())
	if err != nil {
		return nil, &IntegrityError{Op: "seal", Err: err}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, event_type, entity_table, entity_id, user_id,
			payload, content_hash, previous_hash, chain_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.EventType, rec.EntityTable, rec.EntityID, string(rec.UserID),
		string(rec.Payload), rec.ContentHash, rec.PreviousHash, rec.ChainHash, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	return rec, nil
}

// Head returns the chain hash of the latest record, or GenesisHash for an
// empty chain.
func (c *Chain) Head(ctx context.Context, q core.Querier) (string, error) {
	var head string
	err := q.QueryRowContext(ctx, "SELECT chain_hash FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read audit head: %w", err)
	}
	return head, nil
}

// canonicalJSON marshals v with object keys sorted at every depth and no
// insignificant whitespace. Numbers keep their literal form.
func canonicalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
