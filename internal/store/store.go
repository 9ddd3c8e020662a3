package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Ref is a slash-separated document path, e.g. "rooms/abc/game/state".
type Ref string

// Event describes one committed document write, delivered to subscribers in
// commit order.
type Event struct {
	Ref       Ref
	Data      json.RawMessage
	Version   int64
	UpdatedAt time.Time
	Deleted   bool
}

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by a backend commit when a document read by
	// the transaction changed after it was snapshotted.
	ErrConflict = errors.New("transaction conflict")
	// ErrReadAfterWrite enforces the read-then-write discipline inside a
	// transaction: once the first write is staged, no further reads.
	ErrReadAfterWrite = errors.New("transaction read after write")
)

const maxTxAttempts = 5

type write struct {
	ref    Ref
	data   json.RawMessage
	delete bool
}

// backend is the piece each storage engine supplies: versioned snapshot
// reads and an all-or-nothing conditional commit.
type backend interface {
	snapshot(ctx context.Context, ref Ref) (json.RawMessage, int64, error)
	// commit applies writes atomically iff every ref in reads still has the
	// recorded version (0 = absent). Returns ErrConflict otherwise, along
	// with the events it produced on success.
	commit(ctx context.Context, reads map[Ref]int64, writes []write) ([]Event, error)
}

// Client is the document store handle shared by every component. It layers
// the transaction retry loop and change subscriptions over a backend.
type Client struct {
	be    backend
	hub   *hub
	relay func([]Event)
}

func newClient(be backend) *Client {
	return &Client{be: be, hub: newHub()}
}

func (c *Client) publish(events []Event) {
	c.hub.deliver(events)
	if c.relay != nil {
		c.relay(events)
	}
}

// Tx collects the reads and staged writes of one transaction attempt.
type Tx struct {
	ctx    context.Context
	be     backend
	reads  map[Ref]int64
	writes []write
}

// Get reads a document into dest. Returns ErrNotFound if the document does
// not exist; the absence is still recorded as a precondition so a concurrent
// create aborts the commit.
func (tx *Tx) Get(ref Ref, dest any) error {
	if len(tx.writes) > 0 {
		return ErrReadAfterWrite
	}
	data, version, err := tx.be.snapshot(tx.ctx, ref)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	tx.reads[ref] = version
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return json.Unmarshal(data, dest)
}

// Set stages a full-document write.
func (tx *Tx) Set(ref Ref, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ref, err)
	}
	tx.writes = append(tx.writes, write{ref: ref, data: data})
	return nil
}

// Delete stages a document removal.
func (tx *Tx) Delete(ref Ref) {
	tx.writes = append(tx.writes, write{ref: ref, delete: true})
}

// RunTransaction executes fn against a fresh snapshot and commits its staged
// writes conditionally on everything fn read being unchanged. On conflict
// the whole attempt is discarded and fn runs again against current state; no
// partial effects are ever visible. fn returning an error aborts without
// committing.
func (c *Client) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx := &Tx{ctx: ctx, be: c.be, reads: make(map[Ref]int64)}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.writes) == 0 {
			return nil
		}
		events, err := c.be.commit(ctx, tx.reads, tx.writes)
		if err == nil {
			c.publish(events)
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

// Batch accumulates unconditional writes applied atomically by ApplyBatch.
type Batch struct {
	writes []write
	err    error
}

func (b *Batch) Set(ref Ref, value any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		b.err = fmt.Errorf("marshal %s: %w", ref, err)
		return
	}
	b.writes = append(b.writes, write{ref: ref, data: data})
}

func (b *Batch) Delete(ref Ref) {
	b.writes = append(b.writes, write{ref: ref, delete: true})
}

// ApplyBatch writes every staged document atomically, without preconditions.
func (c *Client) ApplyBatch(ctx context.Context, b *Batch) error {
	if b.err != nil {
		return b.err
	}
	if len(b.writes) == 0 {
		return nil
	}
	events, err := c.be.commit(ctx, nil, b.writes)
	if err != nil {
		return err
	}
	c.publish(events)
	return nil
}

// Get performs a plain read outside any transaction.
func (c *Client) Get(ctx context.Context, ref Ref, dest any) error {
	data, _, err := c.be.snapshot(ctx, ref)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Subscribe returns a subscription receiving every committed write whose ref
// starts with prefix. The channel is buffered; a subscriber that stops
// draining is dropped rather than allowed to block commits.
func (c *Client) Subscribe(prefix Ref) *Subscription {
	return c.hub.subscribe(prefix)
}

// deliverRemote injects events received from another node (via the NATS
// bridge) into local subscriptions.
func (c *Client) deliverRemote(events []Event) {
	c.hub.deliver(events)
}
