// Package persist runs prepared statements against a relational store
// without blocking the simulation. Synchronous calls borrow a dedicated
// connection; asynchronous calls are queued to worker goroutines that each
// own a connection and resolve futures the simulation polls.
package persist

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldcore/internal/core/observability/log"
)

// RetryPolicy bounds how often a transaction that hit a transient lock
// conflict is retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5}
}

type Options struct {
	Name             string
	SyncConnections  int
	AsyncConnections int
	QueueSize        int
	Retry            RetryPolicy
}

func DefaultOptions() Options {
	return Options{
		Name:             "world",
		SyncConnections:  2,
		AsyncConnections: 2,
		QueueSize:        4096,
		Retry:            DefaultRetryPolicy(),
	}
}

// Observer receives pool events. The metrics package implements it.
type Observer interface {
	OperationDone(kind string, err error, took time.Duration)
	TransactionRetried()
	QueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) OperationDone(string, error, time.Duration) {}
func (nopObserver) TransactionRetried()                        {}
func (nopObserver) QueueDepth(int)                             {}

type Stats struct {
	QueueDepth int    `json:"queue_depth"`
	Enqueued   uint64 `json:"enqueued"`
	Executed   uint64 `json:"executed"`
	Failed     uint64 `json:"failed"`
	Rejected   uint64 `json:"rejected"`
	Retries    uint64 `json:"retries"`
}

type operation func(ctx context.Context, conn Conn)

type Pool struct {
	opts     Options
	dial     Dialer
	log      log.Log
	observer Observer
	retry    atomic.Pointer[RetryPolicy]

	free    chan Conn
	syncAll []Conn

	shared  chan operation
	slots   []chan operation
	workers errgroup.Group

	mu     sync.RWMutex
	opened bool
	closed bool
	done   chan struct{}

	enqueued atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	retries  atomic.Uint64
}

func NewPool(opts Options, dial Dialer, logger log.Log, observer Observer) *Pool {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	p := &Pool{
		opts:     opts,
		dial:     dial,
		log:      logger.With(log.String("component", "persist"), log.String("pool", opts.Name)),
		observer: observer,
		done:     make(chan struct{}),
	}
	retry := opts.Retry
	p.retry.Store(&retry)
	return p
}

// Open dials the async connections first, then the sync ones. Any failure
// closes what was opened and is returned.
func (p *Pool) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return nil
	}
	if p.closed {
		return ErrPoolClosed
	}

	async := make([]Conn, 0, p.opts.AsyncConnections)
	closeAll := func() {
		for _, c := range async {
			_ = c.Close()
		}
		for _, c := range p.syncAll {
			_ = c.Close()
		}
		p.syncAll = nil
	}
	for i := 0; i < p.opts.AsyncConnections; i++ {
		c, err := p.dial(ctx, ConnAsync)
		if err != nil {
			closeAll()
			return fmt.Errorf("open async connection %d: %w", i, err)
		}
		async = append(async, c)
	}
	p.free = make(chan Conn, p.opts.SyncConnections)
	for i := 0; i < p.opts.SyncConnections; i++ {
		c, err := p.dial(ctx, ConnSync)
		if err != nil {
			closeAll()
			return fmt.Errorf("open sync connection %d: %w", i, err)
		}
		p.syncAll = append(p.syncAll, c)
		p.free <- c
	}

	p.shared = make(chan operation, p.opts.QueueSize)
	p.slots = make([]chan operation, len(async))
	for i, c := range async {
		p.slots[i] = make(chan operation, p.opts.QueueSize)
		conn, private := c, p.slots[i]
		p.workers.Go(func() error {
			p.work(conn, private)
			return conn.Close()
		})
	}

	p.opened = true
	p.log.Info("persistence pool opened",
		log.Int("async", p.opts.AsyncConnections),
		log.Int("sync", p.opts.SyncConnections),
	)
	return nil
}

// work drains the worker's private queue and the shared queue until both
// are closed. Every dequeued operation runs to completion.
func (p *Pool) work(conn Conn, private <-chan operation) {
	ctx := context.Background()
	shared := (<-chan operation)(p.shared)
	for private != nil || shared != nil {
		select {
		case op, ok := <-private:
			if !ok {
				private = nil
				continue
			}
			op(ctx, conn)
		case op, ok := <-shared:
			if !ok {
				shared = nil
				continue
			}
			op(ctx, conn)
		}
		p.observer.QueueDepth(p.queueDepth())
	}
}

// Close stops accepting work, waits for the workers to drain the queues and
// closes every connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	opened := p.opened
	p.mu.Unlock()

	if !opened {
		return nil
	}

	close(p.shared)
	for _, s := range p.slots {
		close(s)
	}
	err := p.workers.Wait()

	for range p.syncAll {
		c := <-p.free
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	p.log.Info("persistence pool closed", log.Uint64("executed", p.executed.Load()))
	return err
}

func (p *Pool) SetRetryPolicy(policy RetryPolicy) {
	p.retry.Store(&policy)
}

func (p *Pool) RetryPolicy() RetryPolicy {
	return *p.retry.Load()
}

// Slots is the number of async workers addressable by affinity keys.
func (p *Pool) Slots() int {
	return p.opts.AsyncConnections
}

// SlotFor maps an affinity key onto a worker. Work for one key always lands
// on the same worker and therefore runs in submission order.
func (p *Pool) SlotFor(key uint64) int {
	return int(key % uint64(p.opts.AsyncConnections))
}

// KeyForString hashes a string affinity key such as an account name.
func KeyForString(s string) uint64 {
	return xxhash.Sum64String(s)
}

const anySlot = -1

// enqueue never blocks. A full queue rejects op with ErrQueueFull; the
// caller resolves its future with the error.
func (p *Pool) enqueue(kind string, slot int, op operation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case !p.opened:
		return ErrPoolNotOpen
	}
	queue := p.shared
	if slot != anySlot {
		queue = p.slots[slot]
	}
	select {
	case queue <- op:
	default:
		p.rejected.Add(1)
		p.observer.OperationDone(kind, ErrQueueFull, 0)
		p.log.Warn("async queue full, operation rejected", log.String("kind", kind), log.Int("slot", slot))
		return ErrQueueFull
	}
	p.enqueued.Add(1)
	p.observer.QueueDepth(p.queueDepth())
	return nil
}

func (p *Pool) queueDepth() int {
	n := len(p.shared)
	for _, s := range p.slots {
		n += len(s)
	}
	return n
}

func (p *Pool) acquire(ctx context.Context) (Conn, error) {
	p.mu.RLock()
	closed, opened := p.closed, p.opened
	p.mu.RUnlock()
	switch {
	case closed:
		return nil, ErrPoolClosed
	case !opened:
		return nil, ErrPoolNotOpen
	}
	select {
	case c := <-p.free:
		return c, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release(c Conn) {
	p.free <- c
}

func (p *Pool) record(kind string, start time.Time, err error) {
	p.executed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	p.observer.OperationDone(kind, err, time.Since(start))
}

// Query runs stmt on a free sync connection and blocks for the result.
func (p *Pool) Query(ctx context.Context, stmt *Statement) (*ResultSet, error) {
	stmt.claim()
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(conn)

	start := time.Now()
	rs, err := conn.Query(ctx, stmt)
	p.record("query", start, err)
	return rs, err
}

// Execute runs stmt on a free sync connection and returns the affected
// row count.
func (p *Pool) Execute(ctx context.Context, stmt *Statement) (int64, error) {
	stmt.claim()
	conn, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer p.release(conn)

	start := time.Now()
	n, err := conn.Exec(ctx, stmt)
	p.record("execute", start, err)
	return n, err
}

func (p *Pool) asyncQuery(slot int, stmt *Statement) *QueryCallback {
	stmt.claim()
	f := newFuture[*ResultSet]()
	err := p.enqueue("async_query", slot, func(ctx context.Context, conn Conn) {
		start := time.Now()
		rs, err := conn.Query(ctx, stmt)
		p.record("async_query", start, err)
		f.resolve(rs, err)
	})
	if err != nil {
		f.resolve(nil, err)
	}
	return newQueryCallback(f)
}

// AsyncQuery queues stmt for any worker.
func (p *Pool) AsyncQuery(stmt *Statement) *QueryCallback {
	return p.asyncQuery(anySlot, stmt)
}

// AsyncQueryOn queues stmt on the worker owning key.
func (p *Pool) AsyncQueryOn(key uint64, stmt *Statement) *QueryCallback {
	return p.asyncQuery(p.SlotFor(key), stmt)
}

func (p *Pool) asyncExecute(slot int, stmt *Statement) *Future[Done] {
	stmt.claim()
	f := newFuture[Done]()
	err := p.enqueue("async_execute", slot, func(ctx context.Context, conn Conn) {
		start := time.Now()
		_, err := conn.Exec(ctx, stmt)
		p.record("async_execute", start, err)
		if err != nil {
			p.log.Error("async execute failed", log.Stringer("statement", stmt.ID()), log.Error(err))
		}
		f.resolve(Done{}, err)
	})
	if err != nil {
		f.resolve(Done{}, err)
	}
	return f
}

func (p *Pool) AsyncExecute(stmt *Statement) *Future[Done] {
	return p.asyncExecute(anySlot, stmt)
}

func (p *Pool) AsyncExecuteOn(key uint64, stmt *Statement) *Future[Done] {
	return p.asyncExecute(p.SlotFor(key), stmt)
}

func (p *Pool) BeginTransaction() *Transaction {
	return &Transaction{}
}

// commit executes tx, retrying transient failures per the retry policy.
func (p *Pool) commit(ctx context.Context, conn Conn, tx *Transaction) error {
	if tx.Len() == 0 {
		return nil
	}
	policy := p.RetryPolicy()
	start := time.Now()
	err := conn.ExecTx(ctx, tx.stmts)
	attempt := 0
	for err != nil && IsTransient(err) && attempt < policy.Attempts {
		attempt++
		p.retries.Add(1)
		p.observer.TransactionRetried()
		p.log.Warn("transaction lock conflict, retrying",
			log.Int("attempt", attempt),
			log.Int("statements", tx.Len()),
			log.Error(err),
		)
		if policy.Backoff > 0 {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
				err = ctx.Err()
				continue
			}
		}
		err = conn.ExecTx(ctx, tx.stmts)
	}
	if err != nil {
		err = fmt.Errorf("%w after %d attempts: %w", ErrTransactionFailed, attempt+1, err)
	}
	p.record("transaction", start, err)
	return err
}

// CommitTransaction queues tx for any worker.
func (p *Pool) CommitTransaction(tx *Transaction) *Future[Done] {
	return p.commitAsync(anySlot, tx)
}

// CommitTransactionOn queues tx on the worker owning key.
func (p *Pool) CommitTransactionOn(key uint64, tx *Transaction) *Future[Done] {
	return p.commitAsync(p.SlotFor(key), tx)
}

func (p *Pool) commitAsync(slot int, tx *Transaction) *Future[Done] {
	f := newFuture[Done]()
	err := p.enqueue("transaction", slot, func(ctx context.Context, conn Conn) {
		err := p.commit(ctx, conn, tx)
		if err != nil {
			p.log.Error("transaction failed", log.Int("statements", tx.Len()), log.Error(err))
		}
		f.resolve(Done{}, err)
	})
	if err != nil {
		f.resolve(Done{}, err)
	}
	return f
}

// DirectCommitTransaction commits tx on a sync connection.
func (p *Pool) DirectCommitTransaction(ctx context.Context, tx *Transaction) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(conn)
	return p.commit(ctx, conn, tx)
}

// DelayQueryHolder runs every query of h on one worker.
func (p *Pool) DelayQueryHolder(h *QueryHolder) *Future[*QueryHolder] {
	f := newFuture[*QueryHolder]()
	err := p.enqueue("holder", anySlot, func(ctx context.Context, conn Conn) {
		start := time.Now()
		var failed error
		for i, stmt := range h.stmts {
			if stmt == nil {
				continue
			}
			h.results[i], h.errs[i] = conn.Query(ctx, stmt)
			if h.errs[i] != nil && failed == nil {
				failed = h.errs[i]
			}
		}
		p.record("holder", start, failed)
		f.resolve(h, failed)
	})
	if err != nil {
		f.resolve(h, err)
	}
	return f
}

// KeepAlive pings every idle sync connection and queues one ping per
// worker. Busy sync connections are skipped.
func (p *Pool) KeepAlive(ctx context.Context) {
	p.mu.RLock()
	ready := p.opened && !p.closed
	p.mu.RUnlock()
	if !ready {
		return
	}

	for range p.syncAll {
		var conn Conn
		select {
		case conn = <-p.free:
		default:
		}
		if conn == nil {
			break
		}
		if err := conn.Ping(ctx); err != nil {
			p.log.Warn("sync connection ping failed", log.Error(err))
		}
		defer p.release(conn)
	}

	for slot := range p.slots {
		err := p.enqueue("ping", slot, func(ctx context.Context, conn Conn) {
			if err := conn.Ping(ctx); err != nil {
				p.log.Warn("async connection ping failed", log.Int("slot", slot), log.Error(err))
			}
		})
		if err != nil {
			return
		}
	}
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Enqueued: p.enqueued.Load(),
		Executed: p.executed.Load(),
		Failed:   p.failed.Load(),
		Rejected: p.rejected.Load(),
		Retries:  p.retries.Load(),
	}
	p.mu.RLock()
	if p.opened && !p.closed {
		s.QueueDepth = p.queueDepth()
	}
	p.mu.RUnlock()
	return s
}
