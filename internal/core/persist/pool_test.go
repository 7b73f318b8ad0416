package persist

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldcore/internal/core/observability/log"
)

type fakeConn struct {
	mu      sync.Mutex
	execs   []StatementID
	txCalls int
	txErr   error
	pings   int
	closed  bool
	rows    *ResultSet
}

func (c *fakeConn) Exec(_ context.Context, stmt *Statement) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, stmt.ID())
	return 1, nil
}

func (c *fakeConn) Query(_ context.Context, stmt *Statement) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, stmt.ID())
	if c.rows != nil {
		return c.rows, nil
	}
	return NewResultSet([]string{"id"}, []Row{{NewField(int64(stmt.ID()))}}), nil
}

func (c *fakeConn) ExecTx(_ context.Context, _ []*Statement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCalls++
	return c.txErr
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func fakeDialer(conns *[]*fakeConn, mk func() *fakeConn) Dialer {
	var mu sync.Mutex
	return func(context.Context, ConnFlags) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := mk()
		*conns = append(*conns, c)
		return c, nil
	}
}

func testOptions(async, sync int) Options {
	opts := DefaultOptions()
	opts.AsyncConnections = async
	opts.SyncConnections = sync
	opts.QueueSize = 64
	return opts
}

func TestPool_RetriesDeadlockedTransaction(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{txErr: ErrDeadlock} })

	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	defer func() { _ = p.Close() }()

	tx := p.BeginTransaction()
	tx.Append(NewStatement(1)).Append(NewStatement(2))

	_, err := p.CommitTransaction(tx).Wait(context.Background())
	require.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, ErrDeadlock)

	// async connections are dialed first
	conns[0].mu.Lock()
	assert.Equal(t, 6, conns[0].txCalls)
	conns[0].mu.Unlock()
	assert.Equal(t, uint64(5), p.Stats().Retries)
}

func TestPool_RetryPolicyIsConfigurable(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{txErr: ErrDeadlock} })

	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	defer func() { _ = p.Close() }()
	p.SetRetryPolicy(RetryPolicy{Attempts: 1, Backoff: time.Millisecond})

	tx := p.BeginTransaction().Append(NewStatement(1))
	err := p.DirectCommitTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrTransactionFailed)

	conns[1].mu.Lock()
	defer conns[1].mu.Unlock()
	assert.Equal(t, 2, conns[1].txCalls)
}

func TestPool_EmptyTransactionIsNoop(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })

	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	defer func() { _ = p.Close() }()

	_, err := p.CommitTransaction(p.BeginTransaction()).Wait(context.Background())
	require.NoError(t, err)
	for _, c := range conns {
		assert.Zero(t, c.txCalls)
	}
}

func TestPool_NotOpenAndClosed(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)

	_, err := p.Execute(context.Background(), NewStatement(1))
	assert.ErrorIs(t, err, ErrPoolNotOpen)

	require.NoError(t, p.Open(context.Background()))
	require.NoError(t, p.Close())
	for _, c := range conns {
		assert.True(t, c.closed)
	}

	_, err = p.AsyncExecute(NewStatement(1)).Result()
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Open(context.Background()), ErrPoolClosed)
}

func TestPool_CloseDrainsQueuedWork(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(2, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))

	futures := make([]*Future[Done], 0, 20)
	for i := 0; i < 20; i++ {
		futures = append(futures, p.AsyncExecuteOn(uint64(i), NewStatement(StatementID(i))))
	}
	require.NoError(t, p.Close())

	for _, f := range futures {
		assert.True(t, f.Ready())
		_, err := f.Result()
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(20), p.Stats().Executed)
}

// stallConn blocks every Exec until release is closed and reports each
// call on started.
type stallConn struct {
	fakeConn
	started chan<- struct{}
	release <-chan struct{}
}

func (c *stallConn) Exec(ctx context.Context, stmt *Statement) (int64, error) {
	c.started <- struct{}{}
	<-c.release
	return c.fakeConn.Exec(ctx, stmt)
}

func stallDialer(started chan<- struct{}, release <-chan struct{}) Dialer {
	return func(context.Context, ConnFlags) (Conn, error) {
		return &stallConn{started: started, release: release}, nil
	}
}

func TestPool_FullQueueRejectsWithoutBlocking(t *testing.T) {
	started, release := make(chan struct{}, 16), make(chan struct{})
	opts := testOptions(1, 1)
	opts.QueueSize = 2
	p := NewPool(opts, stallDialer(started, release), log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))

	first := p.AsyncExecute(NewStatement(1))
	<-started

	rest := make([]*Future[Done], 7)
	submitted := make(chan struct{})
	go func() {
		for i := range rest {
			rest[i] = p.AsyncExecute(NewStatement(StatementID(i + 2)))
		}
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("AsyncExecute blocked on a full queue")
	}

	for _, f := range rest[:2] {
		assert.False(t, f.Ready())
	}
	for _, f := range rest[2:] {
		require.True(t, f.Ready())
		_, err := f.Result()
		assert.ErrorIs(t, err, ErrQueueFull)
	}
	assert.Equal(t, uint64(5), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Close())
	for _, f := range append([]*Future[Done]{first}, rest[:2]...) {
		_, err := f.Result()
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(3), p.Stats().Executed)
}

func TestPool_CloseWakesWaitingBorrowers(t *testing.T) {
	started, release := make(chan struct{}, 16), make(chan struct{})
	p := NewPool(testOptions(1, 1), stallDialer(started, release), log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))

	busy := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), NewStatement(1))
		busy <- err
	}()
	<-started

	waiting := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), NewStatement(2))
		waiting <- err
	}()
	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("borrower still waiting after close")
	}

	close(release)
	assert.NoError(t, <-busy)
	assert.NoError(t, <-closed)
}

func TestPool_AffinityKeepsSubmissionOrder(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(4, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))

	key := KeyForString("account-42")
	var last *Future[Done]
	for i := 1; i <= 50; i++ {
		last = p.AsyncExecuteOn(key, NewStatement(StatementID(i)))
	}
	_, err := last.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	worker := conns[p.SlotFor(key)]
	require.Len(t, worker.execs, 50)
	for i, id := range worker.execs {
		assert.Equal(t, StatementID(i+1), id)
	}
}

func TestPool_DelayQueryHolder(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	defer func() { _ = p.Close() }()

	h := NewQueryHolder(3)
	require.True(t, h.SetQuery(0, NewStatement(7)))
	require.True(t, h.SetQuery(2, NewStatement(9)))
	assert.False(t, h.SetQuery(2, NewStatement(9)))
	assert.False(t, h.SetQuery(3, NewStatement(9)))

	got, err := p.DelayQueryHolder(h).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Result(0).First()[0].Int64())
	assert.Nil(t, got.Result(1))
	assert.Equal(t, int64(9), got.Result(2).First()[0].Int64())
}

func TestPool_KeepAlivePingsEveryConnection(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(2, 2), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))

	p.KeepAlive(context.Background())
	require.NoError(t, p.Close())

	for _, c := range conns {
		assert.Equal(t, 1, c.pings)
	}
}

func TestPool_StatementReusePanics(t *testing.T) {
	var conns []*fakeConn
	dial := fakeDialer(&conns, func() *fakeConn { return &fakeConn{} })
	p := NewPool(testOptions(1, 1), dial, log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	defer func() { _ = p.Close() }()

	stmt := NewStatement(1).SetUint32(0, 5)
	p.AsyncExecute(stmt)

	assert.PanicsWithError(t, "persist: statement #1 reused after submit", func() {
		p.AsyncExecute(stmt)
	})
	assert.Panics(t, func() { stmt.SetUint32(1, 6) })
}

const (
	stmtInsertCounter StatementID = iota + 1
	stmtBumpCounter
	stmtSelectCounter
)

func openSQLite(t *testing.T, conns int) (*Pool, func()) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "world.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := OpenDB("sqlite", dsn, conns)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, value INTEGER NOT NULL)`)
	require.NoError(t, err)

	catalog := NewCatalog(map[StatementID]Template{
		stmtInsertCounter: {SQL: "INSERT INTO counters (id, value) VALUES (?, 0)", Flags: ConnAsync},
		stmtBumpCounter:   {SQL: "UPDATE counters SET value = value + 1 WHERE id = ?", Flags: ConnAsync},
		stmtSelectCounter: {SQL: "SELECT value FROM counters WHERE id = ?", Flags: ConnBoth},
	})

	opts := testOptions(2, 1)
	p := NewPool(opts, SQLDialer(db, catalog), log.NewNop(), nil)
	require.NoError(t, p.Open(context.Background()))
	return p, func() {
		assert.NoError(t, p.Close())
		assert.NoError(t, db.Close())
	}
}

func TestPool_SQLiteSameKeyOrdering(t *testing.T) {
	p, done := openSQLite(t, 3)
	defer done()

	const key = 17
	p.AsyncExecuteOn(key, NewStatement(stmtInsertCounter).SetUint32(0, key))
	bump := p.AsyncExecuteOn(key, NewStatement(stmtBumpCounter).SetUint32(0, key))

	_, err := bump.Wait(context.Background())
	require.NoError(t, err)

	rs, err := p.Query(context.Background(), NewStatement(stmtSelectCounter).SetUint32(0, key))
	require.NoError(t, err)
	require.Equal(t, 1, rs.RowCount())
	assert.Equal(t, int64(1), rs.First()[0].Int64())
}

func TestPool_SQLiteStatementNotPreparedForRole(t *testing.T) {
	p, done := openSQLite(t, 3)
	defer done()

	_, err := p.Execute(context.Background(), NewStatement(stmtBumpCounter).SetUint32(0, 1))
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestPool_SQLiteCallbackChain(t *testing.T) {
	p, done := openSQLite(t, 3)
	defer done()

	_, err := p.AsyncExecute(NewStatement(stmtInsertCounter).SetUint32(0, 3)).Wait(context.Background())
	require.NoError(t, err)
	tx := p.BeginTransaction().
		Append(NewStatement(stmtBumpCounter).SetUint32(0, 3)).
		Append(NewStatement(stmtBumpCounter).SetUint32(0, 3))
	_, err = p.CommitTransaction(tx).Wait(context.Background())
	require.NoError(t, err)

	proc := NewCallbackProcessor()
	var seen []int64
	proc.Add(p.AsyncQuery(NewStatement(stmtSelectCounter).SetUint32(0, 3)).
		WithChainingCallback(func(cb *QueryCallback, rs *ResultSet, err error) {
			require.NoError(t, err)
			seen = append(seen, rs.First()[0].Int64())
			cb.SetNextQuery(p.AsyncQuery(NewStatement(stmtSelectCounter).SetUint32(0, 4)))
		}).
		WithCallback(func(rs *ResultSet, err error) {
			require.NoError(t, err)
			seen = append(seen, int64(rs.RowCount()))
		}))

	deadline := time.Now().Add(5 * time.Second)
	for proc.Len() > 0 && time.Now().Before(deadline) {
		proc.ProcessReady()
		time.Sleep(time.Millisecond)
	}
	assert.Zero(t, proc.Len())
	assert.Equal(t, []int64{2, 0}, seen)
}
