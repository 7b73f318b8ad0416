package persist

type Status uint8

const (
	NotReady Status = iota
	NextStep
	Completed
)

func (s Status) String() string {
	switch s {
	case NotReady:
		return "not-ready"
	case NextStep:
		return "next-step"
	default:
		return "completed"
	}
}

type callbackStep struct {
	plain func(rs *ResultSet, err error)
	chain func(cb *QueryCallback, rs *ResultSet, err error)
}

// QueryCallback runs callbacks on the simulation goroutine once an async
// query resolves. A chaining callback may issue the next query with
// SetNextQuery; the following callback then waits for that query.
type QueryCallback struct {
	future *Future[*ResultSet]
	steps  []callbackStep
}

func newQueryCallback(f *Future[*ResultSet]) *QueryCallback {
	return &QueryCallback{future: f}
}

func (c *QueryCallback) WithCallback(fn func(rs *ResultSet, err error)) *QueryCallback {
	c.steps = append(c.steps, callbackStep{plain: fn})
	return c
}

func (c *QueryCallback) WithChainingCallback(fn func(cb *QueryCallback, rs *ResultSet, err error)) *QueryCallback {
	c.steps = append(c.steps, callbackStep{chain: fn})
	return c
}

// SetNextQuery moves next's pending result into c. Only next's future is
// taken; its callbacks are dropped.
func (c *QueryCallback) SetNextQuery(next *QueryCallback) {
	c.future = next.future
	next.future = nil
}

// Future exposes the query result currently awaited.
func (c *QueryCallback) Future() *Future[*ResultSet] {
	return c.future
}

// InvokeIfReady runs at most one callback. It reports NextStep when a chained
// query was issued and more callbacks wait for it.
func (c *QueryCallback) InvokeIfReady() Status {
	if len(c.steps) == 0 {
		return Completed
	}
	if c.future == nil {
		return Completed
	}
	if !c.future.Ready() {
		return NotReady
	}

	rs, err := c.future.Result()
	c.future = nil
	step := c.steps[0]
	c.steps = c.steps[1:]

	if step.chain != nil {
		step.chain(c, rs, err)
	} else {
		step.plain(rs, err)
	}

	if len(c.steps) == 0 || c.future == nil {
		c.steps = nil
		return Completed
	}
	return NextStep
}

type pending interface {
	poll() bool
}

func (c *QueryCallback) poll() bool {
	return c.InvokeIfReady() == Completed
}

type futureWaiter[T any] struct {
	f  *Future[T]
	fn func(T, error)
}

func (w *futureWaiter[T]) poll() bool {
	if !w.f.Ready() {
		return false
	}
	v, err := w.f.Result()
	w.fn(v, err)
	return true
}

// CallbackProcessor collects callbacks and runs the ready ones when the
// simulation drains it. It is not safe for concurrent use.
type CallbackProcessor struct {
	items []pending
}

func NewCallbackProcessor() *CallbackProcessor {
	return &CallbackProcessor{}
}

func (p *CallbackProcessor) Add(cb *QueryCallback) {
	p.items = append(p.items, cb)
}

// AddFuture runs fn on the draining goroutine once f resolves.
func AddFuture[T any](p *CallbackProcessor, f *Future[T], fn func(T, error)) {
	p.items = append(p.items, &futureWaiter[T]{f: f, fn: fn})
}

// ProcessReady runs every ready callback and drops the completed ones.
// Callbacks added while processing wait for the next call.
func (p *CallbackProcessor) ProcessReady() int {
	if len(p.items) == 0 {
		return 0
	}
	current := p.items
	p.items = nil

	done := 0
	keep := current[:0]
	for _, it := range current {
		if it.poll() {
			done++
			continue
		}
		keep = append(keep, it)
	}
	p.items = append(keep, p.items...)
	return done
}

func (p *CallbackProcessor) Len() int {
	return len(p.items)
}
