package persist

// Transaction groups statements that commit together. Appending a
// statement consumes it.
type Transaction struct {
	stmts []*Statement
}

func (t *Transaction) Append(stmt *Statement) *Transaction {
	stmt.claim()
	t.stmts = append(t.stmts, stmt)
	return t
}

func (t *Transaction) Len() int {
	return len(t.stmts)
}

// QueryHolder batches queries that run back to back on one async connection.
// Results are indexed like the statements.
type QueryHolder struct {
	stmts   []*Statement
	results []*ResultSet
	errs    []error
}

func NewQueryHolder(size int) *QueryHolder {
	return &QueryHolder{
		stmts:   make([]*Statement, size),
		results: make([]*ResultSet, size),
		errs:    make([]error, size),
	}
}

// SetQuery places stmt at index. It reports false when the index is out of
// range or already taken; the statement is consumed only on success.
func (h *QueryHolder) SetQuery(index int, stmt *Statement) bool {
	if index < 0 || index >= len(h.stmts) || h.stmts[index] != nil {
		return false
	}
	stmt.claim()
	h.stmts[index] = stmt
	return true
}

func (h *QueryHolder) Size() int {
	return len(h.stmts)
}

// Result returns the result at index, or nil if the query failed or the
// slot was empty.
func (h *QueryHolder) Result(index int) *ResultSet {
	if index < 0 || index >= len(h.results) {
		return nil
	}
	return h.results[index]
}

func (h *QueryHolder) Err(index int) error {
	if index < 0 || index >= len(h.errs) {
		return nil
	}
	return h.errs[index]
}
