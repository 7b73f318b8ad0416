package persist

import "errors"

var (
	ErrPoolClosed        = errors.New("persistence pool closed")
	ErrPoolNotOpen       = errors.New("persistence pool not open")
	ErrQueueFull         = errors.New("persistence queue full")
	ErrNotReady          = errors.New("future not resolved")
	ErrDeadlock          = errors.New("transaction deadlock")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrNotPrepared       = errors.New("statement not prepared on this connection")
	ErrUnknownStatement  = errors.New("unknown statement")
	ErrNoSuchColumn      = errors.New("no such column")
)

// StatementReusedError is the panic value for submitting or editing a
// statement that was already handed to the pipeline.
type StatementReusedError struct {
	ID StatementID
}

func (e *StatementReusedError) Error() string {
	return "persist: statement " + e.ID.String() + " reused after submit"
}
