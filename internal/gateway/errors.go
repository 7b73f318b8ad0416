package gateway

import "errors"

// Gateway errors
var (
	ErrGatewayClosed  = errors.New("gateway is closed")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrIngressFull    = errors.New("ingress queue full")
	ErrBadHandle      = errors.New("malformed handle")
	ErrEntityNotFound = errors.New("entity not found")
	ErrNoReloader     = errors.New("config reload not configured")
)

// Rejection reasons reported to Metrics.Rejected.
const (
	rejectFull      = "full"
	rejectRateLimit = "rate_limit"
	rejectFrame     = "frame"
	rejectIngress   = "ingress"
	rejectUpgrade   = "upgrade"
	rejectStream    = "stream"
)
