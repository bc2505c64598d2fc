package exception

import "errors"

var (
	ErrOrderUnknown        = errors.New("order: unknown client id")
	ErrOrderDuplicate      = errors.New("order: client id already exists")
	ErrOrderTerminal       = errors.New("order: already in terminal state")
	ErrOrderActionInFlight = errors.New("order: action already in flight")
	ErrOrderStaleAck       = errors.New("order: stale acknowledgment")
	ErrOrderUnconfirmed    = errors.New("order: in-flight action unconfirmed")
	ErrOrderInvalidIntent  = errors.New("order: invalid intent")
	ErrOrderInvalidFill    = errors.New("order: invalid fill quantity")
	ErrOrderRejected       = errors.New("order: rejected by exchange")
)
