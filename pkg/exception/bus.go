package exception

import "errors"

var (
	ErrBusOverflow      = errors.New("bus: partition queue full")
	ErrBusClosed        = errors.New("bus: closed")
	ErrBusUnknownSymbol = errors.New("bus: unknown symbol partition")
	ErrBusNilHandler    = errors.New("bus: nil handler")
)
