package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every specific error below wraps exactly one class so callers
// can branch with errors.Is on either level.
var (
	ErrTransport = errors.New("protocol: transport error")
	ErrProtocol  = errors.New("protocol: protocol error")
	ErrRequest   = errors.New("protocol: request error")
	ErrBackend   = errors.New("protocol: backend error")
	ErrRejected  = errors.New("protocol: request rejected")
)

// Transport errors abort the exchange and leave the connection unusable.
var (
	ErrTimeout       = fmt.Errorf("%w: timeout", ErrTransport)
	ErrUnexpectedEOF = fmt.Errorf("%w: unexpected eof mid-frame", ErrTransport)
	ErrSessionFailed = fmt.Errorf("%w: session failed", ErrTransport)
	ErrSessionBusy   = fmt.Errorf("%w: exchange already in flight", ErrTransport)
)

// Protocol errors describe frames that violate the wire contract.
var (
	ErrTruncated        = fmt.Errorf("%w: truncated header", ErrProtocol)
	ErrUnknownCommand   = fmt.Errorf("%w: unknown command", ErrProtocol)
	ErrUnknownStatus    = fmt.Errorf("%w: unknown status", ErrProtocol)
	ErrResponseTooLarge = fmt.Errorf("%w: response too large for buffer", ErrProtocol)
	ErrRequestTooLarge  = fmt.Errorf("%w: request too large for buffer", ErrProtocol)
	ErrPathTooLong      = fmt.Errorf("%w: path too long", ErrProtocol)
	ErrBadListing       = fmt.Errorf("%w: listing payload not a multiple of record size", ErrProtocol)
	ErrNameTooLong      = fmt.Errorf("%w: entry name too long", ErrProtocol)
	ErrDrainLimit       = fmt.Errorf("%w: frame exceeds drain limit", ErrProtocol)
)

// Request errors are caught locally before anything reaches the wire.
var (
	ErrPathIsDirectory = fmt.Errorf("%w: cannot write to a directory path", ErrRequest)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large for buffer", ErrRequest)
	ErrEmptyPath       = fmt.Errorf("%w: empty path", ErrRequest)
)
