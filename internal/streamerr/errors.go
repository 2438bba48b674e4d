// Package streamerr defines the sentinel error kinds shared across the
// streaming subsystem (§7). The core never panics and never retries; every
// failure surfaces as one of these, typically wrapped with fmt.Errorf's
// %w for context.
package streamerr

import "errors"

var (
	// ErrBufferTooSmall: codec/meta-builder could not fit the header or
	// payload into the destination buffer. The send is aborted; no
	// partial write is observable on the wire.
	ErrBufferTooSmall = errors.New("streaming: buffer too small")

	// ErrBadType: the codec was asked to serialize a packet whose type
	// is neither DATA nor META, whose signal number does not fit the
	// 20-bit field, or whose sample bytes are not a whole number of
	// samples of its datatype.
	ErrBadType = errors.New("streaming: unknown packet type")

	// ErrRegistryFull: adding signals/tables would exceed MAX_SIGNALS or
	// MAX_TABLES. No state mutation occurs.
	ErrRegistryFull = errors.New("streaming: registry full")

	// ErrDuplicateSubscribe: subscribe on an already-subscribed signal.
	ErrDuplicateSubscribe = errors.New("streaming: signal already subscribed")

	// ErrNotSubscribed: unsubscribe on a signal that is not subscribed.
	ErrNotSubscribed = errors.New("streaming: signal not subscribed")

	// ErrNotFound: subscribe/unsubscribe referenced an unknown signal ID.
	ErrNotFound = errors.New("streaming: signal not found")

	// ErrProtocol: a WebSocket frame header the codec cannot parse
	// (packet.ParseWSHeader: a 64-bit extended length). Inbound frames
	// that break the protocol (reserved bit, unmasked, fragmented control
	// frame) are reported by wsrx as ActionFailConnection, not as this
	// error.
	ErrProtocol = errors.New("streaming: websocket protocol error")

	// ErrBusy: a second streaming client attempted to connect while one
	// is already active.
	ErrBusy = errors.New("streaming: connection slot busy")

	// ErrEmptyTable: AddTable was called with zero signal definitions.
	ErrEmptyTable = errors.New("streaming: table must have at least one signal")

	// ErrSignalNameTooLong: a signal definition's name exceeds the
	// configured STREAMING_SIGNAL_NAME_LENGTH bound.
	ErrSignalNameTooLong = errors.New("streaming: signal name too long")
)
