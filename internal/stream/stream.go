// Package stream implements the connection manager (§4.D): accepting
// exactly one streaming connection at a time, driving the version/init/
// available handshake, detecting disconnect, and purging registry state
// on teardown. It also implements registry.Emitter, turning registry
// mutations into serialized meta packets on the wire.
//
// Grounded on stream_id.c/.h (the stream struct and its send function
// references) and streaming_handler.c's streaming_start accept loop,
// adapted from single-active-connection embedded semantics to a Go
// net.Conn plus a background poll goroutine; upgrade style follows the
// teacher's handlers_ws.go use of gobwas/ws.UpgradeHTTP.
package stream

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// Stream is one active streaming connection: a socket, its stable
// 8-hex-character ID, and whether its packets carry WebSocket framing.
type Stream struct {
	id        string
	conn      net.Conn
	webSocket bool

	closeOnce sync.Once
}

// ID returns the stream's stable identifier, used to namespace its
// JSON-RPC control methods and to address it from registry callbacks.
func (s *Stream) ID() string { return s.id }

// WebSocket reports whether packets to this stream need WS frame
// headers (vs. the raw-TCP transport alternative, §6).
func (s *Stream) WebSocket() bool { return s.webSocket }

// Send writes buf to the underlying socket verbatim. Any WebSocket
// framing is already embedded in buf by the packet codec — this is the
// same raw-bytes contract as the original's stream_send.
func (s *Stream) Send(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

// Close closes the underlying connection exactly once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// newStreamID generates a stable 8-hex-character ID from 32 random bits
// read from crypto/rand, formatted the way streaming_init prints its
// "%08X" of (rand()<<16)+rand().
func newStreamID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating stream id: %w", err)
	}
	return fmt.Sprintf("%08X", binary.BigEndian.Uint32(b[:])), nil
}
