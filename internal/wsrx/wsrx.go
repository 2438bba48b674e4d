// Package wsrx filters inbound WebSocket frames on the streaming socket
// (§4.E): control frames are answered directly (ping -> pong, close ->
// close echo), data frames are ignored, and anything the server's minimal
// framing cannot handle — an unmasked frame, a reserved bit, a fragmented
// control frame, or an unknown opcode — fails the connection.
//
// Grounded on streaming_websocket_rx.c's streaming_rx_callback. Uses
// gobwas/ws for header parsing and payload unmasking (ws.ReadHeader,
// ws.Cipher), the same low-level frame library the teacher depends on,
// and writes outbound control frames with ws.WriteHeader.
package wsrx

import (
	"bytes"
	"io"

	"github.com/gobwas/ws"
)

// abnormalClosure is the WebSocket close code sent when the server
// cannot make sense of an inbound frame (RFC 6455 1006, "abnormal
// closure", is reserved for local use — the original sends this value
// directly in a close frame body despite that, and we preserve it).
const abnormalClosure = 1006

// Action tells the caller what to do after Handle inspects one frame.
type Action int

const (
	// ActionIgnore: a data frame (text/binary/continuation). No reply,
	// connection stays open.
	ActionIgnore Action = iota
	// ActionReply: Out holds a frame to write back (a pong); connection
	// stays open.
	ActionReply
	// ActionFailConnection: Out holds a close frame to write, after
	// which the transport must be closed. Raised on protocol errors, on
	// an inbound close (Out is the echoed close frame) and on unknown
	// opcodes (Out is nil for the latter).
	ActionFailConnection
)

// Result is the outcome of filtering one inbound frame.
type Result struct {
	Action Action
	Out    []byte // pre-built outbound frame bytes, or nil
}

// Handle reads one WebSocket frame from r, validates and unmasks it, and
// decides what the connection should do next. It never writes to r.
func Handle(r io.Reader) (Result, error) {
	h, err := ws.ReadHeader(r)
	if err != nil {
		return Result{}, err
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Result{}, err
		}
	}
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}

	return filter(h, payload), nil
}

func filter(h ws.Header, payload []byte) Result {
	if !h.Masked || h.Rsv != 0 {
		return Result{Action: ActionFailConnection, Out: buildAbnormalClose()}
	}

	isControl := h.OpCode == ws.OpPing || h.OpCode == ws.OpPong || h.OpCode == ws.OpClose
	if isControl && !h.Fin {
		// control frames must never be fragmented
		return Result{Action: ActionFailConnection, Out: buildAbnormalClose()}
	}

	switch h.OpCode {
	case ws.OpContinuation, ws.OpText, ws.OpBinary:
		return Result{Action: ActionIgnore}
	case ws.OpPing:
		return Result{Action: ActionReply, Out: buildFrame(ws.OpPong, payload)}
	case ws.OpClose:
		return Result{Action: ActionFailConnection, Out: buildFrame(ws.OpClose, payload)}
	default:
		return Result{Action: ActionFailConnection}
	}
}

func buildAbnormalClose() []byte {
	body := make([]byte, 0, 7)
	body = append(body, byte(abnormalClosure>>8), byte(abnormalClosure&0xff))
	body = append(body, "sorry"...)
	return buildFrame(ws.OpClose, body)
}

func buildFrame(op ws.OpCode, payload []byte) []byte {
	var buf bytes.Buffer
	hdr := ws.Header{Fin: true, OpCode: op, Masked: false, Length: int64(len(payload))}
	if err := ws.WriteHeader(&buf, hdr); err != nil {
		panic(err) // writing into a bytes.Buffer cannot fail
	}
	buf.Write(payload)
	return buf.Bytes()
}
