package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/opendaq/streaming-endpoint/internal/meta"
	"github.com/opendaq/streaming-endpoint/internal/metrics"
	"github.com/opendaq/streaming-endpoint/internal/packet"
	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
	"github.com/opendaq/streaming-endpoint/internal/wsrx"
)

// closeCodeTryAgainLater is sent to a second client attempting to
// connect while one stream is already active (IP_WEBSOCKET_CLOSE_CODE_TRY_AGAIN_LATER).
const closeCodeTryAgainLater = 1013

// Manager enforces the single-active-stream invariant, runs the
// handshake on accept, and relays registry mutations to the wire.
type Manager struct {
	mu     sync.Mutex
	active *Stream

	streamID string // generated once, reused for every connection (§4.D)

	reg *registry.Registry
	cbs registry.HostCallbacks
	log zerolog.Logger

	pollInterval   time.Duration
	cmd            *meta.CommandInterface // nil disables the config channel
	msgpackBufSize int                    // 0 disables the check
}

// NewManager returns a Manager with no registry attached yet; call
// SetRegistry once the registry has been constructed with this Manager
// as its Emitter (the two types reference each other). The stream ID is
// generated once here and reused for the lifetime of the process,
// matching streaming_init's single static stream_id: a client's learned
// JSON-RPC method names ("<streamId>.subscribe") must stay valid across
// reconnects. msgpackBufSize bounds every meta payload sendSignalMeta
// emits, the way the original's fixed char buf[MSGPACK_BUF_SIZE] does.
func NewManager(cbs registry.HostCallbacks, pollInterval time.Duration, cmd *meta.CommandInterface, msgpackBufSize int, logger zerolog.Logger) *Manager {
	id, err := newStreamID()
	if err != nil {
		// crypto/rand failure is unrecoverable; the original's rand()
		// seed can't fail, so there is no sensible fallback here either.
		panic(fmt.Sprintf("stream: generating process stream id: %v", err))
	}
	return &Manager{
		streamID:       id,
		cbs:            cbs,
		pollInterval:   pollInterval,
		cmd:            cmd,
		msgpackBufSize: msgpackBufSize,
		log:            logger.With().Str("component", "stream").Logger(),
	}
}

// SetRegistry attaches the registry this manager drives. Must be called
// before Accept.
func (m *Manager) SetRegistry(reg *registry.Registry) {
	m.reg = reg
}

// SetCallbacks attaches the host callbacks this manager notifies on
// connect. Lets a callback implementation that itself needs a DataSink
// bound to this manager (internal/producer) be constructed after the
// manager, mirroring SetRegistry's two-phase wiring. Must be called
// before Accept.
func (m *Manager) SetCallbacks(cbs registry.HostCallbacks) {
	m.cbs = cbs
}

// StreamID returns the process-wide stream ID generated once in
// NewManager, independent of whether a connection is currently active.
// This is the ID a client's JSON-RPC method names stay namespaced under
// across reconnects.
func (m *Manager) StreamID() string {
	return m.streamID
}

// ActiveStreamID returns the ID of the currently connected stream, or
// "" if none.
func (m *Manager) ActiveStreamID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.id
}

// AcceptWebSocket upgrades r/w to a WebSocket connection and, if no
// stream is currently active, runs the handshake and starts the
// inbound-frame poll loop in a new goroutine. If a stream is already
// active, the new connection is closed with a try-again-later frame.
func (m *Manager) AcceptWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		m.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	st, err := m.accept(conn, true)
	if err != nil {
		if errors.Is(err, streamerr.ErrBusy) {
			metrics.IncrementConnectionsRejected()
			rejectBusy(conn)
		}
		conn.Close()
		return
	}

	go m.runWebSocket(st)
}

// AcceptTCP runs the raw-TCP accept loop (§6's build-time toggle
// alternative to WebSocket framing) until ln is closed.
func (m *Manager) AcceptTCP(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		st, err := m.accept(conn, false)
		if err != nil {
			if errors.Is(err, streamerr.ErrBusy) {
				metrics.IncrementConnectionsRejected()
			}
			conn.Close()
			continue
		}
		go m.runTCP(st)
	}
}

func rejectBusy(conn net.Conn) {
	body := []byte{byte(closeCodeTryAgainLater >> 8), byte(closeCodeTryAgainLater & 0xff)}
	var out []byte
	out = append(out, 0x80|byte(ws.OpClose))
	out = append(out, byte(len(body)))
	out = append(out, body...)
	_, _ = conn.Write(out)
}

func (m *Manager) accept(conn net.Conn, webSocket bool) (*Stream, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, streamerr.ErrBusy
	}

	id := m.streamID
	st := &Stream{id: id, conn: conn, webSocket: webSocket}
	m.active = st
	m.mu.Unlock()

	if err := m.sendStreamMeta(st); err != nil {
		m.log.Warn().Err(err).Str("stream", id).Msg("sending stream meta failed")
	}
	if m.reg != nil {
		if err := m.reg.SendAllAvail(id); err != nil {
			m.log.Warn().Err(err).Str("stream", id).Msg("sending available signals failed")
		}
	}
	if m.cbs != nil {
		m.cbs.OnConnect(id)
	}

	metrics.IncrementConnections()
	metrics.SetConnectionActive(true)
	m.log.Info().Str("stream", id).Bool("websocket", webSocket).Msg("stream connected")
	return st, nil
}

func (m *Manager) sendStreamMeta(st *Stream) error {
	var versionBuf, initBuf bytes.Buffer
	if err := meta.Version(&versionBuf); err != nil {
		return err
	}
	if err := m.sendMetaStream(st, versionBuf.Bytes()); err != nil {
		return err
	}

	if err := meta.Init(&initBuf, st.id, m.cmd); err != nil {
		return err
	}
	return m.sendMetaStream(st, initBuf.Bytes())
}

func (m *Manager) sendMetaStream(st *Stream, payload []byte) error {
	p := packet.Packet{Type: packet.TypeMeta, SignalNumber: 0, Meta: payload}
	_, err := packet.Send(st, p, packet.Options{WebSocket: st.webSocket})
	return err
}

// disconnect tears the active stream down: purges its registry state,
// clears the slot, and closes the socket.
func (m *Manager) disconnect(st *Stream, cause error) {
	m.mu.Lock()
	if m.active == st {
		m.active = nil
	}
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.PurgeStream(st.id)
	}
	st.Close()
	metrics.SetConnectionActive(false)
	m.log.Info().Str("stream", st.id).Err(cause).Msg("stream disconnected")
}

// runWebSocket reads and filters inbound frames until the connection
// fails, then tears the stream down. This both answers control frames
// (§4.E) and serves as disconnect detection, replacing the original's
// periodic socket-error poll with an event per the configurable
// STREAMING_DISCONNECT_POLL_INTERVAL read-deadline granularity.
func (m *Manager) runWebSocket(st *Stream) {
	for {
		_ = st.conn.SetReadDeadline(time.Now().Add(m.pollInterval))

		res, err := wsrx.Handle(st.conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			m.disconnect(st, err)
			return
		}

		switch res.Action {
		case wsrx.ActionReply:
			if _, err := st.conn.Write(res.Out); err != nil {
				m.disconnect(st, err)
				return
			}
		case wsrx.ActionFailConnection:
			if res.Out != nil {
				_, _ = st.conn.Write(res.Out)
			}
			m.disconnect(st, io.EOF)
			return
		}
	}
}

// runTCP polls the raw-TCP connection for liveness at pollInterval,
// since the non-WebSocket transport carries no inbound control frames
// to read.
func (m *Manager) runTCP(st *Stream) {
	buf := make([]byte, 1)
	for {
		_ = st.conn.SetReadDeadline(time.Now().Add(m.pollInterval))
		_, err := st.conn.Read(buf)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		m.disconnect(st, err)
		return
	}
}
