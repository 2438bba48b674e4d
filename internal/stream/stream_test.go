package stream

import (
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opendaq/streaming-endpoint/internal/packet"
	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

var hexID = regexp.MustCompile(`^[0-9A-F]{8}$`)

func TestNewStreamIDFormat(t *testing.T) {
	id, err := newStreamID()
	require.NoError(t, err)
	require.True(t, hexID.MatchString(id), "got %q", id)
}

type noopCallbacks struct{ connected []string }

func (c *noopCallbacks) OnConnect(streamID string)                          { c.connected = append(c.connected, streamID) }
func (c *noopCallbacks) OnSubscribe(streamID string, sig *registry.Signal) uint64 { return 0 }
func (c *noopCallbacks) OnUnsubscribe(streamID string, sig *registry.Signal)      {}

func TestAcceptRunsHandshakeAndRejectsSecondClient(t *testing.T) {
	cbs := &noopCallbacks{}
	m := NewManager(cbs, 50*time.Millisecond, nil, 256, zerolog.Nop())
	reg := registry.NewRegistry(12, 4, 32, m, cbs)
	m.SetRegistry(reg)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		_, _ = m.accept(serverConn, false)
	}()

	// Drain the version + init + available meta packets the handshake
	// writes, each delivered as one net.Pipe Read.
	buf := make([]byte, 512)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 3; i++ {
		n, err := clientConn.Read(buf)
		require.NoError(t, err)
		hdr, err := packet.ParseHeader(buf[:n])
		require.NoError(t, err)
		require.Equal(t, packet.TypeMeta, hdr.Type)
	}

	require.Eventually(t, func() bool { return m.ActiveStreamID() != "" }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(cbs.connected) == 1 }, time.Second, 10*time.Millisecond)

	// A second connection attempt while the first is active must be
	// rejected without touching the registry.
	_, clientConn2 := net.Pipe()
	defer clientConn2.Close()
	serverConn2, _ := net.Pipe()
	_, err := m.accept(serverConn2, false)
	require.Error(t, err)
}

func TestStreamIDIsStableAcrossReconnects(t *testing.T) {
	cbs := &noopCallbacks{}
	m := NewManager(cbs, 50*time.Millisecond, nil, 256, zerolog.Nop())
	reg := registry.NewRegistry(12, 4, 32, m, cbs)
	m.SetRegistry(reg)

	drainHandshake := func(clientConn net.Conn) {
		buf := make([]byte, 512)
		clientConn.SetReadDeadline(time.Now().Add(time.Second))
		for i := 0; i < 3; i++ {
			n, err := clientConn.Read(buf)
			require.NoError(t, err)
			_, err = packet.ParseHeader(buf[:n])
			require.NoError(t, err)
		}
	}

	serverConn1, clientConn1 := net.Pipe()
	go func() { _, _ = m.accept(serverConn1, false) }()
	drainHandshake(clientConn1)
	require.Eventually(t, func() bool { return m.ActiveStreamID() != "" }, time.Second, 10*time.Millisecond)
	firstID := m.ActiveStreamID()
	require.Equal(t, m.StreamID(), firstID)

	m.disconnect(m.active, nil)
	clientConn1.Close()
	require.Eventually(t, func() bool { return m.ActiveStreamID() == "" }, time.Second, 10*time.Millisecond)

	serverConn2, clientConn2 := net.Pipe()
	defer clientConn2.Close()
	go func() { _, _ = m.accept(serverConn2, false) }()
	drainHandshake(clientConn2)
	require.Eventually(t, func() bool { return m.ActiveStreamID() != "" }, time.Second, 10*time.Millisecond)
	secondID := m.ActiveStreamID()

	require.Equal(t, firstID, secondID, "stream id must survive a reconnect so a client's learned jsonrpc method names stay valid")
	require.Equal(t, 2, len(cbs.connected))
	require.Equal(t, cbs.connected[0], cbs.connected[1])
}

func TestSendSignalMetaRejectsPayloadOverMsgpackBufSize(t *testing.T) {
	cbs := &noopCallbacks{}
	m := NewManager(cbs, 50*time.Millisecond, nil, 8, zerolog.Nop())
	reg := registry.NewRegistry(12, 4, 32, m, cbs)
	m.SetRegistry(reg)

	_, err := reg.AddTable([]signalmodel.Definition{
		{Name: "val", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Real64, SignalType: signalmodel.TypeValue},
	}, "tbl")
	require.NoError(t, err)
	sig, ok := reg.SignalByID("val")
	require.True(t, ok)

	err = m.sendSignalMeta("any-stream", sig, make([]byte, 9))
	require.ErrorIs(t, err, streamerr.ErrBufferTooSmall)
}
