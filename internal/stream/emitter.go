package stream

import (
	"bytes"
	"fmt"

	"github.com/opendaq/streaming-endpoint/internal/meta"
	"github.com/opendaq/streaming-endpoint/internal/metrics"
	"github.com/opendaq/streaming-endpoint/internal/packet"
	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

// Manager implements registry.Emitter: every subscribe/unsubscribe
// mutation the registry makes is turned into a meta packet here and
// written to the stream that owns it.

func (m *Manager) streamByID(streamID string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.id != streamID {
		return nil, streamerr.ErrNotFound
	}
	return m.active, nil
}

func (m *Manager) sendSignalMeta(streamID string, sig *registry.Signal, payload []byte) error {
	if m.msgpackBufSize > 0 && len(payload) > m.msgpackBufSize {
		return fmt.Errorf("%w: signal meta payload %d bytes exceeds %d", streamerr.ErrBufferTooSmall, len(payload), m.msgpackBufSize)
	}
	st, err := m.streamByID(streamID)
	if err != nil {
		return err
	}
	p := packet.Packet{Type: packet.TypeMeta, SignalNumber: sig.SignalNo(), Meta: payload}
	n, err := packet.Send(st, p, packet.Options{WebSocket: st.webSocket})
	if err == nil {
		metrics.RecordPacketSent("meta", n)
	}
	return err
}

func (m *Manager) SendSubscribed(streamID string, sig *registry.Signal) error {
	var buf bytes.Buffer
	if err := meta.SignalSubscribed(&buf, sig.Name()); err != nil {
		return fmt.Errorf("building subscribed meta: %w", err)
	}
	return m.sendSignalMeta(streamID, sig, buf.Bytes())
}

func (m *Manager) SendUnsubscribed(streamID string, sig *registry.Signal) error {
	var buf bytes.Buffer
	if err := meta.SignalUnsubscribed(&buf); err != nil {
		return fmt.Errorf("building unsubscribed meta: %w", err)
	}
	return m.sendSignalMeta(streamID, sig, buf.Bytes())
}

func (m *Manager) SendDefinition(streamID string, sig *registry.Signal, valueIndex uint64) error {
	var buf bytes.Buffer
	if err := meta.SignalDefinition(&buf, sig, valueIndex); err != nil {
		return fmt.Errorf("building signal definition meta: %w", err)
	}
	return m.sendSignalMeta(streamID, sig, buf.Bytes())
}

func (m *Manager) SendAvailable(streamID string, signals []*registry.Signal) error {
	st, err := m.streamByID(streamID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := meta.StreamAvailable(&buf, signals); err != nil {
		return fmt.Errorf("building available meta: %w", err)
	}
	p := packet.Packet{Type: packet.TypeMeta, SignalNumber: 0, Meta: buf.Bytes()}
	n, err := packet.Send(st, p, packet.Options{WebSocket: st.webSocket})
	if err == nil {
		metrics.RecordPacketSent("meta", n)
	}
	return err
}

// SendData writes a data packet for signalNo to streamID's active
// connection. Used by the sample producer (§9) to push values onto the
// wire outside the registry's own meta-emission path.
func (m *Manager) SendData(streamID string, signalNo uint32, payload packet.DataPayload) error {
	st, err := m.streamByID(streamID)
	if err != nil {
		return err
	}
	p := packet.Packet{Type: packet.TypeData, SignalNumber: signalNo, Data: payload}
	n, err := packet.Send(st, p, packet.Options{WebSocket: st.webSocket})
	if err == nil {
		metrics.RecordPacketSent("data", n)
	}
	return err
}

func (m *Manager) SendUnavailable(streamID string, signals []*registry.Signal) error {
	st, err := m.streamByID(streamID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := meta.StreamUnavailable(&buf, signals); err != nil {
		return fmt.Errorf("building unavailable meta: %w", err)
	}
	p := packet.Packet{Type: packet.TypeMeta, SignalNumber: 0, Meta: buf.Bytes()}
	n, err := packet.Send(st, p, packet.Options{WebSocket: st.webSocket})
	if err == nil {
		metrics.RecordPacketSent("meta", n)
	}
	return err
}
