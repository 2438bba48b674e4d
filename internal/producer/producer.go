package producer

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opendaq/streaming-endpoint/internal/packet"
	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
)

// DataSink is the subset of *stream.Manager a Producer needs: writing a
// data packet to whichever stream currently owns a signal's subscription.
type DataSink interface {
	SendData(streamID string, signalNo uint32, payload packet.DataPayload) error
}

// sampleMessage is the wire shape a NATS publisher sends for one
// signal's subject: a batch of explicit-rule samples.
type sampleMessage struct {
	Values []float64 `json:"values"`
}

// subjectFunc derives the NATS subject a signal's samples are published
// on from its registry name.
type subjectFunc func(signalName string) string

// DefaultSubject publishes under "streaming.samples.<signalName>".
func DefaultSubject(signalName string) string {
	return "streaming.samples." + signalName
}

// live tracks which stream currently owns a signal's subscription and how
// many samples have been forwarded to it.
type live struct {
	streamID string
	sent     uint64
}

// Producer implements registry.HostCallbacks: it has no opinion on
// connect/subscribe accounting beyond tracking which stream owns which
// signal, and forwards every NATS message it receives for a subscribed
// signal onto that stream as a data packet.
type Producer struct {
	nats    *client
	sink    DataSink
	subject subjectFunc
	log     zerolog.Logger

	mu    sync.Mutex
	live  map[string]*live // signal name -> current owner
	subs  map[string]func() // signal name -> unsubscribe thunk
}

// Start connects to NATS and returns a Producer ready to be installed as
// a registry's HostCallbacks. Subjects always follow DefaultSubject; Start
// takes no parameter for a different subject naming.
func Start(cfg Config, sink DataSink, logger zerolog.Logger) (*Producer, error) {
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Producer{
		nats:    c,
		sink:    sink,
		subject: DefaultSubject,
		log:     logger.With().Str("component", "producer").Logger(),
		live:    make(map[string]*live),
		subs:    make(map[string]func()),
	}, nil
}

// Close tears down every active NATS subscription and the connection.
func (p *Producer) Close() {
	p.mu.Lock()
	for _, unsub := range p.subs {
		unsub()
	}
	p.mu.Unlock()
	p.nats.close()
}

// OnConnect is a no-op: the producer reacts to subscribe events, not to
// stream connection itself.
func (p *Producer) OnConnect(streamID string) {}

// OnSubscribe records streamID as sig's current owner, lazily opens a
// NATS subscription for sig's subject on first use, and returns the
// number of samples already forwarded for sig as the resume valueIndex.
func (p *Producer) OnSubscribe(streamID string, sig *registry.Signal) uint64 {
	name := sig.Name()

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.live[name]
	if !ok {
		l = &live{}
		p.live[name] = l
	}
	l.streamID = streamID

	if _, subscribed := p.subs[name]; !subscribed {
		signalNo := sig.SignalNo()
		dt := sig.Definition().DataType
		natsSub, err := p.nats.subscribe(p.subject(name), func(data []byte) {
			p.forward(name, signalNo, dt, data)
		})
		if err != nil {
			p.log.Error().Err(err).Str("signal", name).Msg("subscribing to sample subject failed")
		} else {
			p.subs[name] = func() { _ = natsSub.Unsubscribe() }
		}
	}

	return l.sent
}

// OnUnsubscribe clears sig's owner. The NATS subscription is left open
// (cheap, and likely to be needed again shortly) until Close.
func (p *Producer) OnUnsubscribe(streamID string, sig *registry.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.live[sig.Name()]; ok && l.streamID == streamID {
		l.streamID = ""
	}
}

// forward decodes one NATS sample batch and writes it to sig's current
// owning stream, if any.
func (p *Producer) forward(name string, signalNo uint32, dt signalmodel.DataType, data []byte) {
	p.mu.Lock()
	l, ok := p.live[name]
	streamID := ""
	if ok {
		streamID = l.streamID
	}
	p.mu.Unlock()
	if streamID == "" {
		return
	}

	var msg sampleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.log.Error().Err(err).Str("signal", name).Msg("decoding sample message failed")
		return
	}
	if len(msg.Values) == 0 {
		return
	}

	samples, err := encodeExplicit(dt, msg.Values)
	if err != nil {
		p.log.Error().Err(err).Str("signal", name).Msg("encoding samples failed")
		return
	}

	payload := packet.DataPayload{Rule: signalmodel.RuleExplicit, DataType: dt, Samples: samples}
	if err := p.sink.SendData(streamID, signalNo, payload); err != nil {
		p.log.Warn().Err(err).Str("signal", name).Msg("sending data packet failed")
		return
	}

	p.mu.Lock()
	if l, ok := p.live[name]; ok {
		l.sent += uint64(len(msg.Values))
	}
	p.mu.Unlock()
}

// encodeExplicit picks the typed encoder matching dt's family.
func encodeExplicit(dt signalmodel.DataType, values []float64) ([]byte, error) {
	switch dt {
	case signalmodel.Real32, signalmodel.Real64:
		return packet.EncodeReals(dt, values)
	default:
		ints := make([]int64, len(values))
		for i, v := range values {
			ints[i] = int64(v)
		}
		return packet.EncodeInts(dt, ints)
	}
}
