// Package meta builds the MessagePack meta-messages carried inside meta
// packets (§4.B): apiVersion, init, available/unavailable, subscribe-ack,
// unsubscribe-ack and per-signal definitions.
//
// Grounded on the original streaming_meta.c, with map shapes, key names
// and element counts (mpack_start_map(w, N)) reproduced field-for-field
// so a client parsing these messages cannot tell the two apart.
package meta

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
)

const (
	keyMethod = "method"
	keyParams = "params"

	methodAPIVersion = "apiVersion"
	methodInit       = "init"
	methodAvailable  = "available"
	methodUnavail    = "unavailable"
	methodSubscribe  = "subscribe"
	methodUnsub      = "unsubscribe"

	streamingVersion = "1.0.1"

	unitIDSeconds = 5457219
)

// CommandInterface describes the control channel advertised in the init
// message (§4.B, §4.F). When nil, the init message's commandInterfaces
// map is empty, matching the original's !STREAMING_INCLUDE_CONFIG_CHANNEL
// build.
type CommandInterface struct {
	Port        string
	APIVersion  int8
	HTTPMethod  string
	HTTPVersion string
	HTTPPath    string
}

func newEncoder(buf *bytes.Buffer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(buf)
	enc.UseCompactInts(true)
	return enc
}

// Version builds the apiVersion meta-message.
func Version(buf *bytes.Buffer) error {
	enc := newEncoder(buf)
	enc.EncodeMapLen(2)
	enc.EncodeString(keyMethod)
	enc.EncodeString(methodAPIVersion)
	enc.EncodeString(keyParams)
	enc.EncodeMapLen(1)
	enc.EncodeString("version")
	return enc.EncodeString(streamingVersion)
}

// Init builds the init meta-message for streamID. cmd is nil when no
// config/control channel is advertised.
func Init(buf *bytes.Buffer, streamID string, cmd *CommandInterface) error {
	enc := newEncoder(buf)
	enc.EncodeMapLen(2)
	enc.EncodeString(keyMethod)
	enc.EncodeString(methodInit)

	enc.EncodeString(keyParams)
	enc.EncodeMapLen(3)

	enc.EncodeString("streamId")
	enc.EncodeString(streamID)

	enc.EncodeString("supported")
	enc.EncodeMapLen(0)

	enc.EncodeString("commandInterfaces")
	if cmd == nil {
		return enc.EncodeMapLen(0)
	}
	enc.EncodeMapLen(1)
	enc.EncodeString("jsonrpc-http")
	enc.EncodeMapLen(5)
	enc.EncodeString("port")
	enc.EncodeString(cmd.Port)
	enc.EncodeString(methodAPIVersion)
	enc.EncodeInt8(cmd.APIVersion)
	enc.EncodeString("httpMethod")
	enc.EncodeString(cmd.HTTPMethod)
	enc.EncodeString("httpVersion")
	enc.EncodeString(cmd.HTTPVersion)
	enc.EncodeString("httpPath")
	return enc.EncodeString(cmd.HTTPPath)
}

// SignalSubscribed builds the per-signal subscribe acknowledgement.
func SignalSubscribed(buf *bytes.Buffer, signalID string) error {
	enc := newEncoder(buf)
	enc.EncodeMapLen(2)
	enc.EncodeString(keyMethod)
	enc.EncodeString(methodSubscribe)
	enc.EncodeString(keyParams)
	enc.EncodeMapLen(1)
	enc.EncodeString("signalId")
	return enc.EncodeString(signalID)
}

// SignalUnsubscribed builds the per-signal unsubscribe acknowledgement.
// Unlike every other meta-message this one carries no params map at all,
// matching the original's one-element outer map.
func SignalUnsubscribed(buf *bytes.Buffer) error {
	enc := newEncoder(buf)
	enc.EncodeMapLen(1)
	return enc.EncodeString(methodUnsub)
}

// StreamAvailable builds the available-signals broadcast. Only signals
// that are available and not currently subscribed are listed, exactly as
// build_mpack_meta_stream_avail filters.
func StreamAvailable(buf *bytes.Buffer, signals []*registry.Signal) error {
	return streamSignalIDs(buf, methodAvailable, signals, func(s *registry.Signal) bool {
		return s.Available() && !s.HasSubscription()
	})
}

// StreamUnavailable builds the unavailable-signals broadcast: signals
// that are available but currently subscribed.
func StreamUnavailable(buf *bytes.Buffer, signals []*registry.Signal) error {
	return streamSignalIDs(buf, methodUnavail, signals, func(s *registry.Signal) bool {
		return s.Available() && s.HasSubscription()
	})
}

func streamSignalIDs(buf *bytes.Buffer, method string, signals []*registry.Signal, include func(*registry.Signal) bool) error {
	ids := make([]string, 0, len(signals))
	for _, s := range signals {
		if include(s) {
			ids = append(ids, s.Name())
		}
	}

	enc := newEncoder(buf)
	enc.EncodeMapLen(2)
	enc.EncodeString(keyMethod)
	enc.EncodeString(method)
	enc.EncodeString(keyParams)
	enc.EncodeMapLen(1)
	enc.EncodeString("signalIds")
	enc.EncodeArrayLen(len(ids))
	for _, id := range ids {
		if err := enc.EncodeString(id); err != nil {
			return err
		}
	}
	return nil
}

// SignalDefinition builds the full per-signal description sent on first
// subscription: table membership, related (non-value) sibling signals,
// and the type/rule/time definition.
func SignalDefinition(buf *bytes.Buffer, sig *registry.Signal, valueIndex uint64) error {
	enc := newEncoder(buf)
	enc.EncodeMapLen(2)
	enc.EncodeString(keyMethod)
	enc.EncodeString("signal")
	enc.EncodeString(keyParams)

	paramCount := 3
	if valueIndex != 0 {
		paramCount = 4
	}
	enc.EncodeMapLen(paramCount)

	enc.EncodeString("tableId")
	enc.EncodeString(sig.Table().ID())

	if valueIndex != 0 {
		enc.EncodeString("valueIndex")
		enc.EncodeUint64(valueIndex)
	}

	related := relatedSignals(sig)
	enc.EncodeString("relatedSignals")
	enc.EncodeArrayLen(len(related))
	for _, r := range related {
		enc.EncodeMapLen(2)
		enc.EncodeString("type")
		enc.EncodeString(r.Definition().SignalType.String())
		enc.EncodeString("signalId")
		if err := enc.EncodeString(r.Definition().Name); err != nil {
			return err
		}
	}

	enc.EncodeString("definition")
	return encodeDefinition(enc, sig.Definition())
}

// relatedSignals mirrors count_related_signals/the accompanying loop:
// every non-value sibling in the table, reported only when sig itself is
// a value signal.
func relatedSignals(sig *registry.Signal) []*registry.Signal {
	if sig.Definition().SignalType != signalmodel.TypeValue {
		return nil
	}
	var out []*registry.Signal
	for _, s := range sig.Table().Signals() {
		if s.Definition().SignalType != signalmodel.TypeValue {
			out = append(out, s)
		}
	}
	return out
}

func encodeDefinition(enc *msgpack.Encoder, def signalmodel.Definition) error {
	isLinear := def.Rule == signalmodel.RuleLinear
	isTime := def.Time != nil

	elements := 3 // name, rule, dataType
	if isTime {
		elements += 3 // resolution, absoluteReference, unit
	}
	if isLinear {
		elements++ // linear
	}

	enc.EncodeMapLen(elements)
	enc.EncodeString("name")
	enc.EncodeString(def.Name)
	enc.EncodeString("rule")
	enc.EncodeString(def.Rule.String())
	enc.EncodeString("dataType")
	enc.EncodeString(def.DataType.String())

	if isLinear {
		enc.EncodeString("linear")
		enc.EncodeMapLen(1)
		enc.EncodeString("delta")
		enc.EncodeUint64(def.Delta)
	}

	if isTime {
		t := def.Time
		enc.EncodeString("resolution")
		enc.EncodeMapLen(2)
		enc.EncodeString("num")
		enc.EncodeUint64(1)
		enc.EncodeString("denom")
		enc.EncodeUint64(t.Denominator())

		enc.EncodeString("absoluteReference")
		if t.Epoch == "" {
			enc.EncodeNil()
		} else {
			enc.EncodeString(t.Epoch)
		}

		enc.EncodeString("unit")
		enc.EncodeMapLen(3)
		enc.EncodeString("displayName")
		enc.EncodeString("s")
		enc.EncodeString("unitId")
		enc.EncodeInt(unitIDSeconds)
		enc.EncodeString("quantity")
		if err := enc.EncodeString("time"); err != nil {
			return err
		}
	}

	return nil
}
