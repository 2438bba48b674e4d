// Package packet implements the transport-layer packet codec (§4.A): the
// little-endian TL header, optional WebSocket binary framing, and
// per-datatype little-endian sample serialization.
//
// Grounded on the original streaming_packet.c/.h (build_packet_meta_*,
// tl_serialize_packet, openDAQ_copy_sample_le) and on the teacher's
// manual byte-buffer writes in pump_write.go.
package packet

import (
	"encoding/binary"

	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

// Type is the transport-layer packet tag.
type Type uint32

const (
	TypeData Type = 1
	TypeMeta Type = 2
)

const (
	signalNumberMask = 0x000fffff
	maxSignalNumber  = 0x000fffff // 20 bits, values occupy [0, 2^20-1]
	maxPayloadSize   = 1<<28 - 1  // 28-bit field budget (§3)
	maxWSPayload     = 65535      // §4.A: server never sends WS frames above this
)

// MaxSignalNumber is the largest signal number the 20-bit field can carry.
const MaxSignalNumber = maxSignalNumber

// Packet is the ephemeral, stack-built tagged union serialized by
// Serialize. SignalNumber 0 addresses the stream itself (meta only).
type Packet struct {
	Type         Type
	SignalNumber uint32
	// Meta payload (Type == TypeMeta): msgpack-encoded body, NOT
	// including the 4-byte meta_type=2 prefix — Serialize adds it.
	Meta []byte
	// Data payload (Type == TypeData).
	Data DataPayload
}

// DataPayload carries the decoded fields needed to serialize a data
// packet's payload; Serialize computes payload size from it.
type DataPayload struct {
	Rule      signalmodel.Rule
	DataType  signalmodel.DataType
	Samples   []byte // raw little-endian-ready samples, explicit rule: N*sampleSize bytes
	ValueIdx  uint64 // implicit rule (linear/constant): anchoring index
	Implicit  []byte // implicit rule: exactly one sample's worth of bytes
}

func (p DataPayload) payloadSize() int {
	if p.Rule == signalmodel.RuleExplicit {
		return len(p.Samples)
	}
	return 8 + len(p.Implicit)
}

func metaPayloadSize(meta []byte) int {
	return 4 + len(meta)
}

func (p Packet) payloadSize() int {
	switch p.Type {
	case TypeMeta:
		return metaPayloadSize(p.Meta)
	case TypeData:
		return p.Data.payloadSize()
	default:
		return 0
	}
}

// Options controls optional framing layered under the TL header.
type Options struct {
	WebSocket bool
}

// Serialize writes the WebSocket header (if enabled), the TL header, and
// the payload into dst, returning the number of bytes written.
func Serialize(p Packet, dst []byte, opts Options) (int, error) {
	if p.Type != TypeData && p.Type != TypeMeta {
		return 0, streamerr.ErrBadType
	}
	if p.SignalNumber > maxSignalNumber {
		return 0, streamerr.ErrBadType
	}

	payloadSize := p.payloadSize()
	if payloadSize < 0 || payloadSize > maxPayloadSize {
		return 0, streamerr.ErrBufferTooSmall
	}

	tlHeaderSize := 4
	if payloadSize > 255 {
		tlHeaderSize = 8
	}

	wsHeaderSize := 0
	wsPayloadSize := tlHeaderSize + payloadSize
	if opts.WebSocket {
		if wsPayloadSize > maxWSPayload {
			return 0, streamerr.ErrBufferTooSmall
		}
		if wsPayloadSize <= 125 {
			wsHeaderSize = 2
		} else {
			wsHeaderSize = 4
		}
	}

	total := wsHeaderSize + tlHeaderSize + payloadSize
	if len(dst) < total {
		return 0, streamerr.ErrBufferTooSmall
	}

	off := 0
	if opts.WebSocket {
		off = writeWSHeader(dst, wsPayloadSize)
	}
	off += writeTLHeader(p, payloadSize, dst[off:])

	switch p.Type {
	case TypeMeta:
		writeMetaPayload(dst[off:], p.Meta)
	case TypeData:
		if err := writeDataPayload(dst[off:], p.Data); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// writeWSHeader writes a FIN=1, binary, unmasked WebSocket frame header
// for a payload of wsPayloadSize bytes (§4.A) and returns bytes written.
func writeWSHeader(dst []byte, wsPayloadSize int) int {
	const finBinary = 0x80 | 0x2 // FIN=1, opcode=binary(2)
	dst[0] = finBinary
	if wsPayloadSize <= 125 {
		dst[1] = byte(wsPayloadSize) // mask bit clear: server never masks
		return 2
	}
	dst[1] = 126
	binary.BigEndian.PutUint16(dst[2:4], uint16(wsPayloadSize))
	return 4
}

// writeTLHeader writes the 4- or 8-byte transport-layer header and
// returns bytes written.
func writeTLHeader(p Packet, payloadSize int, dst []byte) int {
	word := uint32(p.SignalNumber&signalNumberMask) | (uint32(p.Type) << 28)
	if payloadSize > 255 {
		binary.LittleEndian.PutUint32(dst[0:4], word) // inline size field left at 0
		binary.LittleEndian.PutUint32(dst[4:8], uint32(payloadSize))
		return 8
	}
	word |= uint32(payloadSize) << 20
	binary.LittleEndian.PutUint32(dst[0:4], word)
	return 4
}

func writeMetaPayload(dst []byte, meta []byte) {
	const metaTypeMsgpack = 2
	binary.LittleEndian.PutUint32(dst[0:4], metaTypeMsgpack)
	copy(dst[4:], meta)
}

func writeDataPayload(dst []byte, d DataPayload) error {
	if d.Rule == signalmodel.RuleExplicit {
		return copySamplesLE(dst, d.Samples, d.DataType)
	}
	binary.LittleEndian.PutUint64(dst[0:8], d.ValueIdx)
	return copySamplesLE(dst[8:], d.Implicit, d.DataType)
}

// copySamplesLE checks that src holds a whole number of dt samples and
// copies it into dst unchanged. src must already be little-endian (as
// produced by the Encode* helpers in encode.go); no byte swapping is done.
func copySamplesLE(dst, src []byte, dt signalmodel.DataType) error {
	sz := dt.SampleSize()
	if sz == 0 || len(src)%sz != 0 {
		return streamerr.ErrBadType
	}
	if len(dst) < len(src) {
		return streamerr.ErrBufferTooSmall
	}
	copy(dst, src) // callers build src already little-endian (see encode.go)
	return nil
}
