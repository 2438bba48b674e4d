package packet

import (
	"encoding/binary"

	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

// Header is the parsed transport-layer header: the tuple that §8
// property 4 requires round-tripping.
type Header struct {
	Type         Type
	SignalNumber uint32
	PayloadSize  uint32
	HeaderLen    int // 4 or 8
}

// ParseHeader parses the TL header (no WebSocket framing) from src,
// returning the header and the number of bytes it occupied.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < 4 {
		return Header{}, streamerr.ErrBufferTooSmall
	}
	word := binary.LittleEndian.Uint32(src[0:4])
	h := Header{
		SignalNumber: word & signalNumberMask,
		Type:         Type((word >> 28) & 0x3),
	}
	inlineSize := (word >> 20) & 0xff
	if inlineSize != 0 {
		h.PayloadSize = inlineSize
		h.HeaderLen = 4
		return h, nil
	}
	if len(src) < 8 {
		return Header{}, streamerr.ErrBufferTooSmall
	}
	h.PayloadSize = binary.LittleEndian.Uint32(src[4:8])
	h.HeaderLen = 8
	return h, nil
}

// ParseMetaPayload splits a meta payload into its 4-byte meta_type word
// and the remaining msgpack bytes.
func ParseMetaPayload(payload []byte) (metaType uint32, mpack []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, streamerr.ErrBufferTooSmall
	}
	return binary.LittleEndian.Uint32(payload[0:4]), payload[4:], nil
}

// WSFrameHeader is the parsed (outbound-style, unmasked) WebSocket frame
// header the server itself emits — used by tests to verify round-trips
// of Serialize's WS framing.
type WSFrameHeader struct {
	Fin         bool
	Opcode      byte
	PayloadSize int
	HeaderLen   int
}

// ParseWSHeader parses a non-masked WebSocket frame header as produced by
// writeWSHeader.
func ParseWSHeader(src []byte) (WSFrameHeader, error) {
	if len(src) < 2 {
		return WSFrameHeader{}, streamerr.ErrBufferTooSmall
	}
	h := WSFrameHeader{
		Fin:    src[0]&0x80 != 0,
		Opcode: src[0] & 0x0f,
	}
	lenByte := src[1] & 0x7f
	switch {
	case lenByte <= 125:
		h.PayloadSize = int(lenByte)
		h.HeaderLen = 2
	case lenByte == 126:
		if len(src) < 4 {
			return WSFrameHeader{}, streamerr.ErrBufferTooSmall
		}
		h.PayloadSize = int(binary.BigEndian.Uint16(src[2:4]))
		h.HeaderLen = 4
	default:
		return WSFrameHeader{}, streamerr.ErrProtocol
	}
	return h, nil
}
