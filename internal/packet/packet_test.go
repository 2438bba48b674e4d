package packet

import (
	"testing"

	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/stretchr/testify/require"
)

func TestSerializeExplicitDataPacket(t *testing.T) {
	samples, err := EncodeInts(signalmodel.Int32, []int64{1, 2, 3})
	require.NoError(t, err)

	p := Packet{
		Type:         TypeData,
		SignalNumber: 1,
		Data: DataPayload{
			Rule:     signalmodel.RuleExplicit,
			DataType: signalmodel.Int32,
			Samples:  samples,
		},
	}

	buf := make([]byte, 64)
	n, err := Serialize(p, buf, Options{})
	require.NoError(t, err)
	require.Equal(t, 16, n) // 4-byte TL header + 12 bytes of int32 samples

	require.Equal(t, []byte{0x01, 0x00, 0xC0, 0x10}, buf[0:4])
	require.Equal(t, []byte{
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
	}, buf[4:16])
}

func TestTLHeaderSizeBoundary(t *testing.T) {
	samples255 := make([]byte, 255)
	samples256 := make([]byte, 256)

	p255 := Packet{Type: TypeData, SignalNumber: 1, Data: DataPayload{Rule: signalmodel.RuleExplicit, DataType: signalmodel.Uint8, Samples: samples255}}
	p256 := Packet{Type: TypeData, SignalNumber: 1, Data: DataPayload{Rule: signalmodel.RuleExplicit, DataType: signalmodel.Uint8, Samples: samples256}}

	buf := make([]byte, 300)
	n, err := Serialize(p255, buf, Options{})
	require.NoError(t, err)
	require.Equal(t, 4+255, n)

	n, err = Serialize(p256, buf, Options{})
	require.NoError(t, err)
	require.Equal(t, 8+256, n)
}

func TestWebSocketHeaderSizeBoundary(t *testing.T) {
	// WS payload = TL header (4) + data payload. Pick data sizes so the
	// WS payload lands exactly at 125 and 126.
	mk := func(n int) Packet {
		return Packet{Type: TypeData, SignalNumber: 1, Data: DataPayload{Rule: signalmodel.RuleExplicit, DataType: signalmodel.Uint8, Samples: make([]byte, n)}}
	}

	buf := make([]byte, 300)

	n, err := Serialize(mk(121), buf, Options{WebSocket: true}) // TL=4+121=125
	require.NoError(t, err)
	require.Equal(t, 2+4+121, n)

	n, err = Serialize(mk(122), buf, Options{WebSocket: true}) // TL=4+122=126
	require.NoError(t, err)
	require.Equal(t, 4+4+122, n)
}

func TestOversizedWebSocketPayloadRejected(t *testing.T) {
	p := Packet{Type: TypeData, SignalNumber: 1, Data: DataPayload{Rule: signalmodel.RuleExplicit, DataType: signalmodel.Uint8, Samples: make([]byte, 70000)}}
	buf := make([]byte, 70100)
	_, err := Serialize(p, buf, Options{WebSocket: true})
	require.Error(t, err)
}

func TestImplicitSignalPayload(t *testing.T) {
	sample, err := EncodeImplicitInt(signalmodel.Int32, 42)
	require.NoError(t, err)

	p := Packet{
		Type:         TypeData,
		SignalNumber: 2,
		Data: DataPayload{
			Rule:     signalmodel.RuleLinear,
			DataType: signalmodel.Int32,
			ValueIdx: 7,
			Implicit: sample,
		},
	}
	buf := make([]byte, 32)
	n, err := Serialize(p, buf, Options{})
	require.NoError(t, err)
	require.Equal(t, 4+8+4, n)

	hdr, err := ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(12), hdr.PayloadSize)
	require.Equal(t, 4, hdr.HeaderLen)
}

func TestRoundTripHeaderTuple(t *testing.T) {
	p := Packet{
		Type:         TypeMeta,
		SignalNumber: 5,
		Meta:         []byte{0xde, 0xad, 0xbe, 0xef, 0x01},
	}
	buf := make([]byte, 64)
	n, err := Serialize(p, buf, Options{})
	require.NoError(t, err)

	hdr, err := ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, p.Type, hdr.Type)
	require.Equal(t, p.SignalNumber, hdr.SignalNumber)
	require.Equal(t, uint32(p.payloadSize()), hdr.PayloadSize)

	metaType, mpack, err := ParseMetaPayload(buf[hdr.HeaderLen:n])
	require.NoError(t, err)
	require.Equal(t, uint32(2), metaType)
	require.Equal(t, p.Meta, mpack)
}

func TestBufferTooSmall(t *testing.T) {
	p := Packet{Type: TypeData, SignalNumber: 1, Data: DataPayload{Rule: signalmodel.RuleExplicit, DataType: signalmodel.Int32, Samples: make([]byte, 12)}}
	buf := make([]byte, 8) // too small for 4-byte header + 12 bytes payload
	_, err := Serialize(p, buf, Options{})
	require.Error(t, err)
}

func TestBadPacketType(t *testing.T) {
	p := Packet{Type: 0, SignalNumber: 1}
	buf := make([]byte, 16)
	_, err := Serialize(p, buf, Options{})
	require.Error(t, err)
}
