package wsrx

import (
	"bytes"
	"testing"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/require"
)

func maskedFrame(t *testing.T, op ws.OpCode, payload []byte, masked bool, fin bool, rsv byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	mask := [4]byte{0x11, 0x22, 0x33, 0x44}
	hdr := ws.Header{Fin: fin, Rsv: rsv, OpCode: op, Masked: masked, Length: int64(len(payload))}
	if masked {
		hdr.Mask = mask
	}
	require.NoError(t, ws.WriteHeader(&buf, hdr))
	out := make([]byte, len(payload))
	copy(out, payload)
	if masked {
		ws.Cipher(out, mask, 0)
	}
	buf.Write(out)
	return buf.Bytes()
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	frame := maskedFrame(t, ws.OpPing, []byte("hi"), true, true, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionReply, res.Action)

	h, err := ws.ReadHeader(bytes.NewReader(res.Out))
	require.NoError(t, err)
	require.Equal(t, ws.OpPong, h.OpCode)
	require.True(t, h.Fin)
	require.False(t, h.Masked)
}

func TestCloseIsEchoedAndFailsConnection(t *testing.T) {
	frame := maskedFrame(t, ws.OpClose, []byte{0x03, 0xe8}, true, true, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionFailConnection, res.Action)
	require.NotNil(t, res.Out)
}

func TestBinaryFrameIsIgnored(t *testing.T) {
	frame := maskedFrame(t, ws.OpBinary, []byte{0x01, 0x02, 0x03}, true, true, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionIgnore, res.Action)
	require.Nil(t, res.Out)
}

func TestUnmaskedFrameFailsConnection(t *testing.T) {
	frame := maskedFrame(t, ws.OpBinary, []byte{0x01}, false, true, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionFailConnection, res.Action)
	require.NotNil(t, res.Out)
}

func TestReservedBitFailsConnection(t *testing.T) {
	frame := maskedFrame(t, ws.OpBinary, []byte{0x01}, true, true, ws.Rsv(true, false, false))
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionFailConnection, res.Action)
}

func TestFragmentedPingFailsConnection(t *testing.T) {
	frame := maskedFrame(t, ws.OpPing, []byte("x"), true, false, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionFailConnection, res.Action)
}

func TestUnknownOpcodeFailsConnectionWithNoReply(t *testing.T) {
	frame := maskedFrame(t, ws.OpCode(0xb), []byte{}, true, true, 0)
	res, err := Handle(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, ActionFailConnection, res.Action)
	require.Nil(t, res.Out)
}
