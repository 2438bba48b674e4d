package packet

import (
	"encoding/binary"
	"math"

	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

// encodeSample writes one sample v of dt into dst as little-endian wire
// bytes. dst must hold at least dt.SampleSize() bytes. Callers use the
// typed helpers below (EncodeInts, EncodeReals, EncodeComplexes) rather
// than this directly.
func encodeSample(dst []byte, dt signalmodel.DataType, v sampleValue) error {
	sz := dt.SampleSize()
	if len(dst) < sz {
		return streamerr.ErrBufferTooSmall
	}
	switch dt {
	case signalmodel.Int8, signalmodel.Uint8:
		dst[0] = byte(v.u64)
	case signalmodel.Int16, signalmodel.Uint16:
		binary.LittleEndian.PutUint16(dst, uint16(v.u64))
	case signalmodel.Int32, signalmodel.Uint32:
		binary.LittleEndian.PutUint32(dst, uint32(v.u64))
	case signalmodel.Real32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v.f64)))
	case signalmodel.Int64, signalmodel.Uint64:
		binary.LittleEndian.PutUint64(dst, v.u64)
	case signalmodel.Real64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.f64))
	case signalmodel.Complex32:
		binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(float32(v.c128real)))
		binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(float32(v.c128imag)))
	case signalmodel.Complex64:
		binary.LittleEndian.PutUint64(dst[0:8], math.Float64bits(v.c128real))
		binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(v.c128imag))
	case signalmodel.Int128, signalmodel.Uint128:
		copy(dst[0:16], v.raw16[:])
	default:
		return streamerr.ErrBadType
	}
	return nil
}

// sampleValue is a small tagged union used internally by the typed
// Encode* helpers so encodeSample has one implementation per datatype
// family instead of one per Go input type.
type sampleValue struct {
	u64      uint64
	f64      float64
	c128real float64
	c128imag float64
	raw16    [16]byte
}

// EncodeInts explicit-rule-encodes signed/unsigned integer samples
// (int8/16/32/64, uint8/16/32/64) into little-endian wire bytes.
func EncodeInts(dt signalmodel.DataType, values []int64) ([]byte, error) {
	sz := dt.SampleSize()
	out := make([]byte, sz*len(values))
	for i, v := range values {
		if err := encodeSample(out[i*sz:], dt, sampleValue{u64: uint64(v)}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeReals explicit-rule-encodes real32/real64 samples.
func EncodeReals(dt signalmodel.DataType, values []float64) ([]byte, error) {
	sz := dt.SampleSize()
	out := make([]byte, sz*len(values))
	for i, v := range values {
		if err := encodeSample(out[i*sz:], dt, sampleValue{f64: v}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeComplexes explicit-rule-encodes complex32/complex64 samples (each
// value is a pair of reals).
func EncodeComplexes(dt signalmodel.DataType, values []complex128) ([]byte, error) {
	sz := dt.SampleSize()
	out := make([]byte, sz*len(values))
	for i, v := range values {
		sv := sampleValue{c128real: real(v), c128imag: imag(v)}
		if err := encodeSample(out[i*sz:], dt, sv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeImplicitInt builds the one-sample payload for a linear/constant
// integer signal.
func EncodeImplicitInt(dt signalmodel.DataType, v int64) ([]byte, error) {
	return EncodeInts(dt, []int64{v})
}

// EncodeImplicitReal builds the one-sample payload for a linear/constant
// real signal.
func EncodeImplicitReal(dt signalmodel.DataType, v float64) ([]byte, error) {
	return EncodeReals(dt, []float64{v})
}
