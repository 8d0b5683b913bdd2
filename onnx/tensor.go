package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Elements returns the element count implied by the tensor dims.
func (t *Tensor) Elements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Bytes returns the tensor payload as little-endian raw bytes. Tensors that
// carry typed repeated fields instead of raw_data are encoded on the fly.
// A tensor that already references external data has no payload to give; the
// writer treats that as a fatal error rather than double-sharding it.
func (t *Tensor) Bytes() ([]byte, error) {
	if t.External != nil {
		return nil, fmt.Errorf("tensor %q already references external data", t.Name)
	}

	switch {
	case t.Data != nil:
		return t.Data, nil
	case len(t.floatData) > 0:
		b := make([]byte, 0, len(t.floatData)*4)
		for _, v := range t.floatData {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
		}
		return b, nil
	case len(t.doubleData) > 0:
		b := make([]byte, 0, len(t.doubleData)*8)
		for _, v := range t.doubleData {
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
		}
		return b, nil
	case len(t.int64Data) > 0:
		b := make([]byte, 0, len(t.int64Data)*8)
		for _, v := range t.int64Data {
			b = binary.LittleEndian.AppendUint64(b, uint64(v))
		}
		return b, nil
	case len(t.uint64Data) > 0:
		b := make([]byte, 0, len(t.uint64Data)*8)
		for _, v := range t.uint64Data {
			b = binary.LittleEndian.AppendUint64(b, v)
		}
		return b, nil
	case len(t.int32Data) > 0:
		// int32_data is the storage field for every type narrower than 32
		// bits; the element width depends on the declared data type
		switch t.DataType {
		case TypeInt8, TypeUint8, TypeBool:
			b := make([]byte, 0, len(t.int32Data))
			for _, v := range t.int32Data {
				b = append(b, byte(v))
			}
			return b, nil
		case TypeInt16, TypeUint16, TypeFloat16, TypeBFloat16:
			b := make([]byte, 0, len(t.int32Data)*2)
			for _, v := range t.int32Data {
				b = binary.LittleEndian.AppendUint16(b, uint16(v))
			}
			return b, nil
		default:
			b := make([]byte, 0, len(t.int32Data)*4)
			for _, v := range t.int32Data {
				b = binary.LittleEndian.AppendUint32(b, uint32(v))
			}
			return b, nil
		}
	}

	return nil, nil
}
