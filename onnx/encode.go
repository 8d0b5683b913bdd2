package onnx

import (
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes the model back to ModelProto wire format. Fields that
// were never interpreted are emitted from their original bytes.
func (m *Model) Encode() []byte {
	var b []byte
	for _, f := range m.fields {
		if f.graph {
			b = appendTag(b, modelGraph, protowire.BytesType)
			b = protowire.AppendBytes(b, m.Graph.encode())
			continue
		}
		b = append(b, f.raw...)
	}
	return b
}

func (g *Graph) encode() []byte {
	var b []byte
	for _, f := range g.fields {
		if f.tensor != nil {
			b = appendTag(b, graphInitializer, protowire.BytesType)
			b = protowire.AppendBytes(b, f.tensor.encode())
			continue
		}
		b = append(b, f.raw...)
	}
	return b
}

func (t *Tensor) encode() []byte {
	var b []byte
	for _, f := range t.fields {
		b = append(b, f...)
	}

	if t.External != nil {
		b = appendEntry(b, "location", t.External.Location)
		b = appendEntry(b, "offset", strconv.FormatInt(t.External.Offset, 10))
		b = appendEntry(b, "length", strconv.FormatInt(t.External.Length, 10))
		b = appendTag(b, tensorDataLocation, protowire.VarintType)
		b = protowire.AppendVarint(b, locationExternal)
		return b
	}

	if t.Data != nil {
		b = appendTag(b, tensorRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}

	if len(t.floatData) > 0 {
		var packed []byte
		for _, v := range t.floatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = appendTag(b, tensorFloatData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(t.int32Data) > 0 {
		var packed []byte
		for _, v := range t.int32Data {
			packed = protowire.AppendVarint(packed, uint64(uint32(v)))
		}
		b = appendTag(b, tensorInt32Data, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(t.int64Data) > 0 {
		var packed []byte
		for _, v := range t.int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendTag(b, tensorInt64Data, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(t.uint64Data) > 0 {
		var packed []byte
		for _, v := range t.uint64Data {
			packed = protowire.AppendVarint(packed, v)
		}
		b = appendTag(b, tensorUint64Data, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(t.doubleData) > 0 {
		var packed []byte
		for _, v := range t.doubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendTag(b, tensorDoubleData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	return b
}

func appendEntry(b []byte, key, value string) []byte {
	var entry []byte
	entry = appendTag(entry, entryKey, protowire.BytesType)
	entry = protowire.AppendString(entry, key)
	entry = appendTag(entry, entryValue, protowire.BytesType)
	entry = protowire.AppendString(entry, value)

	b = appendTag(b, tensorExternalData, protowire.BytesType)
	return protowire.AppendBytes(b, entry)
}
