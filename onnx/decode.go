package onnx

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

var errMalformed = errors.New("malformed protobuf")

// next consumes one field from b, returning its number, type, payload start
// offset, and total encoded length.
func next(b []byte) (num protowire.Number, typ protowire.Type, tagLen, fieldLen int, err error) {
	num, typ, tagLen = protowire.ConsumeTag(b)
	if tagLen < 0 {
		return 0, 0, 0, 0, errMalformed
	}

	n := protowire.ConsumeFieldValue(num, typ, b[tagLen:])
	if n < 0 {
		return 0, 0, 0, 0, errMalformed
	}

	return num, typ, tagLen, tagLen + n, nil
}

// ParseModel decodes a serialized ModelProto.
func ParseModel(b []byte) (*Model, error) {
	m := &Model{}

	for len(b) > 0 {
		num, typ, tagLen, fieldLen, err := next(b)
		if err != nil {
			return nil, err
		}
		raw := b[:fieldLen]

		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(b[tagLen:fieldLen])
			m.IRVersion = int64(v)
			m.fields = append(m.fields, modelField{raw: raw})
		case num == modelGraph && typ == protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b[tagLen:fieldLen])
			if n < 0 {
				return nil, errMalformed
			}
			g, err := parseGraph(payload)
			if err != nil {
				return nil, err
			}
			m.Graph = g
			m.fields = append(m.fields, modelField{graph: true})
		default:
			m.fields = append(m.fields, modelField{raw: raw})
		}

		b = b[fieldLen:]
	}

	if m.Graph == nil {
		return nil, errors.New("model has no graph")
	}

	return m, nil
}

func parseGraph(b []byte) (*Graph, error) {
	g := &Graph{}

	for len(b) > 0 {
		num, typ, tagLen, fieldLen, err := next(b)
		if err != nil {
			return nil, err
		}
		raw := b[:fieldLen]

		switch {
		case num == graphNode && typ == protowire.BytesType:
			payload, _ := protowire.ConsumeBytes(b[tagLen:fieldLen])
			node, err := parseNode(payload)
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, node)
			g.fields = append(g.fields, graphField{raw: raw})
		case num == graphInitializer && typ == protowire.BytesType:
			payload, _ := protowire.ConsumeBytes(b[tagLen:fieldLen])
			t, err := parseTensor(payload)
			if err != nil {
				return nil, err
			}
			g.Initializers = append(g.Initializers, t)
			g.fields = append(g.fields, graphField{tensor: t})
		default:
			g.fields = append(g.fields, graphField{raw: raw})
		}

		b = b[fieldLen:]
	}

	return g, nil
}

func parseNode(b []byte) (Node, error) {
	var node Node

	for len(b) > 0 {
		num, typ, tagLen, fieldLen, err := next(b)
		if err != nil {
			return Node{}, err
		}

		if typ == protowire.BytesType {
			payload, _ := protowire.ConsumeBytes(b[tagLen:])
			switch num {
			case nodeInput:
				node.Inputs = append(node.Inputs, string(payload))
			case nodeName:
				node.Name = string(payload)
			}
		}

		b = b[fieldLen:]
	}

	return node, nil
}

func parseTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	var entries [][2]string

	for len(b) > 0 {
		num, typ, tagLen, fieldLen, err := next(b)
		if err != nil {
			return nil, err
		}
		raw := b[:fieldLen]
		payload := b[tagLen:fieldLen]

		switch num {
		case tensorDims:
			vs, err := varints(payload, typ)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				t.Dims = append(t.Dims, int64(v))
			}
			t.fields = append(t.fields, raw)
		case tensorDataType:
			vs, err := varints(payload, typ)
			if err != nil {
				return nil, err
			}
			if len(vs) > 0 {
				t.DataType = int32(vs[len(vs)-1])
			}
			t.fields = append(t.fields, raw)
		case tensorName:
			s, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, errMalformed
			}
			t.Name = string(s)
			t.fields = append(t.fields, raw)
		case tensorRawData:
			s, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, errMalformed
			}
			t.Data = append([]byte(nil), s...)
		case tensorFloatData:
			vs, err := fixed32s(payload, typ)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				t.floatData = append(t.floatData, math.Float32frombits(v))
			}
		case tensorInt32Data:
			vs, err := varints(payload, typ)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				t.int32Data = append(t.int32Data, int32(v))
			}
		case tensorInt64Data:
			vs, err := varints(payload, typ)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				t.int64Data = append(t.int64Data, int64(v))
			}
		case tensorUint64Data:
			vs, err := varints(payload, typ)
			if err != nil {
				return nil, err
			}
			t.uint64Data = append(t.uint64Data, vs...)
		case tensorDoubleData:
			vs, err := fixed64s(payload, typ)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				t.doubleData = append(t.doubleData, math.Float64frombits(v))
			}
		case tensorExternalData:
			s, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, errMalformed
			}
			k, v, err := parseEntry(s)
			if err != nil {
				return nil, err
			}
			entries = append(entries, [2]string{k, v})
		case tensorDataLocation:
			// consumed; re-derived from External on save
		default:
			t.fields = append(t.fields, raw)
		}

		b = b[fieldLen:]
	}

	if len(entries) > 0 {
		ref, err := externalRef(entries)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		t.External = ref
	}

	return t, nil
}

func parseEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, tagLen, fieldLen, err := next(b)
		if err != nil {
			return "", "", err
		}

		if typ == protowire.BytesType {
			payload, _ := protowire.ConsumeBytes(b[tagLen:])
			switch num {
			case entryKey:
				key = string(payload)
			case entryValue:
				value = string(payload)
			}
		}

		b = b[fieldLen:]
	}

	return key, value, nil
}

func externalRef(entries [][2]string) (*ExternalRef, error) {
	ref := &ExternalRef{Length: -1}
	for _, e := range entries {
		switch e[0] {
		case "location":
			ref.Location = e[1]
		case "offset":
			v, err := strconv.ParseInt(e[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad external offset %q", e[1])
			}
			ref.Offset = v
		case "length":
			v, err := strconv.ParseInt(e[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad external length %q", e[1])
			}
			ref.Length = v
		}
	}

	if ref.Location == "" || ref.Length < 0 {
		return nil, errors.New("incomplete external data reference")
	}

	return ref, nil
}

// varints decodes a repeated varint field in either packed or unpacked form.
func varints(payload []byte, typ protowire.Type) ([]uint64, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, errMalformed
		}
		return []uint64{v}, nil
	case protowire.BytesType:
		b, n := protowire.ConsumeBytes(payload)
		if n < 0 {
			return nil, errMalformed
		}
		var vs []uint64
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errMalformed
			}
			vs = append(vs, v)
			b = b[n:]
		}
		return vs, nil
	default:
		return nil, errMalformed
	}
}

func fixed32s(payload []byte, typ protowire.Type) ([]uint32, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(payload)
		if n < 0 {
			return nil, errMalformed
		}
		return []uint32{v}, nil
	case protowire.BytesType:
		b, n := protowire.ConsumeBytes(payload)
		if n < 0 {
			return nil, errMalformed
		}
		var vs []uint32
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, errMalformed
			}
			vs = append(vs, v)
			b = b[n:]
		}
		return vs, nil
	default:
		return nil, errMalformed
	}
}

func fixed64s(payload []byte, typ protowire.Type) ([]uint64, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(payload)
		if n < 0 {
			return nil, errMalformed
		}
		return []uint64{v}, nil
	case protowire.BytesType:
		b, n := protowire.ConsumeBytes(payload)
		if n < 0 {
			return nil, errMalformed
		}
		var vs []uint64
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, errMalformed
			}
			vs = append(vs, v)
			b = b[n:]
		}
		return vs, nil
	default:
		return nil, errMalformed
	}
}
