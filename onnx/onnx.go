// Package onnx reads and writes the subset of the ONNX protobuf format the
// sharding pipeline needs: graph nodes (name, inputs) and initializer tensors
// (name, dims, data type, payload, external-data references). Every field it
// does not interpret is carried through load and save verbatim, so producer
// metadata, opset imports, value infos and doc strings survive untouched.
package onnx

import (
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

// ModelProto field numbers (onnx.proto3).
const (
	modelIRVersion = 1
	modelGraph     = 7
)

// GraphProto field numbers.
const (
	graphNode        = 1
	graphInitializer = 5
)

// TensorProto field numbers.
const (
	tensorDims         = 1
	tensorDataType     = 2
	tensorFloatData    = 4
	tensorInt32Data    = 5
	tensorInt64Data    = 7
	tensorName         = 8
	tensorRawData      = 9
	tensorDoubleData   = 10
	tensorUint64Data   = 11
	tensorExternalData = 13
	tensorDataLocation = 14
)

// NodeProto field numbers.
const (
	nodeInput = 1
	nodeName  = 3
)

// StringStringEntryProto field numbers.
const (
	entryKey   = 1
	entryValue = 2
)

// TensorProto.DataLocation values.
const (
	locationDefault  = 0
	locationExternal = 1
)

// TensorProto.DataType values used by the pipeline.
const (
	TypeFloat    = 1
	TypeUint8    = 2
	TypeInt8     = 3
	TypeUint16   = 4
	TypeInt16    = 5
	TypeInt32    = 6
	TypeInt64    = 7
	TypeBool     = 9
	TypeFloat16  = 10
	TypeDouble   = 11
	TypeUint32   = 12
	TypeUint64   = 13
	TypeBFloat16 = 16
)

// rawField is one wire-format field kept verbatim, tag included.
type rawField []byte

// Model is a loaded ONNX model. Only the graph is interpreted; the remaining
// top-level fields are opaque.
type Model struct {
	IRVersion int64
	Graph     *Graph

	// top-level fields in file order; the entry holding the graph has a nil
	// raw slice and is rebuilt on save
	fields []modelField
}

type modelField struct {
	raw   rawField
	graph bool
}

// Graph holds the parsed node and initializer views. Nodes are read-only and
// re-emitted from their original bytes.
type Graph struct {
	Nodes        []Node
	Initializers []*Tensor

	fields []graphField
}

type graphField struct {
	raw    rawField
	tensor *Tensor
}

// Node is the connectivity view of one graph node.
type Node struct {
	Name   string
	Inputs []string
}

// ExternalRef points a tensor at out-of-line storage.
type ExternalRef struct {
	Location string
	Offset   int64
	Length   int64
}

// Tensor is one named initializer. Payload lives either inline (Data or one
// of the typed slices) or out of line via External, never both.
type Tensor struct {
	Name     string
	DataType int32
	Dims     []int64

	Data       []byte
	floatData  []float32
	int32Data  []int32
	int64Data  []int64
	doubleData []float64
	uint64Data []uint64

	External *ExternalRef

	fields []rawField
}

// Load reads an ONNX model from disk. Tensors stored in external data files
// are pulled back into memory so the whole model can be resharded.
func Load(p string) (*Model, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}

	m, err := ParseModel(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(p), err)
	}

	if err := m.loadExternal(filepath.Dir(p)); err != nil {
		return nil, err
	}

	return m, nil
}

// Save writes the model definition to disk. Tensors that were rewritten to
// reference shard files carry only their external-data descriptors.
func (m *Model) Save(p string) error {
	return os.WriteFile(p, m.Encode(), 0o644)
}

// loadExternal replaces external references with inline payloads, mirroring
// onnx.load(..., load_external_data=True).
func (m *Model) loadExternal(dir string) error {
	for _, t := range m.Graph.Initializers {
		if t.External == nil {
			continue
		}

		f, err := os.Open(filepath.Join(dir, t.External.Location))
		if err != nil {
			return fmt.Errorf("external data for %q: %w", t.Name, err)
		}

		data := make([]byte, t.External.Length)
		if _, err := f.ReadAt(data, t.External.Offset); err != nil {
			f.Close()
			return fmt.Errorf("external data for %q: %w", t.Name, err)
		}
		f.Close()

		t.Data = data
		t.External = nil
	}

	return nil
}

// SetExternal drops the tensor's inline payload and records its new location.
func (t *Tensor) SetExternal(location string, offset, length int64) {
	t.Data = nil
	t.floatData = nil
	t.int32Data = nil
	t.int64Data = nil
	t.doubleData = nil
	t.uint64Data = nil
	t.External = &ExternalRef{Location: location, Offset: offset, Length: length}
}

func appendTag(b []byte, num protowire.Number, typ protowire.Type) []byte {
	return protowire.AppendVarint(b, protowire.EncodeTag(num, typ))
}
