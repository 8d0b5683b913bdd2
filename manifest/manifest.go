// Package manifest defines the shard manifest consumed by the browser-side
// loader to fetch and verify model weights incrementally.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SchemaVersion is the manifest schema emitted by this tool.
const SchemaVersion = "0.2"

type ShardKind string

const (
	KindEmbed  ShardKind = "embed"
	KindLayer  ShardKind = "layer"
	KindLMHead ShardKind = "lm_head"
)

// Shard describes one weight data file. LayerRange is the inclusive [start,
// end] span for layer shards; base shards leave it unset.
type Shard struct {
	ID         string    `json:"id"`
	Kind       ShardKind `json:"kind"`
	Filename   string    `json:"filename"`
	Bytes      int64     `json:"bytes"`
	Hash       string    `json:"hash"`
	LayerRange *[2]int   `json:"layer_range,omitempty"`
}

// Manifest is the versioned shard listing for one model variant. Shards keep
// emission order: base, ascending layer groups, output head.
type Manifest struct {
	Version     string  `json:"version"`
	ModelID     string  `json:"model_id"`
	Variant     string  `json:"variant"`
	Framework   string  `json:"framework"`
	Dtype       string  `json:"dtype"`
	TotalLayers int     `json:"total_layers"`
	Shards      []Shard `json:"shards"`
}

// New assembles a manifest document from model metadata and the ordered
// shard list.
func New(modelID, variant, framework, dtype string, totalLayers int, shards []Shard) *Manifest {
	return &Manifest{
		Version:     SchemaVersion,
		ModelID:     modelID,
		Variant:     variant,
		Framework:   framework,
		Dtype:       dtype,
		TotalLayers: totalLayers,
		Shards:      shards,
	}
}

// Write serializes the manifest to manifest.json in dir.
func (m *Manifest) Write(dir string) (string, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}

	p := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(p, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return p, nil
}
