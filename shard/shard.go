package shard

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pbai/sharder/manifest"
	"github.com/pbai/sharder/onnx"
)

// Config controls shard planning and writing.
type Config struct {
	// OutputDir receives the shard files
	OutputDir string
	// BaseName is the graph definition filename, e.g. "model.onnx"; shard
	// files are named "<BaseName>_data_<suffix>"
	BaseName string
	// LayersPerChunk is the number of transformer layers packed into one
	// layer shard; must be >= 1
	LayersPerChunk int
	// SplitBase writes embedding+norm and lm_head as their own shards.
	// When false all base weights merge into one shard and every shard
	// takes a sequential numeric filename.
	SplitBase bool
}

func (c Config) validate() error {
	if c.OutputDir == "" {
		return errors.New("output directory not set")
	}
	if c.BaseName == "" {
		return errors.New("base name not set")
	}
	if c.LayersPerChunk < 1 {
		return fmt.Errorf("layers per chunk must be >= 1, got %d", c.LayersPerChunk)
	}
	return nil
}

// Group is one planned shard: the tensors written together into one file.
type Group struct {
	ID         string
	Kind       manifest.ShardKind
	Filename   string
	Label      string
	LayerRange *[2]int
	Tensors    []*onnx.Tensor
}

// Event reports one written shard to an observer. The zero callback is
// allowed; the writer itself never prints.
type Event struct {
	ID       string
	Filename string
	Label    string
	Bytes    int64
	Tensors  int
	Elapsed  time.Duration
}

type EventFunc func(Event)

// Plan orders the classified buckets into shard groups. Emission order is
// fixed: base, ascending layer ranges, output head. Ranges with no tensors
// are dropped and never consume a filename index.
func Plan(result *Result, cfg Config) ([]Group, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var groups []Group

	if cfg.SplitBase {
		embed := make([]*onnx.Tensor, 0, len(result.Embed)+len(result.Norm))
		embed = append(embed, result.Embed...)
		embed = append(embed, result.Norm...)
		if len(embed) > 0 {
			groups = append(groups, Group{
				ID:       "embed",
				Kind:     manifest.KindEmbed,
				Filename: cfg.BaseName + "_data_embed",
				Label:    "embed + norm",
				Tensors:  embed,
			})
		}

		for _, g := range layerGroups(result, cfg.LayersPerChunk) {
			g.Filename = fmt.Sprintf("%s_data_%d", cfg.BaseName, g.LayerRange[0])
			if g.LayerRange[0] == g.LayerRange[1] {
				g.ID = fmt.Sprintf("layer_%d", g.LayerRange[0])
				g.Label = fmt.Sprintf("layer %d", g.LayerRange[0])
			} else {
				g.ID = fmt.Sprintf("layers_%d-%d", g.LayerRange[0], g.LayerRange[1])
				g.Label = fmt.Sprintf("layers %d-%d", g.LayerRange[0], g.LayerRange[1])
			}
			groups = append(groups, g)
		}

		if len(result.LMHead) > 0 {
			groups = append(groups, Group{
				ID:       "lm_head",
				Kind:     manifest.KindLMHead,
				Filename: cfg.BaseName + "_data_lm_head",
				Label:    "lm_head",
				Tensors:  result.LMHead,
			})
		}

		return groups, nil
	}

	// merged mode: one combined base shard, sequential numeric filenames
	idx := 0
	base := make([]*onnx.Tensor, 0, len(result.Embed)+len(result.Norm)+len(result.LMHead))
	base = append(base, result.Embed...)
	base = append(base, result.Norm...)
	base = append(base, result.LMHead...)
	if len(base) > 0 {
		groups = append(groups, Group{
			ID:       "embed",
			Kind:     manifest.KindEmbed,
			Filename: fmt.Sprintf("%s_data_%d", cfg.BaseName, idx),
			Label:    "base (embed + norm + lm_head)",
			Tensors:  base,
		})
		idx++
	}

	for _, g := range layerGroups(result, cfg.LayersPerChunk) {
		g.Filename = fmt.Sprintf("%s_data_%d", cfg.BaseName, idx)
		g.ID = fmt.Sprintf("layers_%d-%d", g.LayerRange[0], g.LayerRange[1])
		g.Label = fmt.Sprintf("layers %d-%d", g.LayerRange[0], g.LayerRange[1])
		groups = append(groups, g)
		idx++
	}

	return groups, nil
}

// layerGroups partitions [0, TotalLayers) into contiguous ranges of
// LayersPerChunk, the last truncated to fit, skipping empty ranges. IDs,
// labels and filenames are mode-specific and filled in by Plan.
func layerGroups(result *Result, layersPerChunk int) []Group {
	var groups []Group

	totalLayers := result.TotalLayers()
	for start := 0; start < totalLayers; start += layersPerChunk {
		end := min(start+layersPerChunk, totalLayers) - 1

		var tensors []*onnx.Tensor
		for layer := start; layer <= end; layer++ {
			tensors = append(tensors, result.Layers[layer]...)
		}
		if len(tensors) == 0 {
			continue
		}

		groups = append(groups, Group{
			Kind:       manifest.KindLayer,
			LayerRange: &[2]int{start, end},
			Tensors:    tensors,
		})
	}

	return groups
}

// Write serializes each group into its data file, rewriting tensor external
// references in place, then hashes every finished file. Any I/O failure
// aborts the run before a manifest can reference the partial output.
func Write(groups []Group, cfg Config, fn EventFunc) ([]manifest.Shard, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	shards := make([]manifest.Shard, 0, len(groups))
	for _, g := range groups {
		start := time.Now()

		n, err := writeGroup(g, cfg)
		if err != nil {
			return nil, err
		}

		digest, err := manifest.Digest(filepath.Join(cfg.OutputDir, g.Filename))
		if err != nil {
			return nil, err
		}

		shards = append(shards, manifest.Shard{
			ID:         g.ID,
			Kind:       g.Kind,
			Filename:   g.Filename,
			Bytes:      n,
			Hash:       digest,
			LayerRange: g.LayerRange,
		})

		if fn != nil {
			fn(Event{
				ID:       g.ID,
				Filename: g.Filename,
				Label:    g.Label,
				Bytes:    n,
				Tensors:  len(g.Tensors),
				Elapsed:  time.Since(start),
			})
		}
	}

	return shards, nil
}

// writeGroup writes one shard file and returns its byte count. Each tensor's
// payload lands at the current cursor; the tensor is then rewritten to
// reference (filename, offset, length) and its inline payload dropped.
func writeGroup(g Group, cfg Config) (int64, error) {
	f, err := os.Create(filepath.Join(cfg.OutputDir, g.Filename))
	if err != nil {
		return 0, fmt.Errorf("create shard %s: %w", g.Filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	var offset int64
	for _, t := range g.Tensors {
		raw, err := t.Bytes()
		if err != nil {
			return 0, err
		}

		if _, err := w.Write(raw); err != nil {
			return 0, fmt.Errorf("write shard %s: %w", g.Filename, err)
		}

		length := int64(len(raw))
		t.SetExternal(g.Filename, offset, length)
		offset += length
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("write shard %s: %w", g.Filename, err)
	}

	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close shard %s: %w", g.Filename, err)
	}

	return offset, nil
}
