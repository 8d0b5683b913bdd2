// Package shard classifies model weight tensors by architectural role and
// rewrites them into size-bounded external data files plus a manifest.
package shard

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pbai/sharder/onnx"
)

// Rules holds the name patterns that drive classification. Instances are
// immutable once built; use DefaultRules for transformer checkpoints in the
// huggingface naming convention.
type Rules struct {
	// layer matches tensor names that carry their layer index directly,
	// e.g. "model.layers.7.self_attn.q_proj.weight"
	layer *regexp.Regexp
	// nodeLayer matches graph node names that retain layer structure after
	// quantization renames the tensors, e.g. "/model/layers.7/attn/MatMul"
	nodeLayer *regexp.Regexp
	embed     *regexp.Regexp
	norm      *regexp.Regexp
	// head marks output-projection nodes by substring
	head string
}

func DefaultRules() Rules {
	return Rules{
		layer:     regexp.MustCompile(`^model\.layers\.(\d+)\.`),
		nodeLayer: regexp.MustCompile(`/model/layers\.(\d+)/`),
		embed:     regexp.MustCompile(`^model\.embed_tokens\.`),
		norm:      regexp.MustCompile(`^model\.norm\.`),
		head:      "/lm_head/",
	}
}

type Kind int

const (
	KindEmbedding Kind = iota
	KindOutputHead
	KindNormalization
	KindLayer
)

// Class is the tagged classification of one tensor. Layer is meaningful only
// when Kind is KindLayer.
type Class struct {
	Kind  Kind
	Layer int
}

// Classifier maps tensor names to semantic buckets. It is pure after
// construction: the connectivity indexes are built once from the node list
// and never change.
type Classifier struct {
	rules Rules

	// layerOf maps tensor names to the layer index recovered from graph
	// connectivity. Quantization renames weights to opaque names like
	// "onnx::MatMul_9124" but node names keep the layer structure, so each
	// node's inputs inherit its layer. First writer wins: a name already
	// mapped is never overwritten, keeping shared tensors stable.
	layerOf map[string]int

	// headInputs is the set of tensor names feeding output-projection nodes
	headInputs map[string]struct{}
}

func NewClassifier(rules Rules, nodes []onnx.Node) *Classifier {
	c := &Classifier{
		rules:      rules,
		layerOf:    make(map[string]int),
		headInputs: make(map[string]struct{}),
	}

	for _, node := range nodes {
		if m := rules.nodeLayer.FindStringSubmatch(node.Name); m != nil {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			for _, input := range node.Inputs {
				if _, ok := c.layerOf[input]; !ok {
					c.layerOf[input] = idx
				}
			}
		}
	}

	for _, node := range nodes {
		if rules.head != "" && strings.Contains(node.Name, rules.head) {
			for _, input := range node.Inputs {
				c.headInputs[input] = struct{}{}
			}
		}
	}

	return c
}

// Classify buckets a single tensor name. It is total: names matching no rule
// land in the embedding bucket so unanticipated base weights are never
// dropped. Direct name matches always win over connectivity inference.
func (c *Classifier) Classify(name string) Class {
	if m := c.rules.layer.FindStringSubmatch(name); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err == nil {
			return Class{Kind: KindLayer, Layer: idx}
		}
	}

	if idx, ok := c.layerOf[name]; ok {
		return Class{Kind: KindLayer, Layer: idx}
	}

	if c.rules.embed.MatchString(name) {
		return Class{Kind: KindEmbedding}
	}

	if c.rules.norm.MatchString(name) {
		return Class{Kind: KindNormalization}
	}

	if _, ok := c.headInputs[name]; ok {
		return Class{Kind: KindOutputHead}
	}

	return Class{Kind: KindEmbedding}
}

// Result partitions a tensor collection: every input tensor lands in exactly
// one of the four collections. MaxLayer is -1 when no layer tensors exist.
type Result struct {
	Embed  []*onnx.Tensor
	LMHead []*onnx.Tensor
	Norm   []*onnx.Tensor
	Layers map[int][]*onnx.Tensor

	MaxLayer int
}

// Partition classifies every tensor in order.
func (c *Classifier) Partition(tensors []*onnx.Tensor) *Result {
	result := &Result{
		Layers:   make(map[int][]*onnx.Tensor),
		MaxLayer: -1,
	}

	for _, t := range tensors {
		switch class := c.Classify(t.Name); class.Kind {
		case KindLayer:
			result.Layers[class.Layer] = append(result.Layers[class.Layer], t)
			result.MaxLayer = max(result.MaxLayer, class.Layer)
		case KindEmbedding:
			result.Embed = append(result.Embed, t)
		case KindOutputHead:
			result.LMHead = append(result.LMHead, t)
		case KindNormalization:
			result.Norm = append(result.Norm, t)
		}
	}

	if result.MaxLayer < 0 {
		slog.Warn("no layer tensors found; model will shard as base weights only")
	}

	return result
}

// TotalLayers returns MaxLayer+1, or 0 when no layers were found.
func (r *Result) TotalLayers() int {
	if r.MaxLayer < 0 {
		return 0
	}
	return r.MaxLayer + 1
}
