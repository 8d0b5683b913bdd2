package shard

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbai/sharder/manifest"
	"github.com/pbai/sharder/onnx"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		OutputDir:      t.TempDir(),
		BaseName:       "model.onnx",
		LayersPerChunk: 1,
		SplitBase:      true,
	}
}

func fixture() []*onnx.Tensor {
	return []*onnx.Tensor{
		{Name: "model.layers.0.self_attn.q_proj.weight", Data: bytes.Repeat([]byte{0x10}, 10)},
		{Name: "model.layers.0.self_attn.q_proj.bias", Data: bytes.Repeat([]byte{0x02}, 2)},
		{Name: "model.layers.1.self_attn.q_proj.weight", Data: bytes.Repeat([]byte{0x11}, 10)},
		{Name: "model.embed_tokens.weight", Data: bytes.Repeat([]byte{0xee}, 100)},
		{Name: "model.norm.weight", Data: bytes.Repeat([]byte{0x44}, 4)},
	}
}

func classifyAndPlan(t *testing.T, ts []*onnx.Tensor, cfg Config) []Group {
	t.Helper()
	result := NewClassifier(DefaultRules(), nil).Partition(ts)
	groups, err := Plan(result, cfg)
	require.NoError(t, err)
	return groups
}

func TestSplitBaseOneLayerPerChunk(t *testing.T) {
	cfg := testConfig(t)
	shards, err := Write(classifyAndPlan(t, fixture(), cfg), cfg, nil)
	require.NoError(t, err)

	require.Len(t, shards, 3)

	assert.Equal(t, "embed", shards[0].ID)
	assert.Equal(t, manifest.KindEmbed, shards[0].Kind)
	assert.Equal(t, "model.onnx_data_embed", shards[0].Filename)
	assert.EqualValues(t, 104, shards[0].Bytes)
	assert.Nil(t, shards[0].LayerRange)

	assert.Equal(t, "layer_0", shards[1].ID)
	assert.Equal(t, manifest.KindLayer, shards[1].Kind)
	assert.Equal(t, "model.onnx_data_0", shards[1].Filename)
	assert.EqualValues(t, 12, shards[1].Bytes)
	assert.Equal(t, &[2]int{0, 0}, shards[1].LayerRange)

	assert.Equal(t, "layer_1", shards[2].ID)
	assert.Equal(t, "model.onnx_data_1", shards[2].Filename)
	assert.EqualValues(t, 10, shards[2].Bytes)
	assert.Equal(t, &[2]int{1, 1}, shards[2].LayerRange)

	// no lm_head shard: the bucket is empty
	for _, s := range shards {
		assert.NotEqual(t, manifest.KindLMHead, s.Kind)
	}

	for _, s := range shards {
		fi, err := os.Stat(filepath.Join(cfg.OutputDir, s.Filename))
		require.NoError(t, err)
		assert.Equal(t, s.Bytes, fi.Size())
	}
}

func TestSplitBaseTwoLayersPerChunk(t *testing.T) {
	cfg := testConfig(t)
	cfg.LayersPerChunk = 2

	shards, err := Write(classifyAndPlan(t, fixture(), cfg), cfg, nil)
	require.NoError(t, err)

	require.Len(t, shards, 2)
	assert.Equal(t, "layers_0-1", shards[1].ID)
	assert.Equal(t, "model.onnx_data_0", shards[1].Filename)
	assert.EqualValues(t, 22, shards[1].Bytes)
	assert.Equal(t, &[2]int{0, 1}, shards[1].LayerRange)
}

func TestMergedBase(t *testing.T) {
	cfg := testConfig(t)
	cfg.SplitBase = false

	ts := append(fixture(), &onnx.Tensor{Name: "lmhead", Data: bytes.Repeat([]byte{0x77}, 6)})
	nodes := []onnx.Node{{Name: "/lm_head/MatMul", Inputs: []string{"lmhead"}}}
	result := NewClassifier(DefaultRules(), nodes).Partition(ts)
	groups, err := Plan(result, cfg)
	require.NoError(t, err)

	shards, err := Write(groups, cfg, nil)
	require.NoError(t, err)

	require.Len(t, shards, 3)

	// merged base: embed + norm + lm_head in one shard, kind embed, no range
	assert.Equal(t, "embed", shards[0].ID)
	assert.Equal(t, manifest.KindEmbed, shards[0].Kind)
	assert.Equal(t, "model.onnx_data_0", shards[0].Filename)
	assert.EqualValues(t, 110, shards[0].Bytes)
	assert.Nil(t, shards[0].LayerRange)

	// layer shards take sequential filenames and ranged ids
	assert.Equal(t, "layers_0-0", shards[1].ID)
	assert.Equal(t, "model.onnx_data_1", shards[1].Filename)
	assert.Equal(t, "layers_1-1", shards[2].ID)
	assert.Equal(t, "model.onnx_data_2", shards[2].Filename)
}

func TestEmptyLayerRangeSkipped(t *testing.T) {
	cfg := testConfig(t)

	// layers 0 and 2 populated, layer 1 missing
	ts := []*onnx.Tensor{
		{Name: "model.layers.0.mlp.up_proj.weight", Data: []byte{1, 2}},
		{Name: "model.layers.2.mlp.up_proj.weight", Data: []byte{3, 4}},
	}

	shards, err := Write(classifyAndPlan(t, ts, cfg), cfg, nil)
	require.NoError(t, err)

	require.Len(t, shards, 2)
	assert.Equal(t, "layer_0", shards[0].ID)
	assert.Equal(t, "layer_2", shards[1].ID)

	_, err = os.Stat(filepath.Join(cfg.OutputDir, "model.onnx_data_1"))
	assert.True(t, os.IsNotExist(err), "empty range must not produce a file")
}

func TestWriteRewritesExternalRefs(t *testing.T) {
	cfg := testConfig(t)
	ts := fixture()

	_, err := Write(classifyAndPlan(t, ts, cfg), cfg, nil)
	require.NoError(t, err)

	// embed group: model.embed_tokens.weight then model.norm.weight
	embed, norm := ts[3], ts[4]
	require.NotNil(t, embed.External)
	assert.Equal(t, "model.onnx_data_embed", embed.External.Location)
	assert.EqualValues(t, 0, embed.External.Offset)
	assert.EqualValues(t, 100, embed.External.Length)

	require.NotNil(t, norm.External)
	assert.Equal(t, "model.onnx_data_embed", norm.External.Location)
	assert.EqualValues(t, 100, norm.External.Offset)
	assert.EqualValues(t, 4, norm.External.Length)

	// offsets are contiguous and span [0, bytes)
	assert.EqualValues(t, 104, norm.External.Offset+norm.External.Length)

	// inline payloads are gone
	assert.Nil(t, embed.Data)

	_, err = embed.Bytes()
	assert.Error(t, err, "an externalized tensor has no payload to shard again")
}

func TestWriteTwiceRejected(t *testing.T) {
	cfg := testConfig(t)
	ts := fixture()

	groups := classifyAndPlan(t, ts, cfg)
	_, err := Write(groups, cfg, nil)
	require.NoError(t, err)

	_, err = Write(groups, cfg, nil)
	require.Error(t, err)
}

func TestHashDeterminismAndSensitivity(t *testing.T) {
	run := func(mutate bool) map[string]string {
		cfg := testConfig(t)
		ts := fixture()
		if mutate {
			ts[2].Data[0] ^= 0xff // model.layers.1.self_attn.q_proj.weight
		}

		shards, err := Write(classifyAndPlan(t, ts, cfg), cfg, nil)
		require.NoError(t, err)

		hashes := make(map[string]string)
		for _, s := range shards {
			hashes[s.ID] = s.Hash
		}
		return hashes
	}

	first, second, mutated := run(false), run(false), run(true)

	assert.Equal(t, first, second, "identical input must hash identically")

	assert.NotEqual(t, first["layer_1"], mutated["layer_1"], "flipped byte must change its shard hash")
	assert.Equal(t, first["embed"], mutated["embed"], "other shards must be unaffected")
	assert.Equal(t, first["layer_0"], mutated["layer_0"], "other shards must be unaffected")
}

func TestPlanValidatesChunkSize(t *testing.T) {
	cfg := testConfig(t)
	cfg.LayersPerChunk = 0

	_, err := Plan(NewClassifier(DefaultRules(), nil).Partition(fixture()), cfg)
	require.Error(t, err)
}

func TestWriteEventsOrdered(t *testing.T) {
	cfg := testConfig(t)

	var ids []string
	_, err := Write(classifyAndPlan(t, fixture(), cfg), cfg, func(ev Event) {
		ids = append(ids, ev.ID)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"embed", "layer_0", "layer_1"}, ids)
}
