package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfig(t *testing.T) {
	dir := t.TempDir()

	p, err := WriteConfig(dir, "llama", 7)
	require.NoError(t, err)

	b, err := os.ReadFile(p)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))

	runtime := doc["transformers.js_config"].(map[string]any)
	assert.Equal(t, "llama", runtime["model_type"])
	assert.EqualValues(t, 7, runtime["use_external_data_format"])
}

func TestCopyTokenizer(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "tokenizer.json"), []byte(`{"version":"1.0"}`), 0o644))
	// tokenizer_config.json deliberately absent

	copied, err := CopyTokenizer(src, dst)
	require.NoError(t, err)

	require.Len(t, copied, 1)
	assert.Equal(t, filepath.Join(dst, "tokenizer.json"), copied[0])

	b, err := os.ReadFile(copied[0])
	require.NoError(t, err)
	assert.Equal(t, `{"version":"1.0"}`, string(b))

	_, err = os.Stat(filepath.Join(dst, "tokenizer_config.json"))
	assert.True(t, os.IsNotExist(err))
}
