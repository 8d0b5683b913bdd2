// Package bundle writes the deployment extras that accompany a sharded
// model: a transformers.js-compatible config and copies of the tokenizer
// files from the source checkpoint.
package bundle

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type runtimeConfig struct {
	ModelType       string `json:"model_type"`
	UseExternalData int    `json:"use_external_data_format"`
}

type deployConfig struct {
	TransformersJS runtimeConfig `json:"transformers.js_config"`
}

// WriteConfig emits config.json telling the browser runtime how many
// external data files to expect.
func WriteConfig(dir, modelType string, numDataFiles int) (string, error) {
	b, err := json.MarshalIndent(deployConfig{
		TransformersJS: runtimeConfig{
			ModelType:       modelType,
			UseExternalData: numDataFiles,
		},
	}, "", "  ")
	if err != nil {
		return "", err
	}

	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}

	return p, nil
}

var tokenizerFiles = []string{"tokenizer.json", "tokenizer_config.json"}

// CopyTokenizer copies tokenizer files from the source checkpoint directory.
// Missing files are logged and skipped; a deployment can supply its own.
func CopyTokenizer(srcDir, dstDir string) ([]string, error) {
	var copied []string
	for _, name := range tokenizerFiles {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); err != nil {
			slog.Warn("tokenizer file not found, skipping", "path", src)
			continue
		}

		dst := filepath.Join(dstDir, name)
		if err := copyFile(src, dst); err != nil {
			return nil, err
		}
		copied = append(copied, dst)
	}

	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}

	return out.Close()
}
