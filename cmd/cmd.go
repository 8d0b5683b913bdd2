package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pbai/sharder/bundle"
	"github.com/pbai/sharder/envconfig"
	"github.com/pbai/sharder/format"
	"github.com/pbai/sharder/logutil"
	"github.com/pbai/sharder/manifest"
	"github.com/pbai/sharder/onnx"
	"github.com/pbai/sharder/progress"
	"github.com/pbai/sharder/shard"
	"github.com/pbai/sharder/version"
)

type runOptions struct {
	input          string
	output         string
	modelID        string
	variant        string
	dtype          string
	modelType      string
	layersPerChunk int
	splitBase      bool
	copyTokenizer  string
}

func NewCLI() *cobra.Command {
	var opts runOptions

	rootCmd := &cobra.Command{
		Use:     "sharder",
		Short:   "Split a model into layer-grouped weight shards for incremental delivery",
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			envconfig.LoadConfig()
			level := slog.LevelInfo
			if envconfig.Debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.input, "input", "", "Input model path (e.g. model_quantized.onnx)")
	flags.StringVar(&opts.output, "output", "", "Output directory for shards and manifest")
	flags.StringVar(&opts.modelID, "model-id", "", "Model identifier (e.g. Qwen/Qwen2.5-0.5B-Instruct)")
	flags.StringVar(&opts.variant, "variant", "base", "Variant label, identifies pre-merged LoRA weights")
	flags.StringVar(&opts.dtype, "dtype", "int8", "Quantization label (e.g. int8, q4f16, fp16)")
	flags.StringVar(&opts.modelType, "model-type", "llama", "Model architecture type for the runtime config")
	flags.IntVar(&opts.layersPerChunk, "layers-per-chunk", 1, "Transformer layers per shard")
	flags.BoolVar(&opts.splitBase, "split-base", true, "Write embed and lm_head as separate shards")
	flags.StringVar(&opts.copyTokenizer, "copy-tokenizer", "", "Directory to copy tokenizer files from")

	for _, required := range []string{"input", "output", "model-id"} {
		_ = rootCmd.MarkFlagRequired(required)
	}

	return rootCmd
}

func run(opts runOptions) error {
	cfg := shard.Config{
		OutputDir:      opts.output,
		BaseName:       baseName(opts.input),
		LayersPerChunk: opts.layersPerChunk,
		SplitBase:      opts.splitBase,
	}

	p := progressWriter()

	// load
	spinner := progress.NewSpinner(fmt.Sprintf("loading %s", filepath.Base(opts.input)))
	p.Set(spinner)
	model, err := onnx.Load(opts.input)
	p.Stop()
	if err != nil {
		return err
	}
	slog.Debug("model loaded",
		"ir_version", model.IRVersion,
		"nodes", len(model.Graph.Nodes),
		"initializers", len(model.Graph.Initializers))

	// classify
	classifier := shard.NewClassifier(shard.DefaultRules(), model.Graph.Nodes)
	result := classifier.Partition(model.Graph.Initializers)
	shard.Summary(os.Stderr, result)

	// plan and write shards
	groups, err := shard.Plan(result, cfg)
	if err != nil {
		return err
	}

	shards, err := shard.Write(groups, cfg, func(ev shard.Event) {
		fmt.Fprintf(os.Stderr, "  %s: %s (%s, %d tensors, %s)\n",
			ev.Filename, ev.Label, format.HumanBytes(ev.Bytes), ev.Tensors, ev.Elapsed.Round(time.Millisecond))
	})
	if err != nil {
		return err
	}

	// graph-only definition, all payloads externalized
	modelPath := filepath.Join(opts.output, cfg.BaseName)
	if err := model.Save(modelPath); err != nil {
		return err
	}
	if fi, err := os.Stat(modelPath); err == nil {
		fmt.Fprintf(os.Stderr, "  %s: graph only (%s)\n", cfg.BaseName, format.HumanBytes(fi.Size()))
	}

	// manifest last: an aborted run leaves shard files but never a manifest
	m := manifest.New(opts.modelID, opts.variant, "onnxruntime-web", opts.dtype, result.TotalLayers(), shards)
	manifestPath, err := m.Write(opts.output)
	if err != nil {
		return err
	}
	slog.Info("manifest written", "path", manifestPath, "shards", len(shards))

	// deployment extras
	if _, err := bundle.WriteConfig(opts.output, opts.modelType, len(shards)); err != nil {
		return err
	}
	if opts.copyTokenizer != "" {
		if _, err := bundle.CopyTokenizer(opts.copyTokenizer, opts.output); err != nil {
			return err
		}
	}

	var total int64
	for _, s := range shards {
		total += s.Bytes
	}
	fmt.Fprintf(os.Stderr, "done: %d shards, %d layers, %s total\n",
		len(shards), result.TotalLayers(), format.HumanBytes(total))

	return nil
}

// baseName maps any input filename to the canonical graph definition name,
// keeping the extension: foo_quantized.onnx -> model.onnx.
func baseName(input string) string {
	ext := filepath.Ext(input)
	if ext == "" {
		ext = ".onnx"
	}
	return "model" + ext
}

func progressWriter() *progress.Progress {
	if envconfig.NoProgress {
		return progress.NewProgress(io.Discard)
	}
	return progress.NewProgress(os.Stderr)
}
