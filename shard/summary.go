package shard

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/exp/maps"

	"github.com/pbai/sharder/format"
	"github.com/pbai/sharder/onnx"
)

// Summary renders the classification breakdown as a table: one row per base
// bucket, one per layer. Reporting only; the classifier itself never prints.
func Summary(w io.Writer, result *Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"GROUP", "TENSORS", "SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")

	appendRow := func(name string, tensors []*onnx.Tensor) {
		table.Append([]string{
			name,
			strconv.Itoa(len(tensors)),
			format.HumanBytes(groupBytes(tensors)),
		})
	}

	appendRow("embed", result.Embed)
	appendRow("norm", result.Norm)
	appendRow("lm_head", result.LMHead)

	layers := maps.Keys(result.Layers)
	slices.Sort(layers)
	for _, layer := range layers {
		appendRow(fmt.Sprintf("layer %d", layer), result.Layers[layer])
	}

	table.Render()
}

func groupBytes(tensors []*onnx.Tensor) int64 {
	var n int64
	for _, t := range tensors {
		if b, err := t.Bytes(); err == nil {
			n += int64(len(b))
		}
	}
	return n
}
