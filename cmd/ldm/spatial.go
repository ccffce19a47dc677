// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/layers/transformer"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

type spatialFlags struct {
	config                   transformer.SpatialConfig
	batchSize, height, width int
	contextTokens            int
	dtypeName                string
	seed                     int64
}

func newSpatialCmd() *cobra.Command {
	var f spatialFlags
	cmd := &cobra.Command{
		Use:   "spatial",
		Short: "Run a spatial transformer on a random feature map and report shapes, strategy and memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := backends.New()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			rows, err := runSpatial(backend, f)
			if err != nil {
				return err
			}
			r := newReport(cmd.OutOrStdout(), termenv.NewOutput(cmd.OutOrStdout()))
			r.Table("Spatial transformer", []string{"Property", "Value"}, rows)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.config.InChannels, "channels", 32, "Channels of the feature map.")
	flags.IntVar(&f.config.NumHeads, "heads", 4, "Number of attention heads.")
	flags.IntVar(&f.config.HeadDim, "head-dim", 8, "Dimension of each attention head.")
	flags.IntVar(&f.config.Depth, "depth", 1, "Number of transformer blocks.")
	flags.IntVar(&f.config.NumGroups, "groups", 8, "Number of groups of the input normalization.")
	flags.BoolVar(&f.config.Residual, "residual", false, "Add residual connections inside the transformer blocks.")
	flags.IntVar(&f.batchSize, "batch", 1, "Batch size.")
	flags.IntVar(&f.height, "height", 8, "Height of the feature map.")
	flags.IntVar(&f.width, "width", 8, "Width of the feature map.")
	flags.IntVar(&f.contextTokens, "context-tokens", 0,
		"Number of context tokens for the cross-attention. If 0, the blocks attend to their own input.")
	flags.IntVar(&f.config.ContextDim, "context-dim", 16, "Features of the context tokens.")
	flags.StringVar(&f.dtypeName, "dtype", "float32", "DType of the weights and the feature map.")
	flags.Int64Var(&f.seed, "seed", 42, "Random seed of the weights and inputs.")
	return cmd
}

// runSpatial builds the transformer described by the flags and runs it once.
func runSpatial(backend backends.Backend, f spatialFlags) ([][]string, error) {
	dtype, err := dtypes.FromName(f.dtypeName)
	if err != nil {
		return nil, err
	}
	rng := random.NewWithSeed(f.seed)
	config := f.config
	config.DType = dtype
	config.Initializer = initializer.XavierUniform(rng.Split())
	if f.contextTokens == 0 {
		config.ContextDim = 0
	}
	spatial, err := transformer.NewSpatial(backend, config)
	if err != nil {
		return nil, err
	}

	x := rng.Normal(shapes.Make(dtype, f.batchSize, config.InChannels, f.height, f.width))
	var context *tensors.Tensor
	if f.contextTokens > 0 {
		context = rng.Normal(shapes.Make(dtype, f.batchSize, f.contextTokens, config.ContextDim))
	}
	start := time.Now()
	y, err := spatial.Compute(x, context, nil)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	klog.V(2).Infof("spatial transformer %s -> %s in %s", x.Shape(), y.Shape(), elapsed)

	// Score matrices a reference attention materializes per block: self-attention and cross-attention.
	seqLen := f.height * f.width
	keyLen := seqLen
	if f.contextTokens > 0 {
		keyLen = f.contextTokens
	}
	scores := shapes.Make(dtype, f.batchSize, config.NumHeads, seqLen, seqLen).Memory() +
		shapes.Make(dtype, f.batchSize, config.NumHeads, seqLen, keyLen).Memory()

	mean, std := stat.MeanStdDev(y.Float64s(), nil)
	strategyName := "-"
	if blocks := spatial.Blocks(); len(blocks) > 0 {
		strategyName = blocks[0].SelfAttention().Strategy().Name()
	}
	return [][]string{
		{"Backend", backend.Name()},
		{"Attention", strategyName},
		{"Input", x.Shape().String()},
		{"Context", contextString(context)},
		{"Output", y.Shape().String()},
		{"Inner dim", humanize.Comma(int64(spatial.InnerDim()))},
		{"Input memory", humanize.IBytes(uint64(x.Memory()))},
		{"Score memory per block", humanize.IBytes(uint64(scores))},
		{"Output mean", formatFloat(mean, 4)},
		{"Output std", formatFloat(std, 4)},
		{"Elapsed", elapsed.Round(time.Microsecond).String()},
	}, nil
}

func contextString(context *tensors.Tensor) string {
	if context == nil {
		return "(self)"
	}
	return fmt.Sprint(context.Shape())
}
