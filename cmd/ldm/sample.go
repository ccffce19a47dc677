// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/distribution"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

func newSampleCmd() *cobra.Command {
	var (
		mean, logVar []float64
		numSamples   int
		seed         int64
		showProgress bool
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample a diagonal Gaussian latent distribution and compare the empirical moments to the expected ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(mean) == 0 {
				return errors.New("--mean must have at least one value")
			}
			if len(mean) != len(logVar) {
				return errors.Errorf("--mean has %d values, but --logvar has %d", len(mean), len(logVar))
			}
			if numSamples < 2 {
				return errors.Errorf("--n must be at least 2, got %d", numSamples)
			}
			var progress io.Writer
			if showProgress {
				progress = cmd.ErrOrStderr()
			}
			rows, err := sampleMoments(mean, logVar, numSamples, random.NewWithSeed(seed), progress)
			if err != nil {
				return err
			}
			r := newReport(cmd.OutOrStdout(), termenv.NewOutput(cmd.OutOrStdout()))
			r.Table(fmt.Sprintf("Moments over %d samples", numSamples),
				[]string{"#", "Mean", "Empirical mean", "Variance", "Empirical variance", "Relative error"}, rows)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Float64SliceVar(&mean, "mean", []float64{0, 1, -2}, "Comma separated means of the distribution.")
	flags.Float64SliceVar(&logVar, "logvar", []float64{0, -1, 40}, "Comma separated log-variances, clamped to [-30, 20].")
	flags.IntVar(&numSamples, "n", 10_000, "Number of samples.")
	flags.Int64Var(&seed, "seed", 42, "Random seed.")
	flags.BoolVar(&showProgress, "progress", true, "Show a progress bar.")
	return cmd
}

// sampleMoments draws numSamples samples and returns one formatted row per element.
// If progress is not nil, a progress bar is written to it.
func sampleMoments(mean, logVar []float64, numSamples int, src random.Source, progress io.Writer) ([][]string, error) {
	numElements := len(mean)
	meanT, err := tensors.FromCompute(dtypes.Float64, tensors.CPU, mean, numElements)
	if err != nil {
		return nil, err
	}
	logVarT, err := tensors.FromCompute(dtypes.Float64, tensors.CPU, logVar, numElements)
	if err != nil {
		return nil, err
	}
	dist, err := distribution.NewDiagonalGaussian(meanT, logVarT)
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(numSamples,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("sampling"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	samples := make([][]float64, numElements)
	for ii := range samples {
		samples[ii] = make([]float64, numSamples)
	}
	for sampleIdx := range numSamples {
		sample, err := dist.Sample(src)
		if err != nil {
			return nil, err
		}
		for ii, v := range sample.Float64s() {
			samples[ii][sampleIdx] = v
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	expectedMean := dist.Mean().Float64s()
	expectedVariance := dist.Variance().Float64s()
	rows := make([][]string, 0, numElements)
	for ii := range numElements {
		empiricalMean, empiricalVariance := stat.MeanVariance(samples[ii], nil)
		rows = append(rows, []string{
			fmt.Sprintf("%d", ii),
			formatFloat(expectedMean[ii], 6),
			formatFloat(empiricalMean, 6),
			formatFloat(expectedVariance[ii], 6),
			formatFloat(empiricalVariance, 6),
			formatFloat(max(relativeError(empiricalMean, expectedMean[ii]), relativeError(empiricalVariance, expectedVariance[ii])), 3),
		})
	}
	return rows, nil
}

// relativeError of an estimate, or the absolute error if the expected value is 0.
func relativeError(estimate, expected float64) float64 {
	if expected == 0 {
		return math.Abs(estimate)
	}
	return math.Abs(estimate-expected) / math.Abs(expected)
}
