// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/layers/timesteps"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTimestepsCmd() *cobra.Command {
	config := timesteps.DefaultConfig(8)
	var (
		steps     []float64
		dtypeName string
		digits    int
	)
	cmd := &cobra.Command{
		Use:   "timesteps",
		Short: "Print the sinusoidal embeddings of diffusion time steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(steps) == 0 {
				return errors.New("--steps must have at least one value")
			}
			dtype, err := dtypes.FromName(dtypeName)
			if err != nil {
				return err
			}
			embedding, err := timesteps.New(config)
			if err != nil {
				return err
			}
			stepsT, err := tensors.FromCompute(dtype, tensors.CPU, steps, len(steps))
			if err != nil {
				return err
			}
			embedded, err := embedding.Compute(stepsT)
			if err != nil {
				return err
			}
			r := newReport(cmd.OutOrStdout(), termenv.NewOutput(cmd.OutOrStdout()))
			r.Table(fmt.Sprintf("Time step embeddings (%s)", embedded.Shape()), timestepsHeader(config.NumChannels),
				timestepsRows(steps, embedded.Float64s(), config.NumChannels, digits))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&config.NumChannels, "channels", config.NumChannels, "Number of channels of the embedding, must be even.")
	flags.Float64SliceVar(&steps, "steps", []float64{0, 1, 10, 100, 999}, "Comma separated list of time steps.")
	flags.BoolVar(&config.FlipSinToCos, "flip", config.FlipSinToCos, "Put the cosine channels first.")
	flags.Float64Var(&config.DownscaleFreqShift, "shift", config.DownscaleFreqShift, "Downscale frequency shift.")
	flags.Float64Var(&config.Scale, "scale", config.Scale, "Amplitude of the embedding.")
	flags.Float64Var(&config.MaxPeriod, "max-period", config.MaxPeriod, "Period of the lowest frequency.")
	flags.StringVar(&dtypeName, "dtype", "float32", "DType of the time steps and the embedding.")
	flags.IntVar(&digits, "digits", 4, "Significant digits printed.")
	return cmd
}

func timestepsHeader(numChannels int) []string {
	header := make([]string, 0, numChannels+1)
	header = append(header, "Step")
	for ii := range numChannels {
		header = append(header, fmt.Sprintf("#%d", ii))
	}
	return header
}

func timestepsRows(steps, flat []float64, numChannels, digits int) [][]string {
	rows := make([][]string, 0, len(steps))
	for ii, step := range steps {
		row := make([]string, 0, numChannels+1)
		row = append(row, formatFloat(step, digits))
		for _, v := range flat[ii*numChannels : (ii+1)*numChannels] {
			row = append(row, formatFloat(v, digits))
		}
		rows = append(rows, row)
	}
	return rows
}
