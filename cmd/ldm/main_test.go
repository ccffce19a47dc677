// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatListFlags(t *testing.T) {
	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("timesteps", "--channels=4", "--steps=0,1,1e3", "--digits=6")
	require.NoError(t, err)
	assert.Contains(t, out, "(Float32)[3 4]")
	assert.Contains(t, out, " 1000 ")

	out, err = run("sample", "--mean=0,3", "--logvar=0,2", "--n=2000", "--progress=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Moments over 2000 samples")

	_, err = run("timesteps", "--steps=1,x")
	require.ErrorContains(t, err, "--steps")
	_, err = run("sample", "--mean=1", "--logvar=0,1", "--progress=false")
	require.ErrorContains(t, err, "--logvar has 2")
}

func TestPlainReport(t *testing.T) {
	var buf bytes.Buffer
	r := newReport(&buf, nil)
	require.True(t, r.plain)
	r.Table("Title", []string{"A", "B"}, [][]string{{"1", "2"}})
	out := buf.String()
	assert.Contains(t, out, "Title:")
	assert.Contains(t, out, "| A | B |")
	assert.Contains(t, out, "| 1 | 2 |")
}

func TestTimestepsRows(t *testing.T) {
	rows := timestepsRows([]float64{0, 1}, []float64{0, 0, 1, 1, 0.5, 0.25, 0.125, 1}, 4, 3)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0", "0", "0", "1", "1"}, rows[0])
	assert.Equal(t, []string{"1", "0.5", "0.25", "0.125", "1"}, rows[1])
	assert.Equal(t, []string{"Step", "#0", "#1"}, timestepsHeader(2))
}

func TestSampleMoments(t *testing.T) {
	rows, err := sampleMoments([]float64{0, 3}, []float64{0, 2}, 20_000, random.NewWithSeed(7), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		relErr := must.M1(strconv.ParseFloat(row[5], 64))
		assert.Less(t, relErr, 0.1, "row %v", row)
	}

	_, err = sampleMoments([]float64{0}, []float64{0, 1}, 10, random.NewWithSeed(7), nil)
	require.Error(t, err)
}

func TestRunSpatial(t *testing.T) {
	backend := must.M1(backends.New())
	defer backend.Finalize()
	var f spatialFlags
	f.config.InChannels = 8
	f.config.NumHeads = 2
	f.config.HeadDim = 4
	f.config.Depth = 1
	f.config.NumGroups = 4
	f.config.ContextDim = 6
	f.batchSize, f.height, f.width = 2, 3, 2
	f.contextTokens = 5
	f.dtypeName = "float32"
	f.seed = 1
	rows, err := runSpatial(backend, f)
	require.NoError(t, err)
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row[0]] = row[1]
	}
	assert.Equal(t, "(Float32)[2 8 3 2]", values["Output"])
	assert.Equal(t, "8", values["Inner dim"])

	f.dtypeName = "int8"
	_, err = runSpatial(backend, f)
	require.Error(t, err)
}
