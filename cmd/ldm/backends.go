// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/ml/layers/attention"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends, fused attention implementations and the selected attention strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := backends.New()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			r := newReport(cmd.OutOrStdout(), termenv.NewOutput(cmd.OutOrStdout()))
			r.Table("Backends", []string{"Name", "Selected", "DTypes"}, backendRows(backend))
			r.Table("Fused attention", []string{"Name", "Selected"}, fusedRows())
			return nil
		},
	}
}

func backendRows(selected backends.Backend) [][]string {
	var rows [][]string
	for _, name := range backends.List() {
		row := []string{name, "", ""}
		if name == selected.Name() {
			row[1] = "✓ " + selected.Description()
			var dtypeNames []string
			for _, dtype := range selected.Capabilities().SupportedDTypes() {
				dtypeNames = append(dtypeNames, dtype.String())
			}
			row[2] = strings.Join(dtypeNames, ", ")
		}
		rows = append(rows, row)
	}
	return rows
}

func fusedRows() [][]string {
	strategy := attention.DefaultStrategy()
	var rows [][]string
	for _, name := range backends.ListFusedAttention() {
		row := []string{name, ""}
		if strategy.Name() == "fused:"+name {
			row[1] = "✓"
		}
		rows = append(rows, row)
	}
	if backends.DefaultFusedAttention() == nil {
		rows = append(rows, []string{strategy.Name(), "✓"})
	}
	return rows
}
