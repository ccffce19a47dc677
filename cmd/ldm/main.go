// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ldm runs the latent diffusion building blocks on synthetic data: it lists the available backends and
// attention strategies, prints time step embeddings, checks the latent sampler moments and runs a
// spatial transformer.
//
// The klog flags (e.g. -v=1 to see the attention strategy resolution) are accepted by all commands.
package main

import (
	goflag "flag"
	"os"

	"github.com/gomlx/ldm/backends"
	_ "github.com/gomlx/ldm/backends/default"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagBackend string
	flagFused   string
	flagPlain   bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ldm",
		Short: "Latent diffusion building blocks",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if flagBackend != "" {
				backends.DefaultConfig = flagBackend
			}
			if flagFused != "" {
				// Read once, on the first attention computation.
				return os.Setenv(backends.LDM_FUSED_ATTENTION, flagFused)
			}
			return nil
		},
	}

	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "",
		"Backend configuration \"<name>:<config>\". Defaults to $"+backends.LDM_BACKEND+" or the first registered backend.")
	rootCmd.PersistentFlags().StringVar(&flagFused, "fused", "",
		"Fused attention implementation, or \""+backends.NoFusedAttention+"\". Defaults to $"+backends.LDM_FUSED_ATTENTION+
			" or the first registered implementation.")
	rootCmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "Print plain tables, without colors.")

	rootCmd.AddCommand(newBackendsCmd(), newTimestepsCmd(), newSampleCmd(), newSpatialCmd())
	return rootCmd
}

func main() {
	defer klog.Flush()
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
