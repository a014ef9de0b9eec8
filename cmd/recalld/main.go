// Recalld is a tenant-isolated semantic memory server for LLM agents.
//
// It exposes memory_add, memory_search, memory_list, and
// memory_delete_all as MCP tools over stdio, backed either by an
// embedded vector store (local mode) or the hosted platform API
// (platform mode).
//
// Configuration is loaded from ~/.config/recalld/config.yaml and
// RECALLD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Serve MCP over stdio with defaults (local mode, embedded store)
//	recalld serve
//
//	# Platform mode against the hosted API
//	RECALLD_MODE=platform RECALLD_API_KEY=rk-... recalld serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "recalld",
		Short:         "Semantic memory server for LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recalld %s\n", version)
			fmt.Printf("  commit: %s\n", gitCommit)
			fmt.Printf("  built:  %s\n", buildDate)
		},
	}
}
