// cmd/drivesync is the operator CLI: `init` materializes a replication's
// Drive folder structure and prints the resulting ids; `run` boots one
// peer process (orchestrator + signaling + status API) for manual
// multi-process testing of the end-to-end scenarios in spec.md §8.
//
// Usage:
//
//	drivesync init --folder-path my-app/data --token TOKEN --primary-key id
//	drivesync run --config peer-a.json --addr :8089
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "drivesync",
		Short: "Operator CLI for the drivesync replication core",
	}

	root.AddCommand(initCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── init ───────────────────────────────────────────────────────────────────

func initCmd() *cobra.Command {
	var folderPath, token, primaryKeyField, apiEndpoint string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Materialize the Drive folder structure and print its ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := initDriveStructure(context.Background(), token, folderPath, primaryKeyField, apiEndpoint)
			if err != nil {
				return err
			}
			prettyPrint(ds)
			return nil
		},
	}

	cmd.Flags().StringVar(&folderPath, "folder-path", "", "Drive folder path to replicate through (required)")
	cmd.Flags().StringVar(&token, "token", "", "OAuth bearer token (required)")
	cmd.Flags().StringVar(&primaryKeyField, "primary-key", "id", "Primary key field of the document collection")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "Override the Drive REST endpoint (for testing)")
	cmd.MarkFlagRequired("folder-path")
	cmd.MarkFlagRequired("token")

	return cmd
}

// ─── run ────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot one peer process: orchestrator + signaling + status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPeerConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runPeer(cfg, addr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a peer config JSON file (required)")
	cmd.Flags().StringVar(&addr, "addr", ":8089", "Listen address for the status API")
	cmd.MarkFlagRequired("config")

	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
