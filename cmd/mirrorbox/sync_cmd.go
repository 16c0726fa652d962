package main

import (
	"github.com/mirrorbox/mirrorbox/internal/drive"
	"github.com/mirrorbox/mirrorbox/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync pass and exit",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			client, err := drive.NewHTTPClient(cfg.ServerURL)
			if err != nil {
				return err
			}

			orch := sync.NewOrchestrator(cfg, client)
			report, err := orch.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			report.Log()
			return nil
		},
	}
}
