package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/airlock-project/airlock/internal/config"
)

func setupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Run the interactive configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(*configPath)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, os.Stdin, os.Stdout)
		},
	}
}
