package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/version"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version.AppVersion)
				return
			}
			fmt.Printf(banner, version.AppVersion)
			fmt.Println()
			fmt.Printf("  Version:    %s\n", version.AppVersion)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Println()
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}

func versionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Print the game version compatibility table",
		Long: `Print the compatibility groups the server would start with, including
extra groups and labels from the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(*configPath)
			if err != nil {
				return err
			}
			resolver, err := newResolver(cfg.GetCompatibility(), zerolog.Nop())
			if err != nil {
				return err
			}

			tw := tablewriter.NewWriter(os.Stdout)
			tw.SetHeader([]string{"Group", "Versions", "Labels"})
			tw.SetAutoWrapText(false)
			for _, g := range resolver.Snapshot() {
				tw.Append([]string{
					fmt.Sprint(g.Index),
					strings.Join(g.Versions, ", "),
					strings.Join(g.Labels, ", "),
				})
			}
			tw.Render()
			fmt.Printf("\n  Supported range: %s\n", resolver.SupportedRange())
			return nil
		},
	}
}
