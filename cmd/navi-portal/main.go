package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/navihealth/navi-portal/internal/config"
	"github.com/navihealth/navi-portal/internal/di"
	"github.com/navihealth/navi-portal/internal/tools/common"
	"github.com/navihealth/navi-portal/internal/tools/loadgen"
	"github.com/navihealth/navi-portal/internal/tools/magiclink"
	"github.com/navihealth/navi-portal/internal/tools/smoke"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "navi-portal",
		Short:        "Embeddable patient portal session service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration is read")
	root.AddCommand(
		newServeCommand(),
		magiclink.NewCommand(),
		loadgen.NewCommand(),
		smoke.NewCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			return a.Run(ctx)
		},
	}
}
