// Command pipeline runs the campaign delivery pipeline: queue workers,
// periodic passes and the maintenance commands around them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unclebandit/smsleopard-delivery/internal/config"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
)

var (
	cfg *config.Config
	log *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pipeline",
	Short:         "Campaign and automation SMS delivery pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log = logger.New(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, workerCmd, scheduleCmd, migrateCmd, seedCmd, pruneCmd, cancelCmd, syncCmd, previewCmd, creditsCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
