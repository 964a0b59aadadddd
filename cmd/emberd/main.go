package main

import (
	"fmt"
	"os"

	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/daemon"
	"github.com/emberapp/ember/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	flagSession string
	flagConfig  string
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:           "emberd",
	Short:         "Realtime messaging and sync daemon for one ember session",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, err := session.Name(flagSession)
		if err != nil {
			return err
		}
		p := daemon.Params{SessionName: name, Debug: flagDebug}
		if flagConfig != "" {
			if p.Config, err = config.Load(flagConfig); err != nil {
				return err
			}
		}
		app := fx.New(daemon.Module(p))
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagSession, "session", "", "session name (overrides config default)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "config file (default ~/.ember/config.toml)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
