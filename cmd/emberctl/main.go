package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/emberapp/ember/internal/session"
	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	flagSession string
	flagJSON    bool
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "emberctl",
	Short:         "Control a running emberd session",
	Long:          "emberctl talks to the emberd daemon of a session over its Unix socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withClient dials the session daemon and runs fn with a request context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	sessionName, err := session.Name(flagSession)
	if err != nil {
		return err
	}
	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printAck prints an Ack unless --json is set.
func printAck(ok bool, msg string, v any) {
	if flagJSON {
		outputJSON(v)
		return
	}
	if msg == "" {
		msg = "done"
	}
	if ok {
		fmt.Println(msg)
	} else {
		fmt.Printf("failed: %s\n", msg)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
