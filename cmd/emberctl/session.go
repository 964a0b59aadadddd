package main

import (
	"context"
	"fmt"
	"time"

	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, connectCmd, disconnectCmd, foregroundCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Session:     %s\n", st.Session)
			fmt.Printf("User:        %s\n", st.UserID)
			fmt.Printf("Connection:  %s (since %s)\n", st.State, formatTime(st.Since))
			fmt.Printf("Queued:      %d\n", st.QueueDepth)
			fmt.Printf("Uptime:      %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Truncate(time.Second))
			return nil
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open the realtime connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Close the realtime connection and stop reconnecting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.Disconnect(ctx)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}

var foregroundCmd = &cobra.Command{
	Use:   "foreground",
	Short: "Signal that the app returned to the foreground",
	Long:  "Reconnects if needed and syncs every conversation, as the mobile app does when it resumes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.Foreground(ctx)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}
