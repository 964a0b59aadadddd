package main

import (
	"context"
	"fmt"

	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
)

var flagTypingStop bool

func init() {
	typingCmd.Flags().BoolVar(&flagTypingStop, "stop", false, "report that typing stopped")
	rootCmd.AddCommand(sendCmd, retryCmd, readCmd, typingCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <to-user-id> <text>",
	Short: "Send a text message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.Send(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(m)
				return nil
			}
			fmt.Printf("%s %s\n", m.ID, m.Status)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Resend a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(m)
				return nil
			}
			fmt.Printf("%s %s\n", m.ID, m.Status)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> [message-id...]",
	Short: "Mark messages read; no ids marks the whole conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			n, err := c.MarkRead(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(map[string]int{"marked": n})
				return nil
			}
			fmt.Printf("marked %d read\n", n)
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id>",
	Short: "Report local typing activity, or list who is typing with --json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.NotifyTyping(ctx, args[0], flagTypingStop); err != nil {
				return err
			}
			users, err := c.TypingUsers(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(users)
				return nil
			}
			if len(users) == 0 {
				fmt.Println("nobody else is typing")
				return nil
			}
			for _, u := range users {
				fmt.Printf("%s is typing\n", u)
			}
			return nil
		})
	},
}
