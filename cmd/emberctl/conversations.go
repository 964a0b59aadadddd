package main

import (
	"context"
	"fmt"
	"time"

	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	flagLimit  int
	flagOffset int
	flagBefore string
	flagInConv string
)

func init() {
	conversationsCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of rows")
	conversationsCmd.Flags().IntVar(&flagOffset, "offset", 0, "rows to skip")
	messagesCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of rows")
	messagesCmd.Flags().StringVar(&flagBefore, "before", "", "only messages older than this RFC 3339 time")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of rows")
	searchCmd.Flags().StringVar(&flagInConv, "conversation", "", "restrict the search to one conversation")
	rootCmd.AddCommand(conversationsCmd, removeCmd, messagesCmd, searchCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations by recent activity",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			list, err := c.Conversations(ctx, flagLimit, flagOffset)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(list)
				return nil
			}
			for _, conv := range list.Conversations {
				name := conv.PeerName
				if name == "" {
					name = conv.PeerID
				}
				fmt.Printf("%-24s %-20s unread=%-3d %s  %s\n",
					conv.ID, name, conv.UnreadCount, formatTime(conv.LastActivityAt), conv.LastPreview)
			}
			if list.HasMore {
				fmt.Println("... more (use --offset)")
			}
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <conversation-id>",
	Short: "Forget a conversation and its local messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.RemoveConversation(ctx, args[0])
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var before time.Time
		if flagBefore != "" {
			t, err := time.Parse(time.RFC3339, flagBefore)
			if err != nil {
				return fmt.Errorf("invalid --before: %w", err)
			}
			before = t
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			list, err := c.Messages(ctx, args[0], before, flagLimit)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(list)
				return nil
			}
			// Newest first from the daemon; print oldest first.
			for i := len(list.Messages) - 1; i >= 0; i-- {
				m := list.Messages[i]
				fmt.Printf("%s  %-12s [%-9s] %s\n", formatTime(m.CreatedAt), m.SenderID, m.Status, m.Content)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over local messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Search(ctx, args[0], flagInConv, flagLimit)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(res)
				return nil
			}
			if len(res.Results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range res.Results {
				fmt.Printf("%s  %s  %s\n", r.Message.ConversationID, formatTime(r.Message.CreatedAt), r.Snippet)
			}
			return nil
		})
	},
}
