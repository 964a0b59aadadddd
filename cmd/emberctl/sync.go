package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	flagForce            bool
	flagConflictConvID   string
	flagResolutionServer bool
)

func init() {
	syncCmd.Flags().BoolVar(&flagForce, "force", false, "ignore the checkpoint and fetch full history")
	conflictsCmd.Flags().StringVar(&flagConflictConvID, "conversation", "", "only list conflicts of this conversation")
	resolveCmd.Flags().BoolVar(&flagResolutionServer, "server", false, "keep the server version instead of the local one")
	rootCmd.AddCommand(statsCmd, syncCmd, syncAllCmd, conflictsCmd, resolveCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sync statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Conversations: %d\n", st.Conversations)
			fmt.Printf("  synced:      %d\n", st.Synced)
			fmt.Printf("  pending:     %d\n", st.Pending)
			fmt.Printf("  conflicted:  %d\n", st.Conflicted)
			fmt.Printf("  errored:     %d\n", st.Errored)
			fmt.Printf("Unconfirmed:   %d\n", st.Unconfirmed)
			fmt.Printf("Last sync:     %s (%s)\n", formatTime(st.LastSyncAt), time.Duration(st.LastLatencyMs)*time.Millisecond)
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <conversation-id>",
	Short: "Sync one conversation with the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.SyncConversation(ctx, args[0], flagForce)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}

var syncAllCmd = &cobra.Command{
	Use:   "sync-all",
	Short: "Sync every known conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.SyncAll(ctx)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			conflicts, err := c.Conflicts(ctx, flagConflictConvID)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(conflicts)
				return nil
			}
			if len(conflicts) == 0 {
				fmt.Println("no conflicts")
				return nil
			}
			for _, cf := range conflicts {
				fmt.Printf("%s  conv=%s  fields=%s  detected=%s\n",
					cf.MessageID, cf.ConversationID, strings.Join(cf.Fields, ","), formatTime(cf.DetectedAt))
				fmt.Printf("  local:  %q (%s)\n", cf.Local.Content, cf.Local.Status)
				fmt.Printf("  server: %q (%s)\n", cf.Server.Content, cf.Server.Status)
			}
			return nil
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <message-id>",
	Short: "Resolve a conflict, keeping the local version unless --server is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution := "keep_local"
		if flagResolutionServer {
			resolution = "keep_server"
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ack, err := c.ResolveConflict(ctx, args[0], resolution)
			if err != nil {
				return err
			}
			printAck(ack.OK, ack.Message, ack)
			return nil
		})
	},
}
