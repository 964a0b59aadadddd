package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/session"
	"github.com/emberapp/ember/internal/tui/client"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]",
	Short: "Stream daemon events, optionally filtered by kind prefix",
	Long:  `Streams events such as connection.status_changed or message.confirmed until interrupted. A namespace like "sync." narrows the stream.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := ""
		if len(args) == 1 {
			namespace = args[0]
		}
		sessionName, err := session.Name(flagSession)
		if err != nil {
			return err
		}
		c, err := client.New(session.SocketPath(sessionName))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		err = c.Watch(ctx, namespace, func(evt api.Event) {
			if flagJSON {
				outputJSON(evt)
				return
			}
			fmt.Printf("%s  %-24s %v\n", evt.At.Local().Format("15:04:05.000"), evt.Kind, evt.Payload)
		})
		if errors.Is(ctx.Err(), context.Canceled) || status.Code(err) == codes.Canceled {
			return nil
		}
		return err
	},
}
