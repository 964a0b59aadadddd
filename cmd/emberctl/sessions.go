package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/emberapp/ember/internal/lock"
	"github.com/emberapp/ember/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

type sessionRow struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Since   string `json:"since,omitempty"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List local sessions and the daemon holding each",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		rows := make([]sessionRow, 0, len(names))
		for _, name := range names {
			row := sessionRow{Name: name}
			h, err := lock.Inspect(session.For(name).Dir)
			if err != nil {
				return err
			}
			if h != nil {
				row.Running = true
				row.PID = h.PID
				row.UserID = h.UserID
				row.Since = formatTime(h.Since)
			}
			rows = append(rows, row)
		}

		if flagJSON {
			outputJSON(rows)
			return nil
		}
		if len(rows) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SESSION\tSTATE\tPID\tUSER\tSINCE")
		for _, r := range rows {
			state, pid := "stopped", "-"
			if r.Running {
				state, pid = "running", fmt.Sprint(r.PID)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, state, pid, orDash(r.UserID), orDash(r.Since))
		}
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
