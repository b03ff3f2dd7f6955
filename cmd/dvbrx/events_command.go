package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dvbrx/internal/ipc"
)

const eventsPollInterval = time.Second

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var kinds []string
	var limit int
	var after int64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the receiver event journal for the current daemon run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				cursor := after
				printed := false
				for {
					resp, err := client.Events(ipc.EventsRequest{After: cursor, Kinds: kinds, Limit: limit})
					if err != nil {
						return fmt.Errorf("read events: %w", err)
					}
					for _, evt := range resp.Events {
						if asJSON {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
						} else {
							writeEventLine(stdout, evt)
						}
						printed = true
					}
					cursor = resp.Next
					if !follow {
						if !printed && !asJSON {
							fmt.Fprintln(stdout, "No events recorded")
						}
						return nil
					}
					if len(resp.Events) > 0 {
						continue
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(eventsPollInterval):
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only show these kinds (state, fault, restart, tune, play, log)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum events per page")
	cmd.Flags().Int64Var(&after, "after", 0, "Only show events after this id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output one JSON object per event")
	return cmd
}

func writeEventLine(w io.Writer, evt ipc.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-7s", evt.ID, evt.RecordedAt.Local().Format("15:04:05.000"), evt.Kind)
	if evt.SourceKind != "" {
		fmt.Fprintf(&b, " (%s)", evt.SourceKind)
	}
	b.WriteString(" ")
	b.WriteString(evt.Message)
	fmt.Fprintf(&b, " [started=%s running=%s locked=%s counter=%d]",
		yesNo(evt.State.Started), yesNo(evt.State.Running), yesNo(evt.State.Locked), evt.State.Counter)
	if evt.Detail != "" {
		b.WriteString(" ")
		b.WriteString(evt.Detail)
	}
	fmt.Fprintln(w, b.String())
}
