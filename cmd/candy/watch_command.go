package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"candybridge/internal/codec"
	"candybridge/internal/ipc"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var raw bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream inbound gateway events",
		RunE: func(cmd *cobra.Command, args []string) error {
			watchCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			stdout := cmd.OutOrStdout()
			path := ctx.eventSocketPath()
			var writeErr error
			err := ipc.Watch(watchCtx, path, func(ev ipc.StreamEvent) {
				if writeErr != nil {
					return
				}
				switch {
				case raw:
					writeErr = writeDiagnostic(stdout, ev)
				case asJSON:
					writeErr = writeJSON(cmd, ev)
				default:
					fmt.Fprintln(stdout, formatStreamEvent(ev))
				}
			})
			if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
				return wrapDialError(err, path)
			}
			if err != nil {
				return err
			}
			return writeErr
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print events in CBOR diagnostic notation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

func writeDiagnostic(w io.Writer, ev ipc.StreamEvent) error {
	data, err := codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	diag, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("diagnose event: %w", err)
	}
	_, err = fmt.Fprintln(w, diag)
	return err
}

func formatStreamEvent(ev ipc.StreamEvent) string {
	prefix := fmt.Sprintf("#%d", ev.Sequence)
	if ev.Dropped > 0 {
		prefix += fmt.Sprintf(" (dropped %d)", ev.Dropped)
	}
	switch ev.Kind {
	case ipc.StreamMessage:
		if ev.Message == nil {
			return prefix + " message <empty>"
		}
		m := ev.Message
		return fmt.Sprintf("%s message id=%d method=%d group=%d from=%d to=%d body=%q",
			prefix, m.ID, m.Method, m.Group, m.From, m.To, m.Body)
	case ipc.StreamError:
		return fmt.Sprintf("%s error %s", prefix, ev.Error)
	default:
		return fmt.Sprintf("%s %s", prefix, ev.Kind)
	}
}
