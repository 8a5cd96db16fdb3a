package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/auction/gateway"
)

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <auction-id>",
		Short: "Follow an auction's live events until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auctionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid auction id %q: %w", args[0], err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			w := gateway.NewWatcher(opts.server, auctionID, opts.actor)
			err = w.Watch(ctx, gateway.WatchHandlers{
				OnSnapshot: func(s *engine.Snapshot) {
					fmt.Fprintf(out, "snapshot status=%s seq=%d sold=%d unsold=%d total=%d\n",
						s.Auction.Status, s.LastSeq, s.Auction.Counts.Sold, s.Auction.Counts.Unsold, s.Auction.Counts.Total)
				},
				OnEvent: func(e events.Event) {
					fmt.Fprintf(out, "#%d %s %s\n", e.Seq, e.Type, e.Data)
				},
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
