package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/mcdev12/auctionhouse/go/internal/auction/service"
)

type options struct {
	server string
	actor  string
	role   string
	team   string
	client *http.Client
}

func newRootCmd() *cobra.Command {
	opts := &options{client: http.DefaultClient}

	root := &cobra.Command{
		Use:   "auctionctl",
		Short: "Run a live player auction from the command line",
		Long: `auctionctl issues moderator and team commands to an auction server
over connect and can follow an auction's live event stream.`,
		SilenceUsage: true,
	}

	server := os.Getenv("AUCTION_API_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "auction server base URL")
	root.PersistentFlags().StringVar(&opts.actor, "actor", "auctionctl", "actor id sent with each command")
	root.PersistentFlags().StringVar(&opts.role, "role", "moderator", "actor role: moderator or team")
	root.PersistentFlags().StringVar(&opts.team, "team", "", "team id of a team actor")

	root.AddCommand(
		newCreateCmd(opts),
		newAddTeamCmd(opts),
		newAddPlayerCmd(opts),
		newRemovePlayerCmd(opts),
		newLifecycleCmd(opts, "start", "Start an upcoming auction", service.StartAuctionProcedure),
		newLifecycleCmd(opts, "pause", "Pause a live auction", service.PauseAuctionProcedure),
		newLifecycleCmd(opts, "resume", "Resume a paused auction", service.ResumeAuctionProcedure),
		newLifecycleCmd(opts, "stop", "Complete an auction, resolving the open lot", service.StopAuctionProcedure),
		newLifecycleCmd(opts, "cancel", "Cancel an auction", service.CancelAuctionProcedure),
		newLifecycleCmd(opts, "reset-hammer", "Reset the hammer count", service.ResetHammerProcedure),
		newNextCmd(opts),
		newSetCurrentCmd(opts),
		newShuffleCmd(opts),
		newBidCmd(opts),
		newSellCmd(opts),
		newHammerCmd(opts),
		newFinalizeCmd(opts),
		newSyncCmd(opts),
		newSnapshotCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// invoke issues one unary call with the actor headers attached.
func invoke[Req, Res any](ctx context.Context, opts *options, procedure string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](opts.client, opts.server+procedure, connect.WithCodec(service.Codec))
	req := connect.NewRequest(msg)
	req.Header().Set(service.HeaderActorID, opts.actor)
	req.Header().Set(service.HeaderActorRole, opts.role)
	if opts.team != "" {
		req.Header().Set(service.HeaderTeamID, opts.team)
	}

	res, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, describe(err)
	}
	return res.Msg, nil
}

// describe adds the auction error kind and minimum bid to a connect error.
func describe(err error) error {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return err
	}
	kind := connectErr.Meta().Get(service.HeaderErrorKind)
	if minimum := connectErr.Meta().Get(service.HeaderMinimumBid); minimum != "" {
		return fmt.Errorf("%s: %s (minimum bid %s)", kind, connectErr.Message(), minimum)
	}
	if kind != "" {
		return fmt.Errorf("%s: %s", kind, connectErr.Message())
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
