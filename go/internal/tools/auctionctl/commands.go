package main

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mcdev12/auctionhouse/go/internal/auction/service"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

func newCreateCmd(opts *options) *cobra.Command {
	var (
		id, tournament, budget, increment string
		timeout, maxPlayers, maxForeign   int
		allowSelfRaise                    bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("invalid budget %q: %w", budget, err)
			}
			minIncrement, err := decimal.NewFromString(increment)
			if err != nil {
				return fmt.Errorf("invalid increment %q: %w", increment, err)
			}
			res, err := invoke[service.CreateAuctionRequest, service.AuctionResponse](cmd.Context(), opts, service.CreateAuctionProcedure, &service.CreateAuctionRequest{
				ID:           id,
				TournamentID: tournament,
				Name:         args[0],
				TotalBudget:  total,
				Rules: models.AuctionRules{
					MinIncrement:      minIncrement,
					BidTimeoutSeconds: timeout,
					MaxPlayersPerTeam: maxPlayers,
					MaxForeignPlayers: maxForeign,
					AllowSelfRaise:    allowSelfRaise,
				},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Auction)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "auction id (generated when empty)")
	cmd.Flags().StringVar(&tournament, "tournament", "", "tournament id")
	cmd.Flags().StringVar(&budget, "budget", "", "total budget per team")
	cmd.Flags().StringVar(&increment, "increment", "", "minimum bid increment")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "bid timeout in seconds")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "maximum players per team (0 = unlimited)")
	cmd.Flags().IntVar(&maxForeign, "max-foreign", 0, "maximum foreign players per team (0 = unlimited)")
	cmd.Flags().BoolVar(&allowSelfRaise, "allow-self-raise", false, "let the leading team raise its own bid")
	_ = cmd.MarkFlagRequired("budget")
	_ = cmd.MarkFlagRequired("increment")
	return cmd
}

func newAddTeamCmd(opts *options) *cobra.Command {
	var budget string
	cmd := &cobra.Command{
		Use:   "add-team <auction-id> <team-id> <name>",
		Short: "Enter a team into an upcoming auction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &service.AddParticipantRequest{AuctionID: args[0], TeamID: args[1], TeamName: args[2]}
			if budget != "" {
				b, err := decimal.NewFromString(budget)
				if err != nil {
					return fmt.Errorf("invalid budget %q: %w", budget, err)
				}
				req.Budget = &b
			}
			res, err := invoke[service.AddParticipantRequest, service.ParticipantResponse](cmd.Context(), opts, service.AddParticipantProcedure, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Participant)
		},
	}
	cmd.Flags().StringVar(&budget, "budget", "", "starting budget (defaults to the auction's total budget)")
	return cmd
}

func newAddPlayerCmd(opts *options) *cobra.Command {
	var (
		id, role string
		foreign  bool
	)
	cmd := &cobra.Command{
		Use:   "add-player <auction-id> <name> <base-price>",
		Short: "Add a player to the back of the queue",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid base price %q: %w", args[2], err)
			}
			res, err := invoke[service.AddPlayerRequest, service.PlayerResponse](cmd.Context(), opts, service.AddPlayerProcedure, &service.AddPlayerRequest{
				AuctionID: args[0],
				PlayerID:  id,
				Name:      args[1],
				Role:      role,
				BasePrice: base,
				Foreign:   foreign,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Player)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "player id (generated when empty)")
	cmd.Flags().StringVar(&role, "player-role", "", "playing role")
	cmd.Flags().BoolVar(&foreign, "foreign", false, "counts against the foreign player limit")
	return cmd
}

func newRemovePlayerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-player <auction-id> <player-id>",
		Short: "Remove a queued player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := invoke[service.PlayerRequest, service.Empty](cmd.Context(), opts, service.RemovePlayerProcedure, &service.PlayerRequest{AuctionID: args[0], PlayerID: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
}

func newLifecycleCmd(opts *options, use, short, procedure string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <auction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := invoke[service.AuctionRequest, service.Empty](cmd.Context(), opts, procedure, &service.AuctionRequest{AuctionID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newNextCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "next <auction-id>",
		Short: "Resolve the open lot and present the next player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.AuctionRequest, service.FinalizeResponse](cmd.Context(), opts, service.NextPlayerProcedure, &service.AuctionRequest{AuctionID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSetCurrentCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-current <auction-id> <player-id>",
		Short: "Present a queued player out of order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.PlayerRequest, service.FinalizeResponse](cmd.Context(), opts, service.SetCurrentPlayerProcedure, &service.PlayerRequest{AuctionID: args[0], PlayerID: args[1]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newShuffleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shuffle <auction-id>",
		Short: "Shuffle the remaining queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.AuctionRequest, service.QueueResponse](cmd.Context(), opts, service.ShuffleQueueProcedure, &service.AuctionRequest{AuctionID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Queue)
		},
	}
}

func newBidCmd(opts *options) *cobra.Command {
	var playerID string
	cmd := &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Place a bid for --team on the open lot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			res, err := invoke[service.BidRequest, service.BidResponse](cmd.Context(), opts, service.PlaceBidProcedure, &service.BidRequest{
				AuctionID: args[0],
				PlayerID:  playerID,
				Amount:    amount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.LeadingBid)
		},
	}
	cmd.Flags().StringVar(&playerID, "player", "", "player the bid is for (rejected if no longer open)")
	return cmd
}

func newSellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sell <auction-id> <team-id> <amount>",
		Short: "Sell the open lot to a team at a fixed price",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[2], err)
			}
			res, err := invoke[service.BidRequest, service.FinalizeResponse](cmd.Context(), opts, service.SellToTeamProcedure, &service.BidRequest{
				AuctionID: args[0],
				TeamID:    args[1],
				Amount:    amount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newHammerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hammer <auction-id>",
		Short: "Strike the hammer; the third strike resolves the lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.AuctionRequest, service.HammerResponse](cmd.Context(), opts, service.HammerProcedure, &service.AuctionRequest{AuctionID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFinalizeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <auction-id> <player-id>",
		Short: "Resolve a player as sold or unsold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.PlayerRequest, service.FinalizeResponse](cmd.Context(), opts, service.FinalizeProcedure, &service.PlayerRequest{AuctionID: args[0], PlayerID: args[1]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <auction-id> <remaining-seconds>",
		Short: "Compare a client countdown with the server's",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remaining, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid remaining seconds %q: %w", args[1], err)
			}
			res, err := invoke[service.SyncTimerRequest, service.SyncTimerResponse](cmd.Context(), opts, service.SyncTimerProcedure, &service.SyncTimerRequest{AuctionID: args[0], RemainingSeconds: remaining})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSnapshotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <auction-id>",
		Short: "Print the committed state of an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := invoke[service.AuctionRequest, service.SnapshotResponse](cmd.Context(), opts, service.GetSnapshotProcedure, &service.AuctionRequest{AuctionID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Snapshot)
		},
	}
}
