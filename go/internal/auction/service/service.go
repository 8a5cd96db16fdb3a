package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AuctionServiceName is the fully-qualified name of the auction service.
const AuctionServiceName = "auction.v1.AuctionService"

// Procedure paths, one per engine operation.
const (
	CreateAuctionProcedure    = "/" + AuctionServiceName + "/CreateAuction"
	AddParticipantProcedure   = "/" + AuctionServiceName + "/AddParticipant"
	AddPlayerProcedure        = "/" + AuctionServiceName + "/AddPlayer"
	RemovePlayerProcedure     = "/" + AuctionServiceName + "/RemovePlayer"
	StartAuctionProcedure     = "/" + AuctionServiceName + "/StartAuction"
	PauseAuctionProcedure     = "/" + AuctionServiceName + "/PauseAuction"
	ResumeAuctionProcedure    = "/" + AuctionServiceName + "/ResumeAuction"
	StopAuctionProcedure      = "/" + AuctionServiceName + "/StopAuction"
	CancelAuctionProcedure    = "/" + AuctionServiceName + "/CancelAuction"
	NextPlayerProcedure       = "/" + AuctionServiceName + "/NextPlayer"
	SetCurrentPlayerProcedure = "/" + AuctionServiceName + "/SetCurrentPlayer"
	ShuffleQueueProcedure     = "/" + AuctionServiceName + "/ShuffleQueue"
	PlaceBidProcedure         = "/" + AuctionServiceName + "/PlaceBid"
	SellToTeamProcedure       = "/" + AuctionServiceName + "/SellToTeam"
	HammerProcedure           = "/" + AuctionServiceName + "/Hammer"
	ResetHammerProcedure      = "/" + AuctionServiceName + "/ResetHammer"
	FinalizeProcedure         = "/" + AuctionServiceName + "/Finalize"
	SyncTimerProcedure        = "/" + AuctionServiceName + "/SyncTimer"
	GetSnapshotProcedure      = "/" + AuctionServiceName + "/GetSnapshot"
)

// Headers carrying the caller resolved by the upstream auth layer.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"
	HeaderTeamID    = "X-Team-Id"

	// Set on rejected bids.
	HeaderMinimumBid = "Auction-Minimum-Bid"
	HeaderErrorKind  = "Auction-Error-Kind"
)

// Engine defines what the service layer needs from the auction engine
type Engine interface {
	CreateAuction(ctx context.Context, params engine.CreateAuctionParams) (*models.Auction, error)
	AddParticipant(ctx context.Context, params engine.AddParticipantParams) (*models.Participant, error)
	AddPlayer(ctx context.Context, params engine.AddPlayerParams) (*models.Player, error)
	RemovePlayer(ctx context.Context, auctionID, playerID uuid.UUID, actor engine.Actor) error
	StartAuction(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	PauseAuction(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	ResumeAuction(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	StopAuction(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	CancelAuction(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	AdvanceToNextPlayer(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) (*engine.FinalizeResult, error)
	SetCurrentPlayer(ctx context.Context, auctionID, playerID uuid.UUID, actor engine.Actor) (*engine.FinalizeResult, error)
	ShuffleQueue(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) ([]uuid.UUID, error)
	PlaceBid(ctx context.Context, params engine.BidParams) (*engine.BidResult, error)
	SellToTeam(ctx context.Context, params engine.SaleParams) (*engine.FinalizeResult, error)
	Hammer(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) (*engine.HammerResult, error)
	ResetHammer(ctx context.Context, auctionID uuid.UUID, actor engine.Actor) error
	Finalize(ctx context.Context, auctionID, playerID uuid.UUID, actor engine.Actor) (*engine.FinalizeResult, error)
	SyncTimer(ctx context.Context, auctionID uuid.UUID, remainingSeconds int) (*engine.SyncResult, error)
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*engine.Snapshot, error)
}

// Service implements the AuctionService procedures
type Service struct {
	engine Engine
}

// NewService creates a new auction service
func NewService(eng Engine) *Service {
	return &Service{engine: eng}
}

// NewHandler mounts every procedure of the service. The returned path is
// meant for http.ServeMux.Handle.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(Codec),
		connect.WithInterceptors(loggingInterceptor(), roleInterceptor()),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateAuctionProcedure, connect.NewUnaryHandler(CreateAuctionProcedure, svc.CreateAuction, opts...))
	mux.Handle(AddParticipantProcedure, connect.NewUnaryHandler(AddParticipantProcedure, svc.AddParticipant, opts...))
	mux.Handle(AddPlayerProcedure, connect.NewUnaryHandler(AddPlayerProcedure, svc.AddPlayer, opts...))
	mux.Handle(RemovePlayerProcedure, connect.NewUnaryHandler(RemovePlayerProcedure, svc.RemovePlayer, opts...))
	mux.Handle(StartAuctionProcedure, connect.NewUnaryHandler(StartAuctionProcedure, svc.StartAuction, opts...))
	mux.Handle(PauseAuctionProcedure, connect.NewUnaryHandler(PauseAuctionProcedure, svc.PauseAuction, opts...))
	mux.Handle(ResumeAuctionProcedure, connect.NewUnaryHandler(ResumeAuctionProcedure, svc.ResumeAuction, opts...))
	mux.Handle(StopAuctionProcedure, connect.NewUnaryHandler(StopAuctionProcedure, svc.StopAuction, opts...))
	mux.Handle(CancelAuctionProcedure, connect.NewUnaryHandler(CancelAuctionProcedure, svc.CancelAuction, opts...))
	mux.Handle(NextPlayerProcedure, connect.NewUnaryHandler(NextPlayerProcedure, svc.NextPlayer, opts...))
	mux.Handle(SetCurrentPlayerProcedure, connect.NewUnaryHandler(SetCurrentPlayerProcedure, svc.SetCurrentPlayer, opts...))
	mux.Handle(ShuffleQueueProcedure, connect.NewUnaryHandler(ShuffleQueueProcedure, svc.ShuffleQueue, opts...))
	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, svc.PlaceBid, opts...))
	mux.Handle(SellToTeamProcedure, connect.NewUnaryHandler(SellToTeamProcedure, svc.SellToTeam, opts...))
	mux.Handle(HammerProcedure, connect.NewUnaryHandler(HammerProcedure, svc.Hammer, opts...))
	mux.Handle(ResetHammerProcedure, connect.NewUnaryHandler(ResetHammerProcedure, svc.ResetHammer, opts...))
	mux.Handle(FinalizeProcedure, connect.NewUnaryHandler(FinalizeProcedure, svc.Finalize, opts...))
	mux.Handle(SyncTimerProcedure, connect.NewUnaryHandler(SyncTimerProcedure, svc.SyncTimer, opts...))
	mux.Handle(GetSnapshotProcedure, connect.NewUnaryHandler(GetSnapshotProcedure, svc.GetSnapshot, opts...))
	return "/" + AuctionServiceName + "/", mux
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			evt := log.Debug()
			if err != nil {
				evt = log.Info().Err(err)
			}
			evt.Str("procedure", req.Spec().Procedure).
				Str("actor_id", req.Header().Get(HeaderActorID)).
				Dur("elapsed", time.Since(start)).
				Msg("auction rpc")
			return res, err
		}
	}
}

// openProcedures may be called by any actor. Everything else is a moderator
// action.
var openProcedures = map[string]bool{
	PlaceBidProcedure:    true,
	SyncTimerProcedure:   true,
	GetSnapshotProcedure: true,
}

func roleInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			procedure := req.Spec().Procedure
			if openProcedures[procedure] {
				return next(ctx, req)
			}
			actor, err := actorFromHeader(req.Header())
			if err != nil {
				return nil, err
			}
			if actor.Role != engine.RoleModerator {
				return nil, connect.NewError(connect.CodePermissionDenied,
					fmt.Errorf("%s requires the %s role", procedure, engine.RoleModerator))
			}
			return next(ctx, req)
		}
	}
}

// CreateAuction creates an upcoming auction
func (s *Service) CreateAuction(ctx context.Context, req *connect.Request[CreateAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return nil, err
	}
	params := engine.CreateAuctionParams{
		Name:        req.Msg.Name,
		TotalBudget: req.Msg.TotalBudget,
		Rules:       req.Msg.Rules,
		Actor:       actor,
	}
	if params.ID, err = parseOptionalID("id", req.Msg.ID); err != nil {
		return nil, err
	}
	if params.TournamentID, err = parseOptionalID("tournament_id", req.Msg.TournamentID); err != nil {
		return nil, err
	}

	auction, err := s.engine.CreateAuction(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// AddParticipant enters a team into an upcoming auction
func (s *Service) AddParticipant(ctx context.Context, req *connect.Request[AddParticipantRequest]) (*connect.Response[ParticipantResponse], error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return nil, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	teamID, err := parseID("team_id", req.Msg.TeamID)
	if err != nil {
		return nil, err
	}

	p, err := s.engine.AddParticipant(ctx, engine.AddParticipantParams{
		AuctionID: auctionID,
		TeamID:    teamID,
		TeamName:  req.Msg.TeamName,
		Budget:    req.Msg.Budget,
		Actor:     actor,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ParticipantResponse{Participant: p}), nil
}

// AddPlayer appends a player to the queue
func (s *Service) AddPlayer(ctx context.Context, req *connect.Request[AddPlayerRequest]) (*connect.Response[PlayerResponse], error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return nil, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	playerID, err := parseOptionalID("player_id", req.Msg.PlayerID)
	if err != nil {
		return nil, err
	}

	p, err := s.engine.AddPlayer(ctx, engine.AddPlayerParams{
		AuctionID: auctionID,
		PlayerID:  playerID,
		Name:      req.Msg.Name,
		Role:      req.Msg.Role,
		BasePrice: req.Msg.BasePrice,
		Foreign:   req.Msg.Foreign,
		Metadata:  req.Msg.Metadata,
		Actor:     actor,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PlayerResponse{Player: p}), nil
}

// RemovePlayer takes a queued player out of the auction
func (s *Service) RemovePlayer(ctx context.Context, req *connect.Request[PlayerRequest]) (*connect.Response[Empty], error) {
	actor, auctionID, playerID, err := playerCall(req)
	if err != nil {
		return nil, err
	}
	if err := s.engine.RemovePlayer(ctx, auctionID, playerID, actor); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) StartAuction(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.StartAuction)
}

func (s *Service) PauseAuction(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.PauseAuction)
}

func (s *Service) ResumeAuction(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.ResumeAuction)
}

func (s *Service) StopAuction(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.StopAuction)
}

func (s *Service) CancelAuction(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.CancelAuction)
}

// ResetHammer clears the hammer count of the open lot
func (s *Service) ResetHammer(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[Empty], error) {
	return s.lifecycle(ctx, req, s.engine.ResetHammer)
}

func (s *Service) lifecycle(ctx context.Context, req *connect.Request[AuctionRequest], op func(context.Context, uuid.UUID, engine.Actor) error) (*connect.Response[Empty], error) {
	actor, auctionID, err := auctionCall(req)
	if err != nil {
		return nil, err
	}
	if err := op(ctx, auctionID, actor); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// NextPlayer resolves the open lot and presents the next queued player
func (s *Service) NextPlayer(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[FinalizeResponse], error) {
	actor, auctionID, err := auctionCall(req)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.AdvanceToNextPlayer(ctx, auctionID, actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinalizeResponse{Result: saleToWire(res)}), nil
}

// SetCurrentPlayer jumps the queue to a specific player
func (s *Service) SetCurrentPlayer(ctx context.Context, req *connect.Request[PlayerRequest]) (*connect.Response[FinalizeResponse], error) {
	actor, auctionID, playerID, err := playerCall(req)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.SetCurrentPlayer(ctx, auctionID, playerID, actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinalizeResponse{Result: saleToWire(res)}), nil
}

// ShuffleQueue reorders the queued players
func (s *Service) ShuffleQueue(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[QueueResponse], error) {
	actor, auctionID, err := auctionCall(req)
	if err != nil {
		return nil, err
	}
	order, err := s.engine.ShuffleQueue(ctx, auctionID, actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	queue := make([]string, 0, len(order))
	for _, id := range order {
		queue = append(queue, id.String())
	}
	return connect.NewResponse(&QueueResponse{Queue: queue}), nil
}

// PlaceBid submits a bid on the open lot
func (s *Service) PlaceBid(ctx context.Context, req *connect.Request[BidRequest]) (*connect.Response[BidResponse], error) {
	params, err := bidParams(req)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.PlaceBid(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&BidResponse{LeadingBid: res.LeadingBid, BidHistory: res.BidHistory}), nil
}

// SellToTeam records a moderator sale and resolves the lot
func (s *Service) SellToTeam(ctx context.Context, req *connect.Request[BidRequest]) (*connect.Response[FinalizeResponse], error) {
	params, err := bidParams(req)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.SellToTeam(ctx, engine.SaleParams(params))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinalizeResponse{Result: saleToWire(res)}), nil
}

// Hammer strikes the hammer once
func (s *Service) Hammer(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[HammerResponse], error) {
	actor, auctionID, err := auctionCall(req)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Hammer(ctx, auctionID, actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&HammerResponse{
		Count:     res.Count,
		Finalized: res.Finalized,
		Sale:      saleToWire(res.Sale),
	}), nil
}

// Finalize resolves a lot without advancing. An empty player_id means the
// open lot.
func (s *Service) Finalize(ctx context.Context, req *connect.Request[PlayerRequest]) (*connect.Response[FinalizeResponse], error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return nil, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	playerID, err := parseOptionalID("player_id", req.Msg.PlayerID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Finalize(ctx, auctionID, playerID, actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinalizeResponse{Result: saleToWire(res)}), nil
}

// SyncTimer reconciles a client countdown with the server
func (s *Service) SyncTimer(ctx context.Context, req *connect.Request[SyncTimerRequest]) (*connect.Response[SyncTimerResponse], error) {
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.SyncTimer(ctx, auctionID, req.Msg.RemainingSeconds)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SyncTimerResponse{Timer: res.Timer, Corrected: res.Corrected}), nil
}

// GetSnapshot returns the full state of an auction
func (s *Service) GetSnapshot(ctx context.Context, req *connect.Request[AuctionRequest]) (*connect.Response[SnapshotResponse], error) {
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.Snapshot(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SnapshotResponse{Snapshot: snap}), nil
}

func auctionCall(req *connect.Request[AuctionRequest]) (engine.Actor, uuid.UUID, error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return engine.Actor{}, uuid.Nil, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return engine.Actor{}, uuid.Nil, err
	}
	return actor, auctionID, nil
}

func playerCall(req *connect.Request[PlayerRequest]) (engine.Actor, uuid.UUID, uuid.UUID, error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return engine.Actor{}, uuid.Nil, uuid.Nil, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return engine.Actor{}, uuid.Nil, uuid.Nil, err
	}
	playerID, err := parseID("player_id", req.Msg.PlayerID)
	if err != nil {
		return engine.Actor{}, uuid.Nil, uuid.Nil, err
	}
	return actor, auctionID, playerID, nil
}

func bidParams(req *connect.Request[BidRequest]) (engine.BidParams, error) {
	actor, err := actorFromHeader(req.Header())
	if err != nil {
		return engine.BidParams{}, err
	}
	auctionID, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return engine.BidParams{}, err
	}
	playerID, err := parseOptionalID("player_id", req.Msg.PlayerID)
	if err != nil {
		return engine.BidParams{}, err
	}

	var teamID uuid.UUID
	switch {
	case req.Msg.TeamID != "":
		if teamID, err = parseID("team_id", req.Msg.TeamID); err != nil {
			return engine.BidParams{}, err
		}
	case actor.TeamID != nil:
		teamID = *actor.TeamID
	default:
		return engine.BidParams{}, connect.NewError(connect.CodeInvalidArgument, errors.New("team_id is required"))
	}

	return engine.BidParams{
		AuctionID: auctionID,
		PlayerID:  playerID,
		TeamID:    teamID,
		Amount:    req.Msg.Amount,
		Actor:     actor,
	}, nil
}

// actorFromHeader reads the caller resolved by the auth layer in front of
// this service.
func actorFromHeader(h http.Header) (engine.Actor, error) {
	actor := engine.Actor{
		ID:   h.Get(HeaderActorID),
		Role: engine.Role(strings.ToLower(h.Get(HeaderActorRole))),
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	switch actor.Role {
	case "":
		actor.Role = engine.RoleTeam
	case engine.RoleModerator, engine.RoleTeam:
	default:
		return engine.Actor{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown actor role %q", actor.Role))
	}
	if raw := h.Get(HeaderTeamID); raw != "" {
		teamID, err := parseID(HeaderTeamID, raw)
		if err != nil {
			return engine.Actor{}, err
		}
		actor.TeamID = &teamID
	}
	return actor, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s: %w", field, err))
	}
	return id, nil
}

func parseOptionalID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	return parseID(field, raw)
}
