package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/gavel/internal/admission"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/engine"
)

type incrementRuleRequest struct {
	FromMultiplier float64 `json:"from_multiplier" validate:"gte=0"`
	ToMultiplier   float64 `json:"to_multiplier" validate:"gte=0"`
	Increment      int64   `json:"increment" validate:"gt=0"`
}

type createAuctionRequest struct {
	Name           string                 `json:"name" validate:"required"`
	Mode           string                 `json:"mode" validate:"required,oneof=SEALED OUTCRY"`
	BudgetPerTeam  int64                  `json:"budget_per_team" validate:"gt=0"`
	SquadSize      int                    `json:"squad_size" validate:"gt=0"`
	Currency       string                 `json:"currency"`
	IncrementRules []incrementRuleRequest `json:"increment_rules" validate:"dive"`
	TimerSeconds   int                    `json:"timer_seconds" validate:"gte=0"`
}

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rules := make([]domain.IncrementRule, len(req.IncrementRules))
	for i, ir := range req.IncrementRules {
		rules[i] = domain.IncrementRule{
			FromMultiplier: ir.FromMultiplier,
			ToMultiplier:   ir.ToMultiplier,
			Increment:      ir.Increment,
		}
	}

	a, err := s.engine.CreateAuction(r.Context(), engine.CreateAuctionParams{
		Name:           req.Name,
		OwnerUserID:    identityFrom(r.Context()).UserID,
		Mode:           domain.BiddingMode(req.Mode),
		BudgetPerTeam:  req.BudgetPerTeam,
		SquadSize:      req.SquadSize,
		Currency:       req.Currency,
		IncrementRules: rules,
		TimerSeconds:   req.TimerSeconds,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, a)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeParticipant(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type addTeamsRequest struct {
	Teams []teamRequest `json:"teams" validate:"required,min=1,dive"`
}

type teamRequest struct {
	Name          string `json:"name" validate:"required"`
	CaptainUserID string `json:"captain_user_id" validate:"required"`
	CaptainEmail  string `json:"captain_email"`
}

func (s *Server) addTeams(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addTeamsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	teams := make([]*domain.Team, 0, len(req.Teams))
	for _, t := range req.Teams {
		created, err := s.engine.AddTeam(r.Context(), auctionID, engine.AddTeamParams{
			Name:          t.Name,
			CaptainUserID: t.CaptainUserID,
			CaptainEmail:  t.CaptainEmail,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		teams = append(teams, created)
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"teams": teams})
}

type addPlayersRequest struct {
	Players []playerRequest `json:"players" validate:"required,min=1,dive"`
}

type playerRequest struct {
	Name   string `json:"name" validate:"required"`
	TierID string `json:"tier_id" validate:"required"`
}

func (s *Server) addPlayers(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addPlayersRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	players := make([]*domain.Player, 0, len(req.Players))
	for _, p := range req.Players {
		created, err := s.engine.AddPlayer(r.Context(), auctionID, engine.AddPlayerParams{
			Name:   p.Name,
			TierID: p.TierID,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		players = append(players, created)
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"players": players})
}

type putTiersRequest struct {
	Tiers []tierRequest `json:"tiers" validate:"required,min=1,dive"`
}

type tierRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required"`
	BasePrice  int64  `json:"base_price" validate:"gt=0"`
	MinPerTeam int    `json:"min_per_team" validate:"gte=0"`
	MaxPerTeam *int   `json:"max_per_team"`
}

func (s *Server) putTiers(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req putTiersRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tiers := make([]domain.Tier, len(req.Tiers))
	for i, t := range req.Tiers {
		tiers[i] = domain.Tier{
			ID:         t.ID,
			Name:       t.Name,
			BasePrice:  t.BasePrice,
			MinPerTeam: t.MinPerTeam,
			MaxPerTeam: t.MaxPerTeam,
		}
	}
	if err := s.engine.ConfigureTiers(r.Context(), auctionID, tiers); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (s *Server) openLobby(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.OpenLobby(r.Context(), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": string(domain.AuctionLobby)})
}

func (s *Server) startAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.engine.Start(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) endAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.End(r.Context(), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": string(domain.AuctionCompleted)})
}

type settleRequest struct {
	Action string `json:"action" validate:"required,oneof=SOLD UNSOLD DEFER UNDO"`
	TeamID string `json:"team_id"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req settleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.engine.Settle(r.Context(), auctionID, engine.SettleParams{
		Action: domain.SettleAction(req.Action),
		TeamID: req.TeamID,
		Amount: req.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type forceOpenRequest struct {
	PlayerID string `json:"player_id" validate:"required"`
}

func (s *Server) forceOpenRound(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req forceOpenRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.engine.ForceOpenRound(r.Context(), auctionID, req.PlayerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) forceCloseRound(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeAuctioneer(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ForceCloseRound(r.Context(), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type raiseRequest struct {
	TeamID string `json:"team_id" validate:"required"`
}

func (s *Server) outcryRaise(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	var req raiseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.admission.Raise(r.Context(), identityFrom(r.Context()), auctionID, req.TeamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) outcryState(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	if err := s.resolver.AuthorizeParticipant(r.Context(), identityFrom(r.Context()), auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.engine.OutcryState(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// captainDashboard returns the captain's view: the canonical snapshot plus
// the team's own sealed bids on the open round, which other teams never see.
func (s *Server) captainDashboard(w http.ResponseWriter, r *http.Request) {
	auctionID, teamID, err := parseSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.resolver.AuthorizeBidder(r.Context(), identityFrom(r.Context()), teamID, auctionID); err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.engine.Snapshot(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ownBids := []domain.Bid{}
	if snap.Round != nil {
		ownBids, err = s.repos.Bids.ListByRoundAndTeam(r.Context(), snap.Round.RoundID, teamID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"team_id":  teamID,
		"snapshot": snap,
		"own_bids": ownBids,
	})
}

type sealedBidRequest struct {
	RoundID  string `json:"round_id" validate:"required"`
	PlayerID string `json:"player_id"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

func (s *Server) captainBid(w http.ResponseWriter, r *http.Request) {
	auctionID, teamID, err := parseSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sealedBidRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	bid, err := s.admission.SubmitSealedBid(r.Context(), identityFrom(r.Context()), admission.SealedBidParams{
		AuctionID: auctionID,
		TeamID:    teamID,
		RoundID:   req.RoundID,
		PlayerID:  req.PlayerID,
		Amount:    req.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bid)
}
