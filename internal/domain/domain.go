// Package domain defines the auction engine's entities and enums. All enums
// are uppercase token strings, matching the persisted representation.
package domain

import "time"

// BiddingMode selects how captains compete for a player.
type BiddingMode string

const (
	ModeSealed BiddingMode = "SEALED"
	ModeOutcry BiddingMode = "OUTCRY"
)

// AuctionStatus is the auction lifecycle state.
type AuctionStatus string

const (
	AuctionDraft     AuctionStatus = "DRAFT"
	AuctionLobby     AuctionStatus = "LOBBY"
	AuctionLive      AuctionStatus = "LIVE"
	AuctionCompleted AuctionStatus = "COMPLETED"
)

// PlayerStatus tracks whether a player has been through the block.
type PlayerStatus string

const (
	PlayerAvailable PlayerStatus = "AVAILABLE"
	PlayerSold      PlayerStatus = "SOLD"
	PlayerUnsold    PlayerStatus = "UNSOLD"
)

// RoundStatus is the round lifecycle state. A closed round is never reopened.
type RoundStatus string

const (
	RoundOpen   RoundStatus = "OPEN"
	RoundClosed RoundStatus = "CLOSED"
)

// SettleAction is an auctioneer action on the current round.
type SettleAction string

const (
	ActionSold   SettleAction = "SOLD"
	ActionUnsold SettleAction = "UNSOLD"
	ActionDefer  SettleAction = "DEFER"
	ActionUndo   SettleAction = "UNDO"
)

// HistoryAction is the recorded outcome of a settlement action. DEFER is
// recorded as DEFERRED; UNDO pops an entry instead of appending one.
type HistoryAction string

const (
	HistorySold     HistoryAction = "SOLD"
	HistoryUnsold   HistoryAction = "UNSOLD"
	HistoryDeferred HistoryAction = "DEFERRED"
)

// TeamRole is a user's role within a team roster.
type TeamRole string

const (
	TeamRoleCaptain     TeamRole = "CAPTAIN"
	TeamRoleViceCaptain TeamRole = "VICE_CAPTAIN"
	TeamRoleMember      TeamRole = "MEMBER"
)

// AuctionRole is a user's role within an auction.
type AuctionRole string

const (
	AuctionRoleOwner     AuctionRole = "OWNER"
	AuctionRoleModerator AuctionRole = "MODERATOR"
	AuctionRoleCaptain   AuctionRole = "CAPTAIN"
	AuctionRoleSpectator AuctionRole = "SPECTATOR"
)

// IncrementRule maps an interval of currentBid/basePrice multipliers to the
// increment applied by the next outcry raise. ToMultiplier <= 0 means
// unbounded above.
type IncrementRule struct {
	FromMultiplier float64 `json:"from_multiplier"`
	ToMultiplier   float64 `json:"to_multiplier"`
	Increment      int64   `json:"increment"`
}

// Matches reports whether the multiplier falls in [From, To).
func (r IncrementRule) Matches(multiplier float64) bool {
	if multiplier < r.FromMultiplier {
		return false
	}
	return r.ToMultiplier <= 0 || multiplier < r.ToMultiplier
}

// Auction is the top-level event. Configuration is frozen once status
// reaches LIVE; only status transitions remain owner-mutable.
type Auction struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	OwnerUserID    string          `json:"owner_user_id" db:"owner_user_id"`
	Mode           BiddingMode     `json:"mode" db:"mode"`
	BudgetPerTeam  int64           `json:"budget_per_team" db:"budget_per_team"`
	SquadSize      int             `json:"squad_size" db:"squad_size"`
	Currency       string          `json:"currency" db:"currency"`
	IncrementRules []IncrementRule `json:"increment_rules" db:"-"`
	TimerSeconds   int             `json:"timer_seconds" db:"timer_seconds"`
	Status         AuctionStatus   `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Tier groups players sharing a base price. Every player belongs to exactly
// one tier of its auction.
type Tier struct {
	ID         string `json:"id" db:"id"`
	AuctionID  string `json:"auction_id" db:"auction_id"`
	Name       string `json:"name" db:"name"`
	BasePrice  int64  `json:"base_price" db:"base_price"`
	MinPerTeam int    `json:"min_per_team" db:"min_per_team"`
	MaxPerTeam *int   `json:"max_per_team,omitempty" db:"max_per_team"`
}

// Player is an item on the block. Status transitions only via settlement.
type Player struct {
	ID        string       `json:"id" db:"id"`
	AuctionID string       `json:"auction_id" db:"auction_id"`
	Name      string       `json:"name" db:"name"`
	TierID    string       `json:"tier_id" db:"tier_id"`
	Status    PlayerStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Team is a bidding side. Its remaining budget is derived from results, never
// stored mutably here.
type Team struct {
	ID            string `json:"id" db:"id"`
	AuctionID     string `json:"auction_id" db:"auction_id"`
	Name          string `json:"name" db:"name"`
	CaptainUserID string `json:"captain_user_id" db:"captain_user_id"`
	CaptainEmail  string `json:"captain_email" db:"captain_email"`
}

// Round is the bidding unit for a single player.
type Round struct {
	ID               string      `json:"id" db:"id"`
	AuctionID        string      `json:"auction_id" db:"auction_id"`
	PlayerID         string      `json:"player_id" db:"player_id"`
	TierID           string      `json:"tier_id" db:"tier_id"`
	Status           RoundStatus `json:"status" db:"status"`
	BasePrice        int64       `json:"base_price" db:"base_price"`
	CurrentBidAmount *int64      `json:"current_bid_amount,omitempty" db:"current_bid_amount"`
	CurrentBidTeamID *string     `json:"current_bid_team_id,omitempty" db:"current_bid_team_id"`
	BidCount         int         `json:"bid_count" db:"bid_count"`
	TimerExpiresAt   *time.Time  `json:"timer_expires_at,omitempty" db:"timer_expires_at"`
	OpenedAt         time.Time   `json:"opened_at" db:"opened_at"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty" db:"closed_at"`
}

// Expired reports whether the round's anti-snipe timer has elapsed. Rounds
// without a timer never expire.
func (r *Round) Expired(now time.Time) bool {
	return r.TimerExpiresAt != nil && now.After(*r.TimerExpiresAt)
}

// Bid is a captain's offer. SequenceNumber is set in outcry mode only and is
// dense and strictly increasing within a round.
type Bid struct {
	ID             string    `json:"id" db:"id"`
	RoundID        string    `json:"round_id" db:"round_id"`
	TeamID         string    `json:"team_id" db:"team_id"`
	Amount         int64     `json:"amount" db:"amount"`
	SequenceNumber *int      `json:"sequence_number,omitempty" db:"sequence_number"`
	IsWinningBid   bool      `json:"is_winning_bid" db:"is_winning_bid"`
	SubmittedAt    time.Time `json:"submitted_at" db:"submitted_at"`
}

// Result assigns a sold player to a team. Keyed on (auction, player); upsert
// on SOLD, delete on UNDO-of-SOLD.
type Result struct {
	AuctionID  string    `json:"auction_id" db:"auction_id"`
	PlayerID   string    `json:"player_id" db:"player_id"`
	TeamID     string    `json:"team_id" db:"team_id"`
	Amount     int64     `json:"amount" db:"amount"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// HistoryEntry records one settlement action for display and UNDO.
type HistoryEntry struct {
	PlayerID   string        `json:"player_id"`
	PlayerName string        `json:"player_name"`
	TeamID     string        `json:"team_id,omitempty"`
	TeamName   string        `json:"team_name,omitempty"`
	Price      int64         `json:"price"`
	Action     HistoryAction `json:"action"`
}

// TeamMember is a roster entry used by the authorization resolver.
type TeamMember struct {
	TeamID string   `json:"team_id" db:"team_id"`
	UserID string   `json:"user_id" db:"user_id"`
	Role   TeamRole `json:"role" db:"role"`
}

// Participant is an auction-level role grant used by the authorization
// resolver.
type Participant struct {
	AuctionID string      `json:"auction_id" db:"auction_id"`
	UserID    string      `json:"user_id" db:"user_id"`
	Role      AuctionRole `json:"role" db:"role"`
}
