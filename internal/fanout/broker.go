// Package fanout broadcasts auction state transitions to connected
// observers. Each auction has a logical topic carrying envelopes with a
// monotonic per-auction sequence number; clients use it to order events and
// detect gaps. Delivery is best-effort: a slow subscriber loses envelopes
// rather than blocking the publisher.
package fanout

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jensholdgaard/gavel/internal/metrics"
)

// Event names carried on auction topics.
const (
	EventRoundOpened      = "round-opened"
	EventRoundClosed      = "round-closed"
	EventOutcryBid        = "outcry-bid"
	EventPlayerSold       = "player-sold"
	EventPlayerUnsold     = "player-unsold"
	EventPlayerDeferred   = "player-deferred"
	EventTimerExtended    = "timer-extended"
	EventAuctionCompleted = "auction-completed"
)

// Envelope is one published event. Seq is monotonic within an auction.
type Envelope struct {
	Event   string `json:"event"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// RoundOpenedPayload accompanies EventRoundOpened.
type RoundOpenedPayload struct {
	RoundID        string     `json:"round_id"`
	PlayerID       string     `json:"player_id"`
	PlayerName     string     `json:"player_name"`
	TierID         string     `json:"tier_id"`
	BasePrice      int64      `json:"base_price"`
	TimerExpiresAt *time.Time `json:"timer_expires_at,omitempty"`
}

// OutcryBidPayload accompanies EventOutcryBid. It carries enough state for
// clients to reconcile optimistically without a refetch.
type OutcryBidPayload struct {
	RoundID        string     `json:"round_id"`
	BidID          string     `json:"bid_id"`
	SequenceNumber int        `json:"sequence_number"`
	TeamID         string     `json:"team_id"`
	TeamName       string     `json:"team_name"`
	Amount         int64      `json:"amount"`
	NextBidAmount  int64      `json:"next_bid_amount"`
	BasePrice      int64      `json:"base_price"`
	PlayerID       string     `json:"player_id"`
	TimerExpiresAt *time.Time `json:"timer_expires_at,omitempty"`
}

// PlayerSoldPayload accompanies EventPlayerSold.
type PlayerSoldPayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	TeamID     string `json:"team_id"`
	TeamName   string `json:"team_name"`
	Amount     int64  `json:"amount"`
}

// PlayerPayload accompanies EventPlayerUnsold and EventPlayerDeferred.
type PlayerPayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// RoundClosedPayload accompanies EventRoundClosed.
type RoundClosedPayload struct {
	RoundID string `json:"round_id"`
}

// Subscriber receives envelopes for one auction topic.
type Subscriber struct {
	ID string
	Ch chan Envelope
}

// Tap observes every envelope on every topic. Used by process-wide
// observers such as the settlement announcer.
type Tap func(auctionID string, env Envelope)

// Broker manages per-auction topics.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
	taps   []Tap
	logger *slog.Logger
}

type topic struct {
	seq  uint64
	subs map[*Subscriber]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Subscribe registers a subscriber on an auction topic. buffer is the
// channel depth before envelopes are dropped for this subscriber.
func (b *Broker) Subscribe(auctionID, subscriberID string, buffer int) *Subscriber {
	sub := &Subscriber{ID: subscriberID, Ch: make(chan Envelope, buffer)}

	b.mu.Lock()
	t, ok := b.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		b.topics[auctionID] = t
	}
	t.subs[sub] = struct{}{}
	b.mu.Unlock()

	metrics.EventSubscribers.Inc()
	b.logger.Debug("fanout subscriber added",
		slog.String("auction_id", auctionID),
		slog.String("subscriber_id", subscriberID),
	)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(auctionID string, sub *Subscriber) {
	b.mu.Lock()
	if t, ok := b.topics[auctionID]; ok {
		if _, present := t.subs[sub]; present {
			delete(t.subs, sub)
			close(sub.Ch)
			metrics.EventSubscribers.Dec()
		}
		// The topic itself stays: its sequence counter must survive
		// subscriber churn.
	}
	b.mu.Unlock()
}

// AddTap registers a process-wide observer for all topics.
func (b *Broker) AddTap(tap Tap) {
	b.mu.Lock()
	b.taps = append(b.taps, tap)
	b.mu.Unlock()
}

// Publish stamps the next sequence number on the event and fans it out to
// the auction's subscribers and all taps.
func (b *Broker) Publish(auctionID, event string, payload any) Envelope {
	b.mu.Lock()
	t, ok := b.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		b.topics[auctionID] = t
	}
	t.seq++
	env := Envelope{Event: event, Seq: t.seq, Payload: payload}

	for sub := range t.subs {
		select {
		case sub.Ch <- env:
		default:
			metrics.EventsDropped.Inc()
			b.logger.Warn("fanout envelope dropped, subscriber buffer full",
				slog.String("auction_id", auctionID),
				slog.String("subscriber_id", sub.ID),
				slog.String("event", event),
			)
		}
	}
	taps := b.taps
	b.mu.Unlock()

	for _, tap := range taps {
		tap(auctionID, env)
	}
	return env
}

// SubscriberCount returns the number of subscribers on an auction topic.
func (b *Broker) SubscriberCount(auctionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[auctionID]; ok {
		return len(t.subs)
	}
	return 0
}
