// Package queue implements the per-auction queue state: the ordered sequence
// of players to be auctioned, the cursor, the deferred and unsold sets, and
// the replayable action history. All operations are pure in-memory mutations;
// persistence happens elsewhere via a versioned read-modify-write.
package queue

import (
	"slices"

	"github.com/jensholdgaard/gavel/internal/domain"
)

// State is the queue value stored as a single JSON document on the auction
// row. It is loaded by value; no pointer graph.
type State struct {
	Queue    []string              `json:"queue"`
	Index    int                   `json:"index"`
	Deferred []string              `json:"deferred"`
	Unsold   []string              `json:"unsold"`
	History  []domain.HistoryEntry `json:"history"`
	Started  bool                  `json:"started"`
}

// NewState seeds a queue from an ordered list of player ids.
func NewState(playerIDs []string) State {
	return State{Queue: slices.Clone(playerIDs)}
}

// Current returns the player at the cursor, or false when the queue is
// exhausted.
func (s *State) Current() (string, bool) {
	if s.Index < 0 || s.Index >= len(s.Queue) {
		return "", false
	}
	return s.Queue[s.Index], true
}

// ApplySold records a sale of the current player and advances the cursor.
func (s *State) ApplySold(playerName, teamID, teamName string, price int64) error {
	p, ok := s.Current()
	if !ok {
		return domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	s.History = append(s.History, domain.HistoryEntry{
		PlayerID:   p,
		PlayerName: playerName,
		TeamID:     teamID,
		TeamName:   teamName,
		Price:      price,
		Action:     domain.HistorySold,
	})
	s.Index++
	return nil
}

// ApplyUnsold marks the current player unsold and advances the cursor.
func (s *State) ApplyUnsold(playerName string) error {
	p, ok := s.Current()
	if !ok {
		return domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	s.Unsold = append(s.Unsold, p)
	s.History = append(s.History, domain.HistoryEntry{
		PlayerID:   p,
		PlayerName: playerName,
		Action:     domain.HistoryUnsold,
	})
	s.Index++
	return nil
}

// ApplyDefer removes the current player from the queue without advancing and
// appends it to the deferred set. Deferred players re-appear, in deferral
// order, after the rest of the queue is exhausted.
func (s *State) ApplyDefer(playerName string) error {
	p, ok := s.Current()
	if !ok {
		return domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	s.Queue = slices.Delete(s.Queue, s.Index, s.Index+1)
	s.Deferred = append(s.Deferred, p)
	s.History = append(s.History, domain.HistoryEntry{
		PlayerID:   p,
		PlayerName: playerName,
		Action:     domain.HistoryDeferred,
	})
	return nil
}

// AutoReturn moves the deferred set to the queue tail once the main queue is
// exhausted. Reports whether a return happened.
func (s *State) AutoReturn() bool {
	if s.Index < len(s.Queue) || len(s.Deferred) == 0 {
		return false
	}
	s.Queue = append(s.Queue, s.Deferred...)
	s.Deferred = nil
	return true
}

// Undo pops the last history entry and inverts its queue mutation. The
// caller is responsible for inverting any persisted side effects (result
// rows, player status). Single-step only.
func (s *State) Undo() (domain.HistoryEntry, error) {
	if len(s.History) == 0 {
		return domain.HistoryEntry{}, domain.ErrNothingToUndo()
	}
	entry := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]

	switch entry.Action {
	case domain.HistorySold:
		s.Index--
	case domain.HistoryUnsold:
		if i := slices.Index(s.Unsold, entry.PlayerID); i >= 0 {
			s.Unsold = slices.Delete(s.Unsold, i, i+1)
		}
		s.Index--
	case domain.HistoryDeferred:
		// The player may still be in the deferred set, or already back in
		// the queue tail after an auto-return.
		if i := slices.Index(s.Deferred, entry.PlayerID); i >= 0 {
			s.Deferred = slices.Delete(s.Deferred, i, i+1)
		} else if i := lastIndex(s.Queue, entry.PlayerID); i >= 0 {
			s.Queue = slices.Delete(s.Queue, i, i+1)
		}
		s.Queue = slices.Insert(s.Queue, s.Index, entry.PlayerID)
	}
	return entry, nil
}

// Promote moves playerID to the cursor position, preserving the relative
// order of the players it skips. The player must be in the remaining queue.
func (s *State) Promote(playerID string) error {
	i := -1
	for j := s.Index; j < len(s.Queue); j++ {
		if s.Queue[j] == playerID {
			i = j
			break
		}
	}
	if i < 0 {
		return domain.Ef(domain.KindNotFound, "PLAYER_NOT_QUEUED", "player %s is not in the remaining queue", playerID)
	}
	s.Queue = slices.Delete(s.Queue, i, i+1)
	s.Queue = slices.Insert(s.Queue, s.Index, playerID)
	return nil
}

// Remaining returns the players from the cursor onward.
func (s *State) Remaining() []string {
	if s.Index >= len(s.Queue) {
		return nil
	}
	return slices.Clone(s.Queue[s.Index:])
}

// HistoryTail returns the most recent n history entries, oldest first.
func (s *State) HistoryTail(n int) []domain.HistoryEntry {
	if n <= 0 || len(s.History) <= n {
		return slices.Clone(s.History)
	}
	return slices.Clone(s.History[len(s.History)-n:])
}

func lastIndex(ss []string, v string) int {
	for i := len(ss) - 1; i >= 0; i-- {
		if ss[i] == v {
			return i
		}
	}
	return -1
}
