package queue_test

import (
	"reflect"
	"testing"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/queue"
)

func TestState_Current(t *testing.T) {
	s := queue.NewState([]string{"p1", "p2"})

	p, ok := s.Current()
	if !ok || p != "p1" {
		t.Fatalf("Current() = %q, %v, want p1, true", p, ok)
	}

	if err := s.ApplySold("P One", "t1", "Team 1", 100); err != nil {
		t.Fatalf("ApplySold: %v", err)
	}
	if err := s.ApplySold("P Two", "t1", "Team 1", 100); err != nil {
		t.Fatalf("ApplySold: %v", err)
	}

	if _, ok := s.Current(); ok {
		t.Error("expected exhausted queue after selling all players")
	}
	if err := s.ApplySold("x", "t1", "Team 1", 1); err == nil {
		t.Error("expected error selling from exhausted queue")
	}
}

func TestState_DeferAndAutoReturn(t *testing.T) {
	// Queue [P1, P2, P3]: defer P1, sell P2 and P3, expect the deferred
	// player re-offered at the tail.
	s := queue.NewState([]string{"p1", "p2", "p3"})

	if err := s.ApplyDefer("P One"); err != nil {
		t.Fatalf("ApplyDefer: %v", err)
	}
	if got := s.Queue; !reflect.DeepEqual(got, []string{"p2", "p3"}) {
		t.Errorf("queue after defer = %v, want [p2 p3]", got)
	}
	if s.Index != 0 {
		t.Errorf("index after defer = %d, want 0", s.Index)
	}
	if !reflect.DeepEqual(s.Deferred, []string{"p1"}) {
		t.Errorf("deferred = %v, want [p1]", s.Deferred)
	}

	_ = s.ApplySold("P Two", "t1", "A", 10)
	_ = s.ApplySold("P Three", "t2", "B", 10)

	if !s.AutoReturn() {
		t.Fatal("expected auto-return after exhausting the main queue")
	}
	if !reflect.DeepEqual(s.Queue, []string{"p2", "p3", "p1"}) {
		t.Errorf("queue after auto-return = %v, want [p2 p3 p1]", s.Queue)
	}
	if s.Index != 2 {
		t.Errorf("index after auto-return = %d, want 2", s.Index)
	}
	if len(s.Deferred) != 0 {
		t.Errorf("deferred after auto-return = %v, want empty", s.Deferred)
	}

	p, ok := s.Current()
	if !ok || p != "p1" {
		t.Errorf("Current() after auto-return = %q, want p1", p)
	}
}

func TestState_AutoReturnNoop(t *testing.T) {
	s := queue.NewState([]string{"p1"})
	if s.AutoReturn() {
		t.Error("auto-return with no deferred players should be a no-op")
	}
	s.Deferred = []string{"p2"}
	if s.AutoReturn() {
		t.Error("auto-return before queue exhaustion should be a no-op")
	}
}

func TestState_UndoRestoresPreState(t *testing.T) {
	apply := map[string]func(s *queue.State) error{
		"sold": func(s *queue.State) error {
			return s.ApplySold("P One", "t1", "Team 1", 100)
		},
		"unsold": func(s *queue.State) error {
			return s.ApplyUnsold("P One")
		},
		"defer": func(s *queue.State) error {
			return s.ApplyDefer("P One")
		},
	}

	for name, fn := range apply {
		t.Run(name, func(t *testing.T) {
			s := queue.NewState([]string{"p1", "p2", "p3"})
			before := cloneState(s)

			if err := fn(&s); err != nil {
				t.Fatalf("apply: %v", err)
			}
			if _, err := s.Undo(); err != nil {
				t.Fatalf("Undo: %v", err)
			}

			if !reflect.DeepEqual(cloneState(s), before) {
				t.Errorf("state after undo = %+v, want %+v", s, before)
			}
		})
	}
}

func TestState_UndoDeferredAfterAutoReturn(t *testing.T) {
	// Defer p1, sell p2, auto-return puts p1 in the queue tail. UNDO of a
	// later defer must find the player wherever it currently is.
	s := queue.NewState([]string{"p1", "p2"})
	_ = s.ApplyDefer("P One")
	_ = s.ApplySold("P Two", "t1", "A", 10)
	s.AutoReturn()

	// Now defer p1 again and sell nothing; undo should re-insert at cursor.
	_ = s.ApplyDefer("P One")
	if _, err := s.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	p, ok := s.Current()
	if !ok || p != "p1" {
		t.Errorf("Current() = %q, want p1 restored at cursor", p)
	}
}

func TestState_UndoEmptyHistory(t *testing.T) {
	s := queue.NewState([]string{"p1"})
	_, err := s.Undo()
	if err == nil {
		t.Fatal("expected error undoing with empty history")
	}
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("error kind = %v, want precondition", domain.KindOf(err))
	}
}

func TestState_Promote(t *testing.T) {
	s := queue.NewState([]string{"p1", "p2", "p3"})

	if err := s.Promote("p3"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !reflect.DeepEqual(s.Queue, []string{"p3", "p1", "p2"}) {
		t.Errorf("queue after promote = %v, want [p3 p1 p2]", s.Queue)
	}

	if err := s.Promote("missing"); err == nil {
		t.Error("expected error promoting an unknown player")
	}
}

func TestState_PartitionInvariant(t *testing.T) {
	// Every player is in exactly one of: remaining queue, deferred, unsold,
	// or gone through a sale (history SOLD).
	s := queue.NewState([]string{"p1", "p2", "p3", "p4"})
	_ = s.ApplyDefer("P One")
	_ = s.ApplySold("P Two", "t1", "A", 10)
	_ = s.ApplyUnsold("P Three")

	seen := map[string]int{}
	for _, p := range s.Remaining() {
		seen[p]++
	}
	for _, p := range s.Deferred {
		seen[p]++
	}
	for _, p := range s.Unsold {
		seen[p]++
	}
	for _, h := range s.History {
		if h.Action == domain.HistorySold {
			seen[h.PlayerID]++
		}
	}

	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		if seen[p] != 1 {
			t.Errorf("player %s appears %d times across partitions, want 1", p, seen[p])
		}
	}
}

func TestState_HistoryTail(t *testing.T) {
	s := queue.NewState([]string{"p1", "p2", "p3"})
	_ = s.ApplySold("P One", "t1", "A", 10)
	_ = s.ApplySold("P Two", "t1", "A", 20)
	_ = s.ApplySold("P Three", "t1", "A", 30)

	tail := s.HistoryTail(2)
	if len(tail) != 2 {
		t.Fatalf("tail length = %d, want 2", len(tail))
	}
	if tail[0].PlayerID != "p2" || tail[1].PlayerID != "p3" {
		t.Errorf("tail = %v, want entries for p2, p3", tail)
	}
}

func cloneState(s queue.State) queue.State {
	s.Queue = append([]string(nil), s.Queue...)
	s.Deferred = append([]string(nil), s.Deferred...)
	s.Unsold = append([]string(nil), s.Unsold...)
	s.History = append([]domain.HistoryEntry(nil), s.History...)
	return s
}
