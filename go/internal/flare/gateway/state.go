package gateway

import (
	"sync"
	"time"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

// FlareState is what a viewer joining late needs to render the screen.
type FlareState struct {
	FlareName        string     `json:"flare_name"`
	State            string     `json:"state"`
	JoinCount        int        `json:"join_count"`
	QuorumSize       int        `json:"quorum_size"`
	ParticipantIndex *int       `json:"participant_index,omitempty"`
	TargetTime       *time.Time `json:"target_time,omitempty"`
	RemainingSec     int        `json:"remaining_sec"`
	Display          string     `json:"display"`
	Phase            string     `json:"phase"`
	Cycle            int        `json:"cycle"`
	Error            string     `json:"error,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// StateStore folds events into one FlareState per flare.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*FlareState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]*FlareState)}
}

// Get returns a copy of the flare's state.
func (s *StateStore) Get(flareName string) (FlareState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[flareName]
	if !ok {
		return FlareState{}, false
	}
	return *st, true
}

func (s *StateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.states))
	for name := range s.states {
		names = append(names, name)
	}
	return names
}

func (s *StateStore) ProcessEvent(event events.Event) error {
	payload, err := events.ParsePayload(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[event.FlareName]
	if st == nil {
		st = &FlareState{FlareName: event.FlareName, Phase: "idle", Display: "0:00"}
		s.states[event.FlareName] = st
	}
	st.UpdatedAt = event.Timestamp

	switch p := payload.(type) {
	case *events.FlareJoinedPayload:
		idx := p.ParticipantIndex
		st.ParticipantIndex = &idx
	case *events.QuorumProgressPayload:
		st.JoinCount = p.JoinCount
		st.QuorumSize = p.QuorumSize
		st.State = p.State
	case *events.FlareSynchronizedPayload:
		target := p.TargetTime
		idx := p.ParticipantIndex
		st.TargetTime = &target
		st.ParticipantIndex = &idx
		st.State = "synchronized"
	case *events.OutputPayload:
		st.Cycle = p.Cycle
		if event.Type == events.TypeOutputBegan {
			st.Phase = "active"
		} else {
			st.Phase = "idle"
		}
	case *events.TimerTickPayload:
		st.RemainingSec = p.RemainingSec
		st.Display = p.Display
		st.Phase = p.Phase
	case *events.FlareCompletedPayload:
		st.State = "completed"
		st.Cycle = p.Cycles
	case *events.FlareAbandonedPayload:
		st.State = "terminated"
	case *events.FlareFailedPayload:
		st.State = "error"
		st.Error = p.Error
	}
	return nil
}
