package session

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State состояние сессии.
type State string

const (
	StateCreated        State = "CREATED"
	StateRingingSent    State = "RINGING_SENT"
	StateAwaitingAnswer State = "AWAITING_ANSWER"
	StateRejected       State = "REJECTED"
	StateTimedOut       State = "TIMED_OUT"
	StateCanceled       State = "CANCELED"
	StateAccepted       State = "ACCEPTED"
	StateMediaPrepared  State = "MEDIA_PREPARED"
	StateResponseSent   State = "RESPONSE_SENT"
	StateAwaitingAck    State = "AWAITING_ACK"
	StateEstablished    State = "ESTABLISHED"
	StateNoAckTimeout   State = "NO_ACK_TIMEOUT"
	StateInviteSent     State = "INVITE_SENT"
	StateAnswered       State = "ANSWERED"
	StateTerminated     State = "TERMINATED"
	StateFailed         State = "FAILED"
	StateAborted        State = "ABORTED"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal после терминального состояния переходов нет.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateTimedOut, StateCanceled, StateNoAckTimeout,
		StateTerminated, StateFailed, StateAborted:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateCreated:        {StateRingingSent, StateMediaPrepared},
	StateRingingSent:    {StateAwaitingAnswer},
	StateAwaitingAnswer: {StateRejected, StateTimedOut, StateCanceled, StateAccepted},
	StateAccepted:       {StateMediaPrepared},
	StateMediaPrepared:  {StateResponseSent, StateInviteSent},
	StateResponseSent:   {StateAwaitingAck},
	StateAwaitingAck:    {StateEstablished, StateNoAckTimeout},
	StateInviteSent:     {StateRejected, StateTimedOut, StateAnswered},
	StateAnswered:       {StateEstablished},
	StateEstablished:    {StateTerminated},
}

func formEventName(src, dst State) string {
	return string(src) + "_to_" + string(dst)
}

// newStateMachine автомат состояний сессии. Из любого нетерминального
// состояния разрешены FAILED и ABORTED.
func newStateMachine(onTransition func(ctx context.Context, e *fsm.Event)) *fsm.FSM {
	var events fsm.Events
	for src, dsts := range transitions {
		for _, dst := range append(dsts, StateFailed, StateAborted) {
			events = append(events, fsm.EventDesc{
				Name: formEventName(src, dst),
				Src:  []string{string(src)},
				Dst:  string(dst),
			})
		}
	}

	return fsm.NewFSM(
		string(StateCreated),
		events,
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				onTransition(ctx, e)
			},
		},
	)
}

// transit переводит автомат в dst. Недопустимый переход логируется и
// не выполняется.
func (s *Session) transit(ctx context.Context, dst State) {
	src := s.State()
	if src == dst {
		return
	}
	if err := s.fsm.Event(ctx, formEventName(src, dst)); err != nil {
		s.logger.Warn("Session.transit: недопустимый переход",
			slog.String("from", string(src)),
			slog.String("to", string(dst)),
			slog.String("error", err.Error()))
	}
}

func (s *Session) onTransition(_ context.Context, e *fsm.Event) {
	s.logger.Debug("Session.onTransition",
		slog.String("from", e.Src),
		slog.String("to", e.Dst))
	s.metrics.StateTransition(s.kind.Name(), e.Src, e.Dst)
}
