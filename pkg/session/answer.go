package session

import (
	"context"
	"sync"
	"time"
)

// InvitationAnswer решение по входящему приглашению.
type InvitationAnswer int

const (
	NotAnswered InvitationAnswer = iota
	Rejected
	RejectedBySystem
	Canceled
	Accepted
	Deleted
)

func (a InvitationAnswer) String() string {
	switch a {
	case NotAnswered:
		return "NOT_ANSWERED"
	case Rejected:
		return "REJECTED"
	case RejectedBySystem:
		return "REJECTED_BY_SYSTEM"
	case Canceled:
		return "CANCELED"
	case Accepted:
		return "ACCEPTED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// InvitationGate ожидание решения по приглашению. Решение принимается
// ровно один раз: первый вызов Answer выигрывает, остальные игнорируются.
type InvitationGate struct {
	once   sync.Once
	answer chan InvitationAnswer
}

func NewInvitationGate() *InvitationGate {
	return &InvitationGate{answer: make(chan InvitationAnswer, 1)}
}

// Answer передает решение. Возвращает false, если решение уже принято.
func (g *InvitationGate) Answer(a InvitationAnswer) bool {
	accepted := false
	g.once.Do(func() {
		g.answer <- a
		accepted = true
	})
	return accepted
}

// Wait блокируется до решения или до истечения timeout. По таймауту
// решение фиксируется как NotAnswered, и поздний Answer уже ничего не
// меняет. Отмена ctx возвращает ошибку контекста.
func (g *InvitationGate) Wait(ctx context.Context, timeout time.Duration) (InvitationAnswer, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case a := <-g.answer:
		return a, nil
	case <-timer:
		// если Answer успел раньше таймера, в канале уже его решение
		g.Answer(NotAnswered)
		return <-g.answer, nil
	case <-ctx.Done():
		return NotAnswered, ctx.Err()
	}
}
