package session

import (
	"time"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// Invitation данные входящего приглашения для слушателей.
type Invitation struct {
	SessionID string
	Kind      string
	Remote    contact.ID
	RemoteURI string
	Subject   string
	// Offer описание медиа из INVITE, nil если тело не SDP
	Offer     *media_sdp.Description
	Timestamp time.Time
}

// Listener наблюдатель за сессией. Все методы вызываются синхронно из
// горутины сессии и не должны блокироваться надолго.
type Listener interface {
	OnInvited(s *Session, inv Invitation)
	OnAccepted(s *Session)
	OnStarted(s *Session)
	OnTerminated(s *Session, reason TerminationReason)
	OnError(s *Session, err *Error)
}

// NopListener пустая реализация для встраивания.
type NopListener struct{}

func (NopListener) OnInvited(*Session, Invitation)           {}
func (NopListener) OnAccepted(*Session)                      {}
func (NopListener) OnStarted(*Session)                       {}
func (NopListener) OnTerminated(*Session, TerminationReason) {}
func (NopListener) OnError(*Session, *Error)                 {}
