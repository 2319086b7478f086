// Package journal записывает события сессий и сообщений в журнал sqlite:
// входящие сообщения и отчеты IMDN, первые сообщения чатов и состояние
// групповых чатов.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/store"
	"github.com/arzzra/rcs_core/pkg/ua"
)

const storeTimeout = 5 * time.Second

// Journal слушатель сессий и получатель MESSAGE.
type Journal struct {
	store  *store.SQLiteStore
	logger *slog.Logger
}

var (
	_ session.Listener  = (*Journal)(nil)
	_ ua.MessageHandler = (*Journal)(nil)
)

func New(st *store.SQLiteStore, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  st,
		logger: logger.With(slog.String("component", "journal")),
	}
}

func (j *Journal) exec(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		j.logger.Error("Journal: "+op, slog.String("error", err.Error()))
	}
}

// OnMessage входящее сообщение чата один на один.
func (j *Journal) OnMessage(msg *chat.Message) {
	j.exec("add message", func(ctx context.Context) error {
		return j.store.AddMessage(ctx, msg.Remote().String(), msg, store.Incoming, store.MessageReceived)
	})
}

// OnDeliveryReport обновляет состояние отправленного сообщения.
func (j *Journal) OnDeliveryReport(remote contact.ID, report *envelope.ImdnDocument) {
	status, ok := reportStatus(report.Outcome())
	if !ok {
		return
	}
	j.exec("set message status", func(ctx context.Context) error {
		err := j.store.SetMessageStatus(ctx, report.MessageID, status)
		if errors.Is(err, store.ErrNotFound) {
			j.logger.Debug("Journal.OnDeliveryReport: unknown message",
				slog.String("msgID", report.MessageID),
				slog.String("remote", remote.String()))
			return nil
		}
		return err
	})
}

func reportStatus(outcome envelope.ImdnOutcome) (store.MessageStatus, bool) {
	switch outcome {
	case envelope.OutcomeDelivered:
		return store.MessageDelivered, true
	case envelope.OutcomeDisplayed:
		return store.MessageDisplayed, true
	case envelope.OutcomeError:
		return store.MessageFailed, true
	}
	return 0, false
}

// Outgoing записывает отправленное сообщение.
func (j *Journal) Outgoing(msg *chat.Message) {
	j.exec("add outgoing message", func(ctx context.Context) error {
		return j.store.AddMessage(ctx, msg.Remote().String(), msg, store.Outgoing, store.MessageSent)
	})
}

// groupChatID идентификатор входящего группового чата: Contribution-ID,
// а при его отсутствии идентификатор сессии.
func groupChatID(s *session.Session) (string, bool) {
	if s.Role() != session.RoleTerminating || s.Invite() == nil {
		return "", false
	}
	c, ok := s.Kind().(session.OneToOneChat)
	if !ok || c.IsOneToOneChat() {
		return "", false
	}
	if id := dialog.ContributionID(s.Invite()); id != "" {
		return id, true
	}
	return s.ID(), true
}

func (j *Journal) OnInvited(s *session.Session, inv session.Invitation) {
	if id, ok := groupChatID(s); ok {
		j.exec("add group chat", func(ctx context.Context) error {
			return j.store.AddGroupChat(ctx, store.GroupChat{
				ChatID:       id,
				Contact:      inv.Remote,
				Subject:      inv.Subject,
				Participants: chat.GetParticipants(s.Invite(), chat.Invited),
				State:        store.GroupChatInvited,
				Direction:    store.Incoming,
				Timestamp:    inv.Timestamp,
			})
		})
		return
	}

	if s.Role() != session.RoleTerminating || s.Invite() == nil {
		return
	}
	if _, ok := s.Kind().(*session.ChatKind); !ok {
		return
	}
	if msg := chat.GetFirstMessage(s.Invite(), inv.Timestamp); msg != nil {
		j.OnMessage(msg)
	}
}

func (j *Journal) OnAccepted(s *session.Session) {
	j.setGroupState(s, store.GroupChatAccepting, store.GroupReasonUnspecified)
}

func (j *Journal) OnStarted(s *session.Session) {
	j.setGroupState(s, store.GroupChatStarted, store.GroupReasonUnspecified)
}

func (j *Journal) OnTerminated(s *session.Session, reason session.TerminationReason) {
	state, code := groupOutcome(s.State(), reason)
	j.setGroupState(s, state, code)
}

func (j *Journal) OnError(s *session.Session, _ *session.Error) {
	j.setGroupState(s, store.GroupChatFailed, store.GroupReasonFailedInitiation)
}

func (j *Journal) setGroupState(s *session.Session, state store.GroupChatState, reason store.GroupChatReason) {
	id, ok := groupChatID(s)
	if !ok {
		return
	}
	j.exec("set group chat state", func(ctx context.Context) error {
		return j.store.SetGroupChatState(ctx, id, state, reason)
	})
}

// groupOutcome состояние группового чата по итогу сессии.
func groupOutcome(state session.State, reason session.TerminationReason) (store.GroupChatState, store.GroupChatReason) {
	switch state {
	case session.StateRejected:
		if reason == session.ReasonBySystem {
			return store.GroupChatRejected, store.GroupReasonRejectedBySystem
		}
		return store.GroupChatRejected, store.GroupReasonUnspecified
	case session.StateTimedOut:
		return store.GroupChatRejected, store.GroupReasonRejectedByTimeout
	case session.StateCanceled:
		return store.GroupChatRejected, store.GroupReasonRejectedByRemote
	}

	switch reason {
	case session.ReasonByUser:
		return store.GroupChatAborted, store.GroupReasonAbortedByUser
	case session.ReasonByRemote:
		return store.GroupChatAborted, store.GroupReasonAbortedByRemote
	case session.ReasonByTimeout, session.ReasonSessionExpired:
		return store.GroupChatAborted, store.GroupReasonAbortedByInactivity
	}
	return store.GroupChatAborted, store.GroupReasonUnspecified
}
