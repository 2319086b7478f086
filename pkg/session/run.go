package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

func (s *Session) run(ctx context.Context) {
	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session.run: panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			out = s.fail(ctx, NewError(s.kind.FailureKind(), fmt.Sprintf("panic: %v", r)), StateFailed)
		}
		s.complete(out)
	}()

	switch s.role {
	case RoleTerminating:
		out = s.runTerminating(ctx)
	default:
		out = s.runOriginating(ctx)
	}
}

func (s *Session) complete(out Outcome) {
	s.outcome = out
	s.metrics.SessionFinished(s.kind.Name(), string(out.State))
	s.logger.Info("Session завершена",
		slog.String("state", string(out.State)),
		slog.String("reason", out.Reason.String()))
	close(s.done)
}

// runTerminating обработка входящего INVITE.
func (s *Session) runTerminating(ctx context.Context) Outcome {
	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}

	if err := s.tx.Provisional(dialog.StatusRinging, "Ringing", dialog.WithToTag(s.path.LocalTag())); err != nil {
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, errors.Wrap(err, "send 180 Ringing")), StateFailed)
	}
	s.transit(ctx, StateRingingSent)

	s.notifyInvited(s.invitation())
	s.transit(ctx, StateAwaitingAnswer)

	answer, err := s.gate.Wait(ctx, s.cfg.RingingTimeout)
	if err != nil {
		return s.abort(ctx)
	}
	s.logger.Debug("Session.runTerminating: решение по приглашению", slog.String("answer", answer.String()))

	switch answer {
	case Rejected:
		s.rejectInvite(dialog.StatusDecline, "Decline")
		return s.finish(ctx, StateRejected, ReasonByUser)
	case RejectedBySystem:
		s.rejectInvite(dialog.StatusDecline, "Decline")
		return s.finish(ctx, StateRejected, ReasonBySystem)
	case NotAnswered:
		code := s.kind.TimeoutResponse()
		s.rejectInvite(code, reasonPhrase(code))
		return s.finish(ctx, StateTimedOut, ReasonByTimeout)
	case Canceled:
		// 487 на INVITE отправляет обработчик CANCEL
		return s.finish(ctx, StateCanceled, ReasonByRemote)
	case Deleted:
		return s.abort(ctx)
	}

	s.transit(ctx, StateAccepted)
	s.notifyAccepted()

	if err := s.kind.PrepareMedia(ctx); err != nil {
		return s.fail(ctx, WrapError(ErrKindResourceNotInitialized, err), StateFailed)
	}
	s.transit(ctx, StateMediaPrepared)

	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}

	offer := dialog.NewBody(dialog.ContentType(s.invite), s.path.RemoteContent())
	answerBody, err := s.kind.BuildAnswer(ctx, offer)
	if err != nil {
		se := WrapError(s.kind.FailureKind(), err)
		if se.Kind == ErrKindMediaNegotiationFailed {
			s.rejectInvite(dialog.StatusUnsupportedMediaType, "Unsupported Media Type")
		}
		return s.fail(ctx, se, StateFailed)
	}
	s.path.SetLocalContent(answerBody.Content())
	s.path.SetSignalingEstablished()

	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}

	opts := []dialog.ResponseOpt{dialog.WithToTag(s.path.LocalTag())}
	if s.cfg.LocalContact != "" {
		opts = append(opts, dialog.WithContact(s.cfg.LocalContact, s.kind.FeatureTags()))
	}
	if r, ok := s.kind.(Responder); ok {
		opts = append(opts, r.AnswerOptions()...)
	}
	if err := s.tx.Answer(answerBody, opts...); err != nil {
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, errors.Wrap(err, "send 200 OK")), StateFailed)
	}
	s.transit(ctx, StateResponseSent)
	s.transit(ctx, StateAwaitingAck)

	ackCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	err = s.tx.WaitAck(ackCtx)
	cancel()
	if err != nil {
		if s.isInterrupted(ctx) {
			return s.abort(ctx)
		}
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, errors.Wrap(err, "wait ACK")), StateNoAckTimeout)
	}

	s.path.SetSessionEstablished()
	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}

	var timer *SessionTimer
	if interval, ok := dialog.SessionExpires(s.invite); ok {
		timer = s.startTimer(interval)
	}
	return s.established(ctx, timer)
}

// runOriginating исходящая сессия: предложение, INVITE, ответ, ACK.
func (s *Session) runOriginating(ctx context.Context) Outcome {
	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}
	if err := s.kind.PrepareMedia(ctx); err != nil {
		return s.fail(ctx, WrapError(ErrKindResourceNotInitialized, err), StateFailed)
	}
	s.transit(ctx, StateMediaPrepared)

	offer, err := s.kind.BuildOffer(ctx)
	if err != nil {
		return s.fail(ctx, WrapError(s.kind.FailureKind(), err), StateFailed)
	}
	s.path.SetLocalContent(offer.Content())

	req, err := dialog.NewInviteRequest(s.path, s.cfg.LocalContact, s.kind.FeatureTags(), offer, s.sessionExpiresHeaders()...)
	if err != nil {
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, err), StateFailed)
	}
	s.request = req

	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}
	s.transit(ctx, StateInviteSent)

	inviteCtx, cancel := context.WithTimeout(ctx, s.cfg.InviteTimeout)
	res, err := s.requester.Invite(inviteCtx, req)
	cancel()
	if err != nil {
		if s.isInterrupted(ctx) {
			return s.abort(ctx)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return s.finish(ctx, StateTimedOut, ReasonByTimeout)
		}
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, errors.Wrap(err, "send INVITE")), StateFailed)
	}

	switch code := res.StatusCode; {
	case code >= 200 && code < 300:
	case code == 408:
		return s.finish(ctx, StateTimedOut, ReasonByTimeout)
	case code == dialog.StatusUnsupportedMediaType || code == 488:
		return s.fail(ctx, NewError(ErrKindMediaNegotiationFailed, fmt.Sprintf("remote rejected media: %d", code)), StateRejected)
	default:
		return s.finish(ctx, StateRejected, ReasonByRemote)
	}

	s.transit(ctx, StateAnswered)
	s.path.SetRemoteTag(dialog.RemoteTag(res))
	if body := res.Body(); len(body) > 0 {
		if err := s.path.SetRemoteContent(body); err != nil {
			s.logger.Warn("Session.runOriginating: remote content", slog.String("error", err.Error()))
		}
	}
	s.path.SetSignalingEstablished()

	if err := s.requester.Ack(ctx, req, res); err != nil {
		return s.fail(ctx, WrapError(ErrKindSessionInitiationFailed, errors.Wrap(err, "send ACK")), StateFailed)
	}
	s.path.SetSessionEstablished()

	answer := dialog.NewBody(responseContentType(res), res.Body())
	if err := s.kind.ProcessAnswer(ctx, answer); err != nil {
		return s.fail(ctx, WrapError(s.kind.FailureKind(), err), StateFailed)
	}
	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}

	var timer *SessionTimer
	if s.cfg.SessionExpires > 0 {
		timer = s.startTimer(s.cfg.SessionExpires)
	}
	return s.established(ctx, timer)
}

func (s *Session) sessionExpiresHeaders() []sip.Header {
	if s.cfg.SessionExpires <= 0 {
		return nil
	}
	return []sip.Header{sip.NewHeader(dialog.HeaderSessionExpires, fmt.Sprintf("%d;refresher=uac", int(s.cfg.SessionExpires.Seconds())))}
}

// established запуск медиа и ожидание завершения установленной сессии.
func (s *Session) established(ctx context.Context, timer *SessionTimer) Outcome {
	if err := s.kind.OnEstablished(ctx); err != nil {
		return s.fail(ctx, WrapError(s.kind.FailureKind(), err), StateFailed)
	}
	s.transit(ctx, StateEstablished)
	s.metrics.SessionEstablished(s.kind.Name(), time.Since(s.createdAt))
	s.notifyStarted()

	var expired <-chan struct{}
	if timer != nil {
		expired = timer.Expired()
	}

	select {
	case reason := <-s.terminate:
		return s.finish(ctx, StateTerminated, reason)
	case <-expired:
		return s.finish(ctx, StateTerminated, ReasonSessionExpired)
	case <-ctx.Done():
		return s.abortState(ctx, StateTerminated)
	}
}

func (s *Session) rejectInvite(code int, reason string) {
	if err := s.tx.Reject(code, reason, dialog.WithToTag(s.path.LocalTag())); err != nil {
		s.logger.Warn("Session.rejectInvite", slog.Int("code", code), slog.String("error", err.Error()))
	}
}

// finish штатное завершение с уведомлением слушателей.
func (s *Session) finish(ctx context.Context, state State, reason TerminationReason) Outcome {
	s.release(ctx, state)
	for _, l := range s.snapshotListeners() {
		l.OnTerminated(s, reason)
	}
	return Outcome{State: state, Reason: reason}
}

// abort тихое завершение после прерывания.
func (s *Session) abort(ctx context.Context) Outcome {
	return s.abortState(ctx, StateAborted)
}

func (s *Session) abortState(ctx context.Context, state State) Outcome {
	s.logger.Debug("Session.abort", slog.String("from", string(s.State())))
	s.release(ctx, state)
	return Outcome{State: state}
}

// fail обработка ошибки: после прерывания тихо, иначе закрыть медиа,
// удалить из реестра и уведомить OnError.
func (s *Session) fail(ctx context.Context, se *Error, state State) Outcome {
	if s.isInterrupted(ctx) {
		return s.abort(ctx)
	}
	s.logger.Error("Session.fail",
		slog.String("errorKind", se.Kind.String()),
		slog.String("error", se.Error()))
	s.kind.OnError(se)
	s.release(ctx, state)
	for _, l := range s.snapshotListeners() {
		l.OnError(s, se)
	}
	return Outcome{State: state, Err: se}
}

func (s *Session) release(ctx context.Context, state State) {
	s.stopTimer()
	s.removeFromDirectory()
	if err := s.kind.Close(); err != nil {
		s.logger.Warn("Session.release: close kind", slog.String("error", err.Error()))
	}
	s.transit(context.WithoutCancel(ctx), state)
}

func (s *Session) invitation() Invitation {
	inv := Invitation{
		SessionID: s.id,
		Kind:      s.kind.Name(),
		Remote:    s.remote,
		RemoteURI: s.remoteURI,
		Subject:   dialog.Subject(s.invite),
		Timestamp: s.createdAt,
	}
	if content := s.path.RemoteContent(); len(content) > 0 {
		if d, err := media_sdp.Parse(sdpPart(dialog.NewBody(dialog.ContentType(s.invite), content))); err == nil {
			inv.Offer = d
		}
	}
	return inv
}

func (s *Session) notifyInvited(inv Invitation) {
	for _, l := range s.snapshotListeners() {
		l.OnInvited(s, inv)
	}
}

func (s *Session) notifyAccepted() {
	for _, l := range s.snapshotListeners() {
		l.OnAccepted(s)
	}
}

func (s *Session) notifyStarted() {
	for _, l := range s.snapshotListeners() {
		l.OnStarted(s)
	}
}

func reasonPhrase(code int) string {
	switch code {
	case dialog.StatusBusyHere:
		return "Busy Here"
	case dialog.StatusDecline:
		return "Decline"
	case 480:
		return "Temporarily Unavailable"
	default:
		return "Rejected"
	}
}
