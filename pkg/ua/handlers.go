package ua

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
)

const (
	// CallIDDoesNotExist ответ на запрос без Call-ID
	CallIDDoesNotExist = "empty call id"
	// CallDoesNotExist ответ 481, если сессия не найдена
	CallDoesNotExist = "Call/Transaction Does Not Exist"
)

// statusNotAcceptableHere медиа приглашения нельзя обслужить.
const statusNotAcceptableHere = 488

func (u *UA) respond(req *sip.Request, tx dialog.ServerTransaction, code int, reason string, opts ...dialog.ResponseOpt) {
	if tx == nil {
		return
	}
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	for _, opt := range opts {
		opt(res)
	}
	if err := tx.Respond(res); err != nil {
		u.logger.Error("Не удалось отправить ответ",
			slog.Int("status", code),
			slog.String("method", req.Method.String()),
			slog.String("error", err.Error()))
	}
}

// lookup ищет сессию по Call-ID запроса; при неудаче отвечает сам.
func (u *UA) lookup(req *sip.Request, tx dialog.ServerTransaction) (*session.Session, bool) {
	callID := req.CallID()
	if callID == nil {
		u.respond(req, tx, sip.StatusBadRequest, CallIDDoesNotExist)
		return nil, false
	}
	s, ok := u.directory.ByCallID(callID.Value())
	if !ok {
		u.respond(req, tx, sip.StatusCallTransactionDoesNotExists, CallDoesNotExist)
		return nil, false
	}
	return s, true
}

// onInvite новое приглашение или re-INVITE установленной сессии.
// Обработчик держит транзакцию до установления или завершения сессии.
func (u *UA) onInvite(req *sip.Request, tx dialog.ServerTransaction) {
	u.logger.Debug("UA.onInvite", slog.Any("request", req))

	callID := req.CallID()
	if callID == nil {
		u.respond(req, tx, sip.StatusBadRequest, CallIDDoesNotExist)
		return
	}
	if toTag(req) != "" {
		u.onReInvite(req, tx)
		return
	}
	if _, ok := u.directory.ByCallID(callID.Value()); ok {
		u.respond(req, tx, sip.StatusLoopDetected, "Loop Detected")
		return
	}
	if u.isClosed() {
		u.respond(req, tx, sip.StatusServiceUnavailable, "Service Unavailable")
		return
	}

	offer := session.OfferOf(req)
	kindName := classifyInvite(req, offer)
	if kindName == "" {
		u.respond(req, tx, dialog.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}

	serverTX := dialog.NewServerTX(req, tx, "")
	kind, err := u.terminatingKind(kindName, req, offer)
	if err != nil {
		u.logger.Warn("UA.onInvite: kind", slog.String("kind", kindName), slog.String("error", err.Error()))
		u.respond(req, tx, statusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	s := session.NewTerminating(serverTX, kind, u.cfg.Session)
	started := &startedSignal{ch: make(chan struct{})}
	s.AddListener(started)
	if u.cfg.AutoAccept {
		s.AddListener(autoAccept{})
	}
	for _, l := range u.cfg.Listeners {
		s.AddListener(l)
	}
	u.register(s)

	u.mu.Lock()
	u.pending[callID.Value()] = serverTX
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		delete(u.pending, callID.Value())
		u.mu.Unlock()
	}()

	if err := s.Start(u.ctx); err != nil {
		u.directory.Remove(s)
		u.respond(req, tx, sip.StatusInternalServerError, "Server Internal Error")
		return
	}

	select {
	case <-started.ch:
	case <-s.Done():
	}
}

// onReInvite обновление сессии: сброс таймера и повтор локального SDP.
func (u *UA) onReInvite(req *sip.Request, tx dialog.ServerTransaction) {
	s, ok := u.lookup(req, tx)
	if !ok {
		return
	}
	s.RefreshReceived()
	u.logger.Debug("UA.onReInvite", slog.String("sessionID", s.ID()))

	serverTX := dialog.NewServerTX(req, tx, s.Path().LocalTag())
	var body *dialog.Body
	if content := s.Path().LocalContent(); len(content) > 0 {
		body = dialog.NewBody(mimeSDP, content)
	}
	if err := serverTX.Answer(body); err != nil {
		u.logger.Error("UA.onReInvite: answer", slog.String("error", err.Error()))
	}
}

func (u *UA) onAck(req *sip.Request) {
	callID := req.CallID()
	if callID == nil {
		return
	}
	if s, ok := u.directory.ByCallID(callID.Value()); ok {
		s.AckReceived(req)
	}
}

// onCancel отвечает 200 на CANCEL и 487 на отмененный INVITE, если
// приглашение еще ждало решения.
func (u *UA) onCancel(req *sip.Request, tx dialog.ServerTransaction) {
	s, ok := u.lookup(req, tx)
	if !ok {
		return
	}
	u.respond(req, tx, sip.StatusOK, "OK")

	// транзакцию берем до отмены: после завершения сессии обработчик
	// INVITE удаляет ее из pending
	u.mu.Lock()
	inviteTX := u.pending[req.CallID().Value()]
	u.mu.Unlock()

	if !s.RemoteCancel() {
		u.logger.Debug("UA.onCancel: invitation already answered", slog.String("sessionID", s.ID()))
		return
	}
	if inviteTX == nil {
		return
	}
	if err := inviteTX.Reject(sip.StatusRequestTerminated, "Request Terminated", dialog.WithToTag(s.Path().LocalTag())); err != nil {
		u.logger.Error("UA.onCancel: 487", slog.String("error", err.Error()))
	}
}

func (u *UA) onBye(req *sip.Request, tx dialog.ServerTransaction) {
	s, ok := u.lookup(req, tx)
	if !ok {
		return
	}
	u.respond(req, tx, sip.StatusOK, "OK")
	s.Terminate(session.ReasonByRemote)
}

func (u *UA) onUpdate(req *sip.Request, tx dialog.ServerTransaction) {
	s, ok := u.lookup(req, tx)
	if !ok {
		return
	}
	s.RefreshReceived()
	u.respond(req, tx, sip.StatusOK, "OK")
}

// onOptions запрос возможностей: в Contact объявляются теги чата.
func (u *UA) onOptions(req *sip.Request, tx dialog.ServerTransaction) {
	opts := []dialog.ResponseOpt{
		dialog.WithHeader("Allow", "INVITE, ACK, CANCEL, BYE, UPDATE, OPTIONS, MESSAGE"),
		dialog.WithHeader("Accept", "application/sdp, message/cpim, multipart/mixed"),
	}
	if u.cfg.Session.LocalContact != "" {
		opts = append(opts, dialog.WithContact(u.cfg.Session.LocalContact, chat.SupportedFeatureTags(u.cfg.Features)))
	}
	u.respond(req, tx, sip.StatusOK, "OK", opts...)
}

// onMessage входящее сообщение в pager режиме. На запрошенное
// уведомление о доставке отвечает отчетом IMDN.
func (u *UA) onMessage(req *sip.Request, tx dialog.ServerTransaction) {
	now := time.Now()
	in, ok := parseIncomingMessage(req, now)
	if !ok {
		if envelope.IsApplicationIsComposingType(dialog.ContentType(req)) {
			u.respond(req, tx, sip.StatusOK, "OK")
			return
		}
		u.respond(req, tx, dialog.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}
	u.respond(req, tx, sip.StatusOK, "OK")

	if in.report != nil {
		if u.cfg.Messages != nil {
			u.cfg.Messages.OnDeliveryReport(in.remote, in.report)
		}
		return
	}
	if u.cfg.Messages != nil {
		u.cfg.Messages.OnMessage(in.msg)
	}
	if in.wantsDelivery() && u.cfg.ImdnDelivered {
		go u.sendDeliveryReport(in, now)
	}
}

func (u *UA) sendDeliveryReport(in *incoming, now time.Time) {
	remoteURI := u.remoteURI(in.remote)
	imdn := envelope.BuildImdnDeliveryReport(in.msg.ID(), envelope.StatusDelivered, now)
	report := envelope.BuildCpimDeliveryReport(u.cfg.LocalURI, remoteURI, imdn, now)

	ctx, cancel := context.WithTimeout(u.ctx, session.TimerB)
	defer cancel()
	sender := NewPagerSender(u.transport, u.cfg.LocalURI, remoteURI, "", u.logger)
	if err := sender.SendChunks(ctx, envelope.NewMessageID(), envelope.MimeCpim, []byte(report)); err != nil {
		u.logger.Warn("UA.sendDeliveryReport",
			slog.String("msgID", in.msg.ID()),
			slog.String("error", err.Error()))
	}
}

// terminatingKind создает вид входящей сессии.
func (u *UA) terminatingKind(name string, req *sip.Request, offer *media_sdp.Description) (session.Kind, error) {
	sender := NewPagerSender(u.transport, req.Recipient.String(), dialog.PathFromRequest(req).RemoteParty(), req.CallID().Value(), u.logger)
	switch name {
	case KindChat:
		cfg := u.chatConfig(sender)
		cfg.Group = chat.IsGroupChatInvitation(req)
		return session.NewChatKind(cfg), nil
	case KindFileTransfer:
		fileType := acceptType(offer)
		if fileType == "" {
			return nil, errors.New("file transfer without accept-types")
		}
		return session.NewFileTransferKind(session.FileTransferConfig{
			Media:    u.messageParams(),
			Sender:   sender,
			FileType: fileType,
		}), nil
	case KindIPCall:
		k := session.NewIPCallKind(u.cfg.Media)
		if err := u.attachEndpoints(k); err != nil {
			return nil, err
		}
		return k, nil
	case KindRTP:
		k := session.NewRTPKind(u.cfg.Media, "")
		if err := u.attachEndpoints(k); err != nil {
			return nil, err
		}
		return k, nil
	}
	return nil, errors.Errorf("unsupported kind %q", name)
}

func toTag(req *sip.Request) string {
	to := req.To()
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

const mimeSDP = "application/sdp"

// startedSignal закрывает канал, когда сессия установлена.
type startedSignal struct {
	session.NopListener
	ch   chan struct{}
	once sync.Once
}

func (l *startedSignal) OnStarted(*session.Session) {
	l.once.Do(func() { close(l.ch) })
}

// autoAccept принимает приглашение сразу после 180 Ringing.
type autoAccept struct {
	session.NopListener
}

func (autoAccept) OnInvited(s *session.Session, _ session.Invitation) {
	s.Accept()
}

// byeOnTerminate отправляет BYE, когда установленная сессия завершена
// локально (пользователь, система, истечение таймера сессии).
type byeOnTerminate struct {
	session.NopListener
	ua *UA
}

func (l *byeOnTerminate) OnTerminated(s *session.Session, reason session.TerminationReason) {
	if s.State() != session.StateTerminated || reason == session.ReasonByRemote {
		return
	}
	go l.ua.sendBye(s)
}

func (u *UA) sendBye(s *session.Session) {
	var cseq uint32 = 1
	if s.Role() == session.RoleOriginating {
		cseq = 2
	}
	req, err := newByeRequest(s.Path(), cseq)
	if err != nil {
		u.logger.Error("UA.sendBye", slog.String("sessionID", s.ID()), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), session.TimerB)
	defer cancel()
	res, err := u.transport.Request(ctx, req)
	if err != nil {
		u.logger.Warn("UA.sendBye", slog.String("sessionID", s.ID()), slog.String("error", err.Error()))
		return
	}
	u.logger.Debug("UA.sendBye", slog.String("sessionID", s.ID()), slog.Int("status", res.StatusCode))
}
