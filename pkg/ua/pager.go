package ua

import (
	"context"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/session"
)

// PagerSender отправляет данные сессии сообщений запросами SIP MESSAGE
// (pager mode) в рамках Call-ID сессии.
type PagerSender struct {
	transport Transport
	localURI  string
	remoteURI string
	callID    string
	logger    *slog.Logger
}

var _ session.MessageSender = (*PagerSender)(nil)

func NewPagerSender(transport Transport, localURI, remoteURI, callID string, logger *slog.Logger) *PagerSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &PagerSender{
		transport: transport,
		localURI:  localURI,
		remoteURI: remoteURI,
		callID:    callID,
		logger:    logger,
	}
}

// SendChunks отправляет data одним MESSAGE. Отрицательный ответ
// возвращается как *StatusError.
func (p *PagerSender) SendChunks(ctx context.Context, msgID, contentType string, data []byte) error {
	req, err := newMessageRequest(p.localURI, p.remoteURI, p.callID, contentType, data)
	if err != nil {
		return err
	}
	res, err := p.transport.Request(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "send message %s", msgID)
	}
	if !res.IsSuccess() {
		return &StatusError{Method: sip.MESSAGE, Code: res.StatusCode, Reason: res.Reason}
	}
	p.logger.Debug("PagerSender.SendChunks",
		slog.String("msgID", msgID),
		slog.String("contentType", contentType),
		slog.Int("size", len(data)))
	return nil
}

func newMessageRequest(localURI, remoteURI, callID, contentType string, data []byte) (*sip.Request, error) {
	var recipient, local sip.Uri
	if err := sip.ParseUri(remoteURI, &recipient); err != nil {
		return nil, errors.Wrapf(err, "parse remote uri %q", remoteURI)
	}
	if err := sip.ParseUri(localURI, &local); err != nil {
		return nil, errors.Wrapf(err, "parse local uri %q", localURI)
	}

	req := sip.NewRequest(sip.MESSAGE, recipient)
	req.AppendHeader(&sip.FromHeader{
		Address: local,
		Params:  sip.NewParams().Add("tag", sip.RandString(8)),
	})
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	if callID == "" {
		callID = sip.RandString(16)
	}
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.MESSAGE})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	ct := sip.ContentTypeHeader(contentType)
	req.AppendHeader(&ct)
	req.SetBody(data)
	return req, nil
}

// MessageHandler получатель входящих сообщений чата и отчетов IMDN.
type MessageHandler interface {
	OnMessage(msg *chat.Message)
	OnDeliveryReport(remote contact.ID, report *envelope.ImdnDocument)
}

// incoming разобранный входящий MESSAGE.
type incoming struct {
	remote contact.ID
	msg    *chat.Message
	report *envelope.ImdnDocument
	// notify запрошенные отправителем уведомления
	notify []string
}

func (in *incoming) wantsDelivery() bool {
	for _, n := range in.notify {
		if n == envelope.PositiveDelivery {
			return true
		}
	}
	return false
}

// parseIncomingMessage разбирает входящий MESSAGE: CPIM конверт или
// голый text/plain. is-composing не считается ни сообщением, ни отчетом.
func parseIncomingMessage(req *sip.Request, now time.Time) (*incoming, bool) {
	remote, ok := dialog.ReferredIdentity(req)
	if !ok {
		if from := req.From(); from != nil {
			remote, ok = contact.FromURI(from.Address.String())
		}
	}
	if !ok {
		return nil, false
	}

	ct := dialog.ContentType(req)
	switch {
	case envelope.IsTextPlainType(ct):
		msg := chat.NewMessage(envelope.NewMessageID(), remote, string(req.Body()), envelope.MimeTextPlain, now, now, "")
		return &incoming{remote: remote, msg: msg}, true
	case envelope.IsMessageCpimType(ct):
	default:
		return nil, false
	}

	cpim := envelope.ParseCpim(string(req.Body()))
	if cpim == nil {
		return nil, false
	}
	mime := cpim.ContentType()
	switch {
	case envelope.IsMessageImdnType(mime):
		report, ok := envelope.ParseDeliveryReport(cpim.Body)
		if !ok {
			return nil, false
		}
		return &incoming{remote: remote, report: report}, true
	case envelope.IsApplicationIsComposingType(mime):
		return nil, false
	}

	msgID := cpim.MessageID()
	if msgID == "" {
		msgID = envelope.NewMessageID()
	}
	sent, ok := cpim.DateTime()
	if !ok {
		sent = now
	}
	return &incoming{
		remote: remote,
		msg:    chat.NewMessage(msgID, remote, cpim.Body, mime, now, sent, ""),
		notify: cpim.DispositionNotification(),
	}, true
}
