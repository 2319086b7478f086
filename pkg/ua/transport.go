package ua

import (
	"context"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// ErrNoFinalResponse транзакция завершилась без финального ответа.
var ErrNoFinalResponse = errors.New("transaction terminated without final response")

// Transport отправка запросов UA.
type Transport interface {
	// Request отправляет запрос в клиентской транзакции и возвращает
	// финальный ответ. Отмена ctx для INVITE отправляет CANCEL.
	Request(ctx context.Context, req *sip.Request) (*sip.Response, error)
	// Write отправляет запрос вне транзакции (ACK на 2xx)
	Write(req *sip.Request) error
}

// clientTransport Transport поверх клиента sipgo.
type clientTransport struct {
	client *sipgo.Client
	// proxy исходящий прокси, пустой адрес берется из Request-URI
	proxy  string
	logger *slog.Logger
}

var _ Transport = (*clientTransport)(nil)

func (t *clientTransport) route(req *sip.Request) {
	if t.proxy != "" {
		req.SetDestination(t.proxy)
	}
}

func (t *clientTransport) Request(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	t.route(req)
	tx, err := t.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s", req.Method)
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				t.logger.Debug("clientTransport.Request: provisional",
					slog.Int("status", res.StatusCode),
					slog.String("callID", req.CallID().Value()))
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, errors.Wrapf(err, "%s transaction", req.Method)
			}
			return nil, ErrNoFinalResponse
		case <-ctx.Done():
			if req.Method == sip.INVITE {
				t.cancel(req)
			}
			return nil, ctx.Err()
		}
	}
}

// cancel отправляет CANCEL на INVITE без ожидания ответа.
func (t *clientTransport) cancel(req *sip.Request) {
	cancelReq := newCancelRequest(req)
	t.route(cancelReq)
	if err := t.client.WriteRequest(cancelReq); err != nil {
		t.logger.Warn("clientTransport.cancel", slog.String("error", err.Error()))
	}
}

func (t *clientTransport) Write(req *sip.Request) error {
	t.route(req)
	return t.client.WriteRequest(req)
}

// newCancelRequest CANCEL повторяет Request-URI, Via, From, To, Call-ID и
// номер CSeq отменяемого INVITE (RFC 3261, 9.1).
func newCancelRequest(invite *sip.Request) *sip.Request {
	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	req.SipVersion = invite.SipVersion
	if via := invite.Via(); via != nil {
		req.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", invite, req)
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	if h := invite.From(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.To(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		cseq := sip.HeaderClone(h).(*sip.CSeqHeader)
		cseq.MethodName = sip.CANCEL
		req.AppendHeader(cseq)
	}
	req.SetTransport(invite.Transport())
	return req
}
