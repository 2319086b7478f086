// Package dialogtest содержит заготовки SIP запросов и фейковые транзакции
// для тестов сессий.
package dialogtest

import (
	"context"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/dialog"
)

// InviteOpt настраивает тестовый INVITE.
type InviteOpt func(req *sip.Request)

// WithHeader добавляет заголовок.
func WithHeader(name, value string) InviteOpt {
	return func(req *sip.Request) {
		req.AppendHeader(sip.NewHeader(name, value))
	}
}

// WithBody задает тело и Content-Type.
func WithBody(contentType string, body []byte) InviteOpt {
	return func(req *sip.Request) {
		ct := sip.ContentTypeHeader(contentType)
		req.AppendHeader(&ct)
		req.SetBody(body)
	}
}

// NewInvite собирает INVITE от from к to с минимальным набором заголовков.
func NewInvite(from, to string, opts ...InviteOpt) *sip.Request {
	var toURI, fromURI sip.Uri
	if err := sip.ParseUri(to, &toURI); err != nil {
		panic(err)
	}
	if err := sip.ParseUri(from, &fromURI); err != nil {
		panic(err)
	}

	req := sip.NewRequest(sip.INVITE, toURI)
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "127.0.0.1",
		Port:            5060,
		Params:          sip.NewParams().Add("branch", sip.GenerateBranch()),
	})
	req.AppendHeader(&sip.FromHeader{
		Address: fromURI,
		Params:  sip.NewParams().Add("tag", sip.RandString(8)),
	})
	req.AppendHeader(&sip.ToHeader{Address: toURI, Params: sip.NewParams()})
	callID := sip.CallIDHeader(sip.RandString(16))
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	for _, opt := range opts {
		opt(req)
	}
	return req
}

// ServerTX фейковая серверная транзакция, записывающая все ответы.
type ServerTX struct {
	req *sip.Request

	mu        sync.Mutex
	responses []*sip.Response

	acks chan struct{}
	// AckErr если задан, WaitAck возвращает его вместо ожидания
	AckErr error
	// Responded получает код каждого отправленного ответа
	Responded chan int
}

var _ dialog.IServerTX = (*ServerTX)(nil)

func NewServerTX(req *sip.Request) *ServerTX {
	return &ServerTX{
		req:       req,
		acks:      make(chan struct{}, 1),
		Responded: make(chan int, 16),
	}
}

func (t *ServerTX) Request() *sip.Request {
	return t.req
}

func (t *ServerTX) Provisional(code int, reason string, opts ...dialog.ResponseOpt) error {
	return t.record(code, reason, nil, opts)
}

func (t *ServerTX) Answer(body *dialog.Body, opts ...dialog.ResponseOpt) error {
	return t.record(sip.StatusOK, "OK", body, opts)
}

func (t *ServerTX) Reject(code int, reason string, opts ...dialog.ResponseOpt) error {
	return t.record(code, reason, nil, opts)
}

func (t *ServerTX) WaitAck(ctx context.Context) error {
	if t.AckErr != nil {
		return t.AckErr
	}
	select {
	case <-t.acks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack имитирует получение ACK.
func (t *ServerTX) Ack() {
	select {
	case t.acks <- struct{}{}:
	default:
	}
}

// DeliverAck то же, что Ack, с сигнатурой dialog.ServerTX.
func (t *ServerTX) DeliverAck(*sip.Request) {
	t.Ack()
}

// Codes возвращает коды всех отправленных ответов по порядку.
func (t *ServerTX) Codes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	codes := make([]int, 0, len(t.responses))
	for _, r := range t.responses {
		codes = append(codes, r.StatusCode)
	}
	return codes
}

// Last возвращает последний ответ.
func (t *ServerTX) Last() *sip.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.responses) == 0 {
		return nil
	}
	return t.responses[len(t.responses)-1]
}

func (t *ServerTX) record(code int, reason string, body *dialog.Body, opts []dialog.ResponseOpt) error {
	resp := dialog.NewResponse(t.req, code, reason, body)
	for _, opt := range opts {
		opt(resp)
	}
	t.mu.Lock()
	t.responses = append(t.responses, resp)
	t.mu.Unlock()
	select {
	case t.Responded <- code:
	default:
	}
	return nil
}
