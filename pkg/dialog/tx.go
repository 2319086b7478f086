package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Коды ответов, которых нет среди констант sipgo.
const (
	StatusRinging              = 180
	StatusUnsupportedMediaType = 415
	StatusBusyHere             = 486
	StatusDecline              = 603
)

// ErrNoAck транзакция завершилась без ACK.
var ErrNoAck = errors.New("transaction terminated without ACK")

// ResponseOpt модифицирует ответ перед отправкой.
type ResponseOpt func(resp *sip.Response)

// IServerTX серверная INVITE транзакция с точки зрения сессии.
type IServerTX interface {
	// Request возвращает INVITE, создавший транзакцию
	Request() *sip.Request
	// Provisional отправляет предварительный ответ (1xx)
	Provisional(code int, reason string, opts ...ResponseOpt) error
	// Answer отправляет 200 OK с телом
	Answer(body *Body, opts ...ResponseOpt) error
	// Reject отправляет финальный отрицательный ответ
	Reject(code int, reason string, opts ...ResponseOpt) error
	// WaitAck блокируется до получения ACK на 200 OK
	WaitAck(ctx context.Context) error
}

// ServerTransaction часть sip.ServerTransaction, нужная сессии.
type ServerTransaction interface {
	Respond(res *sip.Response) error
	Acks() <-chan *sip.Request
	Done() <-chan struct{}
	Err() error
}

// ServerTX адаптер серверной транзакции sipgo. ACK на 2xx приходит вне
// транзакции, поэтому его доставляет обработчик UA через DeliverAck.
type ServerTX struct {
	tx       ServerTransaction
	req      *sip.Request
	localTag string
	ackChan  chan *sip.Request
}

var _ IServerTX = (*ServerTX)(nil)

// NewServerTX оборачивает серверную транзакцию. localTag подставляется в
// To всех ответов.
func NewServerTX(req *sip.Request, tx ServerTransaction, localTag string) *ServerTX {
	return &ServerTX{
		tx:       tx,
		req:      req,
		localTag: localTag,
		ackChan:  make(chan *sip.Request, 1),
	}
}

func (t *ServerTX) Request() *sip.Request {
	return t.req
}

func (t *ServerTX) Provisional(code int, reason string, opts ...ResponseOpt) error {
	if code < 100 || code > 199 {
		return fmt.Errorf("invalid provisional status code %d", code)
	}
	return t.respond(NewResponse(t.req, code, reason, nil), opts)
}

func (t *ServerTX) Answer(body *Body, opts ...ResponseOpt) error {
	return t.respond(NewResponse(t.req, sip.StatusOK, "OK", body), opts)
}

func (t *ServerTX) Reject(code int, reason string, opts ...ResponseOpt) error {
	if code < 300 {
		return fmt.Errorf("invalid reject status code %d", code)
	}
	return t.respond(NewResponse(t.req, code, reason, nil), opts)
}

// DeliverAck передает ACK ожидающей сессии. Повторные ACK отбрасываются.
func (t *ServerTX) DeliverAck(ack *sip.Request) {
	select {
	case t.ackChan <- ack:
	default:
	}
}

func (t *ServerTX) WaitAck(ctx context.Context) error {
	select {
	case <-t.tx.Acks():
		return nil
	case <-t.ackChan:
		return nil
	case <-t.tx.Done():
		if err := t.tx.Err(); err != nil {
			return fmt.Errorf("transaction terminated: %w", err)
		}
		return ErrNoAck
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ServerTX) respond(resp *sip.Response, opts []ResponseOpt) error {
	WithToTag(t.localTag)(resp)
	for _, opt := range opts {
		opt(resp)
	}
	return t.tx.Respond(resp)
}

// NewResponse ответ на req с телом body и его Content-Type.
func NewResponse(req *sip.Request, statusCode int, reason string, body *Body) *sip.Response {
	var b []byte
	var contentType string
	if body != nil {
		b = body.Content()
		contentType = body.ContentType()
	}
	resp := sip.NewResponseFromRequest(req, statusCode, reason, b)
	if len(contentType) > 0 {
		ct := sip.ContentTypeHeader(contentType)
		resp.AppendHeader(&ct)
	}
	return resp
}

// WithToTag ставит тег диалога в To. Тег, сгенерированный sipgo, заменяется.
func WithToTag(tag string) ResponseOpt {
	return func(resp *sip.Response) {
		to := resp.To()
		if to == nil || tag == "" {
			return
		}
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params = to.Params.Add("tag", tag)
	}
}

// WithContact добавляет Contact с feature tags.
func WithContact(uri string, featureTags []string) ResponseOpt {
	return func(resp *sip.Response) {
		resp.AppendHeader(sip.NewHeader("Contact", ContactValue(uri, featureTags)))
	}
}

// ContactValue значение Contact: <uri>;tag1;tag2.
func ContactValue(uri string, featureTags []string) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(uri)
	sb.WriteString(">")
	for _, tag := range featureTags {
		sb.WriteString(";")
		sb.WriteString(tag)
	}
	return sb.String()
}

// WithHeader добавляет произвольный заголовок.
func WithHeader(name, value string) ResponseOpt {
	return func(resp *sip.Response) {
		resp.AppendHeader(sip.NewHeader(name, value))
	}
}
