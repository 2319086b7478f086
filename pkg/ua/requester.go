package ua

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/session"
)

// requester отправка исходящего INVITE и ACK для сессии.
type requester struct {
	transport Transport
}

var _ session.Requester = (*requester)(nil)

func (r *requester) Invite(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	return r.transport.Request(ctx, req)
}

func (r *requester) Ack(_ context.Context, req *sip.Request, res *sip.Response) error {
	ack := sip.NewAckRequest(req, res, nil)
	if err := r.transport.Write(ack); err != nil {
		return errors.Wrap(err, "write ACK")
	}
	return nil
}

// StatusError финальный отрицательный ответ на запрос UA.
type StatusError struct {
	Method sip.RequestMethod
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s rejected: %d %s", e.Method, e.Code, e.Reason)
}

// newByeRequest BYE внутри диалога сессии. Request-URI адрес удаленной
// стороны, cseq продолжает нумерацию локальной стороны.
func newByeRequest(p *dialog.Path, cseq uint32) (*sip.Request, error) {
	var recipient, local sip.Uri
	if err := sip.ParseUri(p.RemoteParty(), &recipient); err != nil {
		return nil, errors.Wrapf(err, "parse remote party %q", p.RemoteParty())
	}
	if err := sip.ParseUri(p.LocalParty(), &local); err != nil {
		return nil, errors.Wrapf(err, "parse local party %q", p.LocalParty())
	}

	req := sip.NewRequest(sip.BYE, recipient)
	req.AppendHeader(&sip.FromHeader{
		Address: local,
		Params:  sip.NewParams().Add("tag", p.LocalTag()),
	})
	toParams := sip.NewParams()
	if tag := p.RemoteTag(); tag != "" {
		toParams.Add("tag", tag)
	}
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: toParams})
	callID := sip.CallIDHeader(p.CallID())
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.BYE})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	return req, nil
}
