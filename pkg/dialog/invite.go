package dialog

import (
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// NewInviteRequest собирает исходящий INVITE по пути диалога. Via
// добавляет клиент sipgo при отправке.
func NewInviteRequest(p *Path, contactURI string, featureTags []string, body *Body, headers ...sip.Header) (*sip.Request, error) {
	var recipient, local sip.Uri
	if err := sip.ParseUri(p.RemoteParty(), &recipient); err != nil {
		return nil, errors.Wrapf(err, "parse remote party %q", p.RemoteParty())
	}
	if err := sip.ParseUri(p.LocalParty(), &local); err != nil {
		return nil, errors.Wrapf(err, "parse local party %q", p.LocalParty())
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(&sip.FromHeader{
		Address: local,
		Params:  sip.NewParams().Add("tag", p.LocalTag()),
	})
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	callID := sip.CallIDHeader(p.CallID())
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if contactURI != "" {
		req.AppendHeader(sip.NewHeader("Contact", ContactValue(contactURI, featureTags)))
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	if body != nil && len(body.Content()) > 0 {
		ct := sip.ContentTypeHeader(body.ContentType())
		req.AppendHeader(&ct)
		req.SetBody(body.Content())
	}
	return req, nil
}

// RemoteTag тег To из ответа.
func RemoteTag(res *sip.Response) string {
	to := res.To()
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}
