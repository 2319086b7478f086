package session

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

const mimeSDP = "application/sdp"

// sdpPart SDP из тела: само тело либо часть application/sdp multipart.
func sdpPart(body *dialog.Body) []byte {
	if body == nil {
		return nil
	}
	ct := body.ContentType()
	if envelope.IsMultipartType(ct) {
		m := envelope.NewMultipart(string(body.Content()), envelope.BoundaryOf(ct))
		if part, ok := m.GetPart(mimeSDP); ok {
			// граница части съедает последний CRLF описания
			if !strings.HasSuffix(part, "\n") {
				part += "\r\n"
			}
			return []byte(part)
		}
		return nil
	}
	return body.Content()
}

// OfferOf разбирает SDP предложение запроса, nil если его нет.
func OfferOf(req *sip.Request) *media_sdp.Description {
	content := sdpPart(dialog.NewBody(dialog.ContentType(req), req.Body()))
	if len(content) == 0 {
		return nil
	}
	d, err := media_sdp.Parse(content)
	if err != nil {
		return nil
	}
	return d
}

func responseContentType(res *sip.Response) string {
	if h := res.GetHeader("Content-Type"); h != nil {
		return h.Value()
	}
	return ""
}
