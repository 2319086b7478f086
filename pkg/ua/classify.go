package ua

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// Виды входящих сессий.
const (
	KindChat         = "chat"
	KindFileTransfer = "file-transfer"
	KindIPCall       = "ip-call"
	KindRTP          = "rtp"
)

const icsiRef = "+g.3gpp.icsi-ref"

// classifyInvite определяет вид сессии по SDP и тегам Contact /
// Accept-Contact. Пустая строка означает неподдерживаемое приглашение.
func classifyInvite(req *sip.Request, offer *media_sdp.Description) string {
	if offer != nil {
		if m := offer.Media(media_sdp.MediaMessage); m != nil {
			if _, ok := m.Attribute("file-selector"); ok {
				return KindFileTransfer
			}
			return KindChat
		}
	}

	tags := dialog.FeatureTags(req)
	if _, ok := tags[chat.FeatureOmaIM]; ok || dialog.IsFocus(req) {
		// чат без m=message согласовать нельзя
		return ""
	}
	if offer == nil || offer.Media(media_sdp.MediaAudio) == nil {
		return ""
	}
	if strings.Contains(tags[icsiRef], "mmtel") {
		return KindIPCall
	}
	return KindRTP
}

// acceptType первый тип из accept-types m=message секции.
func acceptType(offer *media_sdp.Description) string {
	m := offer.Media(media_sdp.MediaMessage)
	if m == nil {
		return ""
	}
	types, _ := m.Attribute("accept-types")
	if fields := strings.Fields(types); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
