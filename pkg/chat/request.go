package chat

import (
	"log/slog"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
)

func content(req *sip.Request) string {
	return string(req.Body())
}

// ExtractCpimMessage CPIM часть multipart тела приглашения.
func ExtractCpimMessage(req *sip.Request) *envelope.CpimMessage {
	multi := envelope.NewMultipart(content(req), dialog.Boundary(req))
	if !multi.IsMultipart() {
		return nil
	}
	part, ok := multi.GetPart(envelope.MimeCpim)
	if !ok {
		return nil
	}
	return envelope.ParseCpim(part)
}

// IsContainingFirstMessage есть ли в приглашении тело или Subject.
func IsContainingFirstMessage(req *sip.Request) bool {
	return len(req.Body()) > 0 || dialog.Subject(req) != ""
}

// GetFirstMessage первое сообщение из приглашения в чат. Сначала
// проверяется CPIM часть тела, затем заголовок Subject. timestamp время
// получения приглашения.
func GetFirstMessage(req *sip.Request, timestamp time.Time) *Message {
	if msg := firstMessageFromCpim(req, timestamp); msg != nil {
		return msg
	}
	return firstMessageFromSubject(req, timestamp)
}

func firstMessageFromCpim(req *sip.Request, timestamp time.Time) *Message {
	cpim := ExtractCpimMessage(req)
	if cpim == nil {
		return nil
	}
	remote, ok := dialog.ReferredIdentity(req)
	if !ok {
		slog.Warn("chat.firstMessageFromCpim: cannot parse contact")
		return nil
	}
	msgID := GetMessageID(req)
	mime := cpim.ContentType()
	if msgID == "" || cpim.Body == "" || mime == "" {
		return nil
	}
	sent, _ := cpim.DateTime()

	switch {
	case envelope.IsGeolocType(mime):
		return NewMessage(msgID, remote, cpim.Body, envelope.MimeGeoloc, timestamp, sent, "")
	case envelope.IsFileTransferHttpType(mime):
		return NewMessage(msgID, remote, cpim.Body, envelope.MimeFileTransferHttp, timestamp, sent, "")
	case envelope.IsTextPlainType(mime):
		return NewMessage(msgID, remote, cpim.Body, envelope.MimeTextPlain, timestamp, sent, "")
	}
	slog.Warn("chat.firstMessageFromCpim: unknown mime type",
		slog.String("msgID", msgID),
		slog.String("mime", mime))
	return nil
}

// В Subject нет DateTime, поэтому время отправки берется равным времени
// получения.
func firstMessageFromSubject(req *sip.Request, timestamp time.Time) *Message {
	subject := dialog.Subject(req)
	if subject == "" {
		return nil
	}
	remote, ok := dialog.ReferredIdentity(req)
	if !ok {
		slog.Warn("chat.firstMessageFromSubject: cannot parse contact")
		return nil
	}
	return NewMessage(envelope.NewMessageID(), remote, subject, envelope.MimeTextPlain, timestamp, timestamp, "")
}

// GetParticipants участники группового чата из resource-lists части тела.
// Приглашающий добавляется с тем же статусом.
func GetParticipants(req *sip.Request, status ParticipantStatus) Participants {
	multi := envelope.NewMultipart(content(req), dialog.Boundary(req))
	if !multi.IsMultipart() {
		return Participants{}
	}
	list, ok := multi.GetPart(envelope.MimeResourceLists)
	if !ok {
		return Participants{}
	}
	participants := ParseParticipants(list, status)
	if remote, ok := dialog.ReferredIdentity(req); ok {
		participants[remote] = status
	} else {
		slog.Warn("chat.GetParticipants: cannot parse contact")
	}
	return participants
}

// IsFileTransferOverHttp содержит ли CPIM часть приглашения описание файла.
func IsFileTransferOverHttp(req *sip.Request) bool {
	cpim := ExtractCpimMessage(req)
	return cpim != nil && strings.HasPrefix(cpim.ContentType(), envelope.MimeFileTransferHttp)
}

// IsGroupChatInvitation приглашение пришло от фокуса конференции.
func IsGroupChatInvitation(req *sip.Request) bool {
	return dialog.IsFocus(req)
}

// IsImdnService запрос несет IMDN в CPIM обертке.
func IsImdnService(req *sip.Request) bool {
	return strings.Contains(content(req), envelope.ImdnNamespace) &&
		strings.EqualFold(dialog.ContentType(req), envelope.MimeCpim)
}

// rawHeader значение заголовка CPIM, найденного прямо в теле запроса
// (в том числе внутри multipart). Значение ограничено концом строки.
func rawHeader(body, name string) (string, bool) {
	i := strings.Index(body, name)
	if i < 0 {
		return "", false
	}
	rest := body[i+len(name):]
	if len(rest) == 0 {
		return "", false
	}
	rest = rest[1:] // ':'
	end := strings.Index(rest, "\r\n")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// IsImdnDeliveredRequested запрошено ли уведомление о доставке.
func IsImdnDeliveredRequested(req *sip.Request) bool {
	v, ok := rawHeader(content(req), envelope.HeaderImdnDispositionNotification)
	return ok && strings.Contains(v, envelope.PositiveDelivery)
}

// IsImdnDisplayedRequested запрошено ли уведомление о прочтении.
func IsImdnDisplayedRequested(req *sip.Request) bool {
	v, ok := rawHeader(content(req), envelope.HeaderImdnDispositionNotification)
	return ok && strings.Contains(v, envelope.Display)
}

// GetMessageID imdn.Message-ID из тела запроса, "" если его нет.
func GetMessageID(req *sip.Request) string {
	v, _ := rawHeader(content(req), envelope.HeaderImdnMessageID)
	return strings.TrimSpace(v)
}
