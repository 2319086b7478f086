// Package chat содержит модель сообщения чата и разбор входящих
// приглашений в чат: первое сообщение, участники группы, запросы IMDN.
package chat

import (
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/envelope"
)

// ErrInvalidMimeType сообщение нельзя создать для переданного API типа.
var ErrInvalidMimeType = errors.New("invalid message mime type")

// Message неизменяемое сообщение чата. MimeType всегда сетевой тип.
type Message struct {
	id            string
	remote        contact.ID
	content       string
	mimeType      string
	timestamp     time.Time
	timestampSent time.Time
	displayName   string
}

// NewMessage создает сообщение с уже известными полями.
func NewMessage(id string, remote contact.ID, content, mimeType string, timestamp, timestampSent time.Time, displayName string) *Message {
	return &Message{
		id:            id,
		remote:        remote,
		content:       content,
		mimeType:      mimeType,
		timestamp:     timestamp,
		timestampSent: timestampSent,
		displayName:   displayName,
	}
}

func (m *Message) ID() string               { return m.id }
func (m *Message) Remote() contact.ID       { return m.remote }
func (m *Message) Content() string          { return m.content }
func (m *Message) MimeType() string         { return m.mimeType }
func (m *Message) Timestamp() time.Time     { return m.timestamp }
func (m *Message) TimestampSent() time.Time { return m.timestampSent }
func (m *Message) DisplayName() string      { return m.displayName }

// NewTextMessage текстовое сообщение с новым идентификатором.
func NewTextMessage(remote contact.ID, text string, timestamp, timestampSent time.Time) *Message {
	return NewMessage(envelope.NewMessageID(), remote, text, envelope.MimeTextPlain, timestamp, timestampSent, "")
}

// NewFileTransferMessage сообщение с описанием файла FT-HTTP. Идентификатор
// сообщения совпадает с идентификатором передачи файла.
func NewFileTransferMessage(remote contact.ID, fileInfo, msgID string, timestamp, timestampSent time.Time) *Message {
	return NewMessage(msgID, remote, fileInfo, envelope.MimeFileTransferHttp, timestamp, timestampSent, "")
}

// NewGeolocMessage сообщение с геопозицией. entity публичный URI
// локального пользователя.
func NewGeolocMessage(remote contact.ID, g envelope.Geoloc, entity string, timestamp, timestampSent time.Time) *Message {
	id := envelope.NewMessageID()
	doc := envelope.BuildGeolocDocument(g, entity, id, timestamp)
	return NewMessage(id, remote, doc, envelope.MimeGeoloc, timestamp, timestampSent, "")
}

// NewChatMessage создает сообщение из API типа (text/plain или
// application/geoloc). Для прочих типов возвращается ErrInvalidMimeType.
func NewChatMessage(msgID, apiMimeType, content string, remote contact.ID, displayName string, timestamp, timestampSent time.Time) (*Message, error) {
	switch apiMimeType {
	case envelope.MimeTextPlain:
		return NewMessage(msgID, remote, content, envelope.MimeTextPlain, timestamp, timestampSent, displayName), nil
	case envelope.MimeGeolocMessage:
		return NewMessage(msgID, remote, content, envelope.MimeGeoloc, timestamp, timestampSent, displayName), nil
	}
	return nil, errors.Wrapf(ErrInvalidMimeType, "create message %s: %q", msgID, apiMimeType)
}

// NetworkMimeToAPIMime переводит сетевой тип в тип API. Отличается только
// геопозиция.
func NetworkMimeToAPIMime(networkMime string) string {
	if envelope.IsGeolocType(networkMime) {
		return envelope.MimeGeolocMessage
	}
	return networkMime
}

// NetworkContentToPersisted содержимое сообщения в том виде, в котором оно
// сохраняется. Геопозиция хранится строкой label,lat,lon,exp,acc.
func NetworkContentToPersisted(m *Message) (string, error) {
	if !envelope.IsGeolocType(m.MimeType()) {
		return m.Content(), nil
	}
	g, ok := envelope.ParseGeolocDocument(m.Content())
	if !ok {
		return "", errors.Errorf("message %s: unable to parse geoloc document", m.ID())
	}
	return g.String(), nil
}
