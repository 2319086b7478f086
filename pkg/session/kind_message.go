package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// Значения a=setup (RFC 4145).
const (
	SetupActive  = "active"
	SetupPassive = "passive"
	SetupActPass = "actpass"
)

// MessageSender транспорт данных установленной сессии сообщений.
type MessageSender interface {
	SendChunks(ctx context.Context, msgID, contentType string, data []byte) error
}

// answerSetup роль соединения в ответе по роли в предложении.
func answerSetup(offered string) string {
	switch offered {
	case SetupActive:
		return SetupPassive
	default:
		return SetupActive
	}
}

type pendingChunk struct {
	msgID       string
	contentType string
	data        []byte
}

// messageMedia общая часть чата и передачи файла: m=message секция и
// очередь данных до установления сессии.
type messageMedia struct {
	params media_sdp.MessageParams
	sender MessageSender

	mu          sync.Mutex
	remote      *media_sdp.Media
	established bool
	closed      bool
	pending     []pendingChunk
}

func (m *messageMedia) prepare() error {
	if m.sender == nil {
		return NewError(ErrKindResourceNotInitialized, "message sender not initialized")
	}
	return nil
}

func (m *messageMedia) offer(direction string) ([]byte, error) {
	p := m.params
	p.Setup = SetupActive
	if direction != "" {
		p.Direction = direction
	}
	return media_sdp.BuildMessageSession(p)
}

// answer разбирает m=message предложения и строит ответ.
func (m *messageMedia) answer(offer *dialog.Body, direction string) (*dialog.Body, error) {
	remote, err := messageSection(offer)
	if err != nil {
		return nil, err
	}
	p := m.params
	setup, _ := remote.Attribute("setup")
	p.Setup = answerSetup(setup)
	if direction != "" {
		p.Direction = direction
	}
	if sel, ok := remote.Attribute("file-selector"); ok {
		p.FileSelector = sel
	}
	if id, ok := remote.Attribute("file-transfer-id"); ok {
		p.FileTransferID = id
	}
	sdpBody, err := media_sdp.BuildMessageSession(p)
	if err != nil {
		return nil, WrapError(ErrKindSessionInitiationFailed, err)
	}

	m.mu.Lock()
	m.remote = remote
	m.mu.Unlock()
	return dialog.NewBody(mimeSDP, sdpBody), nil
}

func (m *messageMedia) processAnswer(answer *dialog.Body) error {
	remote, err := messageSection(answer)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.remote = remote
	m.mu.Unlock()
	return nil
}

func messageSection(body *dialog.Body) (*media_sdp.Media, error) {
	d, err := media_sdp.Parse(sdpPart(body))
	if err != nil {
		return nil, WrapError(ErrKindMediaNegotiationFailed, err)
	}
	remote := d.Media(media_sdp.MediaMessage)
	if remote == nil {
		return nil, NewError(ErrKindMediaNegotiationFailed, "no message media in description")
	}
	return remote, nil
}

// RemotePath MSRP path удаленной стороны.
func (m *messageMedia) RemotePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remote == nil {
		return ""
	}
	path, _ := m.remote.Attribute("path")
	return path
}

// establish отправляет накопленные данные.
func (m *messageMedia) establish(ctx context.Context) error {
	m.mu.Lock()
	m.established = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := m.sender.SendChunks(ctx, c.msgID, c.contentType, c.data); err != nil {
			return WrapError(ErrKindMediaFailed, errors.Wrapf(err, "send queued chunk %s", c.msgID))
		}
	}
	return nil
}

func (m *messageMedia) send(ctx context.Context, msgID, contentType string, data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.Wrap(ErrInvalidState, "session closed")
	}
	if !m.established {
		m.pending = append(m.pending, pendingChunk{msgID: msgID, contentType: contentType, data: data})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.sender == nil {
		return NewError(ErrKindResourceNotInitialized, "message sender not initialized")
	}
	if err := m.sender.SendChunks(ctx, msgID, contentType, data); err != nil {
		return WrapError(ErrKindMediaFailed, err)
	}
	return nil
}

func (m *messageMedia) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pending = nil
}

// Типы, которые принимает сессия сообщений.
var (
	chatAcceptTypes  = []string{envelope.MimeCpim, envelope.MimeIsComposing}
	chatWrappedTypes = []string{
		envelope.MimeTextPlain,
		envelope.MimeImdn,
		envelope.MimeGeoloc,
		envelope.MimeFileTransferHttp,
	}
)
