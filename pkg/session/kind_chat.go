package session

import (
	"context"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// ChatConfig параметры сессии чата.
type ChatConfig struct {
	// Media локальные параметры m=message, Setup и типы заполняются видом
	Media    media_sdp.MessageParams
	Features chat.Features
	Sender   MessageSender
	// LocalURI адрес для From в CPIM первого сообщения
	LocalURI string
	// Group групповой чат; для него Participants попадают в resource-list
	Group        bool
	Participants []contact.ID
	// FirstMessage отправляется в теле INVITE
	FirstMessage *chat.Message
	// ImdnDisplayed и ImdnDelivered какие уведомления запрашивать
	ImdnDisplayed bool
	ImdnDelivered bool
}

// ChatKind чат один на один или групповой чат.
type ChatKind struct {
	cfg ChatConfig
	messageMedia
}

var (
	_ Kind         = (*ChatKind)(nil)
	_ DataSender   = (*ChatKind)(nil)
	_ OneToOneChat = (*ChatKind)(nil)
)

func NewChatKind(cfg ChatConfig) *ChatKind {
	params := cfg.Media
	params.AcceptTypes = chatAcceptTypes
	params.WrappedTypes = chatWrappedTypes
	return &ChatKind{
		cfg:          cfg,
		messageMedia: messageMedia{params: params, sender: cfg.Sender},
	}
}

func (k *ChatKind) Name() string                { return "chat" }
func (k *ChatKind) TimeoutResponse() int        { return dialog.StatusDecline }
func (k *ChatKind) FailureKind() ErrorKind      { return ErrKindSessionInitiationFailed }
func (k *ChatKind) IsOneToOneChat() bool        { return !k.cfg.Group }
func (k *ChatKind) FirstMessage() *chat.Message { return k.cfg.FirstMessage }

func (k *ChatKind) FeatureTags() []string {
	tags := chat.SupportedFeatureTags(k.cfg.Features)
	if k.cfg.Group {
		tags = append(tags, "isfocus")
	}
	return tags
}

func (k *ChatKind) PrepareMedia(context.Context) error {
	return k.prepare()
}

// BuildOffer SDP, а при наличии первого сообщения или участников
// multipart с CPIM и resource-list.
func (k *ChatKind) BuildOffer(context.Context) (*dialog.Body, error) {
	sdpBody, err := k.offer("")
	if err != nil {
		return nil, WrapError(ErrKindSessionInitiationFailed, err)
	}

	parts := []envelope.Part{{
		Headers: map[string]string{"content-type": mimeSDP},
		Content: string(sdpBody),
	}}
	if msg := k.cfg.FirstMessage; msg != nil {
		parts = append(parts, envelope.Part{
			Headers: map[string]string{"content-type": envelope.MimeCpim},
			Content: k.firstMessageCpim(msg),
		})
	}
	if k.cfg.Group && len(k.cfg.Participants) > 0 {
		parts = append(parts, envelope.Part{
			Headers: map[string]string{
				"content-type":        envelope.MimeResourceLists,
				"content-disposition": "recipient-list",
			},
			Content: chat.ResourceList(k.cfg.Participants),
		})
	}

	if len(parts) == 1 {
		return dialog.NewBody(mimeSDP, sdpBody), nil
	}
	boundary := "boundary_" + sip.RandString(12)
	return dialog.NewBody(envelope.MultipartContentType(boundary), []byte(envelope.BuildMultipart(boundary, parts))), nil
}

func (k *ChatKind) firstMessageCpim(msg *chat.Message) string {
	from := envelope.FormatCpimSipUri(k.cfg.LocalURI)
	to := envelope.FormatCpimSipUri(msg.Remote().URI())
	sent := msg.TimestampSent()
	if sent.IsZero() {
		sent = time.Now()
	}
	switch {
	case k.cfg.ImdnDisplayed:
		return envelope.BuildCpimMessageWithImdn(from, to, msg.ID(), msg.Content(), msg.MimeType(), sent)
	case k.cfg.ImdnDelivered:
		return envelope.BuildCpimMessageWithoutDisplayedImdn(from, to, msg.ID(), msg.Content(), msg.MimeType(), sent)
	default:
		return envelope.BuildCpimMessage(from, to, msg.Content(), msg.MimeType(), sent)
	}
}

func (k *ChatKind) BuildAnswer(_ context.Context, offer *dialog.Body) (*dialog.Body, error) {
	return k.answer(offer, "")
}

func (k *ChatKind) ProcessAnswer(_ context.Context, answer *dialog.Body) error {
	return k.processAnswer(answer)
}

func (k *ChatKind) OnEstablished(ctx context.Context) error {
	return k.establish(ctx)
}

// SendDataChunks до установления сессии данные ставятся в очередь.
func (k *ChatKind) SendDataChunks(ctx context.Context, msgID, contentType string, data []byte) error {
	return k.send(ctx, msgID, contentType, data)
}

func (k *ChatKind) OnError(*Error) { k.close() }

func (k *ChatKind) Close() error {
	k.close()
	return nil
}
