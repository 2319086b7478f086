package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// FileTransferConfig параметры передачи файла через сессию сообщений.
type FileTransferConfig struct {
	Media    media_sdp.MessageParams
	Sender   MessageSender
	FileName string
	FileType string
	// Content содержимое для исходящей передачи, nil для входящей
	Content []byte
	// TransferID идентификатор передачи, для входящей берется из SDP
	TransferID string
}

// Кавычка и перевод строки в имени file-selector кодируются процентами (RFC 5547).
var selectorNameEscaper = strings.NewReplacer(`%`, "%25", `"`, "%22", "\r", "%0D", "\n", "%0A", "\x00", "%00")

// FileTransferKind передача файла (MSRP file-selector).
type FileTransferKind struct {
	cfg FileTransferConfig
	messageMedia
}

var _ Kind = (*FileTransferKind)(nil)

func NewFileTransferKind(cfg FileTransferConfig) *FileTransferKind {
	params := cfg.Media
	params.AcceptTypes = []string{cfg.FileType}
	params.FileTransferID = cfg.TransferID
	if cfg.FileName != "" {
		params.FileSelector = fmt.Sprintf(`name:"%s" type:%s size:%d`, selectorNameEscaper.Replace(cfg.FileName), cfg.FileType, len(cfg.Content))
	}
	return &FileTransferKind{
		cfg:          cfg,
		messageMedia: messageMedia{params: params, sender: cfg.Sender},
	}
}

func (k *FileTransferKind) Name() string           { return "file-transfer" }
func (k *FileTransferKind) TimeoutResponse() int   { return dialog.StatusDecline }
func (k *FileTransferKind) FailureKind() ErrorKind { return ErrKindSessionInitiationFailed }

func (k *FileTransferKind) FeatureTags() []string {
	return []string{chat.FeatureRcse + `="` + chat.FeatureFileTransfer + `"`}
}

func (k *FileTransferKind) PrepareMedia(context.Context) error {
	return k.prepare()
}

func (k *FileTransferKind) BuildOffer(context.Context) (*dialog.Body, error) {
	body, err := k.offer(media_sdp.DirectionSendOnly)
	if err != nil {
		return nil, WrapError(ErrKindSessionInitiationFailed, err)
	}
	return dialog.NewBody(mimeSDP, body), nil
}

func (k *FileTransferKind) BuildAnswer(_ context.Context, offer *dialog.Body) (*dialog.Body, error) {
	return k.answer(offer, media_sdp.DirectionRecvOnly)
}

func (k *FileTransferKind) ProcessAnswer(_ context.Context, answer *dialog.Body) error {
	return k.processAnswer(answer)
}

// OnEstablished исходящая передача отправляет файл сразу после ACK.
func (k *FileTransferKind) OnEstablished(ctx context.Context) error {
	if err := k.establish(ctx); err != nil {
		return err
	}
	if k.cfg.Content == nil {
		return nil
	}
	return k.send(ctx, k.cfg.TransferID, k.cfg.FileType, k.cfg.Content)
}

func (k *FileTransferKind) OnError(*Error) { k.close() }

func (k *FileTransferKind) Close() error {
	k.close()
	return nil
}
