package ua

import (
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/upload"
)

var _ upload.ChatFactory = (*UA)(nil).NewChat

// originating создает исходящую сессию с pager отправителем в рамках
// Call-ID сессии.
func (u *UA) originating(remote contact.ID, newKind func(sender *PagerSender) (session.Kind, error)) (*session.Session, error) {
	if u.isClosed() {
		return nil, ErrClosed
	}
	remoteURI := u.remoteURI(remote)
	sender := NewPagerSender(u.transport, u.cfg.LocalURI, remoteURI, "", u.logger)
	kind, err := newKind(sender)
	if err != nil {
		return nil, err
	}
	s := session.NewOriginating(remote, u.cfg.LocalURI, remoteURI, kind, &requester{transport: u.transport}, u.cfg.Session)
	sender.callID = s.Path().CallID()
	s.AddListener(&byeOnTerminate{ua: u})
	return s, nil
}

// NewChat исходящий чат с первым сообщением. Сессия не запущена и не
// зарегистрирована в реестре.
func (u *UA) NewChat(remote contact.ID, first *chat.Message) (*session.Session, error) {
	return u.originating(remote, func(sender *PagerSender) (session.Kind, error) {
		cfg := u.chatConfig(sender)
		cfg.FirstMessage = first
		return session.NewChatKind(cfg), nil
	})
}

// StartChat возвращает чат с remote из реестра или открывает новый с
// первым сообщением first. created сообщает, что сессия создана сейчас.
func (u *UA) StartChat(remote contact.ID, first *chat.Message) (s *session.Session, created bool, err error) {
	s, created, err = u.directory.GetOrCreateChat(remote, func() (*session.Session, error) {
		return u.NewChat(remote, first)
	})
	if err != nil || !created {
		return s, created, err
	}
	if err := s.Start(u.ctx); err != nil {
		u.directory.Remove(s)
		return nil, false, errors.Wrap(err, "start chat")
	}
	return s, true, nil
}

// SendFile передача файла через сессию сообщений.
func (u *UA) SendFile(remote contact.ID, name, mimeType string, content []byte) (*session.Session, error) {
	s, err := u.originating(remote, func(sender *PagerSender) (session.Kind, error) {
		return session.NewFileTransferKind(session.FileTransferConfig{
			Media:    u.messageParams(),
			Sender:   sender,
			FileName: name,
			FileType: mimeType,
			Content:  content,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return u.start(s)
}

// Call голосовой звонок; video добавляет видео, если кодеки заданы.
func (u *UA) Call(remote contact.ID, video bool) (*session.Session, error) {
	s, err := u.originating(remote, func(*PagerSender) (session.Kind, error) {
		cfg := u.cfg.Media
		if !video {
			cfg.VideoCodecs = nil
		}
		k := session.NewIPCallKind(cfg)
		if err := u.attachEndpoints(k); err != nil {
			return nil, err
		}
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return u.start(s)
}

func (u *UA) start(s *session.Session) (*session.Session, error) {
	u.directory.Add(s)
	if err := s.Start(u.ctx); err != nil {
		u.directory.Remove(s)
		return nil, err
	}
	return s, nil
}
