package session

import (
	"sync"

	"github.com/arzzra/rcs_core/pkg/contact"
)

// Directory реестр активных сессий процесса. Все операции атомарны
// относительно друг друга; GetOrCreateChat выполняет поиск и создание под
// одной блокировкой, поэтому два обработчика не создадут два чата с одним
// абонентом.
type Directory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	chats    map[contact.ID]*Session
}

func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[string]*Session),
		chats:    make(map[contact.ID]*Session),
	}
}

// Add регистрирует сессию. Чат один на один также регистрируется по
// удаленному абоненту.
func (d *Directory) Add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addLocked(s)
}

func (d *Directory) addLocked(s *Session) {
	d.sessions[s.ID()] = s
	if isOneToOneChat(s) && s.Remote() != "" {
		d.chats[s.Remote()] = s
	}
	s.setDirectory(d)
}

func isOneToOneChat(s *Session) bool {
	c, ok := s.Kind().(OneToOneChat)
	return ok && c.IsOneToOneChat()
}

func (d *Directory) Get(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

// ByCallID ищет сессию по Call-ID диалога.
func (d *Directory) ByCallID(callID string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.Path().CallID() == callID {
			return s, true
		}
	}
	return nil, false
}

// Remove удаляет сессию. Повторный вызов безопасен.
func (d *Directory) Remove(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sessions[s.ID()]; ok && cur == s {
		delete(d.sessions, s.ID())
	}
	if cur, ok := d.chats[s.Remote()]; ok && cur == s {
		delete(d.chats, s.Remote())
	}
}

// ChatFor активный чат один на один с абонентом.
func (d *Directory) ChatFor(remote contact.ID) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.chats[remote]
	return s, ok
}

// GetOrCreateChat возвращает существующий чат с абонентом или создает
// новый через create. create вызывается под блокировкой реестра и не
// должен обращаться к реестру. Созданная сессия регистрируется, но не
// запускается.
func (d *Directory) GetOrCreateChat(remote contact.ID, create func() (*Session, error)) (*Session, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.chats[remote]; ok {
		return s, false, nil
	}
	s, err := create()
	if err != nil {
		return nil, false, err
	}
	d.addLocked(s)
	return s, true, nil
}

// Sessions снимок всех активных сессий.
func (d *Directory) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
