package dialog

import (
	"errors"
	"sync"

	"github.com/emiago/sipgo/sip"
)

var (
	// ErrRemoteContentAlreadySet удаленное SDP уже было сохранено.
	ErrRemoteContentAlreadySet = errors.New("remote content already set")
	// ErrSessionEstablished путь диалога заморожен после установления сессии.
	ErrSessionEstablished = errors.New("session already established")
)

// Path описывает один обмен сигнализацией: идентификаторы диалога и
// согласованные тела. Изменяется только воркером своей сессии.
type Path struct {
	mu sync.RWMutex

	callID    string
	localTag  string
	remoteTag string

	localParty  string
	remoteParty string

	localContent     []byte
	remoteContent    []byte
	remoteContentSet bool

	signalingEstablished bool
	sessionEstablished   bool
}

// NewPath создает путь для исходящей сессии.
func NewPath(callID, localParty, remoteParty string) *Path {
	if callID == "" {
		callID = newCallID()
	}
	return &Path{
		callID:      callID,
		localTag:    newTag(),
		localParty:  localParty,
		remoteParty: remoteParty,
	}
}

// PathFromRequest создает путь для входящего INVITE. Тело запроса
// сохраняется как удаленный контент.
func PathFromRequest(req *sip.Request) *Path {
	p := &Path{localTag: newTag()}
	if cid := req.CallID(); cid != nil {
		p.callID = cid.Value()
	}
	if from := req.From(); from != nil {
		p.remoteParty = from.Address.String()
		if from.Params != nil {
			if tag, ok := from.Params.Get("tag"); ok {
				p.remoteTag = tag
			}
		}
	}
	p.localParty = req.Recipient.String()
	if body := req.Body(); len(body) > 0 {
		p.remoteContent = body
		p.remoteContentSet = true
	}
	return p
}

func (p *Path) CallID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.callID
}

func (p *Path) LocalTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localTag
}

func (p *Path) RemoteTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteTag
}

// SetRemoteTag сохраняет тег удаленной стороны из ответа.
func (p *Path) SetRemoteTag(tag string) {
	p.mu.Lock()
	p.remoteTag = tag
	p.mu.Unlock()
}

func (p *Path) LocalParty() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localParty
}

func (p *Path) RemoteParty() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteParty
}

func (p *Path) LocalContent() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localContent
}

// SetLocalContent сохраняет локальное SDP (offer или answer).
func (p *Path) SetLocalContent(content []byte) {
	p.mu.Lock()
	p.localContent = content
	p.mu.Unlock()
}

func (p *Path) RemoteContent() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteContent
}

// SetRemoteContent сохраняет удаленное SDP. Допускается только один раз и
// только до установления сессии.
func (p *Path) SetRemoteContent(content []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionEstablished {
		return ErrSessionEstablished
	}
	if p.remoteContentSet {
		return ErrRemoteContentAlreadySet
	}
	p.remoteContent = content
	p.remoteContentSet = true
	return nil
}

func (p *Path) SignalingEstablished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signalingEstablished
}

func (p *Path) SetSignalingEstablished() {
	p.mu.Lock()
	p.signalingEstablished = true
	p.mu.Unlock()
}

func (p *Path) SessionEstablished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionEstablished
}

func (p *Path) SetSessionEstablished() {
	p.mu.Lock()
	p.sessionEstablished = true
	p.mu.Unlock()
}

var (
	newTag    = func() string { return sip.RandString(8) }
	newCallID = func() string { return sip.RandString(32) }
)
