// Package session реализует конечный автомат SIP сессии RCS: ожидание
// решения по приглашению, согласование медиа, ответ, ожидание ACK и
// установленное состояние. Поведение конкретного вида сессии (чат,
// передача файла, IP звонок, RTP поток) задается через Kind.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/metrics"
)

// Role сторона сессии.
type Role string

const (
	RoleTerminating Role = "terminating"
	RoleOriginating Role = "originating"
)

// Config параметры сессии.
type Config struct {
	// RingingTimeout сколько ждать решения пользователя
	RingingTimeout time.Duration
	// AckTimeout сколько ждать ACK после 200 OK
	AckTimeout time.Duration
	// InviteTimeout сколько ждать финального ответа на исходящий INVITE
	InviteTimeout time.Duration
	// LocalContact URI для заголовка Contact
	LocalContact string
	// SessionExpires интервал обновления для исходящих сессий, 0 выключает
	SessionExpires time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		RingingTimeout: 60 * time.Second,
		AckTimeout:     TimerH,
		InviteTimeout:  TimerB,
	}
}

// Requester отправка исходящего INVITE и ACK.
type Requester interface {
	// Invite отправляет INVITE и возвращает финальный ответ
	Invite(ctx context.Context, req *sip.Request) (*sip.Response, error)
	// Ack подтверждает 2xx ответ
	Ack(ctx context.Context, req *sip.Request, res *sip.Response) error
}

// Outcome итог работы сессии.
type Outcome struct {
	State  State
	Reason TerminationReason
	Err    *Error
}

// Session одна сигнальная сессия. Запускается ровно один раз и не
// переиспользуется.
type Session struct {
	id        string
	role      Role
	remote    contact.ID
	remoteURI string
	kind      Kind
	path      *dialog.Path
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Collector
	createdAt time.Time

	// входящая сессия
	tx     dialog.IServerTX
	invite *sip.Request
	gate   *InvitationGate

	// исходящая сессия
	requester Requester
	request   *sip.Request

	mu        sync.RWMutex
	listeners []Listener
	directory *Directory
	timer     *SessionTimer
	cancel    context.CancelFunc

	fsm         *fsm.FSM
	started     atomic.Bool
	interrupted atomic.Bool
	terminate   chan TerminationReason

	done    chan struct{}
	outcome Outcome
}

func newSession(role Role, remote contact.ID, remoteURI string, kind Kind, path *dialog.Path, cfg Config) *Session {
	s := &Session{
		id:        uuid.NewString(),
		role:      role,
		remote:    remote,
		remoteURI: remoteURI,
		kind:      kind,
		path:      path,
		cfg:       cfg,
		metrics:   cfg.Metrics,
		createdAt: time.Now(),
		terminate: make(chan TerminationReason, 1),
		done:      make(chan struct{}),
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With(
		slog.String("sessionID", s.id),
		slog.String("kind", kind.Name()),
		slog.String("role", string(role)))
	s.fsm = newStateMachine(s.onTransition)
	s.metrics.SessionCreated(kind.Name(), string(role))
	return s
}

// NewTerminating создает сессию для входящего INVITE. Удаленная сторона
// определяется по Referred-By / P-Asserted-Identity.
func NewTerminating(tx dialog.IServerTX, kind Kind, cfg Config) *Session {
	req := tx.Request()
	remote, _ := dialog.ReferredIdentity(req)
	path := dialog.PathFromRequest(req)

	s := newSession(RoleTerminating, remote, dialog.ReferredIdentityURI(req), kind, path, cfg)
	s.tx = tx
	s.invite = req
	s.gate = NewInvitationGate()
	return s
}

// NewOriginating создает исходящую сессию к remote. localURI и remoteURI
// адреса для From и Request-URI.
func NewOriginating(remote contact.ID, localURI, remoteURI string, kind Kind, requester Requester, cfg Config) *Session {
	path := dialog.NewPath("", localURI, remoteURI)
	s := newSession(RoleOriginating, remote, remoteURI, kind, path, cfg)
	s.requester = requester
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Role() Role           { return s.role }
func (s *Session) Remote() contact.ID   { return s.remote }
func (s *Session) RemoteURI() string    { return s.remoteURI }
func (s *Session) Kind() Kind           { return s.kind }
func (s *Session) Path() *dialog.Path   { return s.path }
func (s *Session) Invite() *sip.Request { return s.invite }

// State текущее состояние автомата.
func (s *Session) State() State {
	return State(s.fsm.Current())
}

// AddListener добавляет наблюдателя. Вызывать до Start.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Session) setDirectory(d *Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory = d
}

// Start запускает горутину сессии. Повторный вызов возвращает
// ErrAlreadyStarted.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.interrupted.Load() {
		cancel()
	}

	go s.run(ctx)
	return nil
}

// Done закрывается, когда сессия достигла терминального состояния.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome итог сессии. Имеет смысл после закрытия Done.
func (s *Session) Outcome() Outcome {
	<-s.done
	return s.outcome
}

// Wait ждет завершения сессии.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Accept принимает входящее приглашение.
func (s *Session) Accept() bool { return s.answer(Accepted) }

// Reject отклоняет приглашение по решению пользователя.
func (s *Session) Reject() bool { return s.answer(Rejected) }

// RejectBySystem отклоняет приглашение по решению системы (лимиты и т.п.).
func (s *Session) RejectBySystem() bool { return s.answer(RejectedBySystem) }

// RemoteCancel удаленная сторона отменила INVITE.
func (s *Session) RemoteCancel() bool { return s.answer(Canceled) }

// Delete удаляет сессию без уведомлений. Если решение по приглашению уже
// принято, сессия прерывается.
func (s *Session) Delete() {
	if !s.answer(Deleted) {
		s.Interrupt()
	}
}

func (s *Session) answer(a InvitationAnswer) bool {
	if s.gate == nil {
		return false
	}
	return s.gate.Answer(a)
}

// Interrupt прерывает сессию. Горутина останавливается в ближайшей
// контрольной точке без дальнейшей сигнализации и без уведомлений.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Terminate завершает установленную сессию с причиной (BYE, отбой).
func (s *Session) Terminate(reason TerminationReason) {
	select {
	case s.terminate <- reason:
	default:
	}
}

// AckReceived передает ACK на 200 OK в транзакцию.
func (s *Session) AckReceived(ack *sip.Request) {
	if d, ok := s.tx.(interface{ DeliverAck(*sip.Request) }); ok {
		d.DeliverAck(ack)
	}
}

// RefreshReceived обновление сессии (UPDATE или re-INVITE) сбрасывает
// таймер сессии.
func (s *Session) RefreshReceived() {
	s.mu.RLock()
	t := s.timer
	s.mu.RUnlock()
	if t != nil {
		t.Refresh()
	}
}

// SendDataChunks отправляет данные через сессию. Доступно только видам,
// реализующим DataSender.
func (s *Session) SendDataChunks(ctx context.Context, msgID, contentType string, data []byte) error {
	ds, ok := s.kind.(DataSender)
	if !ok {
		return &Error{
			Kind:    ErrKindUnsupportedOperation,
			Message: "send data chunks: " + s.kind.Name(),
			Err:     ErrUnsupportedOperation,
		}
	}
	return ds.SendDataChunks(ctx, msgID, contentType, data)
}

func (s *Session) isInterrupted(ctx context.Context) bool {
	return s.interrupted.Load() || ctx.Err() != nil
}

func (s *Session) snapshotListeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}

func (s *Session) removeFromDirectory() {
	s.mu.RLock()
	d := s.directory
	s.mu.RUnlock()
	if d != nil {
		d.Remove(s)
	}
}

func (s *Session) startTimer(interval time.Duration) *SessionTimer {
	t := NewSessionTimer(interval)
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
	s.logger.Debug("Session.startTimer", slog.Duration("interval", t.Interval()))
	return t
}

func (s *Session) stopTimer() {
	s.mu.Lock()
	t := s.timer
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}
