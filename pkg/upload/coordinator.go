// Package upload загружает файл на контент сервер FT-HTTP и передает
// описание загруженного файла получателю через чат.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/session"
)

// AnonymousURI адрес From/To в CPIM с описанием файла.
const AnonymousURI = "<sip:anonymous@anonymous.invalid>"

// Uploader операции контент сервера. Реализуется Client.
type Uploader interface {
	Upload(ctx context.Context, tid string, content Content, progress ProgressFunc) ([]byte, error)
	ResumeInfo(ctx context.Context, tid string) (*envelope.FileTransferHttpResumeInfo, error)
	ResumeUpload(ctx context.Context, tid string, info *envelope.FileTransferHttpResumeInfo, content Content, progress ProgressFunc) ([]byte, error)
}

var _ Uploader = (*Client)(nil)

// ResumeRecord сохраненные данные незавершенной загрузки.
type ResumeRecord struct {
	TID        string
	TransferID string
	Remote     contact.ID
	FileName   string
	MimeType   string
	Size       int64
	CreatedAt  time.Time
}

// ResumeStore хранилище записей для докачки.
type ResumeStore interface {
	SaveResumeUpload(ctx context.Context, rec ResumeRecord) error
	// ResumeUpload возвращает запись или found=false
	ResumeUpload(ctx context.Context, tid string) (rec *ResumeRecord, found bool, err error)
	DeleteResumeUpload(ctx context.Context, tid string) error
}

// ChatFactory создает исходящий чат с первым сообщением. Сессия не
// должна запускаться и регистрироваться в реестре.
type ChatFactory func(remote contact.ID, first *chat.Message) (*session.Session, error)

// Listener наблюдатель за передачей.
type Listener interface {
	OnStateChanged(c *Coordinator, state TransferState, reason ReasonCode)
	OnProgress(c *Coordinator, sent, total int64)
}

// Config зависимости координатора.
type Config struct {
	Uploader  Uploader
	Store     ResumeStore
	Directory *session.Directory
	NewChat   ChatFactory
	// ImdnDisplayed и ImdnDelivered выбирают вариант CPIM для существующего чата
	ImdnDisplayed bool
	ImdnDelivered bool

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Coordinator одна передача файла через HTTP. Загрузка выполняется в
// отдельной горутине; Resume запускает новую.
type Coordinator struct {
	transferID string
	tid        string
	remote     contact.ID
	content    Content
	cfg        Config
	logger     *slog.Logger
	timestamp  time.Time

	mu            sync.Mutex
	fsm           *fsm.FSM
	cancel        context.CancelFunc
	paused        bool
	cancelled     bool
	finishing     bool
	transferState TransferState
	reason        ReasonCode
	fileInfo      *envelope.FileTransferHttpInfo
	err           *session.Error
	chat          *session.Session
	listeners     []Listener

	worker   sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewCoordinator готовит передачу content абоненту remote. transferID
// становится идентификатором сообщения с описанием файла.
func NewCoordinator(transferID string, remote contact.ID, content Content, cfg Config) *Coordinator {
	if transferID == "" {
		transferID = envelope.NewMessageID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		transferID: transferID,
		tid:        uuid.NewString(),
		remote:     remote,
		content:    content,
		cfg:        cfg,
		timestamp:  time.Now(),
		done:       make(chan struct{}),
	}
	c.logger = logger.With(
		slog.String("transferID", transferID),
		slog.String("tid", c.tid))
	c.fsm = newStateMachine(c.logger)
	return c
}

func (c *Coordinator) TransferID() string { return c.transferID }
func (c *Coordinator) TID() string        { return c.tid }
func (c *Coordinator) Remote() contact.ID { return c.remote }

// AddListener добавляет наблюдателя. Вызывать до Start.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) State() State {
	return State(c.fsm.Current())
}

// TransferState состояние передачи для приложения.
func (c *Coordinator) TransferState() (TransferState, ReasonCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transferState, c.reason
}

// FileInfo описание загруженного файла после успеха.
func (c *Coordinator) FileInfo() *envelope.FileTransferHttpInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileInfo
}

// Err ошибка загрузки после перехода в FAILED.
func (c *Coordinator) Err() *session.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Chat сессия чата, через которую передано описание файла.
func (c *Coordinator) Chat() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

// Done закрывается в терминальном состоянии.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Wait ждет терминального состояния.
func (c *Coordinator) Wait(ctx context.Context) (State, error) {
	select {
	case <-c.done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// Start запускает загрузку.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.transitLocked(StateUploading); err != nil {
		c.mu.Unlock()
		return err
	}
	ctx = c.newRunContextLocked(ctx)
	notify := c.setTransferLocked(TransferStarted, ReasonUnspecified)
	c.mu.Unlock()
	notify()

	c.worker.Add(1)
	go c.run(ctx, c.upload)
	return nil
}

// Pause останавливает загрузку. Ошибка прерванного запроса не считается
// сбоем передачи.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	if c.finishing {
		c.mu.Unlock()
		return errors.Wrap(ErrInvalidState, "upload is finishing")
	}
	if err := c.transitLocked(StatePaused); err != nil {
		c.mu.Unlock()
		return err
	}
	c.paused = true
	cancel := c.cancel
	notify := c.setTransferLocked(TransferPaused, ReasonPausedByUser)
	c.mu.Unlock()

	cancel()
	notify()
	return nil
}

// Resume продолжает приостановленную загрузку с места остановки. Без
// сохраненной записи о загрузке передача завершается ошибкой.
func (c *Coordinator) Resume(ctx context.Context) error {
	// прерванная горутина должна завершиться до снятия флага паузы
	c.worker.Wait()

	c.mu.Lock()
	if err := c.transitLocked(StateResuming); err != nil {
		c.mu.Unlock()
		return err
	}
	c.paused = false
	ctx = c.newRunContextLocked(ctx)
	notify := c.setTransferLocked(TransferStarted, ReasonUnspecified)
	c.mu.Unlock()
	notify()

	c.worker.Add(1)
	go c.run(ctx, c.resume)
	return nil
}

// Cancel прерывает передачу без передачи описания файла.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if c.finishing {
		c.mu.Unlock()
		return errors.Wrap(ErrInvalidState, "upload is finishing")
	}
	if err := c.transitLocked(StateCancelled); err != nil {
		c.mu.Unlock()
		return err
	}
	c.cancelled = true
	cancel := c.cancel
	notify := c.setTransferLocked(TransferAborted, ReasonAbortedByUser)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	notify()
	c.deleteResumeRecord(context.Background())
	c.complete(StateCancelled)
	return nil
}

func (c *Coordinator) run(ctx context.Context, transfer func(ctx context.Context) ([]byte, error)) {
	defer c.worker.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Coordinator.run: panic", slog.Any("panic", r))
			c.fail(session.NewError(session.ErrKindUploadFailed, fmt.Sprintf("panic: %v", r)))
		}
	}()

	result, err := transfer(ctx)
	c.sendResult(ctx, result, err)
}

func (c *Coordinator) upload(ctx context.Context) ([]byte, error) {
	if c.cfg.Store != nil {
		rec := ResumeRecord{
			TID:        c.tid,
			TransferID: c.transferID,
			Remote:     c.remote,
			FileName:   c.content.Name,
			MimeType:   c.content.MimeType,
			Size:       c.content.Size,
			CreatedAt:  c.timestamp,
		}
		if err := c.cfg.Store.SaveResumeUpload(ctx, rec); err != nil {
			c.logger.Warn("Coordinator.upload: save resume record", slog.String("error", err.Error()))
		}
	}
	return c.cfg.Uploader.Upload(ctx, c.tid, c.content, c.onProgress)
}

func (c *Coordinator) resume(ctx context.Context) ([]byte, error) {
	if c.cfg.Store == nil {
		return nil, errors.New("no resume store")
	}
	_, found, err := c.cfg.Store.ResumeUpload(ctx, c.tid)
	if err != nil {
		return nil, errors.Wrap(err, "load resume record")
	}
	if !found {
		return nil, errors.Errorf("no resume record for tid %s", c.tid)
	}

	c.mu.Lock()
	err = c.transitLocked(StateUploading)
	c.mu.Unlock()
	if err != nil {
		// пауза или отмена во время чтения записи
		return nil, err
	}

	info, err := c.cfg.Uploader.ResumeInfo(ctx, c.tid)
	if err != nil {
		return nil, errors.Wrap(err, "resume info")
	}
	return c.cfg.Uploader.ResumeUpload(ctx, c.tid, info, c.content, c.onProgress)
}

// sendResult разбирает ответ сервера и передает описание файла в чат.
// После паузы или отмены результат игнорируется.
func (c *Coordinator) sendResult(ctx context.Context, result []byte, uploadErr error) {
	c.mu.Lock()
	if c.cancelled || c.paused {
		c.mu.Unlock()
		c.logger.Debug("Coordinator.sendResult: upload interrupted")
		return
	}
	var info *envelope.FileTransferHttpInfo
	ok := false
	if uploadErr == nil && result != nil {
		info, ok = envelope.ParseFileTransferHttpInfo(result)
	}
	if ok {
		c.finishing = true
		c.fileInfo = info
	}
	c.mu.Unlock()

	if !ok {
		if uploadErr == nil {
			uploadErr = errors.New("invalid file info in server response")
		}
		c.fail(session.WrapError(session.ErrKindUploadFailed, uploadErr))
		return
	}

	fileInfo := string(result)
	c.logger.Debug("Coordinator.sendResult: upload done", slog.String("uri", info.URI))
	if err := c.handOff(context.WithoutCancel(ctx), fileInfo); err != nil {
		c.fail(session.WrapError(session.ErrKindUploadFailed, err))
		return
	}
	c.deleteResumeRecord(context.WithoutCancel(ctx))
	c.cfg.Metrics.UploadedBytes(int(c.content.Size))

	c.mu.Lock()
	if err := c.transitLocked(StateSucceeded); err != nil {
		c.logger.Warn("Coordinator.sendResult", slog.String("error", err.Error()))
	}
	notify := c.setTransferLocked(TransferTransferred, ReasonUnspecified)
	c.mu.Unlock()
	notify()
	c.complete(StateSucceeded)
}

// handOff отправляет описание файла в существующий чат с абонентом или
// открывает новый чат с описанием в качестве первого сообщения.
func (c *Coordinator) handOff(ctx context.Context, fileInfo string) error {
	if c.cfg.Directory == nil {
		return errors.New("no session directory")
	}
	s, created, err := c.cfg.Directory.GetOrCreateChat(c.remote, func() (*session.Session, error) {
		if c.cfg.NewChat == nil {
			return nil, errors.New("no chat factory")
		}
		first := chat.NewFileTransferMessage(c.remote, fileInfo, c.transferID, c.timestamp, c.timestamp)
		return c.cfg.NewChat(c.remote, first)
	})
	if err != nil {
		return errors.Wrap(err, "initiate chat")
	}

	c.mu.Lock()
	c.chat = s
	c.mu.Unlock()

	if created {
		c.logger.Debug("Coordinator.handOff: new chat", slog.String("sessionID", s.ID()))
		if err := s.Start(ctx); err != nil {
			c.cfg.Directory.Remove(s)
			return errors.Wrap(err, "start chat")
		}
		return nil
	}

	c.logger.Debug("Coordinator.handOff: existing chat", slog.String("sessionID", s.ID()))
	content := c.networkContent(fileInfo)
	if err := s.SendDataChunks(ctx, envelope.NewMessageID(), envelope.MimeCpim, []byte(content)); err != nil {
		c.logger.Warn("Coordinator.handOff: send data chunks", slog.String("error", err.Error()))
	}
	return nil
}

func (c *Coordinator) networkContent(fileInfo string) string {
	switch {
	case c.cfg.ImdnDisplayed:
		return envelope.BuildCpimMessageWithImdn(AnonymousURI, AnonymousURI, c.transferID, fileInfo, envelope.MimeFileTransferHttp, c.timestamp)
	case c.cfg.ImdnDelivered:
		return envelope.BuildCpimMessageWithoutDisplayedImdn(AnonymousURI, AnonymousURI, c.transferID, fileInfo, envelope.MimeFileTransferHttp, c.timestamp)
	default:
		return envelope.BuildCpimMessage(AnonymousURI, AnonymousURI, fileInfo, envelope.MimeFileTransferHttp, c.timestamp)
	}
}

func (c *Coordinator) fail(se *session.Error) {
	c.mu.Lock()
	if c.cancelled || c.paused {
		c.mu.Unlock()
		return
	}
	c.err = se
	if err := c.transitLocked(StateFailed); err != nil {
		c.logger.Warn("Coordinator.fail", slog.String("error", err.Error()))
	}
	notify := c.setTransferLocked(TransferFailed, ReasonFailedDataTransfer)
	c.mu.Unlock()

	c.logger.Error("Coordinator.fail", slog.String("error", se.Error()))
	notify()
	c.complete(StateFailed)
}

func (c *Coordinator) complete(state State) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		c.cfg.Metrics.UploadFinished(string(state))
		close(c.done)
	})
}

func (c *Coordinator) deleteResumeRecord(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.DeleteResumeUpload(ctx, c.tid); err != nil {
		c.logger.Warn("Coordinator.deleteResumeRecord", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) onProgress(sent, total int64) {
	for _, l := range c.snapshotListeners() {
		l.OnProgress(c, sent, total)
	}
}

func (c *Coordinator) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

func (c *Coordinator) newRunContextLocked(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return ctx
}

// setTransferLocked меняет состояние передачи и возвращает уведомление
// слушателей, которое вызывается после снятия блокировки.
func (c *Coordinator) setTransferLocked(state TransferState, reason ReasonCode) func() {
	c.transferState, c.reason = state, reason
	listeners := append([]Listener(nil), c.listeners...)
	return func() {
		for _, l := range listeners {
			l.OnStateChanged(c, state, reason)
		}
	}
}

func (c *Coordinator) transitLocked(dst State) error {
	src := c.State()
	if err := c.fsm.Event(context.Background(), formEventName(src, dst)); err != nil {
		return errors.Wrapf(ErrInvalidState, "%s -> %s", src, dst)
	}
	return nil
}
