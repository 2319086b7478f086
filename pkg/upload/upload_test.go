package upload_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/upload"
)

const remote = contact.ID("+33612345678")

var fileData = []byte("0123456789abcdef")

func fileContent() upload.Content {
	return upload.Content{Name: "photo.jpg", MimeType: "image/jpeg", Size: int64(len(fileData)), Data: bytes.NewReader(fileData)}
}

func fileInfo(serverURL string) string {
	return envelope.BuildFileTransferHttpInfo(&envelope.FileTransferHttpInfo{
		URI:        serverURL + "/files/photo.jpg",
		Name:       "photo.jpg",
		Size:       int64(len(fileData)),
		MimeType:   "image/jpeg",
		Expiration: time.Now().Add(24 * time.Hour),
	})
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]upload.ResumeRecord
	forget  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]upload.ResumeRecord)}
}

func (m *memoryStore) SaveResumeUpload(_ context.Context, rec upload.ResumeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.forget {
		m.records[rec.TID] = rec
	}
	return nil
}

func (m *memoryStore) ResumeUpload(_ context.Context, tid string) (*upload.ResumeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[tid]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (m *memoryStore) DeleteResumeUpload(_ context.Context, tid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, tid)
	return nil
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type requester struct {
	code int
	body []byte
}

func (r requester) Invite(_ context.Context, req *sip.Request) (*sip.Response, error) {
	return sip.NewResponseFromRequest(req, r.code, "Response", r.body), nil
}

func (requester) Ack(context.Context, *sip.Request, *sip.Response) error { return nil }

type sender struct {
	mu     sync.Mutex
	chunks map[string]string
}

func (s *sender) SendChunks(_ context.Context, msgID, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks == nil {
		s.chunks = make(map[string]string)
	}
	s.chunks[contentType] = string(data)
	return nil
}

func (s *sender) get(contentType string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.chunks[contentType]
	return v, ok
}

type stateRecorder struct {
	mu     sync.Mutex
	states []upload.TransferState
	sent   int64
}

func (r *stateRecorder) OnStateChanged(_ *upload.Coordinator, state upload.TransferState, _ upload.ReasonCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) OnProgress(_ *upload.Coordinator, sent, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = sent
}

func (r *stateRecorder) snapshot() ([]upload.TransferState, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upload.TransferState(nil), r.states...), r.sent
}

func chatKind(s *sender, first *chat.Message) *session.ChatKind {
	return session.NewChatKind(session.ChatConfig{
		Media:        media_sdp.MessageParams{LocalIP: "10.0.0.1", Port: 9, Path: "msrp://10.0.0.1:9/a;tcp"},
		Sender:       s,
		LocalURI:     "sip:+33600000000@ims.example.org",
		FirstMessage: first,
	})
}

func newChat(kind *session.ChatKind, r session.Requester) *session.Session {
	return session.NewOriginating(remote, "sip:+33600000000@ims.example.org", "sip:+33612345678@ims.example.org",
		kind, r, session.DefaultConfig())
}

func newClient(t *testing.T, url string) *upload.Client {
	t.Helper()
	c, err := upload.NewClient(upload.ClientConfig{URL: url + "/upload", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func waitDone(t *testing.T, c *upload.Coordinator) upload.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestClientUpload(t *testing.T) {
	var gotTID, gotName string
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotTID = r.FormValue("tid")
		f, header, err := r.FormFile("File")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = header.Filename
		gotData, _ = io.ReadAll(f)
		fmt.Fprint(w, fileInfo("http://"+r.Host))
	}))
	defer srv.Close()

	var lastSent int64
	result, err := newClient(t, srv.URL).Upload(context.Background(), "tid-1", fileContent(), func(sent, total int64) {
		lastSent = sent
		assert.Equal(t, int64(len(fileData)), total)
	})
	require.NoError(t, err)

	assert.Equal(t, "tid-1", gotTID)
	assert.Equal(t, "photo.jpg", gotName)
	assert.Equal(t, fileData, gotData)
	assert.Equal(t, int64(len(fileData)), lastSent)
	info, ok := envelope.ParseFileTransferHttpInfo(result)
	require.True(t, ok)
	assert.Equal(t, "photo.jpg", info.Name)
}

func TestClientErrors(t *testing.T) {
	t.Run("неверная схема", func(t *testing.T) {
		_, err := upload.NewClient(upload.ClientConfig{URL: "ftp://example.org"})
		assert.Error(t, err)
	})

	t.Run("ответ сервера не 200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL).Upload(context.Background(), "tid", fileContent(), nil)
		var se *upload.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	})

	t.Run("некорректный file-resume-info", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "<nope/>")
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL).ResumeInfo(context.Background(), "tid")
		assert.Error(t, err)
	})
}

func TestCoordinatorNewChatHandOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fileInfo("http://"+r.Host))
	}))
	defer srv.Close()

	store := newMemoryStore()
	dir := session.NewDirectory()
	var kind *session.ChatKind
	c := upload.NewCoordinator("ft-1", remote, fileContent(), upload.Config{
		Uploader:  newClient(t, srv.URL),
		Store:     store,
		Directory: dir,
		NewChat: func(remote contact.ID, first *chat.Message) (*session.Session, error) {
			kind = chatKind(&sender{}, first)
			return newChat(kind, requester{code: 486}), nil
		},
	})
	rec := &stateRecorder{}
	c.AddListener(rec)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, upload.StateSucceeded, waitDone(t, c))

	require.NotNil(t, kind)
	first := kind.FirstMessage()
	assert.Equal(t, "ft-1", first.ID())
	assert.Equal(t, envelope.MimeFileTransferHttp, first.MimeType())
	assert.Contains(t, first.Content(), "photo.jpg")

	chatSession := c.Chat()
	require.NotNil(t, chatSession)
	<-chatSession.Done()

	states, sent := rec.snapshot()
	assert.Equal(t, []upload.TransferState{upload.TransferStarted, upload.TransferTransferred}, states)
	assert.Equal(t, int64(len(fileData)), sent)
	assert.Zero(t, store.len(), "запись для докачки удаляется после успеха")
	require.NotNil(t, c.FileInfo())
	assert.Equal(t, int64(len(fileData)), c.FileInfo().Size)
}

func TestCoordinatorExistingChatHandOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fileInfo("http://"+r.Host))
	}))
	defer srv.Close()

	answer, err := media_sdp.BuildMessageSession(media_sdp.MessageParams{LocalIP: "10.0.0.2", Port: 9, Path: "msrp://10.0.0.2:9/b;tcp"})
	require.NoError(t, err)
	chatSender := &sender{}
	existing := newChat(chatKind(chatSender, nil), requester{code: 200, body: answer})
	dir := session.NewDirectory()
	dir.Add(existing)
	require.NoError(t, existing.Start(context.Background()))
	require.Eventually(t, func() bool { return existing.State() == session.StateEstablished }, 2*time.Second, 5*time.Millisecond)

	c := upload.NewCoordinator("ft-2", remote, fileContent(), upload.Config{
		Uploader:      newClient(t, srv.URL),
		Directory:     dir,
		ImdnDisplayed: true,
		NewChat: func(contact.ID, *chat.Message) (*session.Session, error) {
			t.Fatal("чат уже существует")
			return nil, nil
		},
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, upload.StateSucceeded, waitDone(t, c))
	assert.Same(t, existing, c.Chat())

	data, ok := chatSender.get(envelope.MimeCpim)
	require.True(t, ok)
	cpim := envelope.ParseCpim(data)
	require.NotNil(t, cpim)
	assert.Equal(t, upload.AnonymousURI, cpim.From())
	assert.Equal(t, upload.AnonymousURI, cpim.To())
	assert.Equal(t, "ft-2", cpim.MessageID())
	assert.True(t, envelope.IsFileTransferHttpType(cpim.ContentType()))
	assert.Equal(t, []string{envelope.PositiveDelivery, envelope.Display}, cpim.DispositionNotification())

	existing.Terminate(session.ReasonByUser)
	<-existing.Done()
}

func TestCoordinatorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := session.NewDirectory()
	c := upload.NewCoordinator("", remote, fileContent(), upload.Config{
		Uploader:  newClient(t, srv.URL),
		Directory: dir,
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, upload.StateFailed, waitDone(t, c))

	require.NotNil(t, c.Err())
	assert.Equal(t, session.ErrKindUploadFailed, c.Err().Kind)
	state, reason := c.TransferState()
	assert.Equal(t, upload.TransferFailed, state)
	assert.Equal(t, upload.ReasonFailedDataTransfer, reason)
	assert.Zero(t, dir.Len(), "при сбое чат не создается")
	assert.ErrorIs(t, c.Start(context.Background()), upload.ErrInvalidState)
}

// blockingServer держит POST до отмены запроса клиентом или до unblock и
// обслуживает докачку.
type blockingServer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu           sync.Mutex
	contentRange string
	putData      []byte
}

// newBlockingServer отпускает зависшие POST до закрытия сервера.
func newBlockingServer(t *testing.T) (*blockingServer, *httptest.Server) {
	t.Helper()
	bs := &blockingServer{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(bs.handler))
	t.Cleanup(srv.Close)
	t.Cleanup(bs.unblock)
	return bs, srv
}

func (b *blockingServer) unblock() {
	b.once.Do(func() { close(b.release) })
}

func (b *blockingServer) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		select {
		case b.started <- struct{}{}:
		default:
		}
		// без чтения тела сервер не следит за соединением и контекст не отменится
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-b.release:
		}
	case r.Method == http.MethodGet && strings.Contains(r.URL.RawQuery, "get_upload_info"):
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<file-resume-info>
<file-range start="0" end="9"/>
<data url="http://%s/put"/>
</file-resume-info>`, r.Host)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.contentRange = r.Header.Get("Content-Range")
		b.putData = data
		b.mu.Unlock()
	case r.Method == http.MethodGet && strings.Contains(r.URL.RawQuery, "get_download_info"):
		fmt.Fprint(w, fileInfo("http://"+r.Host))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestCoordinatorPauseResume(t *testing.T) {
	bs, srv := newBlockingServer(t)

	store := newMemoryStore()
	var chatSession *session.Session
	c := upload.NewCoordinator("ft-3", remote, fileContent(), upload.Config{
		Uploader:  newClient(t, srv.URL),
		Store:     store,
		Directory: session.NewDirectory(),
		NewChat: func(remote contact.ID, first *chat.Message) (*session.Session, error) {
			chatSession = newChat(chatKind(&sender{}, first), requester{code: 486})
			return chatSession, nil
		},
	})
	require.NoError(t, c.Start(context.Background()))
	<-bs.started

	require.NoError(t, c.Pause())
	assert.Equal(t, upload.StatePaused, c.State())
	state, reason := c.TransferState()
	assert.Equal(t, upload.TransferPaused, state)
	assert.Equal(t, upload.ReasonPausedByUser, reason)
	assert.Equal(t, 1, store.len())

	require.NoError(t, c.Resume(context.Background()))
	assert.Equal(t, upload.StateSucceeded, waitDone(t, c))

	bs.mu.Lock()
	assert.Equal(t, "bytes 10-15/16", bs.contentRange)
	assert.Equal(t, fileData[10:], bs.putData)
	bs.mu.Unlock()

	require.NotNil(t, chatSession)
	<-chatSession.Done()
}

func TestCoordinatorResumeWithoutRecord(t *testing.T) {
	bs, srv := newBlockingServer(t)

	store := newMemoryStore()
	store.forget = true
	c := upload.NewCoordinator("ft-4", remote, fileContent(), upload.Config{
		Uploader:  newClient(t, srv.URL),
		Store:     store,
		Directory: session.NewDirectory(),
	})
	require.NoError(t, c.Start(context.Background()))
	<-bs.started
	require.NoError(t, c.Pause())
	require.NoError(t, c.Resume(context.Background()))

	assert.Equal(t, upload.StateFailed, waitDone(t, c))
	assert.True(t, session.IsSessionError(c.Err(), session.ErrKindUploadFailed))
}

func TestCoordinatorCancel(t *testing.T) {
	bs, srv := newBlockingServer(t)

	dir := session.NewDirectory()
	c := upload.NewCoordinator("ft-5", remote, fileContent(), upload.Config{
		Uploader:  newClient(t, srv.URL),
		Directory: dir,
	})
	rec := &stateRecorder{}
	c.AddListener(rec)
	require.NoError(t, c.Start(context.Background()))
	<-bs.started

	require.NoError(t, c.Cancel())
	assert.Equal(t, upload.StateCancelled, waitDone(t, c))
	assert.Nil(t, c.Err(), "отмена не считается сбоем")
	assert.Zero(t, dir.Len())

	states, _ := rec.snapshot()
	assert.Equal(t, []upload.TransferState{upload.TransferStarted, upload.TransferAborted}, states)
	assert.ErrorIs(t, c.Pause(), upload.ErrInvalidState)
	assert.ErrorIs(t, c.Resume(context.Background()), upload.ErrInvalidState)
}

func TestBlockingServerClose(t *testing.T) {
	bs, srv := newBlockingServer(t)

	// клиент не отменяет запрос, сервер держит его сам
	go func() {
		resp, err := http.Post(srv.URL+"/upload", "application/octet-stream", bytes.NewReader(fileData))
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-bs.started:
	case <-time.After(5 * time.Second):
		t.Fatal("POST не дошел до сервера")
	}

	closed := make(chan struct{})
	go func() {
		bs.unblock()
		srv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("закрытие сервера зависло на незавершенном POST")
	}
}

func TestTransferStateNames(t *testing.T) {
	assert.Equal(t, "TRANSFERRED", upload.TransferTransferred.String())
	assert.Equal(t, "QUEUED", upload.TransferQueued.String())
	assert.Equal(t, "PAUSED_BY_USER", upload.ReasonPausedByUser.String())
	assert.Equal(t, "FAILED_NOT_ALLOWED_TO_SEND", upload.ReasonFailedNotAllowedToSend.String())
	assert.Equal(t, "UNKNOWN", upload.TransferState(42).String())
}
