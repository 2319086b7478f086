package main

import (
	"context"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/config"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/upload"
)

var (
	uploadTo   string
	uploadFile string
	uploadMime string
	uploadWait time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a file to the content server and send it to a contact",
	Long: `Upload a file over FT-HTTP and hand the file info to a chat with the contact.

The file is sent to upload.url. On success the file info is delivered in the
existing chat with the contact or as the first message of a new chat.

Examples:
  rcsd upload -c rcsd.yaml --to +33612345678 --file photo.jpg
  rcsd upload --to 0612345678 --file doc.pdf --mime application/pdf`,
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTo, "to", "", "recipient phone number")
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "file to upload")
	uploadCmd.Flags().StringVar(&uploadMime, "mime", "", "content type (detected from extension when empty)")
	uploadCmd.Flags().DurationVar(&uploadWait, "chat-timeout", 30*time.Second, "how long to wait for the chat to start")
	_ = uploadCmd.MarkFlagRequired("to")
	_ = uploadCmd.MarkFlagRequired("file")
}

func runUpload(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.Upload.URL == "" {
		return errors.New("upload.url is not configured")
	}

	s, err := newStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	remote, ok := contact.Parse(uploadTo)
	if !ok {
		return errors.Errorf("invalid recipient %q", uploadTo)
	}

	f, err := os.Open(uploadFile)
	if err != nil {
		return errors.Wrap(err, "open file")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat file")
	}
	content := upload.Content{
		Name:     filepath.Base(uploadFile),
		MimeType: contentType(uploadFile, uploadMime),
		Size:     fi.Size(),
		Data:     f,
	}

	client, err := upload.NewClient(upload.ClientConfig{
		URL:      cfg.Upload.URL,
		Username: cfg.Upload.Username,
		Password: cfg.Upload.Password,
		Timeout:  cfg.Upload.Timeout,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// UA нужен для ответов на INVITE чата
	sipErr := make(chan error, 1)
	go func() { sipErr <- s.serveSIP(ctx) }()

	coord := upload.NewCoordinator("", remote, content, upload.Config{
		Uploader:      client,
		Store:         s.store,
		Directory:     s.ua.Directory(),
		NewChat:       s.ua.NewChat,
		ImdnDisplayed: cfg.Chat.ImdnDisplayed,
		ImdnDelivered: cfg.Chat.ImdnDelivered,
		Logger:        s.logger,
		Metrics:       s.metrics,
	})
	coord.AddListener(&progressPrinter{cmd: cmd})

	if err := coord.Start(ctx); err != nil {
		return err
	}
	state, err := coord.Wait(ctx)
	if err != nil {
		_ = coord.Cancel()
		return err
	}
	if state != upload.StateSucceeded {
		if e := coord.Err(); e != nil {
			return e
		}
		return errors.Errorf("upload finished in state %s", state)
	}

	now := time.Now()
	s.journal.Outgoing(chat.NewFileTransferMessage(remote,
		envelope.BuildFileTransferHttpInfo(coord.FileInfo()), coord.TransferID(), now, now))
	cmd.Printf("uploaded %s to %s\n", content.Name, coord.FileInfo().URI)

	if sess := coord.Chat(); sess != nil {
		waitChat(ctx, s.logger, sess, uploadWait)
		sess.Terminate(session.ReasonByUser)
		<-sess.Done()
	}

	select {
	case err := <-sipErr:
		return err
	default:
		return nil
	}
}

// contentType явный тип или тип по расширению файла.
func contentType(name, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// waitChat ждет установления чата, его завершения или таймаута.
func waitChat(ctx context.Context, logger *slog.Logger, s *session.Session, timeout time.Duration) {
	started := &startWatcher{ch: make(chan struct{})}
	s.AddListener(started)
	if s.State() == session.StateEstablished {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-started.ch:
	case <-s.Done():
	case <-timer.C:
		logger.Warn("Чат не установлен", slog.String("sessionID", s.ID()))
	case <-ctx.Done():
	}
}

type startWatcher struct {
	session.NopListener
	once sync.Once
	ch   chan struct{}
}

func (w *startWatcher) OnStarted(*session.Session) {
	w.once.Do(func() { close(w.ch) })
}

// progressPrinter печатает ход загрузки.
type progressPrinter struct {
	cmd  *cobra.Command
	last int64
}

func (p *progressPrinter) OnStateChanged(_ *upload.Coordinator, state upload.TransferState, reason upload.ReasonCode) {
	p.cmd.Printf("transfer %s (%s)\n", state, reason)
}

func (p *progressPrinter) OnProgress(_ *upload.Coordinator, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := sent * 100 / total
	if pct/10 == p.last/10 && sent != total {
		return
	}
	p.last = pct
	p.cmd.Printf("%d/%d bytes (%d%%)\n", sent, total, pct)
}
