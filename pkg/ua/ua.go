// Package ua связывает сессии RCS с SIP стеком sipgo. Входящие INVITE,
// ACK, CANCEL, BYE, UPDATE и MESSAGE маршрутизируются в сессии реестра,
// исходящие сессии отправляют INVITE и MESSAGE через клиент sipgo.
package ua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
)

// ErrClosed UA закрыт.
var ErrClosed = errors.New("user agent closed")

// EndpointFactory создает player и renderer для звонка или RTP потока.
type EndpointFactory func() (player, renderer session.MediaEndpoint, err error)

// Config параметры UA.
type Config struct {
	UserAgent string
	// Hostname адрес для Via
	Hostname string
	// Domain домен IMS для URI абонентов
	Domain string
	// LocalURI идентичность пользователя для From
	LocalURI string
	// Proxy исходящий прокси "host:port"
	Proxy string
	// AutoAccept принимать входящие приглашения сразу
	AutoAccept bool

	Session  session.Config
	Media    session.MediaConfig
	Features chat.Features
	// MessageIP и MessagePort адрес m=message секции
	MessageIP   string
	MessagePort int

	ImdnDisplayed bool
	ImdnDelivered bool

	// Endpoints nil отклоняет звонки и RTP потоки
	Endpoints EndpointFactory
	// Messages получатель входящих MESSAGE, nil отвечает 200 и отбрасывает
	Messages MessageHandler
	// Listeners добавляются к каждой входящей сессии
	Listeners []session.Listener

	Logger *slog.Logger
}

// UA user agent RCS: сервер и клиент sipgo вокруг реестра сессий.
type UA struct {
	cfg       Config
	ua        *sipgo.UserAgent
	server    *sipgo.Server
	transport Transport
	directory *session.Directory
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*dialog.ServerTX
	closed  bool
}

// New создает UA и регистрирует обработчики запросов.
func New(cfg Config) (*UA, error) {
	opts := []sipgo.UserAgentOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, sipgo.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Hostname != "" {
		opts = append(opts, sipgo.WithUserAgentHostname(cfg.Hostname))
	}
	ua, err := sipgo.NewUA(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create user agent")
	}

	var clientOpts []sipgo.ClientOption
	if cfg.Hostname != "" {
		clientOpts = append(clientOpts, sipgo.WithClientHostname(cfg.Hostname))
	}
	client, err := sipgo.NewClient(ua, clientOpts...)
	if err != nil {
		_ = ua.Close()
		return nil, errors.Wrap(err, "create client")
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return nil, errors.Wrap(err, "create server")
	}

	u := newUA(cfg, &clientTransport{client: client, proxy: cfg.Proxy, logger: loggerOf(cfg)})
	u.ua = ua
	u.server = server
	u.registerHandlers()
	return u, nil
}

func loggerOf(cfg Config) *slog.Logger {
	if cfg.Logger == nil {
		return slog.Default()
	}
	return cfg.Logger
}

func newUA(cfg Config, transport Transport) *UA {
	logger := loggerOf(cfg)
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UA{
		cfg:       cfg,
		transport: transport,
		directory: session.NewDirectory(),
		logger:    logger.With(slog.String("component", "ua")),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*dialog.ServerTX),
	}
}

// registerHandlers регистрирует обработчики входящих запросов.
func (u *UA) registerHandlers() {
	u.server.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) { u.onInvite(req, tx) })
	u.server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) { u.onAck(req) })
	u.server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) { u.onCancel(req, tx) })
	u.server.OnBye(func(req *sip.Request, tx sip.ServerTransaction) { u.onBye(req, tx) })
	u.server.OnUpdate(func(req *sip.Request, tx sip.ServerTransaction) { u.onUpdate(req, tx) })
	u.server.OnOptions(func(req *sip.Request, tx sip.ServerTransaction) { u.onOptions(req, tx) })
	u.server.OnMessage(func(req *sip.Request, tx sip.ServerTransaction) { u.onMessage(req, tx) })
}

// ListenAndServe слушает network ("udp", "tcp") на addr до отмены ctx.
func (u *UA) ListenAndServe(ctx context.Context, network, addr string) error {
	if u.server == nil {
		return errors.New("server not initialized")
	}
	u.logger.Info("Запуск SIP сервера",
		slog.String("network", network),
		slog.String("address", addr))
	return u.server.ListenAndServe(ctx, network, addr)
}

// Directory реестр активных сессий.
func (u *UA) Directory() *session.Directory {
	return u.directory
}

// Close прерывает все сессии и закрывает стек.
func (u *UA) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	for _, s := range u.directory.Sessions() {
		s.Interrupt()
	}
	u.cancel()
	if u.ua != nil {
		return u.ua.Close()
	}
	return nil
}

func (u *UA) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *UA) remoteURI(remote contact.ID) string {
	return remote.SipURI(u.cfg.Domain)
}

// messageParams параметры m=message с новым MSRP path.
func (u *UA) messageParams() media_sdp.MessageParams {
	return media_sdp.MessageParams{
		LocalIP: u.cfg.MessageIP,
		Port:    u.cfg.MessagePort,
		Path:    fmt.Sprintf("msrp://%s:%d/%s;tcp", u.cfg.MessageIP, u.cfg.MessagePort, sip.RandString(10)),
	}
}

func (u *UA) chatConfig(sender session.MessageSender) session.ChatConfig {
	return session.ChatConfig{
		Media:         u.messageParams(),
		Features:      u.cfg.Features,
		Sender:        sender,
		LocalURI:      u.cfg.LocalURI,
		ImdnDisplayed: u.cfg.ImdnDisplayed,
		ImdnDelivered: u.cfg.ImdnDelivered,
	}
}

// attachEndpoints подключает player и renderer к виду звонка.
func (u *UA) attachEndpoints(k interface {
	AttachPlayer(session.MediaEndpoint)
	AttachRenderer(session.MediaEndpoint)
}) error {
	if u.cfg.Endpoints == nil {
		return errors.New("media endpoints not configured")
	}
	player, renderer, err := u.cfg.Endpoints()
	if err != nil {
		return errors.Wrap(err, "create media endpoints")
	}
	k.AttachPlayer(player)
	k.AttachRenderer(renderer)
	return nil
}

// register добавляет сессию в реестр и подписывает служебных слушателей.
func (u *UA) register(s *session.Session) {
	s.AddListener(&byeOnTerminate{ua: u})
	u.directory.Add(s)
}
