package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/config"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/journal"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/rtp"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/store"
	"github.com/arzzra/rcs_core/pkg/ua"
)

// discardPort порт m=message: MSRP соединения rcsd не принимает, данные
// сессий сообщений идут через MESSAGE
const discardPort = 9

// stack компоненты процесса, общие для serve и upload.
type stack struct {
	cfg     *config.Config
	logger  *slog.Logger
	logs    io.Closer
	metrics *metrics.Collector
	store   *store.SQLiteStore
	journal *journal.Journal
	ua      *ua.UA
	// ports nil, если диапазон RTP не задан
	ports *rtp.PortPool
}

func newStack(cfg *config.Config) (*stack, error) {
	logger, logs := logging.New(cfg.Log)
	slog.SetDefault(logger)
	contact.SetDefaultRegion(cfg.Contact.DefaultRegion)

	st, err := store.NewSQLiteStore(cfg.Store.DSN, logger)
	if err != nil {
		_ = logs.Close()
		return nil, errors.Wrap(err, "open store")
	}

	s := &stack{
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		metrics: metrics.NewCollector(&metrics.Config{Namespace: cfg.Metrics.Namespace}),
		store:   st,
		journal: journal.New(st, logger),
	}
	if r, ok := cfg.RTPPorts(); ok {
		if s.ports, err = rtp.NewPortPool(r); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.ua, err = ua.New(s.uaConfig())
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) uaConfig() ua.Config {
	cfg := s.cfg
	// коды уже проверены в config.Validate
	audio, _ := cfg.AudioCodecs()
	video, _ := cfg.VideoCodecs()

	sessionCfg := cfg.SessionConfig()
	sessionCfg.Logger = s.logger
	sessionCfg.Metrics = s.metrics

	return ua.Config{
		UserAgent:  cfg.SIP.UserAgent,
		Hostname:   cfg.Media.LocalIP,
		Domain:     cfg.SIP.Domain,
		LocalURI:   cfg.LocalURI(),
		Proxy:      cfg.SIP.Proxy,
		AutoAccept: cfg.Session.AutoAccept,
		Session:    sessionCfg,
		Media: session.MediaConfig{
			LocalIP:     cfg.Media.LocalIP,
			AudioCodecs: audio,
			VideoCodecs: video,
			VideoPort:   cfg.Media.VideoPort,
		},
		Features:      cfg.Features(),
		MessageIP:     cfg.Media.LocalIP,
		MessagePort:   discardPort,
		ImdnDisplayed: cfg.Chat.ImdnDisplayed,
		ImdnDelivered: cfg.Chat.ImdnDelivered,
		Endpoints:     s.newEndpoints,
		Messages:      s.journal,
		Listeners:     []session.Listener{s.journal},
		Logger:        s.logger,
	}
}

// newEndpoints player с тишиной и renderer без приемника на отдельных
// сокетах. Порт renderer берется из пула media.rtp_port_min/max.
func (s *stack) newEndpoints() (session.MediaEndpoint, session.MediaEndpoint, error) {
	var in *rtp.UDPTransport
	var err error
	if s.ports != nil {
		in, err = s.ports.Listen(s.cfg.Media.LocalIP, rtp.TransportConfig{Logger: s.logger})
	} else {
		in, err = rtp.NewUDPTransport(rtp.TransportConfig{
			LocalAddr: net.JoinHostPort(s.cfg.Media.LocalIP, "0"),
			Logger:    s.logger,
		})
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "open rtp receive socket")
	}
	out, err := rtp.NewUDPTransport(rtp.TransportConfig{
		LocalAddr: net.JoinHostPort(s.cfg.Media.LocalIP, "0"),
		DSCP:      s.cfg.Media.DSCP,
		Logger:    s.logger,
	})
	if err != nil {
		_ = in.Close()
		return nil, nil, errors.Wrap(err, "open rtp send socket")
	}
	return rtp.NewPlayer(out, rtp.NewSilence(), s.logger), rtp.NewRenderer(in, nil, s.logger), nil
}

// serveSIP слушает SIP до отмены ctx.
func (s *stack) serveSIP(ctx context.Context) error {
	err := s.ua.ListenAndServe(ctx, s.cfg.SIP.Transport, s.cfg.SIP.Listen)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// serveMetrics HTTP endpoint prometheus до отмены ctx.
func (s *stack) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Запуск metrics endpoint",
		slog.String("address", s.cfg.Metrics.Listen),
		slog.String("path", s.cfg.Metrics.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

func (s *stack) Close() {
	if s.ua != nil {
		if err := s.ua.Close(); err != nil {
			s.logger.Warn("Ошибка закрытия UA", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("Ошибка закрытия хранилища", slog.String("error", err.Error()))
	}
	_ = s.logs.Close()
}
