// Package logging строит slog.Logger по конфигурации: console, dev или json
// обработчик, форматтеры для SIP сообщений и ротация файла.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arzzra/rcs_core/pkg/config"
)

var newFormatter = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(req *sip.Request) slog.Value {
		return slog.GroupValue(
			slog.String("method", string(req.Method)),
			slog.String("uri", req.Recipient.String()),
			slog.String("callID", callID(req.CallID())),
		)
	}),
	slogformatter.FormatByType(func(res *sip.Response) slog.Value {
		return slog.GroupValue(
			slog.Int("status", res.StatusCode),
			slog.String("reason", res.Reason),
			slog.String("callID", callID(res.CallID())),
		)
	}),
)

func callID(h *sip.CallIDHeader) string {
	if h == nil {
		return ""
	}
	return h.Value()
}

// ParseLevel переводит строку конфигурации в уровень; неизвестное значение
// дает info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New создает логгер. Возвращаемый io.Closer закрывает файл логов, если он
// включен.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	out := stdout
	var closer io.Closer = nopCloser{}
	if cfg.File.Enabled {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		out = io.MultiWriter(stdout, file)
		closer = file
	}

	level := ParseLevel(cfg.Level)
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "dev":
		handler = devslog.NewHandler(out, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		})
	default:
		handler = console.NewHandler(out, &console.HandlerOptions{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
			NoColor:    cfg.File.Enabled,
		})
	}
	return slog.New(newFormatter(handler)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop логгер, который ничего не пишет.
var Noop = slog.New(noopHandler{})
