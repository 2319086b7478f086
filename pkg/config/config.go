// Package config загружает конфигурацию rcsd через viper: YAML файл и
// переменные окружения RCS_* (например RCS_SIP_LISTEN).
package config

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/rtp"
	"github.com/arzzra/rcs_core/pkg/session"
)

// Config корневая конфигурация.
type Config struct {
	SIP     SIPConfig     `mapstructure:"sip"`
	Session SessionConfig `mapstructure:"session"`
	Media   MediaConfig   `mapstructure:"media"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Contact ContactConfig `mapstructure:"contact"`
}

// SIPConfig параметры user agent.
type SIPConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	Transport string `mapstructure:"transport"` // udp | tcp
	Listen    string `mapstructure:"listen"`
	// Domain домен IMS для URI пользователей
	Domain string `mapstructure:"domain"`
	// User номер пользователя, From исходящих запросов
	User string `mapstructure:"user"`
	// Contact URI для заголовка Contact, пустое значение строится из listen
	Contact string `mapstructure:"contact"`
	// Proxy исходящий прокси "host:port"
	Proxy string `mapstructure:"proxy"`
}

// SessionConfig таймеры сессий.
type SessionConfig struct {
	RingingTimeout time.Duration `mapstructure:"ringing_timeout"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	InviteTimeout  time.Duration `mapstructure:"invite_timeout"`
	SessionExpires time.Duration `mapstructure:"session_expires"`
	// AutoAccept принимать входящие приглашения без участия пользователя
	AutoAccept bool `mapstructure:"auto_accept"`
}

// MediaConfig параметры RTP.
type MediaConfig struct {
	LocalIP     string   `mapstructure:"local_ip"`
	// RTPPortMin и RTPPortMax диапазон портов RTP, нули отдают выбор системе
	RTPPortMin  int      `mapstructure:"rtp_port_min"`
	RTPPortMax  int      `mapstructure:"rtp_port_max"`
	VideoPort   int      `mapstructure:"video_port"`
	DSCP        int      `mapstructure:"dscp"`
	AudioCodecs []string `mapstructure:"audio_codecs"`
	VideoCodecs []string `mapstructure:"video_codecs"`
}

// ChatConfig возможности чата.
type ChatConfig struct {
	ImdnDisplayed    bool `mapstructure:"imdn_displayed"`
	ImdnDelivered    bool `mapstructure:"imdn_delivered"`
	GeolocationPush  bool `mapstructure:"geolocation_push"`
	FileTransfer     bool `mapstructure:"file_transfer"`
	FileTransferHTTP bool `mapstructure:"file_transfer_http"`
	FileTransferSF   bool `mapstructure:"file_transfer_sf"`
}

// UploadConfig сервер контента для FT-HTTP.
type UploadConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig вывод логов.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // console | dev | json
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig ротация файла логов.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// ContactConfig разбор номеров.
type ContactConfig struct {
	DefaultRegion string `mapstructure:"default_region"`
}

// Load читает конфигурацию. Пустой path означает только значения по
// умолчанию и окружение.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sip.user_agent", "rcsd")
	v.SetDefault("sip.transport", "udp")
	v.SetDefault("sip.listen", "0.0.0.0:5060")
	v.SetDefault("sip.domain", "ims.example.org")
	v.SetDefault("sip.user", "")
	v.SetDefault("sip.contact", "")
	v.SetDefault("sip.proxy", "")

	v.SetDefault("session.ringing_timeout", "60s")
	v.SetDefault("session.ack_timeout", session.TimerH.String())
	v.SetDefault("session.invite_timeout", session.TimerB.String())
	v.SetDefault("session.session_expires", "0s")
	v.SetDefault("session.auto_accept", false)

	v.SetDefault("media.local_ip", "127.0.0.1")
	v.SetDefault("media.rtp_port_min", 0)
	v.SetDefault("media.rtp_port_max", 0)
	v.SetDefault("media.video_port", 0)
	v.SetDefault("media.dscp", 46)
	v.SetDefault("media.audio_codecs", []string{"PCMU", "PCMA", "G722"})
	v.SetDefault("media.video_codecs", []string{})

	v.SetDefault("chat.imdn_displayed", true)
	v.SetDefault("chat.imdn_delivered", true)
	v.SetDefault("chat.geolocation_push", true)
	v.SetDefault("chat.file_transfer", false)
	v.SetDefault("chat.file_transfer_http", true)
	v.SetDefault("chat.file_transfer_sf", false)

	v.SetDefault("upload.url", "")
	v.SetDefault("upload.username", "")
	v.SetDefault("upload.password", "")
	v.SetDefault("upload.timeout", "5m")

	v.SetDefault("store.dsn", "rcs.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "rcsd.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "rcs")

	v.SetDefault("contact.default_region", "FR")
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log level %q (must be debug/info/warn/error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "dev", "json":
	default:
		return errors.Errorf("invalid log format %q (must be console/dev/json)", c.Log.Format)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return errors.New("log.file.path is required when log.file.enabled=true")
	}

	switch c.SIP.Transport {
	case "udp", "tcp":
	default:
		return errors.Errorf("unsupported sip.transport %q", c.SIP.Transport)
	}
	if _, _, err := net.SplitHostPort(c.SIP.Listen); err != nil {
		return errors.Wrapf(err, "invalid sip.listen %q", c.SIP.Listen)
	}

	if c.Session.RingingTimeout <= 0 || c.Session.AckTimeout <= 0 || c.Session.InviteTimeout <= 0 {
		return errors.New("session timeouts must be positive")
	}
	if c.Session.SessionExpires > 0 && c.Session.SessionExpires < session.SessionTimerMin {
		return errors.Errorf("session.session_expires must be at least %s", session.SessionTimerMin)
	}

	if net.ParseIP(c.Media.LocalIP) == nil {
		return errors.Errorf("invalid media.local_ip %q", c.Media.LocalIP)
	}
	if ports, ok := c.RTPPorts(); ok {
		if err := ports.Validate(); err != nil {
			return errors.Wrap(err, "media.rtp_port_min/max")
		}
	}
	if _, err := c.AudioCodecs(); err != nil {
		return err
	}
	if _, err := c.VideoCodecs(); err != nil {
		return err
	}

	if c.Upload.URL != "" {
		u, err := url.Parse(c.Upload.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Errorf("invalid upload.url %q", c.Upload.URL)
		}
	}
	if c.Store.DSN == "" {
		return errors.New("store.dsn is required")
	}
	return nil
}

// RTPPorts диапазон портов RTP; ok=false, если диапазон не задан.
func (c *Config) RTPPorts() (rtp.PortRange, bool) {
	if c.Media.RTPPortMin == 0 && c.Media.RTPPortMax == 0 {
		return rtp.PortRange{}, false
	}
	return rtp.PortRange{Min: c.Media.RTPPortMin, Max: c.Media.RTPPortMax}, true
}

// AudioCodecs аудио кодеки в порядке из конфигурации.
func (c *Config) AudioCodecs() ([]media_sdp.Codec, error) {
	return pickCodecs("media.audio_codecs", c.Media.AudioCodecs, media_sdp.DefaultAudioCodecs())
}

// VideoCodecs видео кодеки; пустой список выключает видео.
func (c *Config) VideoCodecs() ([]media_sdp.Codec, error) {
	return pickCodecs("media.video_codecs", c.Media.VideoCodecs, media_sdp.DefaultVideoCodecs())
}

func pickCodecs(key string, names []string, known []media_sdp.Codec) ([]media_sdp.Codec, error) {
	out := make([]media_sdp.Codec, 0, len(names))
	for _, name := range names {
		found := false
		for _, c := range known {
			if strings.EqualFold(c.Name, name) {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("%s: unknown codec %q", key, name)
		}
	}
	return out, nil
}

// LocalURI SIP URI пользователя. Без номера используется anonymous.
func (c *Config) LocalURI() string {
	if id, ok := contact.Parse(c.SIP.User); ok {
		return id.SipURI(c.SIP.Domain)
	}
	return "sip:anonymous@" + c.SIP.Domain
}

// LocalContact адрес для Contact: из sip.contact или из адреса sip.listen.
func (c *Config) LocalContact() string {
	if c.SIP.Contact != "" {
		return c.SIP.Contact
	}
	host, port, err := net.SplitHostPort(c.SIP.Listen)
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = c.Media.LocalIP
	}
	user := "rcsd"
	if id, ok := contact.Parse(c.SIP.User); ok {
		user = id.String()
	}
	return "sip:" + user + "@" + net.JoinHostPort(host, port)
}

// SessionConfig конфигурация для пакета session.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		RingingTimeout: c.Session.RingingTimeout,
		AckTimeout:     c.Session.AckTimeout,
		InviteTimeout:  c.Session.InviteTimeout,
		LocalContact:   c.LocalContact(),
		SessionExpires: c.Session.SessionExpires,
	}
}

// Features возможности чата для тегов Contact.
func (c *Config) Features() chat.Features {
	return chat.Features{
		GeolocationPush:  c.Chat.GeolocationPush,
		FileTransfer:     c.Chat.FileTransfer,
		FileTransferHTTP: c.Chat.FileTransferHTTP,
		FileTransferSF:   c.Chat.FileTransferSF,
	}
}
