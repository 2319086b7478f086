// Package rtp передает RTP потоки IP звонков по UDP: транспорт с настройкой
// сокета под голос, источник (Player) и приемник (Renderer) потока.
package rtp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

const (
	MinRTPPacketSize = 12
	MaxRTPPacketSize = 1500

	ExpectedRTPVersion = 2

	// DSCP по RFC 4594
	DSCPExpeditedForwarding = 46
	DSCPAssuredForwarding   = 34

	defaultReadTimeout = 100 * time.Millisecond
)

// ErrTransportClosed транспорт уже закрыт.
var ErrTransportClosed = errors.New("rtp transport closed")

// TransportConfig параметры UDP транспорта.
type TransportConfig struct {
	// LocalAddr адрес привязки, порт 0 выбирается системой
	LocalAddr string
	// RemoteAddr адрес назначения, может быть задан позже
	RemoteAddr string
	BufferSize int
	// DSCP маркировка исходящих пакетов, 0 не меняет TOS
	DSCP   int
	Logger *slog.Logger
}

// UDPTransport отправляет и принимает RTP пакеты через один UDP сокет.
type UDPTransport struct {
	conn       *net.UDPConn
	bufferSize int
	logger     *slog.Logger

	mu     sync.RWMutex
	remote *net.UDPAddr
	closed bool

	// release возвращает порт в PortPool
	release func()
}

// NewUDPTransport открывает сокет и применяет настройки для голоса.
func NewUDPTransport(cfg TransportConfig) (*UDPTransport, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = MaxRTPPacketSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	lc := net.ListenConfig{Control: controlVoiceSocket(cfg.DSCP)}
	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.LocalAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp %s", cfg.LocalAddr)
	}

	t := &UDPTransport{
		conn:       pc.(*net.UDPConn),
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
	}
	if cfg.RemoteAddr != "" {
		if err := t.SetRemoteAddr(cfg.RemoteAddr); err != nil {
			t.conn.Close()
			return nil, err
		}
	}

	t.logger.Debug("UDPTransport.New", slog.String("local", t.conn.LocalAddr().String()))
	return t, nil
}

// LocalAddr локальный адрес сокета.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *UDPTransport) LocalPort() int {
	return t.LocalAddr().Port
}

// RemoteAddr адрес назначения или nil.
func (t *UDPTransport) RemoteAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remote
}

// SetRemoteAddr задает адрес назначения "host:port".
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve remote %s", addr)
	}
	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()
	return nil
}

// Send отправляет пакет на адрес назначения.
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mu.RLock()
	closed, remote := t.closed, t.remote
	t.mu.RUnlock()

	if closed {
		return ErrTransportClosed
	}
	if remote == nil {
		return errors.New("remote address not set")
	}
	if err := validateHeader(&packet.Header); err != nil {
		return err
	}

	data, err := packet.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal rtp packet")
	}
	if err := validatePacketSize(len(data)); err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDP(data, remote); err != nil {
		return errors.Wrap(err, "udp write")
	}
	return nil
}

// Receive ждет следующий корректный RTP пакет. Пакеты, не прошедшие
// проверку, пропускаются. Если адрес назначения не задан, им становится
// источник первого пакета.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, *net.UDPAddr, error) {
	buf := make([]byte, t.bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if t.isClosed() {
			return nil, nil, ErrTransportClosed
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if t.isClosed() {
				return nil, nil, ErrTransportClosed
			}
			return nil, nil, errors.Wrap(err, "udp read")
		}
		if validatePacketSize(n) != nil {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Debug("UDPTransport.Receive: drop packet", slog.String("error", err.Error()))
			continue
		}
		if validateHeader(&packet.Header) != nil {
			continue
		}

		t.mu.Lock()
		if t.remote == nil {
			t.remote = addr
		}
		t.mu.Unlock()
		return packet, addr, nil
	}
}

// Close закрывает сокет; повторный вызов ничего не делает.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.conn.Close()
	if t.release != nil {
		t.release()
	}
	return err
}

func (t *UDPTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func validatePacketSize(size int) error {
	if size < MinRTPPacketSize || size > MaxRTPPacketSize {
		return errors.Errorf("invalid rtp packet size %d", size)
	}
	return nil
}

func validateHeader(h *rtp.Header) error {
	if h.Version != ExpectedRTPVersion {
		return errors.Errorf("unsupported rtp version %d", h.Version)
	}
	if h.PayloadType > 127 {
		return errors.Errorf("invalid payload type %d", h.PayloadType)
	}
	return nil
}
