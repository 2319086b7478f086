package rtp

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
)

const (
	defaultPtime = 20 * time.Millisecond
	// MTU минус IP/UDP заголовки
	packetizerMTU = 1200
)

var (
	ErrNotOpened      = errors.New("stream not opened")
	ErrAlreadyStarted = errors.New("stream already started")
)

// FrameSource источник кодированных кадров для Player.
type FrameSource interface {
	// ReadFrame возвращает очередной кадр длительностью ptime; io.EOF
	// завершает поток
	ReadFrame(ctx context.Context) ([]byte, error)
}

// FrameSink получатель пакетов Renderer.
type FrameSink interface {
	WriteFrame(packet *rtp.Packet) error
}

var (
	_ session.MediaEndpoint = (*Player)(nil)
	_ session.MediaEndpoint = (*Renderer)(nil)
)

// Player читает кадры из источника, пакетирует их согласованным кодеком и
// отправляет с шагом ptime.
type Player struct {
	transport *UDPTransport
	source    FrameSource
	logger    *slog.Logger

	mu         sync.Mutex
	codec      media_sdp.Codec
	packetizer rtp.Packetizer
	samples    uint32
	ptime      time.Duration
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}

	sent atomic.Uint64
}

func NewPlayer(transport *UDPTransport, source FrameSource, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		transport: transport,
		source:    source,
		logger:    logger.With(slog.String("component", "rtp-player")),
	}
}

func (p *Player) LocalPort() int {
	return p.transport.LocalPort()
}

// Open задает адрес назначения и кодек.
func (p *Player) Open(remoteAddr string, codec media_sdp.Codec) error {
	if err := p.transport.SetRemoteAddr(remoteAddr); err != nil {
		return err
	}
	ptime := codec.Ptime
	if ptime <= 0 {
		ptime = defaultPtime
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.codec = codec
	p.ptime = ptime
	p.samples = uint32(uint64(codec.ClockRate) * uint64(ptime) / uint64(time.Second))
	p.packetizer = rtp.NewPacketizer(packetizerMTU, codec.PayloadType, rand.Uint32(),
		payloaderFor(codec), rtp.NewRandomSequencer(), codec.ClockRate)
	if ca, ok := p.source.(CodecAware); ok {
		ca.SetCodec(codec, ptime)
	}

	p.logger.Debug("Player.Open",
		slog.String("remote", remoteAddr),
		slog.String("codec", codec.String()))
	return nil
}

func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.packetizer == nil {
		return ErrNotOpened
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.packetizer, p.samples, p.ptime, p.done)
	return nil
}

// Sent количество отправленных пакетов.
func (p *Player) Sent() uint64 {
	return p.sent.Load()
}

// Done закрывается, когда поток остановлен.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Player) loop(ctx context.Context, packetizer rtp.Packetizer, samples uint32, ptime time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(ptime)
	defer ticker.Stop()
	for {
		frame, err := p.source.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				p.logger.Warn("Player.loop: source failed", slog.String("error", err.Error()))
			}
			return
		}
		for _, pkt := range packetizer.Packetize(frame, samples) {
			if err := p.transport.Send(pkt); err != nil {
				if !errors.Is(err, ErrTransportClosed) {
					p.logger.Warn("Player.loop: send failed", slog.String("error", err.Error()))
				}
				return
			}
			p.sent.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close останавливает поток и закрывает транспорт.
func (p *Player) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return p.transport.Close()
}

// Renderer принимает пакеты согласованного payload type и передает их
// получателю. Пакеты с другим payload type отбрасываются.
type Renderer struct {
	transport *UDPTransport
	sink      FrameSink
	logger    *slog.Logger

	mu          sync.Mutex
	payloadType uint8
	opened      bool
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64
}

func NewRenderer(transport *UDPTransport, sink FrameSink, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		transport: transport,
		sink:      sink,
		logger:    logger.With(slog.String("component", "rtp-renderer")),
	}
}

func (r *Renderer) LocalPort() int {
	return r.transport.LocalPort()
}

// Open запоминает кодек; удаленный адрес используется для симметричного RTP.
func (r *Renderer) Open(remoteAddr string, codec media_sdp.Codec) error {
	if remoteAddr != "" {
		if err := r.transport.SetRemoteAddr(remoteAddr); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadType = codec.PayloadType
	r.opened = true
	return nil
}

func (r *Renderer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return ErrNotOpened
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.payloadType, r.done)
	return nil
}

func (r *Renderer) Received() uint64 {
	return r.received.Load()
}

func (r *Renderer) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Renderer) loop(ctx context.Context, pt uint8, done chan struct{}) {
	defer close(done)
	for {
		pkt, _, err := r.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrTransportClosed) {
				r.logger.Warn("Renderer.loop: receive failed", slog.String("error", err.Error()))
			}
			return
		}
		if pkt.PayloadType != pt {
			r.dropped.Add(1)
			continue
		}
		r.received.Add(1)
		if r.sink == nil {
			continue
		}
		if err := r.sink.WriteFrame(pkt); err != nil {
			r.logger.Warn("Renderer.loop: sink failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Close останавливает прием и закрывает транспорт.
func (r *Renderer) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return r.transport.Close()
}

func payloaderFor(codec media_sdp.Codec) rtp.Payloader {
	switch strings.ToUpper(codec.Name) {
	case "G722":
		return &codecs.G722Payloader{}
	case "H264":
		return &codecs.H264Payloader{}
	case "VP8":
		return &codecs.VP8Payloader{}
	case "OPUS":
		return &codecs.OpusPayloader{}
	default:
		return &codecs.G711Payloader{}
	}
}
