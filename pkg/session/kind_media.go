package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// Теги IP звонка (MMTEL).
const (
	FeatureMmtel = `+g.3gpp.icsi-ref="urn%3Aurn-7%3A3gpp-service.ims.icsi.mmtel"`
	FeatureVideo = "video"
)

// MediaEndpoint источник (player) или приемник (renderer) RTP потока.
type MediaEndpoint interface {
	// LocalPort локальный RTP порт для SDP
	LocalPort() int
	// Open настраивает поток на удаленный адрес и согласованный кодек
	Open(remoteAddr string, codec media_sdp.Codec) error
	Start() error
	Close() error
}

// MediaConfig параметры RTP сессии.
type MediaConfig struct {
	LocalIP     string
	AudioCodecs []media_sdp.Codec
	// VideoCodecs пустой список выключает видео
	VideoCodecs []media_sdp.Codec
	VideoPort   int
}

// rtpMedia общая часть IP звонка и RTP потока: player, renderer и
// согласованные кодеки.
type rtpMedia struct {
	cfg MediaConfig

	mu         sync.Mutex
	player     MediaEndpoint
	renderer   MediaEndpoint
	negotiated *media_sdp.Negotiated
	closeOnce  sync.Once
}

// AttachPlayer подключает источник исходящего потока.
func (m *rtpMedia) AttachPlayer(p MediaEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.player = p
}

// AttachRenderer подключает приемник входящего потока.
func (m *rtpMedia) AttachRenderer(r MediaEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderer = r
}

// Negotiated результат согласования, nil до ответа.
func (m *rtpMedia) Negotiated() *media_sdp.Negotiated {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.negotiated
}

func (m *rtpMedia) endpoints() (player, renderer MediaEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.player, m.renderer
}

func (m *rtpMedia) prepare() error {
	player, renderer := m.endpoints()
	if renderer == nil {
		return NewError(ErrKindResourceNotInitialized, MsgRendererNotInitialized)
	}
	if player == nil {
		return NewError(ErrKindResourceNotInitialized, MsgPlayerNotInitialized)
	}
	return nil
}

func (m *rtpMedia) params() media_sdp.MediaParams {
	_, renderer := m.endpoints()
	p := media_sdp.MediaParams{LocalIP: m.cfg.LocalIP, VideoPort: m.cfg.VideoPort}
	if renderer != nil {
		p.AudioPort = renderer.LocalPort()
	}
	return p
}

func (m *rtpMedia) audioCodecs() []media_sdp.Codec {
	if len(m.cfg.AudioCodecs) == 0 {
		return media_sdp.DefaultAudioCodecs()
	}
	return m.cfg.AudioCodecs
}

// videoCodecs пуст, если локальный видео порт не задан.
func (m *rtpMedia) videoCodecs() []media_sdp.Codec {
	if m.cfg.VideoPort <= 0 {
		return nil
	}
	return m.cfg.VideoCodecs
}

func (m *rtpMedia) offer() (*dialog.Body, error) {
	body, err := media_sdp.BuildOffer(m.params(), m.audioCodecs(), m.videoCodecs())
	if err != nil {
		return nil, WrapError(ErrKindSessionInitiationFailed, err)
	}
	return dialog.NewBody(mimeSDP, body), nil
}

// negotiate согласует описание удаленной стороны и открывает потоки.
func (m *rtpMedia) negotiate(body *dialog.Body) error {
	d, err := media_sdp.Parse(sdpPart(body))
	if err != nil {
		return WrapError(ErrKindMediaNegotiationFailed, err)
	}
	n, err := media_sdp.NegotiateOffer(d, m.audioCodecs(), m.videoCodecs())
	if err != nil {
		return WrapError(ErrKindMediaNegotiationFailed, err)
	}

	player, renderer := m.endpoints()
	remoteAddr := n.RemoteAudio.RemoteAddr()
	if err := renderer.Open(remoteAddr, n.Audio); err != nil {
		return WrapError(ErrKindMediaFailed, errors.Wrap(err, "open renderer"))
	}
	if err := player.Open(remoteAddr, n.Audio); err != nil {
		return WrapError(ErrKindMediaFailed, errors.Wrap(err, "open player"))
	}

	m.mu.Lock()
	m.negotiated = n
	m.mu.Unlock()
	return nil
}

func (m *rtpMedia) answer(offer *dialog.Body) (*dialog.Body, error) {
	if err := m.negotiate(offer); err != nil {
		return nil, err
	}
	body, err := media_sdp.BuildAnswer(m.params(), m.Negotiated())
	if err != nil {
		return nil, WrapError(ErrKindSessionInitiationFailed, err)
	}
	return dialog.NewBody(mimeSDP, body), nil
}

func (m *rtpMedia) start() error {
	player, renderer := m.endpoints()
	if err := renderer.Start(); err != nil {
		return WrapError(ErrKindMediaFailed, errors.Wrap(err, "start renderer"))
	}
	if err := player.Start(); err != nil {
		return WrapError(ErrKindMediaFailed, errors.Wrap(err, "start player"))
	}
	return nil
}

// close закрывает оба конца один раз.
func (m *rtpMedia) close() error {
	var result error
	m.closeOnce.Do(func() {
		player, renderer := m.endpoints()
		if player != nil {
			if err := player.Close(); err != nil {
				result = errors.Wrap(err, "close player")
			}
		}
		if renderer != nil {
			if err := renderer.Close(); err != nil && result == nil {
				result = errors.Wrap(err, "close renderer")
			}
		}
	})
	return result
}

// IPCallKind голосовой или видео звонок.
type IPCallKind struct {
	rtpMedia
}

var _ Kind = (*IPCallKind)(nil)

func NewIPCallKind(cfg MediaConfig) *IPCallKind {
	return &IPCallKind{rtpMedia: rtpMedia{cfg: cfg}}
}

func (k *IPCallKind) Name() string           { return "ip-call" }
func (k *IPCallKind) TimeoutResponse() int   { return dialog.StatusDecline }
func (k *IPCallKind) FailureKind() ErrorKind { return ErrKindSessionInitiationFailed }

func (k *IPCallKind) FeatureTags() []string {
	if len(k.videoCodecs()) > 0 {
		return []string{FeatureMmtel, FeatureVideo}
	}
	return []string{FeatureMmtel}
}

func (k *IPCallKind) PrepareMedia(context.Context) error { return k.prepare() }

func (k *IPCallKind) BuildOffer(context.Context) (*dialog.Body, error) { return k.offer() }

func (k *IPCallKind) BuildAnswer(_ context.Context, offer *dialog.Body) (*dialog.Body, error) {
	return k.answer(offer)
}

func (k *IPCallKind) ProcessAnswer(_ context.Context, answer *dialog.Body) error {
	return k.negotiate(answer)
}

func (k *IPCallKind) OnEstablished(context.Context) error { return k.start() }

func (k *IPCallKind) OnError(*Error) { _ = k.close() }

func (k *IPCallKind) Close() error { return k.close() }

// RTPKind произвольный аудио поток SIP-RTP без видео.
type RTPKind struct {
	rtpMedia
	featureTag string
}

var _ Kind = (*RTPKind)(nil)

// NewRTPKind featureTag объявляется в Contact, видео не согласуется.
func NewRTPKind(cfg MediaConfig, featureTag string) *RTPKind {
	cfg.VideoCodecs = nil
	return &RTPKind{rtpMedia: rtpMedia{cfg: cfg}, featureTag: featureTag}
}

func (k *RTPKind) Name() string           { return "rtp" }
func (k *RTPKind) TimeoutResponse() int   { return dialog.StatusBusyHere }
func (k *RTPKind) FailureKind() ErrorKind { return ErrKindMediaFailed }

func (k *RTPKind) FeatureTags() []string {
	if k.featureTag == "" {
		return nil
	}
	return []string{k.featureTag}
}

func (k *RTPKind) PrepareMedia(context.Context) error { return k.prepare() }

func (k *RTPKind) BuildOffer(context.Context) (*dialog.Body, error) { return k.offer() }

func (k *RTPKind) BuildAnswer(_ context.Context, offer *dialog.Body) (*dialog.Body, error) {
	return k.answer(offer)
}

func (k *RTPKind) ProcessAnswer(_ context.Context, answer *dialog.Body) error {
	return k.negotiate(answer)
}

func (k *RTPKind) OnEstablished(context.Context) error { return k.start() }

func (k *RTPKind) OnError(*Error) { _ = k.close() }

func (k *RTPKind) Close() error { return k.close() }
