package rtp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/media_sdp"
)

// CodecAware источник, которому Player сообщает согласованный кодек.
type CodecAware interface {
	SetCodec(codec media_sdp.Codec, ptime time.Duration)
}

// Silence источник тишины для G.711 и G.722. Для остальных кодеков кадры
// пустые и пакеты не отправляются.
type Silence struct {
	mu    sync.Mutex
	frame []byte
}

var (
	_ FrameSource = (*Silence)(nil)
	_ CodecAware  = (*Silence)(nil)
)

func NewSilence() *Silence {
	return &Silence{}
}

func (s *Silence) SetCodec(codec media_sdp.Codec, ptime time.Duration) {
	var fill byte
	switch strings.ToUpper(codec.Name) {
	case "PCMU":
		fill = 0xFF
	case "PCMA":
		fill = 0xD5
	case "G722":
	default:
		s.mu.Lock()
		s.frame = nil
		s.mu.Unlock()
		return
	}

	// один байт на отсчет тактовой частоты из SDP
	size := int(uint64(codec.ClockRate) * uint64(ptime) / uint64(time.Second))
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = fill
	}
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}

func (s *Silence) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}
