package rtp_test

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/rtp"
)

var pcmu = media_sdp.Codec{Name: "PCMU", ClockRate: 8000, PayloadType: 0, Ptime: 10 * time.Millisecond}

type frames struct {
	mu   sync.Mutex
	left [][]byte
}

func (f *frames) ReadFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.left) == 0 {
		return nil, io.EOF
	}
	frame := f.left[0]
	f.left = f.left[1:]
	return frame, nil
}

type collector chan *pionrtp.Packet

func (c collector) WriteFrame(p *pionrtp.Packet) error {
	c <- p
	return nil
}

func newTransport(t *testing.T) *rtp.UDPTransport {
	t.Helper()
	tr, err := rtp.NewUDPTransport(rtp.TransportConfig{LocalAddr: "127.0.0.1:0", DSCP: rtp.DSCPExpeditedForwarding})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func addrOf(tr *rtp.UDPTransport) string {
	return "127.0.0.1:" + strconv.Itoa(tr.LocalPort())
}

func TestPlayerToRenderer(t *testing.T) {
	in, out := newTransport(t), newTransport(t)

	frame := make([]byte, 80)
	source := &frames{left: [][]byte{frame, frame, frame}}
	sink := make(collector, 8)

	player := rtp.NewPlayer(out, source, nil)
	renderer := rtp.NewRenderer(in, sink, nil)

	assert.ErrorIs(t, player.Start(), rtp.ErrNotOpened)
	assert.ErrorIs(t, renderer.Start(), rtp.ErrNotOpened)

	require.NoError(t, renderer.Open(addrOf(out), pcmu))
	require.NoError(t, player.Open(addrOf(in), pcmu))
	require.NoError(t, renderer.Start())
	require.NoError(t, player.Start())
	assert.ErrorIs(t, player.Start(), rtp.ErrAlreadyStarted)

	var got []*pionrtp.Packet
	for len(got) < 3 {
		select {
		case p := <-sink:
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("получено %d пакетов из 3", len(got))
		}
	}

	for i, p := range got {
		assert.Equal(t, uint8(0), p.PayloadType)
		assert.Len(t, p.Payload, 80)
		if i > 0 {
			assert.Equal(t, got[i-1].SequenceNumber+1, p.SequenceNumber)
			// 10 мс при 8 кГц
			assert.Equal(t, got[i-1].Timestamp+80, p.Timestamp)
			assert.Equal(t, got[0].SSRC, p.SSRC)
		}
	}

	select {
	case <-player.Done():
	case <-time.After(time.Second):
		t.Fatal("player не завершился после EOF")
	}
	assert.Equal(t, uint64(3), player.Sent())
	assert.Equal(t, uint64(3), renderer.Received())

	require.NoError(t, player.Close())
	require.NoError(t, renderer.Close())
	// повторное закрытие
	require.NoError(t, renderer.Close())
}

func TestRendererDropsForeignPayloadType(t *testing.T) {
	in, out := newTransport(t), newTransport(t)
	sink := make(collector, 8)
	renderer := rtp.NewRenderer(in, sink, nil)
	require.NoError(t, renderer.Open("", pcmu))
	require.NoError(t, renderer.Start())
	defer renderer.Close()

	require.NoError(t, out.SetRemoteAddr(addrOf(in)))
	send := func(pt uint8, seq uint16) {
		require.NoError(t, out.Send(&pionrtp.Packet{
			Header:  pionrtp.Header{Version: 2, PayloadType: pt, SequenceNumber: seq, SSRC: 1},
			Payload: []byte{1, 2, 3},
		}))
	}
	send(8, 1)
	send(0, 2)

	select {
	case p := <-sink:
		assert.Equal(t, uint16(2), p.SequenceNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("пакет не получен")
	}
	assert.Equal(t, uint64(1), renderer.Dropped())
}

func TestTransport(t *testing.T) {
	a, b := newTransport(t), newTransport(t)

	t.Run("без адреса назначения", func(t *testing.T) {
		err := a.Send(&pionrtp.Packet{Header: pionrtp.Header{Version: 2}})
		assert.Error(t, err)
	})

	t.Run("неверная версия", func(t *testing.T) {
		require.NoError(t, b.SetRemoteAddr(addrOf(a)))
		err := b.Send(&pionrtp.Packet{Header: pionrtp.Header{Version: 1}})
		assert.Error(t, err)
	})

	t.Run("адрес назначения из первого пакета", func(t *testing.T) {
		require.NoError(t, b.Send(&pionrtp.Packet{Header: pionrtp.Header{Version: 2, SSRC: 7}, Payload: []byte{0}}))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p, from, err := a.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), p.SSRC)
		assert.Equal(t, b.LocalPort(), from.Port)
		require.NotNil(t, a.RemoteAddr())
		assert.Equal(t, b.LocalPort(), a.RemoteAddr().Port)
	})

	t.Run("отмена контекста", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, _, err := a.Receive(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("после закрытия", func(t *testing.T) {
		require.NoError(t, a.Close())
		_, _, err := a.Receive(context.Background())
		assert.ErrorIs(t, err, rtp.ErrTransportClosed)
		assert.ErrorIs(t, a.Send(&pionrtp.Packet{Header: pionrtp.Header{Version: 2}}), rtp.ErrTransportClosed)
	})
}

func TestSilence(t *testing.T) {
	tests := []struct {
		name  string
		codec media_sdp.Codec
		size  int
		fill  byte
	}{
		{name: "PCMU", codec: pcmu, size: 80, fill: 0xFF},
		{name: "PCMA", codec: media_sdp.Codec{Name: "PCMA", ClockRate: 8000, PayloadType: 8}, size: 160, fill: 0xD5},
		{name: "G722", codec: media_sdp.Codec{Name: "G722", ClockRate: 8000, PayloadType: 9}, size: 160, fill: 0x00},
		{name: "opus без кадров", codec: media_sdp.Codec{Name: "opus", ClockRate: 48000, PayloadType: 111}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := rtp.NewSilence()
			ptime := tt.codec.Ptime
			if ptime == 0 {
				ptime = 20 * time.Millisecond
			}
			s.SetCodec(tt.codec, ptime)

			frame, err := s.ReadFrame(context.Background())
			require.NoError(t, err)
			require.Len(t, frame, tt.size)
			for _, b := range frame {
				require.Equal(t, tt.fill, b)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rtp.NewSilence().ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
