package media_sdp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pcmu = Codec{Name: "PCMU", ClockRate: 8000, PayloadType: 0}
	pcma = Codec{Name: "PCMA", ClockRate: 8000, PayloadType: 8}
	g722 = Codec{Name: "G722", ClockRate: 8000, PayloadType: 9}
	opus = Codec{Name: "opus", ClockRate: 48000, PayloadType: 111, Channels: 2}
	h264 = Codec{Name: "H264", ClockRate: 90000, PayloadType: 96}
	vp8  = Codec{Name: "VP8", ClockRate: 90000, PayloadType: 97}
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name     string
		local    []Codec
		proposed []Codec
		want     string
		ok       bool
	}{
		{"локальный приоритет важнее удаленного", []Codec{pcma, pcmu}, []Codec{pcmu, pcma}, "PCMA", true},
		{"единственное совпадение", []Codec{pcmu, pcma, g722}, []Codec{opus, g722}, "G722", true},
		{"нет пересечения", []Codec{pcmu, pcma}, []Codec{opus, g722}, "", false},
		{"пустое предложение", []Codec{pcmu}, nil, "", false},
		{"пустой локальный список", nil, []Codec{pcmu}, "", false},
		{"регистр имени не важен", []Codec{{Name: "pcmu", ClockRate: 8000}}, []Codec{pcmu}, "pcmu", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Negotiate(tt.local, tt.proposed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestNegotiateFirstLocalContained(t *testing.T) {
	all := []Codec{pcmu, pcma, g722, opus}
	// для всех подмножеств проверяем: результат - первый элемент local из proposed
	for mask := 0; mask < 1<<len(all); mask++ {
		var proposed []Codec
		for i := len(all) - 1; i >= 0; i-- {
			if mask&(1<<i) != 0 {
				proposed = append(proposed, all[i])
			}
		}
		got, ok := Negotiate(all, proposed)

		var want *Codec
		for i := range all {
			if mask&(1<<i) != 0 {
				want = &all[i]
				break
			}
		}
		if want == nil {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, want.Name, got.Name)
	}
}

func TestNegotiateUsesRemotePayloadType(t *testing.T) {
	remote := Codec{Name: "H264", ClockRate: 90000, PayloadType: 102, Params: "packetization-mode=1"}
	got, ok := Negotiate([]Codec{h264}, []Codec{remote})
	require.True(t, ok)
	assert.Equal(t, uint8(102), got.PayloadType)
	assert.Equal(t, "packetization-mode=1", got.Params)
}

const offerAudioVideo = "v=0\r\n" +
	"o=- 3900000000 3900000000 IN IP4 192.0.2.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-15\r\n" +
	"a=sendrecv\r\n" +
	"m=video 51372 RTP/AVP 100\r\n" +
	"c=IN IP4 192.0.2.11\r\n" +
	"a=rtpmap:100 VP8/90000\r\n"

func TestParse(t *testing.T) {
	d, err := Parse([]byte(offerAudioVideo))
	require.NoError(t, err)

	audio := d.Media(MediaAudio)
	require.NotNil(t, audio)
	assert.Equal(t, 49170, audio.Port)
	assert.Equal(t, "192.0.2.10", audio.Address)
	assert.Equal(t, "192.0.2.10:49170", audio.RemoteAddr())
	assert.Equal(t, DirectionSendRecv, audio.Direction)
	require.Len(t, audio.Codecs, 3)
	assert.Equal(t, "PCMA", audio.Codecs[0].Name)
	assert.Equal(t, "PCMU", audio.Codecs[1].Name)
	assert.Equal(t, "telephone-event", audio.Codecs[2].Name)
	assert.Equal(t, "0-15", audio.Codecs[2].Params)

	video := d.Media(MediaVideo)
	require.NotNil(t, video)
	assert.Equal(t, "192.0.2.11", video.Address)
	require.Len(t, video.Codecs, 1)
	assert.Equal(t, uint8(100), video.Codecs[0].PayloadType)

	assert.Nil(t, d.Media(MediaMessage))

	_, err = Parse([]byte("not an sdp"))
	assert.True(t, IsSDPError(err, ErrCodeParse))
	assert.False(t, IsSDPError(err, ErrCodeBuild))
	assert.True(t, strings.HasPrefix(err.Error(), "sdp [PARSE]: "), err.Error())

	var se *SDPError
	require.ErrorAs(t, err, &se)
	assert.NotNil(t, se.Unwrap())
}

func TestNegotiateOffer(t *testing.T) {
	d, err := Parse([]byte(offerAudioVideo))
	require.NoError(t, err)

	t.Run("аудио и видео", func(t *testing.T) {
		n, err := NegotiateOffer(d, []Codec{pcmu, pcma}, []Codec{h264, vp8})
		require.NoError(t, err)
		assert.Equal(t, "PCMU", n.Audio.Name)
		require.NotNil(t, n.Video)
		assert.Equal(t, "VP8", n.Video.Name)
		assert.Equal(t, uint8(100), n.Video.PayloadType)
	})

	t.Run("видео не совпало, сессия только с аудио", func(t *testing.T) {
		n, err := NegotiateOffer(d, []Codec{pcma}, []Codec{h264})
		require.NoError(t, err)
		assert.Equal(t, "PCMA", n.Audio.Name)
		assert.Nil(t, n.Video)
	})

	t.Run("аудио не совпало", func(t *testing.T) {
		_, err := NegotiateOffer(d, []Codec{g722}, []Codec{vp8})
		assert.True(t, IsSDPError(err, ErrCodeIncompatibleCodec))
	})
}

func TestBuildAnswer(t *testing.T) {
	video := vp8
	now := time.Unix(1700000000, 0)
	body, err := BuildAnswer(MediaParams{LocalIP: "10.0.0.1", AudioPort: 4000, VideoPort: 4002, Now: now},
		&Negotiated{Audio: Codec{Name: "PCMU", ClockRate: 8000, PayloadType: 0, Ptime: 20 * time.Millisecond}, Video: &video})
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.HasPrefix(text, "v=0\r\n"))
	assert.Contains(t, text, "o=- 3908988800 3908988800 IN IP4 10.0.0.1\r\n")
	assert.Contains(t, text, "s=-\r\n")
	assert.Contains(t, text, "c=IN IP4 10.0.0.1\r\n")
	assert.Contains(t, text, "t=0 0\r\n")
	assert.Contains(t, text, "a=sendrecv\r\n")
	assert.Contains(t, text, "m=audio 4000 RTP/AVP 0\r\n")
	assert.Contains(t, text, "a=rtpmap:0 PCMU/8000\r\n")
	assert.Contains(t, text, "a=ptime:20\r\n")
	assert.Contains(t, text, "m=video 4002 RTP/AVP 97\r\n")

	// ответ разбирается обратно
	d, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, 4000, d.Media(MediaAudio).Port)
	assert.Equal(t, "VP8", d.Media(MediaVideo).Codecs[0].Name)
}

func TestBuildAnswerWithoutVideoPort(t *testing.T) {
	video := vp8
	body, err := BuildAnswer(MediaParams{LocalIP: "10.0.0.1", AudioPort: 4000},
		&Negotiated{Audio: pcmu, Video: &video})
	require.NoError(t, err)
	assert.Contains(t, string(body), "m=audio 4000 RTP/AVP 0\r\n")
	assert.NotContains(t, string(body), "m=video")
}

func TestBuildOfferAndNegotiateAnswer(t *testing.T) {
	offer, err := BuildOffer(MediaParams{LocalIP: "10.0.0.1", AudioPort: 4000}, DefaultAudioCodecs(), nil)
	require.NoError(t, err)
	assert.Contains(t, string(offer), "m=audio 4000 RTP/AVP 0 8 9\r\n")
	assert.NotContains(t, string(offer), "m=video")

	// удаленная сторона ответила PCMA
	d, err := Parse(offer)
	require.NoError(t, err)
	n, err := NegotiateOffer(d, []Codec{pcma}, nil)
	require.NoError(t, err)
	answer, err := BuildAnswer(MediaParams{LocalIP: "10.0.0.2", AudioPort: 5000}, n)
	require.NoError(t, err)

	ad, err := Parse(answer)
	require.NoError(t, err)
	n2, err := NegotiateOffer(ad, DefaultAudioCodecs(), nil)
	require.NoError(t, err)
	assert.Equal(t, "PCMA", n2.Audio.Name)

	_, err = BuildOffer(MediaParams{LocalIP: "10.0.0.1"}, nil, nil)
	assert.True(t, IsSDPError(err, ErrCodeInvalidConfig))
}

func TestBuildMessageSession(t *testing.T) {
	body, err := BuildMessageSession(MessageParams{
		LocalIP:      "10.0.0.1",
		Port:         2855,
		Path:         "msrp://10.0.0.1:2855/abc;tcp",
		AcceptTypes:  []string{"message/cpim", "application/im-iscomposing+xml"},
		WrappedTypes: []string{"text/plain", "message/imdn+xml"},
	})
	require.NoError(t, err)

	d, err := Parse(body)
	require.NoError(t, err)
	m := d.Media(MediaMessage)
	require.NotNil(t, m)
	assert.Equal(t, 2855, m.Port)
	assert.Equal(t, []string{"TCP", "MSRP"}, m.Protos)
	path, ok := m.Attribute("path")
	assert.True(t, ok)
	assert.Equal(t, "msrp://10.0.0.1:2855/abc;tcp", path)
	accept, _ := m.Attribute("accept-types")
	assert.Equal(t, "message/cpim application/im-iscomposing+xml", accept)
	setup, _ := m.Attribute("setup")
	assert.Equal(t, "passive", setup)
	assert.Empty(t, m.Codecs)

	_, err = BuildMessageSession(MessageParams{LocalIP: "10.0.0.1"})
	assert.Error(t, err)
}
