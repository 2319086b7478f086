package media_sdp

import (
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Смещение эпохи NTP относительно Unix.
const ntpEpochOffset = 2208988800

// MediaParams локальные параметры для построения описания.
type MediaParams struct {
	LocalIP   string
	AudioPort int
	VideoPort int
	// Now время для o= строки, по умолчанию time.Now()
	Now time.Time
}

// BuildAnswer строит минимальный SDP ответ с согласованными кодеками.
// Видео без локального порта в ответ не попадает.
func BuildAnswer(p MediaParams, n *Negotiated) ([]byte, error) {
	if n == nil {
		return nil, errorf(ErrCodeBuild, "нет результата согласования")
	}
	sd := newSessionDescription(p.LocalIP, p.Now)
	sd.MediaDescriptions = append(sd.MediaDescriptions, rtpMedia(MediaAudio, p.AudioPort, []Codec{n.Audio}))
	if n.Video != nil && p.VideoPort > 0 {
		sd.MediaDescriptions = append(sd.MediaDescriptions, rtpMedia(MediaVideo, p.VideoPort, []Codec{*n.Video}))
	}
	return marshal(sd)
}

// BuildOffer строит SDP предложение со всеми локальными кодеками.
func BuildOffer(p MediaParams, audio, video []Codec) ([]byte, error) {
	if len(audio) == 0 {
		return nil, errorf(ErrCodeInvalidConfig, "список аудио кодеков пуст")
	}
	sd := newSessionDescription(p.LocalIP, p.Now)
	sd.MediaDescriptions = append(sd.MediaDescriptions, rtpMedia(MediaAudio, p.AudioPort, audio))
	if len(video) > 0 && p.VideoPort > 0 {
		sd.MediaDescriptions = append(sd.MediaDescriptions, rtpMedia(MediaVideo, p.VideoPort, video))
	}
	return marshal(sd)
}

// MessageParams параметры m=message секции (MSRP) для чата и передачи файлов.
type MessageParams struct {
	LocalIP      string
	Port         int
	Path         string
	Setup        string
	AcceptTypes  []string
	WrappedTypes []string
	Direction    string
	// FileSelector и FileTransferID только для передачи файла
	FileSelector   string
	FileTransferID string
	Now            time.Time
}

// BuildMessageSession строит SDP с одной m=message секцией.
func BuildMessageSession(p MessageParams) ([]byte, error) {
	if p.Path == "" {
		return nil, errorf(ErrCodeInvalidConfig, "не задан MSRP path")
	}
	sd := newSessionDescription(p.LocalIP, p.Now)
	sd.Attributes = nil

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   MediaMessage,
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"TCP", "MSRP"},
			Formats: []string{"*"},
		},
	}
	if len(p.AcceptTypes) > 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("accept-types", strings.Join(p.AcceptTypes, " ")))
	}
	if len(p.WrappedTypes) > 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("accept-wrapped-types", strings.Join(p.WrappedTypes, " ")))
	}
	if p.FileSelector != "" {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("file-selector", p.FileSelector))
	}
	if p.FileTransferID != "" {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("file-transfer-id", p.FileTransferID))
	}
	setup := p.Setup
	if setup == "" {
		setup = "passive"
	}
	md.Attributes = append(md.Attributes,
		sdp.NewAttribute("setup", setup),
		sdp.NewAttribute("path", p.Path),
	)
	direction := p.Direction
	if direction == "" {
		direction = DirectionSendRecv
	}
	md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute(direction))

	sd.MediaDescriptions = []*sdp.MediaDescription{md}
	return marshal(sd)
}

func newSessionDescription(localIP string, now time.Time) *sdp.SessionDescription {
	if now.IsZero() {
		now = time.Now()
	}
	ntp := uint64(now.Unix()) + ntpEpochOffset
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      ntp,
			SessionVersion: ntp,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		Attributes:       []sdp.Attribute{sdp.NewPropertyAttribute(DirectionSendRecv)},
	}
}

func rtpMedia(mediaType string, port int, codecs []Codec) *sdp.MediaDescription {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  mediaType,
			Port:   sdp.RangedPort{Value: port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	var ptime time.Duration
	for _, c := range codecs {
		pt := strconv.Itoa(int(c.PayloadType))
		md.MediaName.Formats = append(md.MediaName.Formats, pt)
		md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap", c.Rtpmap()))
		if c.Params != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", pt+" "+c.Params))
		}
		if ptime == 0 {
			ptime = c.Ptime
		}
	}
	if mediaType == MediaAudio && ptime > 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("ptime", strconv.Itoa(int(ptime.Milliseconds()))))
	}
	return md
}

func marshal(sd *sdp.SessionDescription) ([]byte, error) {
	body, err := sd.Marshal()
	if err != nil {
		return nil, wrapError(ErrCodeBuild, err, "не удалось сериализовать SDP")
	}
	return body, nil
}
