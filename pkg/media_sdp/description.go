package media_sdp

import (
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Типы медиа в m= строке.
const (
	MediaAudio   = "audio"
	MediaVideo   = "video"
	MediaMessage = "message"
)

// Направления медиа.
const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

// Media разобранная m= секция.
type Media struct {
	Type      string
	Port      int
	Protos    []string
	Formats   []string
	Codecs    []Codec
	Address   string
	Direction string

	attributes []sdp.Attribute
}

// Attribute возвращает значение первого атрибута с ключом key.
func (m *Media) Attribute(key string) (string, bool) {
	for _, attr := range m.attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// RemoteAddr адрес для отправки RTP: "host:port".
func (m *Media) RemoteAddr() string {
	return net.JoinHostPort(m.Address, strconv.Itoa(m.Port))
}

// Description разобранное SDP описание сессии.
type Description struct {
	raw   *sdp.SessionDescription
	media []*Media
}

// Parse разбирает SDP тело.
func Parse(body []byte) (*Description, error) {
	raw := &sdp.SessionDescription{}
	if err := raw.Unmarshal(body); err != nil {
		return nil, wrapError(ErrCodeParse, err, "не удалось разобрать SDP")
	}

	sessionAddr := ""
	if raw.ConnectionInformation != nil && raw.ConnectionInformation.Address != nil {
		sessionAddr = raw.ConnectionInformation.Address.Address
	}
	sessionDirection := directionOf(raw.Attributes, DirectionSendRecv)

	d := &Description{raw: raw}
	for _, md := range raw.MediaDescriptions {
		m := &Media{
			Type:       md.MediaName.Media,
			Port:       md.MediaName.Port.Value,
			Protos:     md.MediaName.Protos,
			Formats:    md.MediaName.Formats,
			Address:    sessionAddr,
			Direction:  directionOf(md.Attributes, sessionDirection),
			attributes: md.Attributes,
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			m.Address = md.ConnectionInformation.Address.Address
		}
		m.Codecs = codecsOf(md)
		d.media = append(d.media, m)
	}
	return d, nil
}

// Media возвращает первую секцию указанного типа или nil.
func (d *Description) Media(mediaType string) *Media {
	for _, m := range d.media {
		if m.Type == mediaType {
			return m
		}
	}
	return nil
}

// Medias возвращает все секции в порядке описания.
func (d *Description) Medias() []*Media {
	return d.media
}

// SessionAttribute возвращает атрибут уровня сессии.
func (d *Description) SessionAttribute(key string) (string, bool) {
	return d.raw.Attribute(key)
}

func directionOf(attrs []sdp.Attribute, def string) string {
	for _, attr := range attrs {
		switch attr.Key {
		case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
			return attr.Key
		}
	}
	return def
}

func codecsOf(md *sdp.MediaDescription) []Codec {
	rtpmaps := make(map[uint8]string)
	fmtps := make(map[uint8]string)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" && attr.Key != "fmtp" {
			continue
		}
		ptStr, value, ok := strings.Cut(attr.Value, " ")
		if !ok {
			continue
		}
		pt, err := strconv.Atoi(ptStr)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		if attr.Key == "rtpmap" {
			rtpmaps[uint8(pt)] = value
		} else {
			fmtps[uint8(pt)] = value
		}
	}

	var codecs []Codec
	for _, format := range md.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		var (
			codec Codec
			ok    bool
		)
		if rtpmap, exists := rtpmaps[uint8(pt)]; exists {
			codec, ok = parseRtpmap(uint8(pt), rtpmap)
		} else {
			codec, ok = staticCodecs[uint8(pt)]
		}
		if !ok {
			continue
		}
		codec.Params = fmtps[uint8(pt)]
		codecs = append(codecs, codec)
	}
	return codecs
}
