package media_sdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec описание кодека из SDP или локальной конфигурации.
type Codec struct {
	Name        string
	ClockRate   uint32
	PayloadType uint8
	Channels    uint8         // 0 или 1 для моно
	Params      string        // значение fmtp без payload type
	Ptime       time.Duration // предпочтительное время пакетизации
}

// Первый динамический payload type (RFC 3551).
const dynamicPayloadTypeMin = 96

// Статические payload types RFC 3551, у которых может не быть rtpmap.
var staticCodecs = map[uint8]Codec{
	0:  {Name: "PCMU", ClockRate: 8000, PayloadType: 0},
	3:  {Name: "GSM", ClockRate: 8000, PayloadType: 3},
	4:  {Name: "G723", ClockRate: 8000, PayloadType: 4},
	8:  {Name: "PCMA", ClockRate: 8000, PayloadType: 8},
	9:  {Name: "G722", ClockRate: 8000, PayloadType: 9},
	18: {Name: "G729", ClockRate: 8000, PayloadType: 18},
	26: {Name: "JPEG", ClockRate: 90000, PayloadType: 26},
	31: {Name: "H261", ClockRate: 90000, PayloadType: 31},
	34: {Name: "H263", ClockRate: 90000, PayloadType: 34},
}

// DefaultAudioCodecs возвращает аудио кодеки в порядке приоритета.
func DefaultAudioCodecs() []Codec {
	return []Codec{
		{Name: "PCMU", ClockRate: 8000, PayloadType: 0, Channels: 1, Ptime: 20 * time.Millisecond},
		{Name: "PCMA", ClockRate: 8000, PayloadType: 8, Channels: 1, Ptime: 20 * time.Millisecond},
		{Name: "G722", ClockRate: 8000, PayloadType: 9, Channels: 1, Ptime: 20 * time.Millisecond},
	}
}

// DefaultVideoCodecs возвращает видео кодеки в порядке приоритета.
func DefaultVideoCodecs() []Codec {
	return []Codec{
		{Name: "H264", ClockRate: 90000, PayloadType: 96, Params: "profile-level-id=42e01f;packetization-mode=1"},
		{Name: "VP8", ClockRate: 90000, PayloadType: 97},
	}
}

// Matches сравнивает кодеки по имени (без учета регистра), частоте и
// количеству каналов, если оно указано у обоих.
func (c Codec) Matches(other Codec) bool {
	if !strings.EqualFold(c.Name, other.Name) || c.ClockRate != other.ClockRate {
		return false
	}
	if c.Channels > 1 || other.Channels > 1 {
		return c.Channels == other.Channels
	}
	return true
}

// IsDynamic payload type из динамического диапазона.
func (c Codec) IsDynamic() bool {
	return c.PayloadType >= dynamicPayloadTypeMin
}

// Rtpmap значение атрибута rtpmap: "0 PCMU/8000".
func (c Codec) Rtpmap() string {
	s := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
	if c.Channels > 1 {
		s += "/" + strconv.Itoa(int(c.Channels))
	}
	return s
}

func (c Codec) String() string {
	return fmt.Sprintf("%s/%d(%d)", c.Name, c.ClockRate, c.PayloadType)
}

// parseRtpmap разбирает "PCMU/8000[/channels]".
func parseRtpmap(pt uint8, value string) (Codec, bool) {
	parts := strings.Split(value, "/")
	if len(parts) < 2 {
		return Codec{}, false
	}
	clockRate, err := strconv.Atoi(parts[1])
	if err != nil || clockRate <= 0 {
		return Codec{}, false
	}
	codec := Codec{Name: parts[0], ClockRate: uint32(clockRate), PayloadType: pt}
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil && ch > 0 && ch < 256 {
			codec.Channels = uint8(ch)
		}
	}
	return codec, true
}
