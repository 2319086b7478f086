package envelope

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Заголовки CPIM (RFC 3862) и IMDN (RFC 5438).
const (
	HeaderFrom               = "From"
	HeaderTo                 = "To"
	HeaderNS                 = "NS"
	HeaderDateTime           = "DateTime"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderContentDisposition = "Content-Disposition"

	HeaderImdnMessageID               = "imdn.Message-ID"
	HeaderImdnDispositionNotification = "imdn.Disposition-Notification"
)

// Значения imdn.Disposition-Notification.
const (
	PositiveDelivery = "positive-delivery"
	NegativeDelivery = "negative-delivery"
	Display          = "display"
)

const (
	imdnNamespaceValue = "imdn <" + ImdnNamespace + ">"
	notification       = "notification"
)

// CpimHeader одна строка заголовка, порядок заголовков сохраняется.
type CpimHeader struct {
	Name  string
	Value string
}

// CpimMessage разобранный CPIM конверт: заголовки сообщения,
// заголовки содержимого и само содержимое.
type CpimMessage struct {
	Headers        []CpimHeader
	ContentHeaders []CpimHeader
	Body           string
}

func headerValue(headers []CpimHeader, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Header значение заголовка сообщения (без учета регистра имени).
func (m *CpimMessage) Header(name string) string {
	v, _ := headerValue(m.Headers, name)
	return v
}

// ContentHeader значение заголовка содержимого.
func (m *CpimMessage) ContentHeader(name string) string {
	v, _ := headerValue(m.ContentHeaders, name)
	return v
}

func (m *CpimMessage) From() string { return m.Header(HeaderFrom) }

func (m *CpimMessage) To() string { return m.Header(HeaderTo) }

// ContentType тип содержимого без параметров.
func (m *CpimMessage) ContentType() string {
	ct := m.ContentHeader(HeaderContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// ContentLength значение Content-Length, если оно есть и корректно.
func (m *CpimMessage) ContentLength() (int, bool) {
	v, ok := headerValue(m.ContentHeaders, HeaderContentLength)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// DateTime время отправки из заголовка DateTime.
func (m *CpimMessage) DateTime() (time.Time, bool) {
	v, ok := headerValue(m.Headers, HeaderDateTime)
	if !ok {
		return time.Time{}, false
	}
	return DecodeDate(v)
}

// imdnPrefix префикс IMDN заголовков, объявленный в NS. Обычно "imdn".
func (m *CpimMessage) imdnPrefix() string {
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, HeaderNS) {
			continue
		}
		if !strings.Contains(h.Value, ImdnNamespace) {
			continue
		}
		if i := strings.IndexByte(h.Value, '<'); i > 0 {
			return strings.TrimSpace(h.Value[:i])
		}
	}
	return "imdn"
}

// MessageID значение imdn.Message-ID с учетом префикса пространства имен.
func (m *CpimMessage) MessageID() string {
	return m.Header(m.imdnPrefix() + ".Message-ID")
}

// DispositionNotification запрошенные уведомления.
func (m *CpimMessage) DispositionNotification() []string {
	v := m.Header(m.imdnPrefix() + ".Disposition-Notification")
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Encode сериализует конверт обратно. Для конвертов, построенных
// Build* функциями, Encode(ParseCpim(x)) == x.
func (m *CpimMessage) Encode() string {
	var b strings.Builder
	writeHeaders(&b, m.Headers)
	b.WriteString(crlf)
	writeHeaders(&b, m.ContentHeaders)
	b.WriteString(crlf)
	b.WriteString(m.Body)
	return b.String()
}

func writeHeaders(b *strings.Builder, headers []CpimHeader) {
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString(crlf)
	}
}

// ParseCpim разбирает CPIM конверт. Возвращает nil, если в тексте нет
// двух блоков заголовков.
func ParseCpim(data string) *CpimMessage {
	headerBlock, rest, ok := cutBlock(data)
	if !ok {
		return nil
	}
	contentBlock, body, ok := cutBlock(rest)
	if !ok {
		return nil
	}
	headers := parseHeaderLines(headerBlock)
	if len(headers) == 0 {
		return nil
	}
	return &CpimMessage{
		Headers:        headers,
		ContentHeaders: parseHeaderLines(contentBlock),
		Body:           body,
	}
}

// cutBlock отделяет блок заголовков до пустой строки. Допускается как
// CRLF, так и голый LF.
func cutBlock(data string) (block, rest string, ok bool) {
	if strings.HasPrefix(data, crlf) {
		return "", data[2:], true
	}
	if i := strings.Index(data, crlf+crlf); i >= 0 {
		return data[:i], data[i+4:], true
	}
	if strings.HasPrefix(data, "\n") {
		return "", data[1:], true
	}
	if i := strings.Index(data, "\n\n"); i >= 0 {
		return data[:i], data[i+2:], true
	}
	return "", "", false
}

func parseHeaderLines(block string) []CpimHeader {
	var headers []CpimHeader
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers = append(headers, CpimHeader{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return headers
}

func contentTypeWithCharset(contentType string) string {
	return contentType + ";charset=" + utf8Str
}

func baseHeaders(from, to string) []CpimHeader {
	return []CpimHeader{
		{HeaderFrom, FormatCpimSipUri(from)},
		{HeaderTo, FormatCpimSipUri(to)},
	}
}

// BuildCpimMessage конверт без IMDN заголовков.
func BuildCpimMessage(from, to, content, contentType string, sent time.Time) string {
	m := &CpimMessage{
		Headers: append(baseHeaders(from, to),
			CpimHeader{HeaderDateTime, EncodeDate(sent)}),
		ContentHeaders: []CpimHeader{
			{HeaderContentType, contentTypeWithCharset(contentType)},
		},
		Body: content,
	}
	return m.Encode()
}

func buildImdnCpim(from, to, messageID, content, contentType string, sent time.Time, disposition string) string {
	m := &CpimMessage{
		Headers: append(baseHeaders(from, to),
			CpimHeader{HeaderNS, imdnNamespaceValue},
			CpimHeader{HeaderImdnMessageID, messageID},
			CpimHeader{HeaderDateTime, EncodeDate(sent)},
			CpimHeader{HeaderImdnDispositionNotification, disposition},
		),
		ContentHeaders: []CpimHeader{
			{HeaderContentType, contentTypeWithCharset(contentType)},
			{HeaderContentLength, strconv.Itoa(len(content))},
		},
		Body: content,
	}
	return m.Encode()
}

// BuildCpimMessageWithImdn конверт с запросом уведомлений о доставке и
// о прочтении.
func BuildCpimMessageWithImdn(from, to, messageID, content, contentType string, sent time.Time) string {
	return buildImdnCpim(from, to, messageID, content, contentType, sent, PositiveDelivery+", "+Display)
}

// BuildCpimMessageWithoutDisplayedImdn конверт с запросом только
// уведомления о доставке.
func BuildCpimMessageWithoutDisplayedImdn(from, to, messageID, content, contentType string, sent time.Time) string {
	return buildImdnCpim(from, to, messageID, content, contentType, sent, PositiveDelivery)
}

// BuildCpimDeliveryReport конверт для IMDN отчета. Message-ID отчета
// генерируется заново.
func BuildCpimDeliveryReport(from, to, imdn string, sent time.Time) string {
	m := &CpimMessage{
		Headers: append(baseHeaders(from, to),
			CpimHeader{HeaderNS, imdnNamespaceValue},
			CpimHeader{HeaderImdnMessageID, NewMessageID()},
			CpimHeader{HeaderDateTime, EncodeDate(sent)},
		),
		ContentHeaders: []CpimHeader{
			{HeaderContentType, MimeImdn},
			{HeaderContentDisposition, notification},
			{HeaderContentLength, strconv.Itoa(len(imdn))},
		},
		Body: imdn,
	}
	return m.Encode()
}

// NewMessageID новый идентификатор сообщения.
func NewMessageID() string {
	return uuid.NewString()
}
