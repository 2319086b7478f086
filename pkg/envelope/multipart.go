package envelope

import (
	"mime"
	"net/textproto"
	"sort"
	"strings"
)

const boundaryDelimiter = "--"

// Part одна часть multipart тела. Имена заголовков в нижнем регистре.
type Part struct {
	Headers map[string]string
	Content string
}

// ContentType тип содержимого части.
func (p Part) ContentType() string {
	return p.Headers["content-type"]
}

// Multipart тело SIP запроса, разбитое по boundary.
type Multipart struct {
	boundary string
	parts    []Part
}

// NewMultipart разбирает content по boundary. Если boundary пустой или не
// встречается в содержимом, результат не является multipart.
func NewMultipart(content, boundary string) *Multipart {
	m := &Multipart{boundary: boundary}
	if boundary == "" {
		return m
	}
	delim := boundaryDelimiter + boundary
	if !strings.Contains(content, delim) {
		return m
	}

	chunks := strings.Split(content, delim)
	// chunks[0] преамбула
	for _, chunk := range chunks[1:] {
		if strings.HasPrefix(chunk, boundaryDelimiter) {
			break
		}
		chunk = strings.TrimPrefix(chunk, "\r\n")
		chunk = strings.TrimPrefix(chunk, "\n")
		chunk = strings.TrimSuffix(chunk, "\n")
		chunk = strings.TrimSuffix(chunk, "\r")
		if p, ok := parsePart(chunk); ok {
			m.parts = append(m.parts, p)
		}
	}
	return m
}

func parsePart(chunk string) (Part, bool) {
	var head, body string
	if i := strings.Index(chunk, "\r\n\r\n"); i >= 0 {
		head, body = chunk[:i], chunk[i+4:]
	} else if i := strings.Index(chunk, "\n\n"); i >= 0 {
		head, body = chunk[:i], chunk[i+2:]
	} else {
		return Part{}, false
	}

	p := Part{Headers: make(map[string]string), Content: body}
	for _, line := range strings.Split(head, "\n") {
		name, value, found := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !found {
			continue
		}
		p.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return p, true
}

// IsMultipart true, если найдена хотя бы одна часть.
func (m *Multipart) IsMultipart() bool {
	return len(m.parts) > 0
}

// Parts все найденные части в порядке следования.
func (m *Multipart) Parts() []Part {
	return m.parts
}

// GetPart содержимое первой части, тип которой начинается с contentType.
func (m *Multipart) GetPart(contentType string) (string, bool) {
	for _, p := range m.parts {
		if hasMimePrefix(p.ContentType(), strings.ToLower(contentType)) {
			return p.Content, true
		}
	}
	return "", false
}

// BoundaryOf параметр boundary из Content-Type.
func BoundaryOf(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["boundary"]
}

// MultipartContentType Content-Type для multipart/mixed с boundary.
func MultipartContentType(boundary string) string {
	return MimeMultipartMixed + `; boundary="` + boundary + `"`
}

// BuildMultipart собирает multipart тело. Content-Type части пишется
// первым, остальные заголовки по алфавиту.
func BuildMultipart(boundary string, parts []Part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(boundaryDelimiter + boundary + crlf)
		if ct := p.ContentType(); ct != "" {
			b.WriteString("Content-Type: " + ct + crlf)
		}
		names := make([]string, 0, len(p.Headers))
		for name := range p.Headers {
			if name != "content-type" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(canonicalHeader(name) + ": " + p.Headers[name] + crlf)
		}
		b.WriteString(crlf)
		b.WriteString(p.Content)
		b.WriteString(crlf)
	}
	b.WriteString(boundaryDelimiter + boundary + boundaryDelimiter + crlf)
	return b.String()
}

func canonicalHeader(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}
