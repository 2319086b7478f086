package dialog

import (
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/contact"
)

// Имена заголовков, используемых сессиями RCS.
const (
	HeaderReferredBy       = "Referred-By"
	HeaderAssertedIdentity = "P-Asserted-Identity"
	HeaderContributionID   = "Contribution-ID"
	HeaderSubject          = "Subject"
	HeaderSessionExpires   = "Session-Expires"
	HeaderAcceptContact    = "Accept-Contact"
)

// HeaderValue возвращает значение заголовка или пустую строку.
func HeaderValue(req *sip.Request, name string) string {
	h := req.GetHeader(name)
	if h == nil {
		return ""
	}
	return strings.TrimSpace(h.Value())
}

// ReferredBy возвращает URI из Referred-By.
func ReferredBy(req *sip.Request) string {
	return addressOf(HeaderValue(req, HeaderReferredBy))
}

// AssertedIdentity возвращает первый URI из P-Asserted-Identity.
func AssertedIdentity(req *sip.Request) string {
	value := HeaderValue(req, HeaderAssertedIdentity)
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}
	return addressOf(value)
}

// ReferredIdentity возвращает идентификатор инициатора: сначала из
// Referred-By, затем из P-Asserted-Identity.
func ReferredIdentity(req *sip.Request) (contact.ID, bool) {
	if id, ok := contact.FromURI(ReferredBy(req)); ok {
		return id, true
	}
	return contact.FromURI(AssertedIdentity(req))
}

// ReferredIdentityURI возвращает URI инициатора без проверки номера.
func ReferredIdentityURI(req *sip.Request) string {
	if uri := ReferredBy(req); uri != "" {
		return uri
	}
	return AssertedIdentity(req)
}

func ContributionID(req *sip.Request) string {
	return HeaderValue(req, HeaderContributionID)
}

func Subject(req *sip.Request) string {
	return HeaderValue(req, HeaderSubject)
}

// ContentType возвращает полный Content-Type запроса.
func ContentType(req *sip.Request) string {
	return HeaderValue(req, "Content-Type")
}

// Boundary возвращает параметр boundary из Content-Type.
func Boundary(req *sip.Request) string {
	_, params, err := mime.ParseMediaType(ContentType(req))
	if err != nil {
		return ""
	}
	return params["boundary"]
}

// IsFocus проверяет параметр isfocus в Contact (приглашение в групповой чат).
func IsFocus(req *sip.Request) bool {
	_, ok := HeaderParams(HeaderValue(req, "Contact"))["isfocus"]
	return ok
}

// FeatureTags возвращает параметры Contact и Accept-Contact.
func FeatureTags(req *sip.Request) map[string]string {
	tags := HeaderParams(HeaderValue(req, "Contact"))
	for k, v := range HeaderParams(HeaderValue(req, HeaderAcceptContact)) {
		tags[k] = v
	}
	return tags
}

// SessionExpires разбирает Session-Expires (RFC 4028).
func SessionExpires(req *sip.Request) (time.Duration, bool) {
	value := HeaderValue(req, HeaderSessionExpires)
	if value == "" {
		value = HeaderValue(req, "x")
	}
	if value == "" {
		return 0, false
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	sec, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || sec <= 0 {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

// HeaderParams разбирает параметры после адреса: `<uri>;a;b="c"`.
// Ключи приводятся к нижнему регистру, кавычки снимаются.
func HeaderParams(value string) map[string]string {
	params := make(map[string]string)
	if end := strings.LastIndexByte(value, '>'); end >= 0 {
		value = value[end+1:]
	} else if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[i:]
	} else {
		return params
	}
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		params[strings.ToLower(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return params
}

func addressOf(value string) string {
	value = strings.TrimSpace(value)
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start:], '>'); end > 0 {
			return value[start+1 : start+end]
		}
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return value
}
