// Package contact нормализует идентификаторы абонентов RCS.
//
// Идентификатор абонента всегда хранится в формате E.164 (+33612345678).
// Разбор номера выполняется через libphonenumber, поэтому строки, которые
// номером не являются, отбрасываются, а не подставляются как есть.
package contact

import (
	"strings"
	"sync/atomic"

	"github.com/nyaruka/phonenumbers"
)

// ID идентификатор абонента в формате E.164.
type ID string

const (
	sipScheme  = "sip:"
	sipsScheme = "sips:"
	telScheme  = "tel:"
)

var defaultRegion atomic.Value

func init() {
	defaultRegion.Store("")
}

// SetDefaultRegion задает регион для номеров без международного префикса.
func SetDefaultRegion(region string) {
	defaultRegion.Store(strings.ToUpper(region))
}

// DefaultRegion возвращает текущий регион по умолчанию.
func DefaultRegion() string {
	return defaultRegion.Load().(string)
}

func (id ID) String() string {
	return string(id)
}

// URI возвращает tel URI абонента.
func (id ID) URI() string {
	return telScheme + string(id)
}

// SipURI возвращает SIP URI абонента в домене domain.
func (id ID) SipURI(domain string) string {
	return sipScheme + string(id) + "@" + domain + ";user=phone"
}

// Parse проверяет номер телефона и приводит его к E.164.
func Parse(number string) (ID, bool) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(number, DefaultRegion())
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return ID(phonenumbers.Format(num, phonenumbers.E164)), true
}

// FromURI извлекает номер из SIP/TEL URI (в том числе с display name и
// угловыми скобками) и проверяет его.
func FromURI(uri string) (ID, bool) {
	return Parse(userPart(uri))
}

func userPart(uri string) string {
	uri = strings.TrimSpace(uri)
	if start := strings.IndexByte(uri, '<'); start >= 0 {
		if end := strings.IndexByte(uri[start:], '>'); end > 0 {
			uri = uri[start+1 : start+end]
		}
	}
	lower := strings.ToLower(uri)
	for _, scheme := range []string{sipsScheme, sipScheme, telScheme} {
		if strings.HasPrefix(lower, scheme) {
			uri = uri[len(scheme):]
			break
		}
	}
	if i := strings.IndexByte(uri, '@'); i >= 0 {
		uri = uri[:i]
	}
	if i := strings.IndexByte(uri, ';'); i >= 0 {
		uri = uri[:i]
	}
	return uri
}
