package envelope

import "strings"

// Сетевые MIME типы содержимого.
const (
	MimeTextPlain        = "text/plain"
	MimeIsComposing      = "application/im-iscomposing+xml"
	MimeCpim             = "message/cpim"
	MimeImdn             = "message/imdn+xml"
	MimeGeoloc           = "application/vnd.gsma.rcspushlocation+xml"
	MimeFileTransferHttp = "application/vnd.gsma.rcs-ft-http+xml"
	MimeResourceLists    = "application/resource-lists+xml"
	MimeMultipartMixed   = "multipart/mixed"
)

// MimeGeolocMessage тип геолокации на уровне API (отличается от сетевого).
const MimeGeolocMessage = "application/geoloc"

const (
	crlf    = "\r\n"
	utf8Str = "UTF-8"
)

func hasMimePrefix(mime, prefix string) bool {
	return mime != "" && strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), prefix)
}

func IsTextPlainType(mime string) bool              { return hasMimePrefix(mime, MimeTextPlain) }
func IsApplicationIsComposingType(mime string) bool { return hasMimePrefix(mime, MimeIsComposing) }
func IsMessageCpimType(mime string) bool            { return hasMimePrefix(mime, MimeCpim) }
func IsMessageImdnType(mime string) bool            { return hasMimePrefix(mime, MimeImdn) }
func IsGeolocType(mime string) bool                 { return hasMimePrefix(mime, MimeGeoloc) }
func IsFileTransferHttpType(mime string) bool       { return hasMimePrefix(mime, MimeFileTransferHttp) }
func IsMultipartType(mime string) bool              { return hasMimePrefix(mime, MimeMultipartMixed) }
