package envelope

import (
	"strings"

	"github.com/arzzra/rcs_core/pkg/contact"
)

// FormatCpimSipUri приводит адрес к виду, допустимому в From/To CPIM.
// Уже оформленные адреса не меняются, номер телефона превращается в tel URI,
// все остальное просто оборачивается в угловые скобки.
func FormatCpimSipUri(input string) string {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "<") || strings.HasPrefix(input, `"`) {
		return input
	}
	if strings.HasPrefix(input, "sip:") || strings.HasPrefix(input, "tel:") {
		return addUriDelimiters(input)
	}
	if id, ok := contact.FromURI(input); ok {
		return addUriDelimiters(id.URI())
	}
	return addUriDelimiters(input)
}

func addUriDelimiters(uri string) string {
	return "<" + uri + ">"
}
