package envelope

import (
	"encoding/xml"
	"strings"
)

// ResourceEntry элемент списка участников.
type ResourceEntry struct {
	URI         string
	DisplayName string
	CopyControl string
}

// GenerateResourceList строит resource-lists документ для приглашения
// в групповой чат.
func GenerateResourceList(uris []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="` + utf8Str + `"?>` + crlf)
	b.WriteString(`<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists" `)
	b.WriteString(`xmlns:cp="urn:ietf:params:xml:ns:copycontrol"><list>` + crlf)
	for _, uri := range uris {
		b.WriteString(` <entry uri="` + xmlEscape(uri) + `" cp:copyControl="to"/>` + crlf)
	}
	b.WriteString("</list></resource-lists>")
	return b.String()
}

type resourceListsXML struct {
	XMLName xml.Name `xml:"resource-lists"`
	Lists   []struct {
		Entries []struct {
			URI         string `xml:"uri,attr"`
			CopyControl string `xml:"copyControl,attr"`
			DisplayName string `xml:"display-name"`
		} `xml:"entry"`
	} `xml:"list"`
}

// ParseResourceList возвращает записи всех списков документа.
func ParseResourceList(data string) ([]ResourceEntry, bool) {
	var doc resourceListsXML
	if err := xml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false
	}
	var out []ResourceEntry
	for _, l := range doc.Lists {
		for _, e := range l.Entries {
			if e.URI == "" {
				continue
			}
			out = append(out, ResourceEntry{
				URI:         strings.TrimSpace(e.URI),
				DisplayName: strings.TrimSpace(e.DisplayName),
				CopyControl: e.CopyControl,
			})
		}
	}
	return out, true
}
