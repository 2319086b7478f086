package envelope

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// FtHttpNamespace пространство имен описания файла FT-HTTP.
const FtHttpNamespace = "urn:gsma:params:xml:ns:rcs:rcs:fthttp"

// Значения file-disposition.
const (
	DispositionRender     = "render"
	DispositionAttachment = "attachment"
)

// FileTransferHttpThumbnail иконка файла на контент сервере.
type FileTransferHttpThumbnail struct {
	URI        string
	Size       int64
	MimeType   string
	Expiration time.Time
}

// FileTransferHttpInfo описание загруженного на сервер файла, которое
// отправляется получателю в чате.
type FileTransferHttpInfo struct {
	URI         string
	Name        string
	Size        int64
	MimeType    string
	Expiration  time.Time
	Disposition string
	Thumbnail   *FileTransferHttpThumbnail
}

// FileTransferHttpResumeInfo ответ сервера на запрос состояния загрузки.
type FileTransferHttpResumeInfo struct {
	Start int64
	End   int64
	URI   string
}

type ftDataXML struct {
	URL   string `xml:"url,attr"`
	Until string `xml:"until,attr"`
}

type ftFileInfoXML struct {
	Type        string    `xml:"type,attr"`
	Disposition string    `xml:"file-disposition,attr"`
	Size        string    `xml:"file-size"`
	Name        string    `xml:"file-name"`
	ContentType string    `xml:"content-type"`
	Data        ftDataXML `xml:"data"`
}

type ftFileXML struct {
	XMLName xml.Name        `xml:"file"`
	Infos   []ftFileInfoXML `xml:"file-info"`
}

// ParseFileTransferHttpInfo разбирает описание файла. Без части type="file"
// с url и положительным размером описание некорректно.
func ParseFileTransferHttpInfo(data []byte) (*FileTransferHttpInfo, bool) {
	var doc ftFileXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	var info *FileTransferHttpInfo
	var thumb *FileTransferHttpThumbnail
	for _, fi := range doc.Infos {
		size, _ := strconv.ParseInt(strings.TrimSpace(fi.Size), 10, 64)
		until, _ := DecodeDate(fi.Data.Until)
		switch fi.Type {
		case "file":
			info = &FileTransferHttpInfo{
				URI:         strings.TrimSpace(fi.Data.URL),
				Name:        strings.TrimSpace(fi.Name),
				Size:        size,
				MimeType:    strings.TrimSpace(fi.ContentType),
				Expiration:  until,
				Disposition: fi.Disposition,
			}
		case "thumbnail":
			thumb = &FileTransferHttpThumbnail{
				URI:        strings.TrimSpace(fi.Data.URL),
				Size:       size,
				MimeType:   strings.TrimSpace(fi.ContentType),
				Expiration: until,
			}
		}
	}
	if info == nil || info.URI == "" || info.Size <= 0 {
		return nil, false
	}
	if info.Disposition == "" {
		info.Disposition = DispositionAttachment
	}
	if thumb != nil && thumb.URI != "" {
		info.Thumbnail = thumb
	}
	return info, true
}

// BuildFileTransferHttpInfo строит описание файла в формате контент сервера.
func BuildFileTransferHttpInfo(info *FileTransferHttpInfo) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="` + utf8Str + `"?>` + crlf)
	b.WriteString(`<file xmlns="` + FtHttpNamespace + `">` + crlf)
	if t := info.Thumbnail; t != nil {
		b.WriteString(`<file-info type="thumbnail">` + crlf)
		b.WriteString("<file-size>" + strconv.FormatInt(t.Size, 10) + "</file-size>" + crlf)
		b.WriteString("<content-type>" + xmlEscape(t.MimeType) + "</content-type>" + crlf)
		b.WriteString(`<data url="` + xmlEscape(t.URI) + `" until="` + EncodeDate(t.Expiration) + `"/>` + crlf)
		b.WriteString("</file-info>" + crlf)
	}
	b.WriteString(`<file-info type="file"`)
	if info.Disposition != "" {
		b.WriteString(` file-disposition="` + info.Disposition + `"`)
	}
	b.WriteString(">" + crlf)
	b.WriteString("<file-size>" + strconv.FormatInt(info.Size, 10) + "</file-size>" + crlf)
	b.WriteString("<file-name>" + xmlEscape(info.Name) + "</file-name>" + crlf)
	b.WriteString("<content-type>" + xmlEscape(info.MimeType) + "</content-type>" + crlf)
	b.WriteString(`<data url="` + xmlEscape(info.URI) + `" until="` + EncodeDate(info.Expiration) + `"/>` + crlf)
	b.WriteString("</file-info>" + crlf)
	b.WriteString("</file>")
	return b.String()
}

type ftResumeXML struct {
	XMLName xml.Name `xml:"file-resume-info"`
	Range   struct {
		Start string `xml:"start,attr"`
		End   string `xml:"end,attr"`
	} `xml:"file-range"`
	Data ftDataXML `xml:"data"`
}

// ParseFileTransferHttpResumeInfo разбирает file-resume-info.
func ParseFileTransferHttpResumeInfo(data []byte) (*FileTransferHttpResumeInfo, bool) {
	var doc ftResumeXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(doc.Range.Start), 10, 64)
	if err != nil {
		return nil, false
	}
	end, err := strconv.ParseInt(strings.TrimSpace(doc.Range.End), 10, 64)
	if err != nil || end < start {
		return nil, false
	}
	uri := strings.TrimSpace(doc.Data.URL)
	if uri == "" {
		return nil, false
	}
	return &FileTransferHttpResumeInfo{Start: start, End: end, URI: uri}, true
}
