package envelope

import (
	"encoding/xml"
	"strings"
	"time"
)

const (
	// ImdnNamespace пространство имен IMDN заголовков CPIM.
	ImdnNamespace = "urn:ietf:params:imdn"
	// ImdnXMLNamespace пространство имен XML документа IMDN.
	ImdnXMLNamespace = "urn:ietf:params:xml:ns:imdn"
)

// Статусы доставки в IMDN документе.
const (
	StatusDelivered = "delivered"
	StatusDisplayed = "displayed"
	StatusProcessed = "processed"
	StatusStored    = "stored"
	StatusFailed    = "failed"
	StatusForbidden = "forbidden"
	StatusError     = "error"
)

// Типы уведомлений.
const (
	DeliveryNotification   = "delivery-notification"
	DisplayNotification    = "display-notification"
	ProcessingNotification = "processing-notification"
)

// ImdnOutcome итог уведомления с точки зрения отправителя сообщения.
type ImdnOutcome string

const (
	OutcomeDelivered  ImdnOutcome = "delivered"
	OutcomeDisplayed  ImdnOutcome = "displayed"
	OutcomeError      ImdnOutcome = "error"
	OutcomeProcessing ImdnOutcome = "processing"
)

// ImdnDocument разобранный IMDN отчет.
type ImdnDocument struct {
	MessageID    string
	DateTime     time.Time
	Notification string
	Status       string
}

// Outcome сводит статус отчета к одному из четырех исходов.
func (d *ImdnDocument) Outcome() ImdnOutcome {
	switch d.Status {
	case StatusDelivered:
		return OutcomeDelivered
	case StatusDisplayed:
		return OutcomeDisplayed
	case StatusFailed, StatusForbidden, StatusError:
		return OutcomeError
	default:
		return OutcomeProcessing
	}
}

func notificationFor(status string) string {
	switch status {
	case StatusDisplayed:
		return DisplayNotification
	case StatusDelivered:
		return DeliveryNotification
	default:
		return ProcessingNotification
	}
}

// statusElement статус становится именем элемента, поэтому недопустимые
// в имени символы отбрасываются; пустой статус становится error.
func statusElement(status string) string {
	name := strings.Map(func(r rune) rune {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, status)
	if name == "" || name[0] == '-' || (name[0] >= '0' && name[0] <= '9') {
		return StatusError
	}
	return name
}

// BuildImdnDeliveryReport строит IMDN документ для сообщения msgID.
// Идентификатор приходит от собеседника и экранируется.
func BuildImdnDeliveryReport(msgID, status string, t time.Time) string {
	status = statusElement(status)
	method := notificationFor(status)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="` + utf8Str + `"?>` + crlf)
	b.WriteString(`<imdn xmlns="` + ImdnXMLNamespace + `">` + crlf)
	b.WriteString("<message-id>" + xmlEscape(msgID) + "</message-id>" + crlf)
	b.WriteString("<datetime>" + EncodeDate(t) + "</datetime>" + crlf)
	b.WriteString("<" + method + "><status><" + status + "/></status></" + method + ">" + crlf)
	b.WriteString("</imdn>")
	return b.String()
}

type imdnStatusXML struct {
	Value struct {
		XMLName xml.Name
	} `xml:",any"`
}

type imdnNotificationXML struct {
	Status imdnStatusXML `xml:"status"`
}

type imdnXML struct {
	XMLName    xml.Name             `xml:"imdn"`
	MessageID  string               `xml:"message-id"`
	DateTime   string               `xml:"datetime"`
	Delivery   *imdnNotificationXML `xml:"delivery-notification"`
	Display    *imdnNotificationXML `xml:"display-notification"`
	Processing *imdnNotificationXML `xml:"processing-notification"`
}

// ParseDeliveryReport разбирает IMDN документ. Документ без message-id
// или без статуса считается некорректным.
func ParseDeliveryReport(data string) (*ImdnDocument, bool) {
	var doc imdnXML
	if err := xml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false
	}

	out := &ImdnDocument{MessageID: strings.TrimSpace(doc.MessageID)}
	switch {
	case doc.Delivery != nil:
		out.Notification, out.Status = DeliveryNotification, doc.Delivery.Status.Value.XMLName.Local
	case doc.Display != nil:
		out.Notification, out.Status = DisplayNotification, doc.Display.Status.Value.XMLName.Local
	case doc.Processing != nil:
		out.Notification, out.Status = ProcessingNotification, doc.Processing.Status.Value.XMLName.Local
	}
	if out.MessageID == "" || out.Status == "" {
		return nil, false
	}
	if t, ok := DecodeDate(doc.DateTime); ok {
		out.DateTime = t
	}
	return out, true
}

// ParseCpimDeliveryReport извлекает IMDN отчет из CPIM конверта.
func ParseCpimDeliveryReport(data string) (*ImdnDocument, bool) {
	cpim := ParseCpim(data)
	if cpim == nil || !IsMessageImdnType(cpim.ContentType()) {
		return nil, false
	}
	return ParseDeliveryReport(cpim.Body)
}
