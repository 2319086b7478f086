package envelope

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// Geoloc геопозиция, передаваемая в чате.
type Geoloc struct {
	Label      string
	Latitude   float64
	Longitude  float64
	Expiration time.Time
	Accuracy   float64
}

// String сохраняемое представление: label,lat,lon,expiration_ms,accuracy.
func (g Geoloc) String() string {
	return strings.Join([]string{
		g.Label,
		formatFloat(g.Latitude),
		formatFloat(g.Longitude),
		strconv.FormatInt(g.Expiration.UnixMilli(), 10),
		formatFloat(g.Accuracy),
	}, ",")
}

// ParseGeolocString обратное к String преобразование. Метка может содержать
// запятые, поэтому поля разбираются с конца.
func ParseGeolocString(s string) (Geoloc, bool) {
	fields := strings.Split(s, ",")
	if len(fields) < 5 {
		return Geoloc{}, false
	}
	n := len(fields)
	lat, err1 := strconv.ParseFloat(fields[n-4], 64)
	lon, err2 := strconv.ParseFloat(fields[n-3], 64)
	exp, err3 := strconv.ParseInt(fields[n-2], 10, 64)
	acc, err4 := strconv.ParseFloat(fields[n-1], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Geoloc{}, false
	}
	return Geoloc{
		Label:      strings.Join(fields[:n-4], ","),
		Latitude:   lat,
		Longitude:  lon,
		Expiration: time.UnixMilli(exp),
		Accuracy:   acc,
	}, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// BuildGeolocDocument строит rcsenvelope документ с одной позицией.
func BuildGeolocDocument(g Geoloc, entity, msgID string, t time.Time) string {
	expire := EncodeDate(g.Expiration)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="` + utf8Str + `"?>` + crlf)
	b.WriteString(`<rcsenvelope xmlns="urn:gsma:params:xml:ns:rcs:rcs:geolocation"`)
	b.WriteString(` xmlns:rpid="urn:ietf:params:xml:ns:pidf:rpid"`)
	b.WriteString(` xmlns:gp="urn:ietf:params:xml:ns:pidf:geopriv10"`)
	b.WriteString(` xmlns:gml="http://www.opengis.net/gml"`)
	b.WriteString(` xmlns:gs="http://www.opengis.net/pidflo/1.0"`)
	b.WriteString(` entity="` + xmlEscape(entity) + `">` + crlf)
	b.WriteString(`<rcspushlocation id="` + xmlEscape(msgID) + `" label="` + xmlEscape(g.Label) + `" >`)
	b.WriteString(`<rpid:place-type rpid:until="` + expire + `"></rpid:place-type>` + crlf)
	b.WriteString(`<rpid:time-offset rpid:until="` + expire + `"></rpid:time-offset>` + crlf)
	b.WriteString("<gp:geopriv>" + crlf)
	b.WriteString("<gp:location-info>" + crlf)
	b.WriteString(`<gs:Circle srsName="urn:ogc:def:crs:EPSG::4326">` + crlf)
	b.WriteString("<gml:pos>" + formatFloat(g.Latitude) + " " + formatFloat(g.Longitude) + "</gml:pos>" + crlf)
	b.WriteString(`<gs:radius uom="urn:ogc:def:uom:EPSG::9001">` + formatFloat(g.Accuracy) + "</gs:radius>" + crlf)
	b.WriteString("</gs:Circle>" + crlf)
	b.WriteString("</gp:location-info>" + crlf)
	b.WriteString("<gp:usage-rules>" + crlf)
	b.WriteString("<gp:retention-expiry>" + expire + "</gp:retention-expiry>" + crlf)
	b.WriteString("</gp:usage-rules>" + crlf)
	b.WriteString("</gp:geopriv>" + crlf)
	b.WriteString("<timestamp>" + EncodeDate(t) + "</timestamp>" + crlf)
	b.WriteString("</rcspushlocation>" + crlf)
	b.WriteString("</rcsenvelope>" + crlf)
	return b.String()
}

type untilXML struct {
	Until string `xml:"until,attr"`
}

type geolocXML struct {
	XMLName   xml.Name `xml:"rcsenvelope"`
	Entity    string   `xml:"entity,attr"`
	Locations []struct {
		ID         string   `xml:"id,attr"`
		Label      string   `xml:"label,attr"`
		PlaceType  untilXML `xml:"place-type"`
		TimeOffset untilXML `xml:"time-offset"`
		Geopriv    struct {
			Circle struct {
				Pos    string `xml:"pos"`
				Radius string `xml:"radius"`
			} `xml:"location-info>Circle"`
			RetentionExpiry string `xml:"usage-rules>retention-expiry"`
		} `xml:"geopriv"`
		Timestamp string `xml:"timestamp"`
	} `xml:"rcspushlocation"`
}

// ParseGeolocDocument разбирает первую позицию rcsenvelope документа.
func ParseGeolocDocument(data string) (*Geoloc, bool) {
	var doc geolocXML
	if err := xml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false
	}
	if len(doc.Locations) == 0 {
		return nil, false
	}
	loc := doc.Locations[0]

	pos := strings.Fields(loc.Geopriv.Circle.Pos)
	if len(pos) != 2 {
		return nil, false
	}
	lat, err := strconv.ParseFloat(pos[0], 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(pos[1], 64)
	if err != nil {
		return nil, false
	}

	g := &Geoloc{Label: loc.Label, Latitude: lat, Longitude: lon}
	if r := strings.TrimSpace(loc.Geopriv.Circle.Radius); r != "" {
		if g.Accuracy, err = strconv.ParseFloat(r, 64); err != nil {
			return nil, false
		}
	}
	for _, v := range []string{loc.Geopriv.RetentionExpiry, loc.TimeOffset.Until, loc.PlaceType.Until} {
		if exp, ok := DecodeDate(v); ok {
			g.Expiration = exp
			break
		}
	}
	return g, true
}
