// Package ccm implements the UECS-CCM wire protocol.
//
// UECS (Ubiquitous Environment Control System) uses UDP multicast
// (224.0.0.1:16520) with small XML payloads for greenhouse sensor data and
// actuator control:
//
//	<UECS ver="1.00-E10">
//	  <DATA type="InAirTemp.mC" room="1" region="1" order="1"
//	        priority="29" lv="S" cast="uni">1.8</DATA>
//	</UECS>
package ccm

import (
	"encoding/xml"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MulticastAddr = "224.0.0.1"
	MulticastPort = 16520
)

// Suffixes appended by ArSprout to indicate measurement/control modes.
var ccmSuffixRe = regexp.MustCompile(`\.(mC|cMC|MC)$`)

// StripSuffix removes a trailing .mC / .cMC / .MC from a CCM type string.
func StripSuffix(ccmType string) string {
	return ccmSuffixRe.ReplaceAllString(ccmType, "")
}

// Packet is a parsed UECS-CCM data packet.
type Packet struct {
	Type     string // suffix-stripped type (e.g. "InAirTemp")
	RawType  string // original type including suffix (e.g. "InAirTemp.mC")
	Value    float64
	RawValue string // original text, kept for non-numeric payloads
	Numeric  bool

	Room     int
	Region   int
	Order    int
	Priority int
	Level    string // "S"=sensor, "A"=actuator
	Cast     string

	SourceIP   string
	ReceivedAt time.Time
}

type xmlData struct {
	Type     string `xml:"type,attr"`
	Room     string `xml:"room,attr"`
	Region   string `xml:"region,attr"`
	Order    string `xml:"order,attr"`
	Priority string `xml:"priority,attr"`
	Level    string `xml:"lv,attr"`
	Cast     string `xml:"cast,attr"`
	Value    string `xml:",chardata"`
}

type xmlUECS struct {
	XMLName xml.Name  `xml:"UECS"`
	Data    []xmlData `xml:"DATA"`
	IP      string    `xml:"IP"`
}

// Parse decodes a UECS XML payload into packets.
// Malformed payloads yield an empty slice, not an error: the multicast group
// carries traffic from arbitrary vendors and a bad frame must never stall the
// receive loop.
func Parse(payload []byte, sourceIP string, now time.Time) []Packet {
	var doc xmlUECS
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil
	}

	packets := make([]Packet, 0, len(doc.Data))
	for _, d := range doc.Data {
		raw := strings.TrimSpace(d.Value)
		pkt := Packet{
			Type:       StripSuffix(d.Type),
			RawType:    d.Type,
			RawValue:   raw,
			Room:       atoiDefault(d.Room, 1),
			Region:     atoiDefault(d.Region, 1),
			Order:      atoiDefault(d.Order, 1),
			Priority:   atoiDefault(d.Priority, 29),
			Level:      orDefault(d.Level, "S"),
			Cast:       orDefault(d.Cast, "uni"),
			SourceIP:   sourceIP,
			ReceivedAt: now,
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			pkt.Value = v
			pkt.Numeric = true
		}
		packets = append(packets, pkt)
	}
	return packets
}

// Frame describes an outgoing control packet.
type Frame struct {
	Type     string
	Value    string
	Room     int
	Region   int
	Order    int
	Priority int
	Level    string // "A" for actuator control
	Cast     string
	LocalIP  string // auto-detected when empty
}

// Build encodes a control frame as UECS XML bytes.
// The layout mirrors what ArSprout nodes emit, attribute order included.
func Build(f Frame) []byte {
	if f.Level == "" {
		f.Level = "A"
	}
	if f.Cast == "" {
		f.Cast = "uni"
	}
	if f.LocalIP == "" {
		f.LocalIP = DetectLocalIP()
	}

	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\"?>\n")
	sb.WriteString("<UECS ver=\"1.00-E10\">\n")
	fmt.Fprintf(&sb,
		"  <DATA type=%q room=%q region=%q order=%q priority=%q lv=%q cast=%q>%s</DATA>\n",
		f.Type,
		strconv.Itoa(f.Room), strconv.Itoa(f.Region), strconv.Itoa(f.Order),
		strconv.Itoa(f.Priority), f.Level, f.Cast,
		f.Value,
	)
	fmt.Fprintf(&sb, "  <IP>%s</IP>\n", f.LocalIP)
	sb.WriteString("</UECS>\n")
	return []byte(sb.String())
}

// DetectLocalIP finds the local address used to reach the multicast group.
func DetectLocalIP() string {
	conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", MulticastAddr, MulticastPort))
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "0.0.0.0"
}

// Classification of CCM types, used for node typing and the weather intake.
var (
	sensorTypes = map[string]bool{
		"InAirTemp": true, "InAirHumid": true, "InAirCO2": true, "SoilTemp": true,
		"InRadiation": true, "SoilEC": true, "SoilMoisture": true, "Pulse": true,
	}
	weatherTypes = map[string]bool{
		"WAirTemp": true, "WAirHumid": true, "WWindSpeed": true, "WWindDir16": true,
		"WRainfall": true, "WRainfallAmt": true,
	}
)

// Classify buckets a suffix-stripped CCM type into sensor/actuator/weather/other.
func Classify(ccmType string) string {
	switch {
	case sensorTypes[ccmType]:
		return "sensor"
	case weatherTypes[ccmType]:
		return "weather"
	case strings.HasSuffix(ccmType, "rcA"), strings.HasSuffix(ccmType, "rcM"),
		strings.HasSuffix(ccmType, "opr"):
		return "actuator"
	default:
		return "other"
	}
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
