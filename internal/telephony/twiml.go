package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	XMLName    xml.Name         `xml:"Stream"`
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

// StreamTwiML bridges the call's audio to the given websocket endpoint.
// Custom parameters ride along on the stream start message.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	s := &twimlStream{URL: streamURL}
	for _, name := range sortedKeys(params) {
		s.Parameters = append(s.Parameters, twimlParameter{Name: name, Value: params[name]})
	}
	return renderTwiML(twimlResponse{Verbs: []any{twimlConnect{Stream: s}}})
}

// TransferTwiML announces the handoff, then dials the agent number.
func TransferTwiML(targetNumber, announcement string) (string, error) {
	if strings.TrimSpace(targetNumber) == "" {
		return "", errors.New("telephony: transfer target required")
	}
	var verbs []any
	if announcement != "" {
		verbs = append(verbs, twimlSay{Text: announcement})
	}
	verbs = append(verbs, twimlDial{Number: targetNumber})
	return renderTwiML(twimlResponse{Verbs: verbs})
}

// RejectTwiML declines the call without answering.
func RejectTwiML(reason string) (string, error) {
	return renderTwiML(twimlResponse{Verbs: []any{twimlReject{Reason: reason}}})
}

// BusyTwiML apologizes and hangs up; used when the concurrent-call
// cap is reached.
func BusyTwiML(message string) (string, error) {
	if message == "" {
		message = "We are sorry, all lines are busy right now. Please try again later."
	}
	return renderTwiML(twimlResponse{Verbs: []any{
		twimlSay{Text: message},
		twimlHangup{},
	}})
}

// FallbackTwiML is the response for the provider's fallback webhook,
// hit when the primary voice webhook errored or timed out.
func FallbackTwiML() (string, error) {
	return renderTwiML(twimlResponse{Verbs: []any{
		twimlSay{Text: "We are experiencing technical difficulties. Please try your call again later."},
		twimlHangup{},
	}})
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
