package ircrelay

import (
	"regexp"
	"strings"
)

// lineRE is the single grammar every inbound line is matched against:
//
//	[@tags ][:nick[!user][@host] ]COMMAND[ params...][ :trailing]
//
// Commands are upper-case words or three-digit numerics. Lines that do not
// fit the grammar are reported as raw data.
var lineRE = regexp.MustCompile(
	`^(?:@(\S+) +)?` + // 1 tags
		`(?::([^!@\s]+)(?:!([^@\s]+))?(?:@(\S+))? +)?` + // 2 nick, 3 user, 4 host
		`([A-Z]+|\d{3})` + // 5 command
		`((?: +[^:\s]\S*)*)` + // 6 middle params
		`(?: +:(.*))?$`, // 7 trailing
)

// Line is one parsed relay line.
type Line struct {
	Tags    map[string]string
	Nick    string
	User    string
	Host    string
	Command string

	// Params holds the middle parameters. Channel is a convenience copy of
	// the first one.
	Params  []string
	Channel string

	// Message is the trailing parameter without its leading colon.
	Message string
}

// ParseLine matches raw against the relay grammar. It reports false when the
// line has no recognisable command.
func ParseLine(raw string) (Line, bool) {
	m := lineRE.FindStringSubmatch(raw)
	if m == nil || m[5] == "" {
		return Line{}, false
	}
	l := Line{
		Tags:    parseTags(m[1]),
		Nick:    m[2],
		User:    m[3],
		Host:    m[4],
		Command: m[5],
		Params:  strings.Fields(m[6]),
		Message: m[7],
	}
	switch {
	case len(l.Params) > 0:
		l.Channel = l.Params[0]
	case l.Command == "JOIN" || l.Command == "PART":
		// Some servers send the channel as the trailing parameter.
		l.Channel = l.Message
	}
	return l, true
}

var tagUnescaper = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\\`, `\`,
	`\r`, "\r",
	`\n`, "\n",
)

// parseTags decodes an IRCv3 message-tags block ("k1=v1;k2=v2;flag").
func parseTags(s string) map[string]string {
	if s == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		tags[k] = tagUnescaper.Replace(v)
	}
	return tags
}

// isPing reports whether raw is a keep-alive probe and returns the payload
// that must be echoed back.
func isPing(raw string) (string, bool) {
	if len(raw) < 4 || !strings.EqualFold(raw[:4], "PING") {
		return "", false
	}
	if len(raw) <= 6 {
		return "", true
	}
	return raw[6:], true
}

// splitLines splits a frame into its CRLF (or bare LF) terminated lines,
// dropping empty ones.
func splitLines(frame string) []string {
	var lines []string
	for _, l := range strings.Split(frame, "\n") {
		l = strings.TrimSuffix(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
