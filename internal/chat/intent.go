// Package chat implements the tracking chat: command parsing, status cards,
// map links and the per-user session history.
package chat

import (
	"regexp"
	"strings"
)

// Kind is the parsed meaning of one chat input.
type Kind string

const (
	KindTrack   Kind = "track"
	KindWhere   Kind = "where"
	KindHelp    Kind = "help"
	KindUnknown Kind = "unknown"
)

const (
	FallbackMessage = "I didn't understand. Type 'help'."
	HelpMessage     = "Try: \n" +
		"- Enter a tracking number (e.g., PKG12345678)\n" +
		"- track PKG12345678\n" +
		"- where PKG12345678\n" +
		"Use Login for create/update/delete via APIs."
)

var bareTrackingNumber = regexp.MustCompile(`^[A-Z0-9]{8,20}$`)

// Intent is a parsed chat input.
type Intent struct {
	Kind           Kind
	TrackingNumber string
	// Raw is the original input, kept for unknown intents.
	Raw string
}

// Parse maps free text to an intent. Input is trimmed and upper-cased first,
// so "track pkg12345678" and "PKG12345678" both track PKG12345678.
func Parse(text string) Intent {
	t := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(t, "TRACK "):
		return Intent{Kind: KindTrack, TrackingNumber: strings.TrimSpace(t[len("TRACK "):]), Raw: text}
	case strings.HasPrefix(t, "WHERE "):
		return Intent{Kind: KindWhere, TrackingNumber: strings.TrimSpace(t[len("WHERE "):]), Raw: text}
	case bareTrackingNumber.MatchString(t):
		return Intent{Kind: KindTrack, TrackingNumber: t, Raw: text}
	case strings.HasPrefix(t, "HELP"):
		return Intent{Kind: KindHelp, Raw: text}
	}
	return Intent{Kind: KindUnknown, Raw: text}
}

// Queries reports whether the intent looks up a package.
func (i Intent) Queries() bool {
	return i.Kind == KindTrack || i.Kind == KindWhere
}
