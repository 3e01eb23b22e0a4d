package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/tracking"
)

// Tracker looks up a package by tracking number.
type Tracker interface {
	GetPackage(ctx context.Context, trackingNumber string) (tracking.Package, error)
}

// Reply is what the bot answers to one input.
type Reply struct {
	Intent   Intent
	Messages []Message
	// MapURL is set when the reply carries a map message.
	MapURL string
}

// Bot answers chat input and records tracking results in a history.
type Bot struct {
	tracker Tracker
	history *History
	now     func() time.Time
	loc     *time.Location
}

type BotOption func(*Bot)

// WithBotClock overrides the clock used for session ids.
func WithBotClock(now func() time.Time) BotOption {
	return func(b *Bot) { b.now = now }
}

// WithLocation sets the zone used to print update times.
func WithLocation(loc *time.Location) BotOption {
	return func(b *Bot) { b.loc = loc }
}

func NewBot(tracker Tracker, history *History, opts ...BotOption) *Bot {
	if history == nil {
		history = NewHistory()
	}
	b := &Bot{tracker: tracker, history: history, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bot) History() *History { return b.history }

// Handle parses text and produces the bot's reply. Successful lookups start a
// session titled by the tracking number; failed lookups and non-tracking
// intents leave the history untouched.
func (b *Bot) Handle(ctx context.Context, text string) Reply {
	in := Parse(text)
	switch in.Kind {
	case KindHelp:
		return Reply{Intent: in, Messages: []Message{TextMessage("bot", HelpMessage)}}
	case KindUnknown:
		return Reply{Intent: in, Messages: []Message{TextMessage("bot", FallbackMessage)}}
	}
	if in.TrackingNumber == "" {
		return Reply{Intent: in, Messages: []Message{TextMessage("bot", FallbackMessage)}}
	}

	p, err := b.tracker.GetPackage(ctx, in.TrackingNumber)
	if err != nil {
		obs.Logger().Debug("chat lookup failed", zap.String("tracking_number", in.TrackingNumber), zap.Error(err))
		return Reply{Intent: in, Messages: []Message{TextMessage("bot", "No package found for "+in.TrackingNumber)}}
	}

	reply := Reply{Intent: in, Messages: []Message{TextMessage("bot", StatusCard(p, b.loc))}}
	if p.HasLocation() {
		lat, lng := *p.LastLocationLat, *p.LastLocationLng
		reply.Messages = append(reply.Messages, MapMessage(lat, lng, "Tracking "+in.TrackingNumber))
		reply.MapURL = MapEmbedURL(lat, lng, MapDelta)
	}
	b.history.Start(in.TrackingNumber, b.now())
	b.history.Append(reply.Messages...)
	return reply
}

// Welcome greets a signed-in user by first name.
func Welcome(name string) string {
	first := "there"
	if fields := strings.Fields(name); len(fields) > 0 {
		first = fields[0]
	}
	return "Welcome " + first + "! Please enter your tracking number to begin.\nExample: PKG12345678"
}
