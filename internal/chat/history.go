package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

// HistoryVersion is the current on-disk history format.
const HistoryVersion = 1

// ScratchPrefix marks sessions that are purged when history is loaded.
const ScratchPrefix = "NEW CHAT"

// MessageType tags the variant held by a Message.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageMap  MessageType = "map"
)

// Message is one entry of a session: text (Who, Text) or map (Lat, Lng, Label).
type Message struct {
	Type  MessageType `json:"type"`
	Who   string      `json:"who,omitempty"`
	Text  string      `json:"text,omitempty"`
	Lat   float64     `json:"lat,omitempty"`
	Lng   float64     `json:"lng,omitempty"`
	Label string      `json:"label,omitempty"`
}

// TextMessage builds a text message from who ("user" or "bot").
func TextMessage(who, text string) Message {
	return Message{Type: MessageText, Who: who, Text: text}
}

// MapMessage builds a map message.
func MapMessage(lat, lng float64, label string) Message {
	return Message{Type: MessageMap, Lat: lat, Lng: lng, Label: label}
}

// Valid reports whether the message is a known variant.
func (m Message) Valid() bool {
	return m.Type == MessageText || m.Type == MessageMap
}

// Session is an ordered message log titled, usually, by a tracking number.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// Scratch reports whether the session is a placeholder purged on reload.
func (s Session) Scratch() bool {
	return strings.HasPrefix(strings.ToUpper(s.Title), ScratchPrefix)
}

// Summary is the first line of the first text message, or the title.
func (s Session) Summary() string {
	for _, m := range s.Messages {
		if m.Type == MessageText {
			line, _, _ := strings.Cut(m.Text, "\n")
			if r := []rune(line); len(r) > 80 {
				line = string(r[:80])
			}
			return line
		}
	}
	if s.Title == "" {
		return "Session"
	}
	return s.Title
}

// History is the versioned session list of one identity.
type History struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
	// Active is the id of the session new messages go to; not persisted.
	Active int64 `json:"-"`
}

// NewHistory returns an empty history at the current version.
func NewHistory() *History {
	return &History{Version: HistoryVersion, Sessions: []Session{}}
}

// Start opens a new session titled title, replacing any session with the same
// title (case-insensitive), and makes it active.
func (h *History) Start(title string, now time.Time) *Session {
	if existing := h.FindByTitle(title); existing != nil {
		h.Delete(existing.ID)
	}
	id := now.UnixMilli()
	for _, s := range h.Sessions {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	h.Sessions = append(h.Sessions, Session{ID: id, Title: title, CreatedAt: now.UnixMilli(), Messages: []Message{}})
	h.Active = id
	return &h.Sessions[len(h.Sessions)-1]
}

// NewScratch opens a placeholder session.
func (h *History) NewScratch(now time.Time) *Session {
	return h.Start("New Chat "+now.Format("15:04:05"), now)
}

// Append adds messages to the active session. It is a no-op without one.
func (h *History) Append(msgs ...Message) bool {
	s := h.Get(h.Active)
	if s == nil {
		return false
	}
	s.Messages = append(s.Messages, msgs...)
	return true
}

// Get returns the session with id, or nil.
func (h *History) Get(id int64) *Session {
	for i := range h.Sessions {
		if h.Sessions[i].ID == id {
			return &h.Sessions[i]
		}
	}
	return nil
}

// FindByTitle matches titles case-insensitively.
func (h *History) FindByTitle(title string) *Session {
	for i := range h.Sessions {
		if strings.EqualFold(h.Sessions[i].Title, title) {
			return &h.Sessions[i]
		}
	}
	return nil
}

// Open makes the session active and returns it.
func (h *History) Open(id int64) (*Session, bool) {
	s := h.Get(id)
	if s == nil {
		return nil, false
	}
	h.Active = id
	return s, true
}

// Delete removes a session. Deleting the active session clears Active.
func (h *History) Delete(id int64) bool {
	n := len(h.Sessions)
	h.Sessions = slices.DeleteFunc(h.Sessions, func(s Session) bool { return s.ID == id })
	if h.Active == id {
		h.Active = 0
	}
	return len(h.Sessions) != n
}

// Clear removes every session.
func (h *History) Clear() {
	h.Sessions = []Session{}
	h.Active = 0
}

// PurgeScratch drops placeholder sessions.
func (h *History) PurgeScratch() {
	h.Sessions = slices.DeleteFunc(h.Sessions, Session.Scratch)
	if h.Get(h.Active) == nil {
		h.Active = 0
	}
}

// Visible lists non-scratch sessions, newest first.
func (h *History) Visible() []Session {
	out := make([]Session, 0, len(h.Sessions))
	for i := len(h.Sessions) - 1; i >= 0; i-- {
		if !h.Sessions[i].Scratch() {
			out = append(out, h.Sessions[i])
		}
	}
	return out
}

// Decode reads any known history format. Unversioned files (a bare JSON array
// of sessions) are migrated to version 1; unknown message variants are dropped.
func Decode(data []byte) (*History, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NewHistory(), nil
	}
	h := NewHistory()
	if data[0] == '[' {
		if err := json.Unmarshal(data, &h.Sessions); err != nil {
			return nil, fmt.Errorf("decode legacy history: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, h); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		if h.Version > HistoryVersion {
			return nil, fmt.Errorf("history version %d is newer than supported version %d", h.Version, HistoryVersion)
		}
	}
	h.Version = HistoryVersion
	if h.Sessions == nil {
		h.Sessions = []Session{}
	}
	for i := range h.Sessions {
		h.Sessions[i].Messages = slices.DeleteFunc(h.Sessions[i].Messages, func(m Message) bool { return !m.Valid() })
		if h.Sessions[i].Messages == nil {
			h.Sessions[i].Messages = []Message{}
		}
	}
	return h, nil
}

// HistoryStore keeps one history file per identity under a directory.
type HistoryStore struct {
	dir string
}

func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func (s *HistoryStore) path(userID string) string {
	return filepath.Join(s.dir, "chat-sessions-"+unsafeFileChars.ReplaceAllString(userID, "_")+".json")
}

// Load reads the identity's history, purges scratch sessions and writes the
// cleaned history back. A missing file yields an empty history.
func (s *HistoryStore) Load(userID string) (*History, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	data, err := os.ReadFile(s.path(userID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read history: %w", err)
	}
	h, err := Decode(data)
	if err != nil {
		return nil, err
	}
	h.PurgeScratch()
	if err := s.Save(userID, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Save writes the history atomically.
func (s *HistoryStore) Save(userID string, h *History) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	h.Version = HistoryVersion
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	path := s.path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
