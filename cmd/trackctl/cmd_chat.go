package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parceltrack.org/internal/chat"
)

const replHelp = `Commands:
  /new             start a new chat
  /history         list saved chats
  /open <id>       reopen a saved chat
  /delete <id>     delete a saved chat
  /clear           delete every saved chat
  /quit            leave`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive tracking chat",
		Long: `Start an interactive chat. Enter a tracking number, "track <n>",
"where <n>" or "help". Results are saved to your chat history.

` + replHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, creds, err := a.client()
			if err != nil {
				return err
			}
			if !creds.loggedIn() {
				return errNotLoggedIn
			}
			store := chat.NewHistoryStore(a.stateDir)
			history, err := store.Load(creds.User.ID)
			if err != nil {
				return err
			}
			bot := chat.NewBot(c, history, chat.WithBotClock(a.now))
			return a.repl(cmd.Context(), bot, func() error { return store.Save(creds.User.ID, history) }, creds.User.Name)
		},
	}
}

func (a *app) repl(ctx context.Context, bot *chat.Bot, save func() error, name string) error {
	history := bot.History()
	history.NewScratch(a.now())
	a.printf("%s\n", chat.Welcome(name))

	r := bufio.NewReader(a.in)
	for {
		line, err := readLine(r, a.out, "> ")
		if errors.Is(err, io.EOF) {
			a.printf("\n")
			return save()
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := a.replCommand(history, line)
			if err != nil {
				a.printf("%v\n", err)
				continue
			}
			if err := save(); err != nil {
				return err
			}
			if quit {
				return nil
			}
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
		reply := bot.Handle(lookupCtx, line)
		cancel()
		for _, m := range reply.Messages {
			if m.Type == chat.MessageText {
				a.printf("%s\n", m.Text)
			}
		}
		if reply.MapURL != "" {
			a.printf("🗺️ %s\n", reply.MapURL)
		}
		if reply.Intent.Queries() {
			if err := save(); err != nil {
				return err
			}
		}
	}
}

// replCommand runs one slash command. It reports whether the REPL should end.
func (a *app) replCommand(h *chat.History, line string) (bool, error) {
	verb, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(verb) {
	case "quit", "exit":
		return true, nil
	case "help":
		a.printf("%s\n", replHelp)
	case "new":
		h.NewScratch(a.now())
		a.printf("New chat started.\n")
	case "history":
		a.printSessions(h.Visible())
	case "open":
		id, err := parseSessionID(arg)
		if err != nil {
			return false, err
		}
		s, ok := h.Open(id)
		if !ok {
			return false, fmt.Errorf("no chat %d", id)
		}
		a.printSession(*s)
	case "delete":
		id, err := parseSessionID(arg)
		if err != nil {
			return false, err
		}
		if !h.Delete(id) {
			return false, fmt.Errorf("no chat %d", id)
		}
		a.printf("Deleted chat %d.\n", id)
	case "clear":
		h.Clear()
		a.printf("History cleared.\n")
	default:
		return false, fmt.Errorf("unknown command /%s; try /help", verb)
	}
	return false, nil
}

func newHistoryCmd(a *app) *cobra.Command {
	withHistory := func(fn func(*chat.History) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			creds, err := loadCredentials(a.stateDir)
			if err != nil {
				return err
			}
			if !creds.loggedIn() {
				return errNotLoggedIn
			}
			store := chat.NewHistoryStore(a.stateDir)
			h, err := store.Load(creds.User.ID)
			if err != nil {
				return err
			}
			if err := fn(h); err != nil {
				return err
			}
			return store.Save(creds.User.ID, h)
		}
	}

	list := func(h *chat.History) error {
		a.printSessions(h.Visible())
		return nil
	}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved chat sessions",
		Args:  cobra.NoArgs,
		RunE:  withHistory(list),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved chats, newest first",
			Args:  cobra.NoArgs,
			RunE:  withHistory(list),
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a saved chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(func(h *chat.History) error {
					id, err := parseSessionID(args[0])
					if err != nil {
						return err
					}
					s := h.Get(id)
					if s == nil {
						return fmt.Errorf("no chat %d", id)
					}
					a.printSession(*s)
					return nil
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(func(h *chat.History) error {
					id, err := parseSessionID(args[0])
					if err != nil {
						return err
					}
					if !h.Delete(id) {
						return fmt.Errorf("no chat %d", id)
					}
					a.printf("Deleted chat %d.\n", id)
					return nil
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every saved chat",
			Args:  cobra.NoArgs,
			RunE: withHistory(func(h *chat.History) error {
				h.Clear()
				a.printf("History cleared.\n")
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) printSessions(sessions []chat.Session) {
	if len(sessions) == 0 {
		a.printf("No saved chats.\n")
		return
	}
	for _, s := range sessions {
		a.printf("%d  %s  %s\n", s.ID, time.UnixMilli(s.CreatedAt).Local().Format(time.DateTime), s.Summary())
	}
}

func (a *app) printSession(s chat.Session) {
	a.printf("# %s\n", s.Title)
	for _, m := range s.Messages {
		switch m.Type {
		case chat.MessageText:
			a.printf("%s\n", m.Text)
		case chat.MessageMap:
			a.printf("🗺️ %s: %s\n", m.Label, chat.MapEmbedURL(m.Lat, m.Lng, chat.MapDelta))
		}
	}
}

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}
