// Package bot is the thin Telegram command layer: it long-polls getUpdates
// and dispatches the handful of commands users can send the watcher.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alexey-kott/youdo-watcher/internal/model"
	"github.com/alexey-kott/youdo-watcher/internal/notify"
)

const (
	pollTimeoutSeconds = 30
	errorPause         = 5 * time.Second
)

// API is the Telegram surface the bot needs.
type API interface {
	Updates(ctx context.Context, offset int64, timeout int) ([]notify.Update, error)
	Send(ctx context.Context, chatID int64, text string) error
}

// Searcher runs an ad-hoc search outside the poll cycle.
type Searcher interface {
	SearchNow(ctx context.Context, query string) ([]string, error)
}

// Registrar records users who start the bot. Optional.
type Registrar interface {
	RegisterUser(ctx context.Context, u model.User) error
}

// Bot dispatches incoming commands. Replies go to the chat the command came
// from, never to the notification channel.
type Bot struct {
	api       API
	searcher  Searcher
	registrar Registrar
	log       *zap.SugaredLogger
}

// New constructs a Bot. registrar may be nil.
func New(api API, searcher Searcher, registrar Registrar, log *zap.SugaredLogger) *Bot {
	return &Bot{api: api, searcher: searcher, registrar: registrar, log: log}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.api.Updates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warnw("getUpdates failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errorPause):
			}
			continue
		}

		for _, update := range updates {
			if update.ID >= offset {
				offset = update.ID + 1
			}
			if update.Message == nil {
				continue
			}
			b.handle(ctx, *update.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg Message) {
	command, args := split(msg.Text)

	switch command {
	case "/start":
		b.handleStart(ctx, msg)
	case "/ping":
		b.reply(ctx, msg.Chat.ID, "pong")
	case "/search":
		b.handleSearch(ctx, msg.Chat.ID, args)
	default:
		b.reply(ctx, msg.Chat.ID, "Commands: /search <query>, /ping")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg Message) {
	if b.registrar != nil && msg.From != nil {
		if err := b.registrar.RegisterUser(ctx, msg.From.AsModel()); err != nil {
			b.log.Warnw("user registration failed", "user", msg.From.ID, "err", err)
		}
	}
	b.reply(ctx, msg.Chat.ID, "Watching YouDo for you. Try /search <query>.")
}

// handleSearch runs the synchronous search and replies with every result
// message. A remote failure produces a plain error reply, never a partial
// result.
func (b *Bot) handleSearch(ctx context.Context, chatID int64, query string) {
	if query == "" {
		b.reply(ctx, chatID, "Usage: /search <query>")
		return
	}

	messages, err := b.searcher.SearchNow(ctx, query)
	if err != nil {
		b.log.Errorw("ad-hoc search failed", "query", query, "err", err)
		b.reply(ctx, chatID, fmt.Sprintf("Search failed, try again later: %v", err))
		return
	}

	for _, text := range messages {
		b.reply(ctx, chatID, text)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.api.Send(ctx, chatID, text); err != nil {
		b.log.Warnw("reply not delivered", "chat", chatID, "err", err)
	}
}

// Message aliases the wire type so handlers read naturally.
type Message = notify.Message

// split separates the command word from its argument string.
func split(text string) (command, args string) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	command = parts[0]
	// Strip the @botname suffix Telegram appends in group chats.
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args
}
