package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"nephbot/internal/persona"
	"nephbot/internal/router"
	"nephbot/internal/storage"
)

// ErrTransport wraps every fault of the Telegram connection. It is not
// handled here; the caller restarts the bot.
var ErrTransport = errors.New("telegram transport fault")

const (
	defaultPollTimeout = 60
	// defaultDrainTimeout bounds how long shutdown waits for in-flight replies.
	defaultDrainTimeout = 30 * time.Second
)

var commandName = regexp.MustCompile(`^/[a-z0-9_]{1,32}$`)

type Responder interface {
	Respond(ctx context.Context, query string) persona.Reply
	Welcome() string
}

type Bot struct {
	api         botAPI
	username    string
	router      *router.Router
	responder   Responder
	recorder    storage.Recorder
	pollTimeout int
	drainWait   time.Duration
	wg          sync.WaitGroup
}

// New connects to the Bot API. A bad or missing token fails here.
func New(botToken string, r *router.Router, responder Responder, rec storage.Recorder, pollTimeout int) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}
	return newBot(api, api.Self.UserName, r, responder, rec, pollTimeout), nil
}

func newBot(api botAPI, username string, r *router.Router, responder Responder, rec storage.Recorder, pollTimeout int) *Bot {
	if pollTimeout < 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Bot{
		api:         api,
		username:    username,
		router:      r,
		responder:   responder,
		recorder:    rec,
		pollTimeout: pollTimeout,
		drainWait:   defaultDrainTimeout,
	}
}

// Run long-polls for updates until ctx is cancelled (nil) or polling fails
// (ErrTransport). Every message is handled in its own goroutine. On a
// transport fault Run returns at once and in-flight handlers finish on their
// own; on shutdown Run waits for them, at most drainWait.
func (b *Bot) Run(ctx context.Context) error {
	b.registerCommands()

	// in-flight replies are still delivered after shutdown starts
	handlerCtx := context.WithoutCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	u.AllowedUpdates = []string{"message"}

	log.Info().Str("bot", b.username).Msg("bot is running, waiting for messages")
	for {
		if ctx.Err() != nil {
			return b.drain()
		}
		updates, err := b.poll(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return b.drain()
			}
			return fmt.Errorf("%w: get updates: %w", ErrTransport, err)
		}
		for _, update := range updates {
			if update.UpdateID >= u.Offset {
				u.Offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleIncomingMessage(handlerCtx, msg)
			}()
		}
	}
}

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// poll returns as soon as ctx is done. The abandoned request finishes in the
// background; its updates are not confirmed, so Telegram delivers them again.
func (b *Bot) poll(ctx context.Context, u tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	res := make(chan pollResult, 1)
	go func() {
		updates, err := b.api.GetUpdates(u)
		res <- pollResult{updates: updates, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		return r.updates, r.err
	}
}

func (b *Bot) drain() error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.drainWait):
		log.Warn().Dur("waited", b.drainWait).Msg("stopping with replies still in flight")
	}
	return nil
}

func (b *Bot) registerCommands() {
	cmds := []tgbotapi.BotCommand{{Command: "start", Description: "Summon the Nephilim"}}
	if marker := b.router.Marker(); commandName.MatchString(marker) && marker != "/start" {
		cmds = append(cmds, tgbotapi.BotCommand{Command: strings.TrimPrefix(marker, "/"), Description: "Ask the Nephilim a question"})
	}
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		log.Warn().Err(err).Msg("failed to register bot commands")
	}
}
