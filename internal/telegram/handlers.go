package telegram

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nephbot/internal/persona"
	"nephbot/internal/router"
	"nephbot/internal/storage"
)

// Telegram rejects longer messages.
const maxMessageLength = 4096

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	ev := b.toEvent(msg)

	switch b.router.Route(ev) {
	case router.Discard:
		log.Debug().Int64("chat_id", ev.ChatID).Str("chat_type", ev.ChatType.String()).Msg("message ignored")
		return
	case router.Greet:
		log.Info().Int64("chat_id", ev.ChatID).Int64("user_id", ev.UserID).Msg("received /start command")
		b.reply(ev, b.responder.Welcome())
		return
	}

	requestID := uuid.NewString()
	logger := log.With().
		Str("request_id", requestID).
		Int64("chat_id", ev.ChatID).
		Int64("user_id", ev.UserID).
		Str("chat_type", ev.ChatType.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Str("username", ev.Username).Str("text", ev.Text).Msg("processing request")
	reply := b.responder.Respond(ctx, ev.Text)
	logger.Info().Int64("index", reply.Index).Bool("flavored", reply.Flavored).Bool("failed", reply.Failed()).Msg("replying")

	b.reply(ev, reply.Text)
	b.record(requestID, ev, reply)
}

// toEvent keeps only what routing and replying need. A command addressed to
// another bot (/cmd@other) keeps its text but is not treated as a command, so
// it is routed like any other text message.
func (b *Bot) toEvent(msg *tgbotapi.Message) router.Event {
	ev := router.Event{MessageID: msg.MessageID, Text: msg.Text}
	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
		switch {
		case msg.Chat.IsPrivate():
			ev.ChatType = router.ChatDirect
		case msg.Chat.IsGroup(), msg.Chat.IsSuperGroup():
			ev.ChatType = router.ChatGroup
		}
	}
	if msg.From != nil {
		ev.UserID = msg.From.ID
		ev.Username = msg.From.UserName
	}
	if !msg.IsCommand() {
		return ev
	}

	withAt := msg.CommandWithAt()
	if at := strings.Index(withAt, "@"); at != -1 {
		if !strings.EqualFold(withAt[at+1:], b.username) {
			return ev
		}
		// "/t@nephbot question" reads as "/t question"
		ev.Text = "/" + withAt[:at] + msg.Text[1+len(withAt):]
	}
	ev.Command = strings.ToLower(msg.Command())
	return ev
}

// reply threads the answer under the triggering message in groups.
func (b *Bot) reply(ev router.Event, text string) {
	if strings.TrimSpace(text) == "" {
		log.Warn().Int64("chat_id", ev.ChatID).Msg("empty reply not sent")
		return
	}
	for _, chunk := range splitText(text, maxMessageLength) {
		out := tgbotapi.NewMessage(ev.ChatID, chunk)
		if ev.ChatType == router.ChatGroup {
			out.ReplyToMessageID = ev.MessageID
		}
		if _, err := b.api.Send(out); err != nil {
			log.Error().Err(err).Int64("chat_id", ev.ChatID).Msg("failed to send message")
			return
		}
	}
}

func (b *Bot) record(requestID string, ev router.Event, reply persona.Reply) {
	if b.recorder == nil {
		return
	}
	event := storage.Event{
		Timestamp:   time.Now().UTC(),
		RequestID:   requestID,
		ChatID:      ev.ChatID,
		UserID:      ev.UserID,
		ChatType:    ev.ChatType.String(),
		Index:       reply.Index,
		Question:    reply.Question,
		Reply:       reply.Text,
		Flavored:    reply.Flavored,
		Failed:      reply.Failed(),
		Model:       reply.Response.Model,
		TotalTokens: reply.Response.TotalTokens,
	}
	if reply.Err != nil {
		event.Error = reply.Err.Error()
	}
	if err := b.recorder.AppendInteraction(event); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to journal interaction")
	}
}

// splitText cuts text into chunks of at most limit runes, preferring to break
// after a newline in the second half of a chunk.
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
