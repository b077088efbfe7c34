// Package router decides what to do with an inbound chat message.
package router

import "strings"

type ChatType int

const (
	ChatUnknown ChatType = iota
	ChatDirect
	ChatGroup
)

func (c ChatType) String() string {
	switch c {
	case ChatDirect:
		return "direct"
	case ChatGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Event is one inbound message. Identity fields are passed through untouched
// to the reply target.
type Event struct {
	ChatType  ChatType
	ChatID    int64
	UserID    int64
	MessageID int
	Username  string
	Text      string
	// Command is the bot command without the leading slash and @botname, if any.
	Command string
}

type Action int

const (
	Discard Action = iota
	Greet
	Respond
)

func (a Action) String() string {
	switch a {
	case Greet:
		return "greet"
	case Respond:
		return "respond"
	default:
		return "discard"
	}
}

const startCommand = "start"

type Router struct {
	marker string
}

func New(marker string) *Router {
	return &Router{marker: strings.ToLower(marker)}
}

func (r *Router) Marker() string { return r.marker }

// Route has no side effects.
func (r *Router) Route(ev Event) Action {
	if strings.TrimSpace(ev.Text) == "" {
		return Discard
	}
	if ev.Command == startCommand {
		return Greet
	}
	switch ev.ChatType {
	case ChatDirect:
		return Respond
	case ChatGroup:
		if r.triggered(ev.Text) {
			return Respond
		}
	}
	return Discard
}

func (r *Router) triggered(text string) bool {
	return r.marker != "" && strings.HasPrefix(strings.ToLower(text), r.marker)
}
