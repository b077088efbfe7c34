package persona

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nephbot/internal/llm"
)

const (
	DefaultMaxTokens   = 750
	DefaultTemperature = 0.7
	DefaultFlavorEvery = 5
	DefaultMarker      = "/t"
)

type Options struct {
	Marker      string
	FlavorEvery int64
	MaxTokens   int
	Temperature float32
	// Timeout bounds one completion call; zero keeps the client default.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Marker:      DefaultMarker,
		FlavorEvery: DefaultFlavorEvery,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

func (o Options) withDefaults() Options {
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
	if o.FlavorEvery <= 0 {
		o.FlavorEvery = DefaultFlavorEvery
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// Reply is the outcome of one handled request. Err is a *CompletionError when
// the completion failed; Text is then the apology, still carrying the flavor.
type Reply struct {
	Question string
	Text     string
	Index    int64
	Flavored bool
	Response llm.Response
	Err      error
}

func (r Reply) Failed() bool { return r.Err != nil }

// Responder owns the interaction counter. Safe for concurrent use.
type Responder struct {
	client  llm.Client
	persona Persona
	flavors *FlavorSelector
	opts    Options
	counter atomic.Int64
}

func NewResponder(client llm.Client, p Persona, flavors *FlavorSelector, opts Options) *Responder {
	if flavors == nil {
		flavors = NewFlavorSelector(p.Flavors, nil)
	}
	return &Responder{
		client:  client,
		persona: p,
		flavors: flavors,
		opts:    opts.withDefaults(),
	}
}

// Count is the number of requests handled so far.
func (r *Responder) Count() int64 { return r.counter.Load() }

func (r *Responder) Welcome() string { return r.persona.Welcome }

func (r *Responder) Respond(ctx context.Context, query string) Reply {
	logger := zerolog.Ctx(ctx)

	question := StripMarker(query, r.opts.Marker)
	prompt := r.persona.Prompt(question)

	// Add returns the new value; the index this request observed is one less.
	index := r.counter.Add(1) - 1

	var flavor string
	if index%r.opts.FlavorEvery == 0 {
		if line := r.flavors.Pick(); line != "" {
			flavor = line + "\n\n"
		}
	}
	out := Reply{Question: question, Index: index, Flavored: flavor != ""}

	callCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	logger.Debug().Int64("index", index).Str("question", question).Msg("sending query to completion service")
	resp, err := r.client.Generate(callCtx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: prompt}},
		MaxTokens:   r.opts.MaxTokens,
		Temperature: r.opts.Temperature,
	})

	switch {
	case err != nil:
		out.Err = &CompletionError{Index: index, Err: err}
		out.Text = flavor + r.persona.Apology
		logger.Error().Err(out.Err).Int64("index", index).Msg("error generating response")
	default:
		out.Response = resp
		out.Text = flavor + strings.TrimSpace(resp.Content)
		logger.Info().
			Int64("index", index).
			Str("model", resp.Model).
			Int("prompt_tokens", resp.PromptTokens).
			Int("completion_tokens", resp.CompletionTokens).
			Int("total_tokens", resp.TotalTokens).
			Msg("completion received")
	}
	return out
}
