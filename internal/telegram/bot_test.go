package telegram

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nephbot/internal/llm"
	"nephbot/internal/persona"
	"nephbot/internal/router"
	"nephbot/internal/storage"
)

type fakeAPI struct {
	mu      sync.Mutex
	batches [][]tgbotapi.Update
	pollErr error
	onPoll  func()
	// hang, when set, holds polls with no queued batch until closed
	hang     chan struct{}
	offsets  []int
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, cfg.Offset)
	if f.onPoll != nil {
		f.onPoll()
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch, nil
	}
	hang, err := f.hang, f.pollErr
	f.mu.Unlock()
	if hang != nil {
		<-hang
	}
	return nil, err
}

func (f *fakeAPI) pollOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeLLM struct {
	mu      sync.Mutex
	content string
	err     error
	prompts []string
	// block, when set, holds every completion until closed
	block chan struct{}
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Messages[0].Content)
	return llm.Response{Content: f.content, Model: "test-model", TotalTokens: 42}, f.err
}

func newTestBot(api *fakeAPI, client llm.Client, rec storage.Recorder) (*Bot, *persona.Responder) {
	p := persona.Nephilim()
	resp := persona.NewResponder(client, p, persona.NewFlavorSelector(p.Flavors, rand.NewSource(1)), persona.DefaultOptions())
	return newBot(api, "nephbot", router.New("/t"), resp, rec, 0), resp
}

func privateMsg(text string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: 1, From: &tgbotapi.User{ID: 42, UserName: "user"}, Chat: &tgbotapi.Chat{ID: 42, Type: "private"}, Text: text}
}

func groupMsg(text string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: 7, From: &tgbotapi.User{ID: 42, UserName: "user"}, Chat: &tgbotapi.Chat{ID: -100, Type: "supergroup"}, Text: text}
}

func withCommand(msg *tgbotapi.Message) *tgbotapi.Message {
	length := len(msg.Text)
	if i := strings.Index(msg.Text, " "); i != -1 {
		length = i
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}

func isFlavored(text string) bool {
	for _, f := range persona.Nephilim().Flavors {
		if strings.HasPrefix(text, f+"\n\n") {
			return true
		}
	}
	return false
}

func TestStart_SendsWelcomeWithoutCompletion(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "unused"}
	b, resp := newTestBot(api, client, nil)

	b.handleIncomingMessage(context.Background(), withCommand(privateMsg("/start")))

	sent := api.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], "bound Nephilim") {
		t.Fatalf("welcome not sent: %+v", sent)
	}
	if len(client.prompts) != 0 || resp.Count() != 0 {
		t.Fatalf("start must not call the completion service")
	}
}

func TestDirectMessage_FirstReplyIsFlavored(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: " I am a Nephilim. Peace be upon you. "}
	rec := storage.NewMemoryRecorder(10)
	b, resp := newTestBot(api, client, rec)

	b.handleIncomingMessage(context.Background(), privateMsg("hello"))

	if len(client.prompts) != 1 || !strings.HasSuffix(client.prompts[0], "Question: hello") {
		t.Fatalf("unexpected prompts: %+v", client.prompts)
	}
	sent := api.texts()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(sent))
	}
	if !isFlavored(sent[0]) || !strings.HasSuffix(sent[0], "\n\nI am a Nephilim. Peace be upon you.") {
		t.Fatalf("unexpected reply: %q", sent[0])
	}
	if api.sent[0].ReplyToMessageID != 0 {
		t.Fatalf("direct replies should not quote")
	}
	if resp.Count() != 1 {
		t.Fatalf("counter: want 1, got %d", resp.Count())
	}

	events, _ := rec.LoadInteractions()
	if len(events) != 1 || events[0].ChatType != "direct" || !events[0].Flavored || events[0].TotalTokens != 42 || events[0].RequestID == "" {
		t.Fatalf("unexpected journal: %+v", events)
	}
}

func TestDirectMessage_AlwaysAnsweredWithoutMarker(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "ok"}
	b, resp := newTestBot(api, client, nil)

	for _, text := range []string{"hello", "/t hi", "what is grace?"} {
		b.handleIncomingMessage(context.Background(), privateMsg(text))
	}
	if got := len(api.texts()); got != 3 {
		t.Fatalf("expected 3 replies, got %d", got)
	}
	if resp.Count() != 3 {
		t.Fatalf("counter: want 3, got %d", resp.Count())
	}
}

func TestGroupMessage_WithoutMarkerIsIgnored(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "ok"}
	b, resp := newTestBot(api, client, nil)
	for i := 0; i < 3; i++ {
		b.handleIncomingMessage(context.Background(), privateMsg("warm up"))
	}
	before := len(api.texts())

	b.handleIncomingMessage(context.Background(), groupMsg("hey there"))

	if len(api.texts()) != before {
		t.Fatalf("group message without marker must not be answered")
	}
	if resp.Count() != 3 {
		t.Fatalf("counter: want 3, got %d", resp.Count())
	}
}

func TestGroupMessage_WithMarkerAtIndexFour(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "Grace is the unearned favor of God."}
	b, resp := newTestBot(api, client, nil)
	for i := 0; i < 4; i++ {
		b.handleIncomingMessage(context.Background(), privateMsg("warm up"))
	}

	b.handleIncomingMessage(context.Background(), withCommand(groupMsg("/T what is grace?")))

	if resp.Count() != 5 {
		t.Fatalf("counter: want 5, got %d", resp.Count())
	}
	last := api.sent[len(api.sent)-1]
	if last.Text != "Grace is the unearned favor of God." {
		t.Fatalf("index 4 reply must not be flavored: %q", last.Text)
	}
	if last.ReplyToMessageID != 7 || last.ChatID != -100 {
		t.Fatalf("group reply should quote the trigger: %+v", last.BaseChat)
	}
	if !strings.HasSuffix(client.prompts[len(client.prompts)-1], "Question: what is grace?") {
		t.Fatalf("marker not stripped: %q", client.prompts[len(client.prompts)-1])
	}
}

func TestGroupMessage_CommandWithBotUsername(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "ok"}
	b, _ := newTestBot(api, client, nil)

	b.handleIncomingMessage(context.Background(), withCommand(groupMsg("/t@nephbot who was Enoch?")))
	b.handleIncomingMessage(context.Background(), withCommand(groupMsg("/start@otherbot")))
	b.handleIncomingMessage(context.Background(), withCommand(groupMsg("/start@nephbot")))

	sent := api.texts()
	if len(sent) != 2 {
		t.Fatalf("expected answer and welcome only, got %+v", sent)
	}
	if len(client.prompts) != 1 || !strings.HasSuffix(client.prompts[0], "Question: who was Enoch?") {
		t.Fatalf("unexpected prompts: %+v", client.prompts)
	}
	if !strings.Contains(sent[1], "bound Nephilim") {
		t.Fatalf("welcome missing: %q", sent[1])
	}
}

func TestCommandForAnotherBot_RoutedAsText(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "Enoch walked with God."}
	b, resp := newTestBot(api, client, nil)

	b.handleIncomingMessage(context.Background(), withCommand(privateMsg("/t@otherbot who was Enoch?")))
	b.handleIncomingMessage(context.Background(), withCommand(groupMsg("/t@otherbot who was Enoch?")))
	b.handleIncomingMessage(context.Background(), withCommand(privateMsg("/start@otherbot")))

	if resp.Count() != 3 {
		t.Fatalf("counter: want 3, got %d", resp.Count())
	}
	sent := api.texts()
	if len(sent) != 3 {
		t.Fatalf("expected 3 replies, got %+v", sent)
	}
	if !strings.HasSuffix(sent[1], "Enoch walked with God.") || api.sent[1].ReplyToMessageID != 7 {
		t.Fatalf("group message with marker not answered: %+v", api.sent[1])
	}
	if !strings.HasSuffix(client.prompts[1], "Question: @otherbot who was Enoch?") {
		t.Fatalf("unexpected prompt: %q", client.prompts[1])
	}
	if strings.Contains(sent[2], "bound Nephilim") {
		t.Fatalf("/start for another bot must not greet")
	}
}

func TestCompletionFailure_SendsApologyWithFlavor(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{err: errors.New("rate limited")}
	rec := storage.NewMemoryRecorder(10)
	b, _ := newTestBot(api, client, rec)

	b.handleIncomingMessage(context.Background(), privateMsg("hello"))
	b.handleIncomingMessage(context.Background(), privateMsg("hello again"))

	sent := api.texts()
	if len(sent) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(sent))
	}
	if !isFlavored(sent[0]) || !strings.HasSuffix(sent[0], "\n\n"+persona.DefaultApology) {
		t.Fatalf("first failure should be flavor + apology: %q", sent[0])
	}
	if sent[1] != persona.DefaultApology {
		t.Fatalf("second failure should be the bare apology: %q", sent[1])
	}
	events, _ := rec.LoadInteractions()
	if len(events) != 2 || !events[0].Failed || !strings.Contains(events[0].Error, "rate limited") {
		t.Fatalf("failure not journaled: %+v", events)
	}
}

func TestMalformedMessages_AreDropped(t *testing.T) {
	api := &fakeAPI{}
	client := &fakeLLM{content: "ok"}
	b, resp := newTestBot(api, client, nil)

	b.handleIncomingMessage(context.Background(), privateMsg(""))
	b.handleIncomingMessage(context.Background(), &tgbotapi.Message{Text: "/t orphan"})
	b.handleIncomingMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5, Type: "channel"}, Text: "/t news"})

	if len(api.texts()) != 0 || resp.Count() != 0 {
		t.Fatalf("malformed messages must be dropped silently")
	}
}

func TestRun_ReturnsTransportFault(t *testing.T) {
	api := &fakeAPI{
		batches: [][]tgbotapi.Update{
			{{UpdateID: 10, Message: privateMsg("hello")}},
			{{UpdateID: 11}, {UpdateID: 12, Message: groupMsg("ignored")}},
		},
		pollErr: errors.New("connection reset by peer"),
	}
	client := &fakeLLM{content: "ok"}
	b, _ := newTestBot(api, client, nil)

	err := b.Run(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport fault, got %v", err)
	}
	offsets := api.pollOffsets()
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 11 || offsets[2] != 13 {
		t.Fatalf("unexpected offsets: %+v", offsets)
	}
	b.wg.Wait()
	if got := api.texts(); len(got) != 1 {
		t.Fatalf("expected 1 reply, got %+v", got)
	}
	if len(api.requests) != 1 {
		t.Fatalf("commands not registered")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{onPoll: cancel, pollErr: errors.New("request canceled")}
	b, _ := newTestBot(api, &fakeLLM{}, nil)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func runAsync(ctx context.Context, b *Bot) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return done
}

func TestRun_TransportFaultDoesNotWaitForSlowCompletion(t *testing.T) {
	api := &fakeAPI{
		batches: [][]tgbotapi.Update{{{UpdateID: 1, Message: privateMsg("hello")}}},
		pollErr: errors.New("connection reset by peer"),
	}
	client := &fakeLLM{content: "late answer", block: make(chan struct{})}
	b, _ := newTestBot(api, client, nil)

	select {
	case err := <-runAsync(context.Background(), b):
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected transport fault, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on an in-flight completion after a transport fault")
	}

	close(client.block)
	b.wg.Wait()
	if got := api.texts(); len(got) != 1 || !strings.HasSuffix(got[0], "late answer") {
		t.Fatalf("in-flight reply lost: %+v", got)
	}
}

func TestRun_ShutdownWaitIsBounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{
		batches: [][]tgbotapi.Update{{{UpdateID: 1, Message: privateMsg("hello")}}},
		hang:    make(chan struct{}),
	}
	defer close(api.hang)
	client := &fakeLLM{content: "ok", block: make(chan struct{})}
	defer close(client.block)
	b, _ := newTestBot(api, client, nil)
	b.drainWait = 50 * time.Millisecond

	done := runAsync(ctx, b)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited past the drain timeout")
	}
}

func TestRun_CancelInterruptsLongPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{hang: make(chan struct{})}
	defer close(api.hang)
	b, _ := newTestBot(api, &fakeLLM{}, nil)

	done := runAsync(ctx, b)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting on the long poll after cancellation")
	}
}

func TestRegisterCommands(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(api, &fakeLLM{}, nil)
	b.registerCommands()

	cfg, ok := api.requests[0].(tgbotapi.SetMyCommandsConfig)
	if !ok {
		t.Fatalf("unexpected request: %T", api.requests[0])
	}
	if len(cfg.Commands) != 2 || cfg.Commands[0].Command != "start" || cfg.Commands[1].Command != "t" {
		t.Fatalf("unexpected commands: %+v", cfg.Commands)
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %+v", got)
	}

	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(text, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 6)+"\n" || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("unexpected split: %q", got)
	}

	long := strings.Repeat("ж", 25)
	got = splitText(long, 10)
	if len(got) != 3 || strings.Join(got, "") != long {
		t.Fatalf("unexpected split: %q", got)
	}
}
