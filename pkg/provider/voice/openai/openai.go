// Package openai implements voice.Provider over OpenAI's Realtime API.
//
// Each channel holds one WebSocket connection to the Realtime endpoint and
// translates its JSON events into voice events: session.updated becomes
// call-start, the first audio delta of a response becomes speech-start,
// transcription deltas and completions become interim and final transcript
// turns, and function calls become function-invoked. Audio travels as
// base64-encoded PCM16.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Channel  = (*channel)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// readLimit bounds a single server frame. Audio deltas exceed the
	// library's 32 KiB default.
	readLimit = 4 << 20
)

// DefaultVoiceAliases maps persona voice names to Realtime voices.
var DefaultVoiceAliases = map[string]string{
	"sarah": "shimmer",
	"maria": "coral",
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Realtime model used for calls.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoiceAliases replaces [DefaultVoiceAliases]. Voices without an alias
// are passed through unchanged.
func WithVoiceAliases(aliases map[string]string) Option {
	return func(p *Provider) { p.aliases = aliases }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements voice.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	aliases map[string]string
}

// New creates a new Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		aliases: DefaultVoiceAliases,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "openai-realtime/<model>".
func (p *Provider) Name() string { return "openai-realtime/" + p.model }

// NewChannel returns an unstarted channel.
func (p *Provider) NewChannel() voice.Channel {
	return &channel{
		p:      p,
		events: make(chan voice.Event, 64),
		audio:  make(chan []byte, 64),
		stopCh: make(chan struct{}),
	}
}

func (p *Provider) voiceFor(name string) string {
	if v, ok := p.aliases[strings.ToLower(name)]; ok {
		return v
	}
	return name
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Tools                   []oaiTool            `json:"tools,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// *.delta events
	Delta string `json:"delta,omitempty"`

	// input transcription completed / response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	p      *Provider
	events chan voice.Event
	audio  chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	finishOnce sync.Once

	// Owned by the receive loop.
	endCallTool string
	callStarted bool
	speaking    bool
	assistant   strings.Builder
}

// Start dials the Realtime endpoint, configures the session and speaks the
// first message.
func (c *channel) Start(ctx context.Context, a voice.Assistant, vars map[string]string) error {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return errors.New("openai: channel stopped")
	case c.started:
		c.mu.Unlock()
		return errors.New("openai: channel already started")
	}
	c.started = true
	c.mu.Unlock()

	wsURL := fmt.Sprintf("%s?model=%s", c.p.baseURL, c.p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		c.finish()
		return fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		conn.CloseNow()
		c.finish()
		return errors.New("openai: channel stopped during start")
	}
	c.conn, c.ctx, c.cancel = conn, sessCtx, cancel
	c.mu.Unlock()

	if err := c.configure(a, vars); err != nil {
		_ = c.Stop()
		c.finish()
		return fmt.Errorf("openai: session update: %w", err)
	}

	c.endCallTool = a.EndCallTool
	go c.receiveLoop(a.MaxDuration)
	return nil
}

func (c *channel) configure(a voice.Assistant, vars map[string]string) error {
	params := sessionParams{
		Voice:             c.p.voiceFor(a.Voice),
		Instructions:      voice.RenderVariables(a.Instructions, vars),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if a.TranscriberModel != "" {
		params.InputAudioTranscription = &transcriptionParams{
			Model:    a.TranscriberModel,
			Language: a.TranscriberLanguage,
		}
	}
	for _, t := range a.Tools {
		params.Tools = append(params.Tools, oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if err := c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		return err
	}

	if first := voice.RenderVariables(a.FirstMessage, vars); first != "" {
		return c.writeJSON(responseCreateMessage{
			Type: "response.create",
			Response: &responseParams{
				Instructions: fmt.Sprintf("Start the conversation by saying exactly: %q", first),
			},
		})
	}
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads server events until the call ends. It owns events and
// audio and closes both on exit.
func (c *channel) receiveLoop(maxDuration time.Duration) {
	defer c.finish()

	readCtx := c.ctx
	if maxDuration > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(c.ctx, maxDuration)
		defer cancel()
	}

	for {
		_, data, err := c.conn.Read(readCtx)
		if err != nil {
			if c.ctx.Err() == nil && readCtx.Err() == nil {
				if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					c.emit(voice.Event{Kind: voice.EventError, Err: fmt.Errorf("openai: read: %w", err)})
				}
			}
			c.endSpeech()
			c.emit(voice.Event{Kind: voice.EventCallEnd})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if ended := c.handleServerEvent(&evt); ended {
			c.endSpeech()
			c.emit(voice.Event{Kind: voice.EventCallEnd})
			return
		}
	}
}

// handleServerEvent translates one server event. It reports true when the
// call ended normally.
func (c *channel) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.updated":
		if !c.callStarted {
			c.callStarted = true
			c.emit(voice.Event{Kind: voice.EventCallStart})
		}

	case "response.audio.delta":
		chunk, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(chunk) == 0 {
			return false
		}
		if !c.speaking {
			c.speaking = true
			c.emit(voice.Event{Kind: voice.EventSpeechStart})
		}
		select {
		case c.audio <- chunk:
		case <-c.stopCh:
		}

	case "response.audio.done", "response.done":
		c.endSpeech()

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return false
		}
		c.assistant.WriteString(evt.Delta)
		c.emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleAssistant, Text: c.assistant.String()})

	case "response.audio_transcript.done":
		text := strings.TrimSpace(evt.Transcript)
		if text == "" {
			text = strings.TrimSpace(c.assistant.String())
		}
		c.assistant.Reset()
		if text != "" {
			c.emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleAssistant, Text: text, Final: true})
		}

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta != "" {
			c.emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleUser, Text: evt.Delta})
		}

	case "conversation.item.input_audio_transcription.completed":
		if text := strings.TrimSpace(evt.Transcript); text != "" {
			c.emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleUser, Text: text, Final: true})
		}

	case "response.function_call_arguments.done":
		return c.handleFunctionCall(evt)

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.emit(voice.Event{Kind: voice.EventError, Err: fmt.Errorf("openai: %s", msg)})
	}
	return false
}

func (c *channel) handleFunctionCall(evt *serverEvent) bool {
	if c.endCallTool != "" && evt.Name == c.endCallTool {
		return true
	}

	args := json.RawMessage(evt.Arguments)
	if !json.Valid(args) {
		args = json.RawMessage("{}")
	}
	c.emit(voice.Event{Kind: voice.EventFunctionInvoked, Name: evt.Name, Args: args})

	// Acknowledge the call so the model can continue the turn.
	_ = c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: `{"ok":true}`,
		},
	})
	_ = c.writeJSON(responseCreateMessage{Type: "response.create"})
	return false
}

func (c *channel) endSpeech() {
	if c.speaking {
		c.speaking = false
		c.emit(voice.Event{Kind: voice.EventSpeechEnd})
	}
}

// emit delivers ev unless the owner has stopped the channel.
func (c *channel) emit(ev voice.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
	case <-c.stopCh:
	}
}

// finish releases the connection and closes the output channels once.
func (c *channel) finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		conn, cancel := c.conn, c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.CloseNow()
		}
		close(c.events)
		close(c.audio)
	})
}

// ── voice.Channel methods ──────────────────────────────────────────────────────

// Stop ends the call. Idempotent.
func (c *channel) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	conn, cancel, started := c.conn, c.cancel, c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "call ended")
	}
	if !started {
		c.finish()
	}
	return nil
}

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (c *channel) SendAudio(chunk []byte) error {
	c.mu.Lock()
	live := c.conn != nil && !c.stopped
	c.mu.Unlock()
	if !live {
		return errors.New("openai: channel not live")
	}
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Events returns the event stream.
func (c *channel) Events() <-chan voice.Event { return c.events }

// Audio returns the channel on which assistant audio arrives.
func (c *channel) Audio() <-chan []byte { return c.audio }
