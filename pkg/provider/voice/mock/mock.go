// Package mock provides test doubles for the voice package interfaces.
//
// Channel records Start/Stop/SendAudio calls and lets the test drive the event
// stream with Emit. Events are buffered; Close ends the stream the way a real
// channel does when the call is over.
//
//	ch := mock.NewChannel()
//	ch.Emit(voice.Event{Kind: voice.EventCallStart})
//	ch.Emit(voice.Event{Kind: voice.EventTranscript, Role: voice.RoleUser, Text: "hi", Final: true})
package mock

import (
	"context"
	"sync"

	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Channel  = (*Channel)(nil)
)

// StartCall records a single invocation of Channel.Start.
type StartCall struct {
	Assistant voice.Assistant
	Variables map[string]string
}

// Channel is a mock implementation of voice.Channel.
type Channel struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// OnStart, if set, runs after Start records its call. Tests use it to
	// emit call-start once the controller has asked for the call.
	OnStart func(c *Channel)

	startCalls []StartCall
	stopCount  int
	sentAudio  [][]byte

	events    chan voice.Event
	audio     chan []byte
	closeOnce sync.Once
}

// NewChannel returns a Channel with buffered event and audio streams.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan voice.Event, 64),
		audio:  make(chan []byte, 64),
	}
}

// Start records the call and returns StartErr.
func (c *Channel) Start(_ context.Context, a voice.Assistant, vars map[string]string) error {
	c.mu.Lock()
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	c.startCalls = append(c.startCalls, StartCall{Assistant: a, Variables: cp})
	err, hook := c.StartErr, c.OnStart
	c.mu.Unlock()
	if err == nil && hook != nil {
		hook(c)
	}
	return err
}

// Stop records the call and returns StopErr. It does not close the event
// stream; use Close for that.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCount++
	return c.StopErr
}

// SendAudio records a copy of chunk.
func (c *Channel) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sentAudio = append(c.sentAudio, cp)
	return nil
}

// Events returns the event stream.
func (c *Channel) Events() <-chan voice.Event { return c.events }

// Audio returns the assistant audio stream.
func (c *Channel) Audio() <-chan []byte { return c.audio }

// Emit queues ev on the event stream.
func (c *Channel) Emit(ev voice.Event) { c.events <- ev }

// EmitAudio queues chunk on the audio stream.
func (c *Channel) EmitAudio(chunk []byte) { c.audio <- chunk }

// Close ends both streams. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.events)
		close(c.audio)
	})
}

// StartCalls returns a copy of the recorded Start calls. Thread-safe.
func (c *Channel) StartCalls() []StartCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StartCall, len(c.startCalls))
	copy(out, c.startCalls)
	return out
}

// StopCount returns the number of Stop calls. Thread-safe.
func (c *Channel) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCount
}

// SentAudio returns the chunks passed to SendAudio. Thread-safe.
func (c *Channel) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sentAudio))
	copy(out, c.sentAudio)
	return out
}

// Provider is a mock implementation of voice.Provider.
type Provider struct {
	mu sync.Mutex

	// Channel is returned by NewChannel. If nil, a fresh Channel is created
	// per call.
	Channel *Channel

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	created []*Channel
}

// NewChannel returns Channel or a new mock channel, and records it.
func (p *Provider) NewChannel() voice.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.Channel
	if ch == nil {
		ch = NewChannel()
	}
	p.created = append(p.created, ch)
	return ch
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Created returns every channel handed out so far. Thread-safe.
func (p *Provider) Created() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Channel, len(p.created))
	copy(out, p.created)
	return out
}
