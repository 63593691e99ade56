package bridge

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Options configures a Controller. Values map one-to-one onto the process
// configuration; the bridge core never reads the environment itself.
type Options struct {
	// Endpoint is the realtime base URL, e.g. wss://api.openai.com/v1/realtime.
	Endpoint     string
	Model        string
	APIKey       string
	Organization string
	Project      string

	Voice        string
	AudioFormat  string
	Instructions string

	// EnableTools controls whether the tool schema set is advertised.
	EnableTools bool
	Debug       bool
}

// Overrides carries optional per-call configuration.
type Overrides struct {
	Instructions string
	Voice        string
}

// Controller owns the per-call state machine: it registers sessions,
// drives connect/translate/teardown, and exposes the operations consumed
// by the telephony webhook and HTTP API layers.
type Controller struct {
	registry  *Registry
	connector *Connector
	tools     ToolDispatcher
	opts      Options
	log       *slog.Logger
	clock     func() time.Time

	ovMu      sync.Mutex
	pendingOv map[string]Overrides
}

func NewController(registry *Registry, connector *Connector, tools ToolDispatcher, opts Options, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		registry:  registry,
		connector: connector,
		tools:     tools,
		opts:      opts,
		log:       log,
		clock:     time.Now,
		pendingOv: make(map[string]Overrides),
	}
}

// SetOverrides stashes per-call configuration for a call that has not
// reached Accept yet; outbound calls are placed before the provider
// webhook starts the session.
func (c *Controller) SetOverrides(callID string, ov Overrides) {
	c.ovMu.Lock()
	c.pendingOv[callID] = ov
	c.ovMu.Unlock()
}

func (c *Controller) takeOverrides(callID string) (Overrides, bool) {
	c.ovMu.Lock()
	defer c.ovMu.Unlock()
	ov, ok := c.pendingOv[callID]
	if ok {
		delete(c.pendingOv, callID)
	}
	return ov, ok
}

// Accept registers a session for callID and starts its goroutine:
// connect with retry, send the session configuration, then consume inbound
// events until the link ends or the session is terminated. Duplicate
// notifications for a live callID are rejected with ErrAlreadyExists.
func (c *Controller) Accept(callID string, metadata map[string]string, ov Overrides) error {
	s, err := c.registry.Create(callID, metadata)
	if err != nil {
		return err
	}
	if stashed, ok := c.takeOverrides(callID); ok {
		if ov.Instructions == "" {
			ov.Instructions = stashed.Instructions
		}
		if ov.Voice == "" {
			ov.Voice = stashed.Voice
		}
	}
	s.mu.Lock()
	s.instructions = ov.Instructions
	s.voice = ov.Voice
	s.mu.Unlock()

	c.log.Info("call session accepted", "call_sid", callID)
	go c.runSession(s)
	return nil
}

// Terminate forces the session to Closed: it cancels any in-progress
// connect retry, closes the link, stamps endedAt once and removes the
// session from the registry. Safe to call repeatedly and on unknown ids.
func (c *Controller) Terminate(callID string) {
	c.takeOverrides(callID)
	s, err := c.registry.Get(callID)
	if err != nil {
		return
	}
	c.finish(s)
}

// Describe returns a snapshot or ErrSessionNotFound.
func (c *Controller) Describe(callID string) (Snapshot, error) {
	s, err := c.registry.Get(callID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// ListActive returns snapshots of every registered session.
func (c *Controller) ListActive() []Snapshot {
	return c.registry.List()
}

// ActiveCount reports how many sessions are registered.
func (c *Controller) ActiveCount() int {
	return c.registry.Len()
}

// Shutdown terminates every live session; used on process shutdown.
func (c *Controller) Shutdown() {
	for _, snap := range c.registry.List() {
		c.Terminate(snap.CallID)
	}
}

func (c *Controller) runSession(s *Session) {
	defer close(s.done)
	log := c.log.With("call_sid", s.CallID())
	ctx := s.Context()

	if !s.setState(StateConnecting) {
		c.finish(s)
		return
	}
	s.recordEvent("connecting", c.clock().UTC())

	link, err := c.connector.Connect(ctx, c.realtimeURL(), c.realtimeHeader())
	if err != nil {
		if errors.Is(err, ErrLinkUnavailable) {
			// Exhausted the schedule: Erroring, then cleanup.
			s.recordError(err.Error())
		}
		log.Warn("realtime connect failed", "err", err)
		c.finish(s)
		return
	}
	if !s.attachLink(link, c.clock().UTC()) {
		// Terminated while connecting.
		_ = link.Close()
		c.finish(s)
		return
	}
	s.recordEvent("link_connected", c.clock().UTC())

	tr := &translator{
		session:    s,
		link:       link,
		tools:      c.tools,
		config:     c.sessionConfig(s),
		log:        log,
		debug:      c.opts.Debug,
		clock:      c.clock,
		onTransfer: c.Terminate,
	}
	if err := tr.sendSessionConfig(ctx); err != nil {
		log.Error("session config send failed", "err", err)
		s.recordError(err.Error())
		c.finish(s)
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.finish(s)
			return
		case ev, ok := <-link.Events():
			if !ok {
				if cerr := link.CloseErr(); cerr != nil {
					s.recordError(cerr.Error())
					log.Warn("realtime link failed", "err", cerr)
				} else {
					log.Info("realtime link closed")
				}
				c.finish(s)
				return
			}
			if err := tr.handleEvent(ctx, ev); err != nil {
				c.finish(s)
				return
			}
		}
	}
}

// finish performs the single Closed transition: close the link, cancel
// the session context and drop the registry entry. Every teardown path
// (terminate, link close, error, retry exhaustion) funnels through here,
// which is what makes Terminate idempotent.
func (c *Controller) finish(s *Session) {
	link, first := s.close(c.clock().UTC())
	s.cancel()
	if link != nil {
		_ = link.Close()
		// The reader may still be parked on a full event buffer; drain
		// so it can observe the close and exit.
		go func() {
			for range link.Events() {
			}
		}()
	}
	if first {
		s.recordEvent("session_closed", c.clock().UTC())
		c.registry.Remove(s.CallID(), s)
		snap := s.Snapshot()
		c.log.Info("call session closed",
			"call_sid", s.CallID(),
			"duration_ms", snap.EndedAt.Sub(snap.StartedAt).Milliseconds(),
			"total_tokens", snap.TotalTokens,
			"event_count", snap.EventCount,
		)
	}
}

func (c *Controller) realtimeURL() string {
	return c.opts.Endpoint + "?model=" + url.QueryEscape(c.opts.Model)
}

func (c *Controller) realtimeHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.opts.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")
	if c.opts.Organization != "" {
		h.Set("OpenAI-Organization", c.opts.Organization)
	}
	if c.opts.Project != "" {
		h.Set("OpenAI-Project", c.opts.Project)
	}
	return h
}

// sessionConfig builds the static per-call session.update payload from
// process defaults plus the call's overrides.
func (c *Controller) sessionConfig(s *Session) SessionConfig {
	s.mu.Lock()
	instructions := s.instructions
	voice := s.voice
	s.mu.Unlock()
	if instructions == "" {
		instructions = c.opts.Instructions
	}
	if voice == "" {
		voice = c.opts.Voice
	}

	tools := []ToolSchema{}
	if c.opts.EnableTools {
		tools = DefaultToolSchemas()
	}
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            instructions,
		Voice:                   voice,
		InputAudioFormat:        c.opts.AudioFormat,
		OutputAudioFormat:       c.opts.AudioFormat,
		InputAudioTranscription: &TranscriptionConfig{Model: "whisper-1"},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
		},
		Tools:                   tools,
		ToolChoice:              "auto",
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}
