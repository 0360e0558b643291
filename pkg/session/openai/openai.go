// Package openai implements the session.Client interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 chunks in both directions. Server
// voice-activity detection is disabled at session setup; turn boundaries are
// driven locally through [session.Handle.CommitTurn], which sends the
// explicit input_audio_buffer.commit marker followed by response.create.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/session"
)

// Compile-time assertions that Client and handle satisfy the session
// interfaces.
var _ session.Client = (*Client)(nil)
var _ session.Handle = (*handle)(nil)

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// sendQueueCapacity bounds the outbound audio queue. 128 frames is
	// about 2.5 s of speech; beyond that the link is not keeping up and
	// the oldest audio is sacrificed.
	sendQueueCapacity = 128

	// closeTimeout bounds the graceful WebSocket close handshake.
	closeTimeout = 2 * time.Second

	// handshakeTimeout bounds the wait for the server's session.created
	// acknowledgement after dialing.
	handshakeTimeout = 10 * time.Second
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithLogger sets the logger used for session lifecycle and protocol
// messages. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// ── Client ────────────────────────────────────────────────────────────────────

// Client implements session.Client for OpenAI's Realtime API.
type Client struct {
	apiKey  string
	baseURL string
	log     *slog.Logger
}

// New creates a Client with the given API key and options. An empty key is
// accepted here and rejected at Connect, so construction never fails.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a new Realtime session. A missing API key fails
// immediately with a [*session.AuthError]; a rejected handshake is
// classified by HTTP status.
func (c *Client) Connect(ctx context.Context, cfg session.Config) (session.Handle, error) {
	if c.apiKey == "" {
		return nil, &session.AuthError{Msg: "no API key configured"}
	}
	cfg = cfg.WithDefaults()

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, cfg.Model)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &session.AuthError{Status: resp.StatusCode, Msg: "credentials rejected"}
		}
		return nil, &session.NetworkError{Op: "dial", Err: err}
	}

	hCtx, hCancel := context.WithCancel(context.Background())
	h := &handle{
		conn:   conn,
		log:    c.log,
		events: make(chan session.Event, 64),
		sendCh: make(chan outbound, sendQueueCapacity),
		ctx:    hCtx,
		cancel: hCancel,
	}

	if err := h.sendSessionUpdate(cfg); err != nil {
		hCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, &session.NetworkError{Op: "session update", Err: err}
	}

	if err := h.awaitSessionCreated(ctx); err != nil {
		hCancel()
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}

	go h.receiveLoop()
	go h.sendLoop()

	c.log.Info("realtime session established",
		"model", cfg.Model, "voice", cfg.Voice, "session_id", h.SessionID())
	return h, nil
}

// awaitSessionCreated blocks until the server acknowledges the new session
// or rejects it. The Realtime server answers every accepted connection with
// session.created; a rejection of the session parameters arrives as an
// error event instead. Holding Connect open for that verdict turns an
// invalid voice or model into a connect-time *session.ProtocolError rather
// than a failure halfway into the conversation.
func (h *handle) awaitSessionCreated(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	for {
		_, data, err := h.conn.Read(ctx)
		if err != nil {
			return &session.NetworkError{Op: "handshake", Err: err}
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			h.log.Warn("unparseable handshake event skipped", "error", err)
			continue
		}
		switch evt.Type {
		case "session.created":
			if evt.Session != nil {
				h.mu.Lock()
				h.sessionID = evt.Session.ID
				h.mu.Unlock()
			}
			return nil
		case "error":
			msg := "session rejected"
			code := ""
			if evt.Error != nil {
				if evt.Error.Message != "" {
					msg = evt.Error.Message
				}
				code = evt.Error.Code
			}
			return &session.ProtocolError{Code: code, Msg: msg}
		}
	}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	// EventID is a client-generated ID. The server echoes it in error
	// payloads, which makes protocol failures traceable in logs.
	EventID string        `json:"event_id"`
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string `json:"modalities"`
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`

	// TurnDetection is always present and null: server VAD stays off so
	// turn boundaries remain under local control.
	TurnDetection any `json:"turn_detection"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverResponse struct {
	Status string `json:"status,omitempty"`
}

type serverSession struct {
	ID string `json:"id,omitempty"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// input_audio_buffer.committed
	ItemID string `json:"item_id,omitempty"`

	// response.done
	Response *serverResponse `json:"response,omitempty"`

	// session.created
	Session *serverSession `json:"session,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── handle ────────────────────────────────────────────────────────────────────

// outbound is one queued WebSocket message. Control messages (commit,
// response.create, response.cancel) must never be dropped; audio may be.
type outbound struct {
	payload []byte
	control bool
}

type handle struct {
	conn *websocket.Conn
	log  *slog.Logger

	events chan session.Event
	sendCh chan outbound

	mu        sync.Mutex
	errVal    error
	closed    bool
	sessionID string
	dropped   uint64 // audio frames discarded since last OverflowEvent
	seq       uint64 // next inbound frame sequence
	elapsed   time.Duration
	txText    string // accumulates response.audio_transcript.delta

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, and audio formats, and
// disables server-side turn detection. Written directly, before the send
// loop starts.
func (h *handle) sendSessionUpdate(cfg session.Config) error {
	msg := sessionUpdateMessage{
		EventID: uuid.NewString(),
		Type:    "session.update",
		Session: sessionParams{
			Modalities:        []string{"audio", "text"},
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     nil,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal session.update: %w", err)
	}
	return h.conn.Write(h.ctx, websocket.MessageText, data)
}

// sendLoop serializes all writes onto the connection.
func (h *handle) sendLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.sendCh:
			if err := h.conn.Write(h.ctx, websocket.MessageText, msg.payload); err != nil {
				if h.ctx.Err() == nil {
					h.fail(&session.NetworkError{Op: "write", Err: err})
				}
				return
			}
		}
	}
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the events channel and closes it when it exits.
func (h *handle) receiveLoop() {
	defer h.closeEvents()

	for {
		_, data, err := h.conn.Read(h.ctx)
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if closed || h.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			h.setErr(&session.NetworkError{Op: "read", Err: err})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			h.log.Warn("unparseable server event skipped", "error", err)
			continue
		}
		h.handleServerEvent(&evt)
	}
}

func (h *handle) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		// Normally consumed during the connect handshake; tolerated here
		// in case a server repeats it.
		if evt.Session != nil {
			h.mu.Lock()
			h.sessionID = evt.Session.ID
			h.mu.Unlock()
		}

	case "input_audio_buffer.committed":
		h.emit(session.TurnCommittedEvent{ItemID: evt.ItemID})

	case "response.audio.delta":
		h.handleAudioDelta(evt.Delta)

	case "response.audio_transcript.delta":
		h.mu.Lock()
		h.txText += evt.Delta
		h.mu.Unlock()

	case "response.audio_transcript.done":
		h.mu.Lock()
		text := h.txText
		h.txText = ""
		h.mu.Unlock()
		if text != "" {
			h.emit(session.TranscriptEvent{Role: "assistant", Text: text})
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			h.emit(session.TranscriptEvent{Role: "user", Text: evt.Transcript})
		}

	case "response.done":
		status := "completed"
		if evt.Response != nil && evt.Response.Status != "" {
			status = evt.Response.Status
		}
		h.emit(session.ResponseCompleteEvent{Status: status})

	case "error":
		h.handleErrorEvent(evt)
	}
}

// handleAudioDelta decodes a base64 PCM chunk and emits it as one sequenced
// frame. Delta sizes are whatever the server chose; downstream reordering
// only needs the sequence numbers to be monotonic.
func (h *handle) handleAudioDelta(delta string) {
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil || len(pcm) == 0 {
		return
	}

	h.mu.Lock()
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Seq:        h.seq,
		Timestamp:  h.elapsed,
	}
	h.seq++
	h.elapsed += time.Duration(len(pcm)/2) * time.Second / audio.SampleRate
	h.mu.Unlock()

	h.emit(session.AudioEvent{Frame: frame})
}

// handleErrorEvent classifies a server error event. Cancellation races are
// expected during barge-in and ignored; everything else surfaces as a
// non-fatal ErrorEvent carrying a ProtocolError.
func (h *handle) handleErrorEvent(evt *serverEvent) {
	msg := "unknown error"
	code := ""
	if evt.Error != nil {
		if evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		code = evt.Error.Code
	}
	if code == "response_cancel_not_active" {
		// Interrupt raced with the response finishing on its own.
		h.log.Debug("cancel raced with response completion")
		return
	}
	h.log.Warn("server error event", "code", code, "message", msg)
	h.emit(session.ErrorEvent{Err: &session.ProtocolError{Code: code, Msg: msg}})
}

// emit delivers an event to the consumer, giving up only when the session
// is torn down.
func (h *handle) emit(ev session.Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

// fail records err and tears the session down so both loops exit.
func (h *handle) fail(err error) {
	h.setErr(err)
	h.cancel()
	h.conn.Close(websocket.StatusInternalError, "session failed")
}

func (h *handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.errVal == nil {
		h.errVal = err
	}
}

func (h *handle) closeEvents() {
	h.closeOnce.Do(func() {
		close(h.events)
	})
}

// ── session.Handle methods ────────────────────────────────────────────────────

// SendAudio queues one captured frame. When the queue is full the oldest
// audio message is discarded and the drop is reported on the event channel,
// so a slow link degrades the conversation instead of stalling capture.
func (h *handle) SendAudio(frame audio.AudioFrame) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	h.mu.Unlock()

	payload, err := json.Marshal(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return fmt.Errorf("openai: marshal audio append: %w", err)
	}

	msg := outbound{payload: payload}
	select {
	case h.sendCh <- msg:
		return nil
	default:
	}

	// Queue full: evict the oldest audio message to make room. Control
	// messages are never evicted.
	select {
	case old := <-h.sendCh:
		if old.control {
			// Put it back and drop the new frame instead.
			h.sendCh <- old
			h.recordDrop()
			return nil
		}
	default:
	}
	select {
	case h.sendCh <- msg:
	default:
		h.recordDrop()
		return nil
	}
	h.recordDrop()
	return nil
}

// recordDrop counts one discarded frame and surfaces the running total as
// an OverflowEvent without blocking.
func (h *handle) recordDrop() {
	h.mu.Lock()
	h.dropped++
	dropped := h.dropped
	h.mu.Unlock()

	select {
	case h.events <- session.OverflowEvent{Dropped: dropped}:
		h.mu.Lock()
		h.dropped = 0
		h.mu.Unlock()
	default:
	}
}

// CommitTurn sends the end-of-turn marker followed by a response request.
// Both are control messages and queue behind any remaining audio.
func (h *handle) CommitTurn() error {
	if err := h.queueControl(controlMessage("input_audio_buffer.commit")); err != nil {
		return err
	}
	return h.queueControl(controlMessage("response.create"))
}

// RequestResponse asks the model to speak without committing user audio.
func (h *handle) RequestResponse() error {
	return h.queueControl(controlMessage("response.create"))
}

// Interrupt asks the server to stop the in-flight response.
func (h *handle) Interrupt() error {
	return h.queueControl(controlMessage("response.cancel"))
}

// controlMessage builds a typed control event with a fresh client event ID.
func controlMessage(typ string) map[string]string {
	return map[string]string{
		"event_id": uuid.NewString(),
		"type":     typ,
	}
}

// queueControl marshals v and queues it as a non-droppable message,
// blocking if the queue is momentarily full.
func (h *handle) queueControl(v any) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	h.mu.Unlock()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal control message: %w", err)
	}
	select {
	case h.sendCh <- outbound{payload: payload, control: true}:
		return nil
	case <-h.ctx.Done():
		return fmt.Errorf("openai: session closed")
	}
}

// Events returns the server event stream.
func (h *handle) Events() <-chan session.Event { return h.events }

// Err returns the first non-nil error that terminated the session.
func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errVal
}

// SessionID returns the server-assigned session identifier, captured from
// session.created during the connect handshake.
func (h *handle) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Close terminates the session and releases all resources. Idempotent.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	// Attempt a graceful close before cancelling the loops; Read returns
	// once the peer acknowledges, and the deadline keeps a dead peer from
	// stalling shutdown.
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.conn.Close(websocket.StatusNormalClosure, "session closed")
	}()
	select {
	case <-done:
	case <-closeCtx.Done():
	}

	h.cancel()
	h.log.Debug("realtime session closed")
	return nil
}
