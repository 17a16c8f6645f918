// Package relay bridges a connected browser's speech peripherals to the
// voice engine over a WebSocket. The browser performs recognition and
// synthesis and streams lifecycle reports up; the relay translates them
// into adapter hooks and turns engine commands into downstream frames.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nsanthan/intervox/backend/voice"
)

// Frame is the wire format in both directions.
//
// Upstream types: "capabilities", "transcript", "listening-started",
// "listening-ended", "speech-started", "speech-ended", "speech-error",
// "stop".
// Downstream types: "listen-start", "listen-stop", "speak", "cancel-speech",
// "audio", "event".
type Frame struct {
	Type        string          `json:"type"`
	Content     string          `json:"content,omitempty"`
	Error       string          `json:"error,omitempty"`
	Recognition bool            `json:"recognition,omitempty"`
	Synthesis   bool            `json:"synthesis,omitempty"`
	Microphone  bool            `json:"microphone,omitempty"`
	Event       string          `json:"event,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	AudioData   []byte          `json:"audio_data,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
}

// Synthesizer produces spoken audio server-side for clients whose browser
// cannot synthesize locally.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Relay is a voice.SpeechAdapter backed by one WebSocket client.
type Relay struct {
	conn      *websocket.Conn
	send      chan []byte
	synth     Synthesizer
	SessionID string
	UserID    string

	mu        sync.Mutex
	hooks     voice.Hooks
	caps      voice.Capabilities
	capsReady chan struct{}
	capsOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func New(conn *websocket.Conn, userID string, synth Synthesizer) *Relay {
	return &Relay{
		conn:      conn,
		send:      make(chan []byte, 256),
		synth:     synth,
		SessionID: uuid.New().String(),
		UserID:    userID,
		capsReady: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Bind installs the engine's hooks. Must happen before ReadPump starts.
func (r *Relay) Bind(hooks voice.Hooks) {
	r.mu.Lock()
	r.hooks = hooks
	r.mu.Unlock()
}

// Capabilities waits for the client's capability report, which the browser
// sends as its first frame. A context deadline bounds the wait; on timeout
// the zero value is returned and the engine refuses to start.
func (r *Relay) Capabilities(ctx context.Context) voice.Capabilities {
	select {
	case <-r.capsReady:
	case <-r.closed:
	case <-ctx.Done():
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caps
}

func (r *Relay) StartListening() { r.sendFrame(Frame{Type: "listen-start"}) }

func (r *Relay) StopListening() { r.sendFrame(Frame{Type: "listen-stop"}) }

// Speak asks the client to voice the text. When the browser lacks local
// synthesis the audio is rendered server-side and shipped down instead; the
// client still reports speech-started and speech-ended around playback.
func (r *Relay) Speak(text string) {
	r.mu.Lock()
	localSynthesis := r.caps.Synthesis
	r.mu.Unlock()

	if localSynthesis || r.synth == nil {
		r.sendFrame(Frame{Type: "speak", Content: text})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	audio, err := r.synth.Synthesize(ctx, text)
	if err != nil {
		slog.Error("Server-side synthesis failed, skipping utterance", "error", err, "session_id", r.SessionID)
		// Report an instant start/end so the turn cycle keeps moving.
		r.invoke(func(h voice.Hooks) {
			if h.OnSpeechStart != nil {
				h.OnSpeechStart()
			}
			if h.OnSpeechEnd != nil {
				h.OnSpeechEnd()
			}
		})
		return
	}
	r.sendFrame(Frame{Type: "audio", Content: text, AudioData: audio, SessionID: r.SessionID})
}

func (r *Relay) CancelSpeech() { r.sendFrame(Frame{Type: "cancel-speech"}) }

// ForwardEvent pushes an engine event down to the client UI.
func (r *Relay) ForwardEvent(evt voice.Event) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		payload = nil
	}
	r.sendFrame(Frame{Type: "event", Event: string(evt.Kind), Payload: payload, SessionID: r.SessionID})
}

func (r *Relay) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return r.conn.Close()
}

// Done is closed when the connection has gone away.
func (r *Relay) Done() <-chan struct{} { return r.closed }

func (r *Relay) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal frame", "error", err, "type", frame.Type)
		return
	}
	select {
	case <-r.closed:
	case r.send <- data:
	default:
		slog.Warn("Client send buffer full, dropping frame", "type", frame.Type, "session_id", r.SessionID)
	}
}

func (r *Relay) invoke(fn func(voice.Hooks)) {
	r.mu.Lock()
	hooks := r.hooks
	r.mu.Unlock()
	fn(hooks)
}

// ReadPump consumes client frames until the connection drops. Frames are
// dispatched inline so transcript ordering is preserved.
func (r *Relay) ReadPump() {
	defer r.Close()

	r.conn.SetReadLimit(1024 * 1024)
	r.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", r.SessionID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Error("Failed to unmarshal frame", "error", err, "session_id", r.SessionID)
			continue
		}
		r.dispatch(frame)
	}
}

func (r *Relay) dispatch(frame Frame) {
	switch frame.Type {
	case "capabilities":
		r.mu.Lock()
		r.caps = voice.Capabilities{
			Recognition: frame.Recognition,
			Synthesis:   frame.Synthesis,
			Microphone:  frame.Microphone,
		}
		r.mu.Unlock()
		r.capsOnce.Do(func() { close(r.capsReady) })
		slog.Info("Client capabilities received",
			"recognition", frame.Recognition, "synthesis", frame.Synthesis,
			"microphone", frame.Microphone, "session_id", r.SessionID)

	case "transcript":
		r.invoke(func(h voice.Hooks) {
			if h.OnTranscript != nil {
				h.OnTranscript(frame.Content)
			}
		})

	case "listening-started":
		r.invoke(func(h voice.Hooks) {
			if h.OnListeningStart != nil {
				h.OnListeningStart()
			}
		})

	case "listening-ended":
		r.invoke(func(h voice.Hooks) {
			if h.OnListeningEnd != nil {
				h.OnListeningEnd()
			}
		})

	case "speech-started":
		r.invoke(func(h voice.Hooks) {
			if h.OnSpeechStart != nil {
				h.OnSpeechStart()
			}
		})

	case "speech-ended":
		r.invoke(func(h voice.Hooks) {
			if h.OnSpeechEnd != nil {
				h.OnSpeechEnd()
			}
		})

	case "speech-error":
		r.handleSpeechError(frame.Error)

	case "stop":
		// Explicit end from the client. Closing the bridge lets the session
		// owner tear down and persist the outcome.
		slog.Info("Client requested session stop", "session_id", r.SessionID)
		r.Close()

	default:
		slog.Warn("Unknown frame type", "type", frame.Type, "session_id", r.SessionID)
	}
}

// handleSpeechError maps browser speech error codes onto the adapter error
// taxonomy. An interrupted or canceled utterance is a normal completion,
// not an error.
func (r *Relay) handleSpeechError(code string) {
	switch code {
	case "interrupted", "canceled":
		r.invoke(func(h voice.Hooks) {
			if h.OnSpeechEnd != nil {
				h.OnSpeechEnd()
			}
		})
		return
	}

	kind := voice.RecognitionUnknown
	switch code {
	case "no-speech", "audio-capture":
		kind = voice.RecognitionNoSpeech
	case "not-allowed", "service-not-allowed":
		kind = voice.RecognitionNotAllowed
	}
	r.invoke(func(h voice.Hooks) {
		if h.OnError != nil {
			h.OnError(&voice.RecognitionError{Kind: kind, Detail: code})
		}
	})
}

// WritePump flushes queued frames and keeps the connection alive with pings.
func (r *Relay) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case <-r.closed:
			r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			r.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-r.send:
			r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
