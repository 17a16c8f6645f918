package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nsanthan/intervox/backend/models"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInactive   Status = "INACTIVE"
	StatusConnecting Status = "CONNECTING"
	StatusActive     Status = "ACTIVE"
	StatusFinished   Status = "FINISHED"
)

// ResponseRequest carries everything a responder needs for the next
// assistant utterance. QuestionIndex is the number of questions already
// asked in interview mode.
type ResponseRequest struct {
	Mode          models.Mode
	History       []models.ConversationMessage
	Questions     []string
	QuestionIndex int
	UserName      string
}

// Responder produces the next assistant utterance. Implementations degrade
// internally on backend failure; the engine additionally substitutes a
// neutral apology if an error does come back, so the session never goes
// silent mid-turn.
type Responder interface {
	NextUtterance(ctx context.Context, req ResponseRequest) (string, error)
}

// Completer persists the outcome of a finished session.
type Completer interface {
	CreateInterviewFromConversation(ctx context.Context, userID string, transcript []models.ConversationMessage) (string, error)
	CreateFeedback(ctx context.Context, interviewID, userID, feedbackID string, transcript []models.ConversationMessage) (string, error)
	CompleteWithoutFeedback(ctx context.Context, interviewID string) error
}

// Options tune engine timing. Zero values take the defaults; tests shrink
// them to keep runs fast.
type Options struct {
	PostSpeechDelay   time.Duration // pause between assistant speech and listening
	ListenRetryDelay  time.Duration // restart delay after a natural listening end
	TransientRetry    time.Duration // restart delay after a no-speech error
	UnknownRetryBase  time.Duration // first backoff step for unknown errors
	MaxUnknownRetries int
	HeartbeatInterval time.Duration // idle watchdog period
	MinMessageChars   int           // shorter user/assistant turns are noise
	MinExchanges      int           // substantive user turns required to generate
	FinishTimeout     time.Duration // deadline for end-of-session persistence
	closingStatement  string
	apologyStatement  string
}

func (o Options) withDefaults() Options {
	if o.PostSpeechDelay == 0 {
		o.PostSpeechDelay = 800 * time.Millisecond
	}
	if o.ListenRetryDelay == 0 {
		o.ListenRetryDelay = time.Second
	}
	if o.TransientRetry == 0 {
		o.TransientRetry = 1500 * time.Millisecond
	}
	if o.UnknownRetryBase == 0 {
		o.UnknownRetryBase = 2 * time.Second
	}
	if o.MaxUnknownRetries == 0 {
		o.MaxUnknownRetries = 3
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.MinMessageChars == 0 {
		o.MinMessageChars = 10
	}
	if o.MinExchanges == 0 {
		o.MinExchanges = 2
	}
	if o.FinishTimeout == 0 {
		o.FinishTimeout = 60 * time.Second
	}
	if o.closingStatement == "" {
		o.closingStatement = "That was the last question I had for you. Thank you for walking me through your experience today. Before we wrap up, do you have any questions for me?"
	}
	if o.apologyStatement == "" {
		o.apologyStatement = "I'm sorry, I had trouble processing that. Could you please repeat your answer?"
	}
	return o
}

// Engine drives one voice session end to end: strict alternating turns,
// mutual exclusion between listening and speaking, and persistence of the
// session outcome when it ends.
type Engine struct {
	adapter   SpeechAdapter
	responder Responder
	completer Completer
	emitter   *Emitter
	opts      Options

	mu               sync.Mutex
	status           Status
	active           bool
	listening        bool
	speaking         bool
	processing       bool
	pendingSpeech    bool // an utterance is committed but OnSpeechStart has not arrived yet
	cfg              models.ConversationConfig
	history          []models.ConversationMessage
	questionIndex    int
	closingDelivered bool
	unknownRetries   int
	gen              uint64
	heartbeatStop    chan struct{}

	finishWG sync.WaitGroup
}

func NewEngine(adapter SpeechAdapter, responder Responder, completer Completer, opts Options) *Engine {
	e := &Engine{
		adapter:   adapter,
		responder: responder,
		completer: completer,
		emitter:   NewEmitter(),
		opts:      opts.withDefaults(),
		status:    StatusInactive,
	}
	adapter.Bind(Hooks{
		OnListeningStart: e.onListeningStart,
		OnListeningEnd:   e.onListeningEnd,
		OnTranscript:     e.onTranscript,
		OnSpeechStart:    e.onSpeechStart,
		OnSpeechEnd:      e.onSpeechEnd,
		OnError:          e.onRecognitionError,
	})
	return e
}

// On subscribes to session events.
func (e *Engine) On(kind EventKind, fn Listener) Subscription {
	return e.emitter.On(kind, fn)
}

// Off removes a subscription.
func (e *Engine) Off(kind EventKind, id Subscription) {
	e.emitter.Off(kind, id)
}

// Status returns the lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// History returns a copy of the transcript so far.
func (e *Engine) History() []models.ConversationMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ConversationMessage, len(e.history))
	copy(out, e.history)
	return out
}

// Start begins a new session. If an earlier session on this engine is still
// persisting its outcome, Start waits for that write to complete first so a
// new session never races a pending one. An already-running session is torn
// down before the new one connects.
func (e *Engine) Start(ctx context.Context, cfg models.ConversationConfig) error {
	e.Stop()
	e.finishWG.Wait()

	e.mu.Lock()
	e.status = StatusConnecting
	e.mu.Unlock()

	caps := e.adapter.Capabilities(ctx)
	if missing := caps.Missing(); len(missing) > 0 {
		err := &CapabilityError{Missing: missing}
		e.mu.Lock()
		e.status = StatusInactive
		e.mu.Unlock()
		e.emitter.Emit(Event{Kind: EventError, Payload: err})
		return err
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.active = true
	e.cfg = cfg
	e.history = nil
	e.questionIndex = 0
	e.closingDelivered = false
	e.unknownRetries = 0
	e.listening = false
	e.speaking = false
	e.processing = false
	e.pendingSpeech = true
	e.status = StatusActive

	greeting := e.greetingLocked(cfg)
	e.history = append(e.history, models.ConversationMessage{Role: models.RoleAssistant, Content: greeting})

	stop := make(chan struct{})
	e.heartbeatStop = stop
	e.mu.Unlock()

	go e.heartbeat(gen, stop)

	e.emitter.Emit(Event{Kind: EventConversationStart})
	e.emitter.Emit(Event{Kind: EventMessage, Payload: models.ConversationMessage{Role: models.RoleAssistant, Content: greeting}})
	e.adapter.Speak(greeting)

	slog.Info("Conversation started", "mode", cfg.Mode, "user_id", cfg.UserID, "questions", len(cfg.Questions))
	return nil
}

// greetingLocked composes the opening utterance. In interview mode the first
// question rides along with the greeting; with no questions at all the
// greeting is already the closing statement.
func (e *Engine) greetingLocked(cfg models.ConversationConfig) string {
	if cfg.Mode == models.ModeGenerate {
		name := cfg.UserName
		if name == "" {
			name = "there"
		}
		return "Hello " + name + "! I'm here to help you create interview questions. What type of role are you preparing interview questions for?"
	}

	if len(cfg.Questions) == 0 {
		e.closingDelivered = true
		return e.opts.closingStatement
	}
	e.questionIndex = 1
	return "Hello! Thank you for taking the time to speak with me today. I'm excited to learn more about you and your experience. Let's start with the first question. " + cfg.Questions[0]
}

// Stop ends the session. Safe to call from any state: it halts recognition,
// cancels in-flight synthesis, clears the heartbeat, and kicks off outcome
// persistence.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		if e.status == StatusConnecting {
			e.status = StatusInactive
		}
		e.mu.Unlock()
		return
	}
	e.teardownLocked()
	cfg := e.cfg
	transcript := make([]models.ConversationMessage, len(e.history))
	copy(transcript, e.history)
	e.mu.Unlock()

	e.stopAdapter()
	e.emitter.Emit(Event{Kind: EventConversationEnd})
	e.finish(cfg, transcript)
}

// teardownLocked marks the session dead and bumps the generation so late
// callbacks are ignored. Caller holds mu, so the adapter itself is stopped
// afterwards via stopAdapter; adapter hooks re-enter the engine lock.
func (e *Engine) teardownLocked() {
	e.active = false
	e.gen++
	e.status = StatusFinished
	e.listening = false
	e.speaking = false
	e.processing = false
	e.pendingSpeech = false
	if e.heartbeatStop != nil {
		close(e.heartbeatStop)
		e.heartbeatStop = nil
	}
}

// stopAdapter halts recognition and cancels any in-flight utterance. A
// cancelled utterance counts as a normal completion, not an error.
func (e *Engine) stopAdapter() {
	e.adapter.StopListening()
	e.adapter.CancelSpeech()
}

// RestartListening force-restarts recognition. Used by the UI as a manual
// recovery when the session looks stuck.
func (e *Engine) RestartListening() {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	e.adapter.StopListening()
	time.AfterFunc(e.opts.ListenRetryDelay, func() { e.tryStartListening(gen) })
}

// Wait blocks until any pending end-of-session persistence completes.
func (e *Engine) Wait() {
	e.finishWG.Wait()
}

// tryStartListening starts recognition only while this session generation is
// live, no turn is in flight, and no utterance is committed or playing.
// Listening and speaking are mutually exclusive at all times, including the
// window between a turn committing its reply and playback actually starting.
func (e *Engine) tryStartListening(gen uint64) {
	e.mu.Lock()
	ok := e.active && e.gen == gen && !e.speaking && !e.pendingSpeech && !e.listening && !e.processing
	e.mu.Unlock()
	if ok {
		e.adapter.StartListening()
	}
}

// heartbeat restarts listening whenever the session is active but idle in
// both directions. It guards against event-handler races that would
// otherwise leave the conversation wedged.
func (e *Engine) heartbeat(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			stalled := e.active && e.gen == gen && !e.speaking && !e.pendingSpeech && !e.listening && !e.processing
			e.mu.Unlock()
			if stalled {
				slog.Info("Heartbeat restarting listening")
				e.adapter.StartListening()
			}
		}
	}
}

// Adapter hooks

func (e *Engine) onListeningStart() {
	e.mu.Lock()
	e.listening = true
	e.unknownRetries = 0
	e.mu.Unlock()
	e.emitter.Emit(Event{Kind: EventListeningStart})
}

func (e *Engine) onListeningEnd() {
	e.mu.Lock()
	e.listening = false
	gen := e.gen
	restart := e.active && !e.speaking && !e.pendingSpeech && !e.processing
	e.mu.Unlock()
	e.emitter.Emit(Event{Kind: EventListeningEnd})

	// A listening timeout with nothing captured must never end the session;
	// recognition is restarted instead.
	if restart {
		time.AfterFunc(e.opts.ListenRetryDelay, func() { e.tryStartListening(gen) })
	}
}

func (e *Engine) onTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	// Recognition can deliver another final result before listen-stop takes
	// effect. A turn is strictly one transcript; extras are dropped so the
	// same question is never asked twice.
	if e.processing || e.speaking || e.pendingSpeech {
		e.mu.Unlock()
		slog.Info("Dropping transcript while a turn is in flight")
		return
	}
	gen := e.gen
	msg := models.ConversationMessage{Role: models.RoleUser, Content: text}
	e.history = append(e.history, msg)
	e.processing = true
	req := ResponseRequest{
		Mode:          e.cfg.Mode,
		History:       append([]models.ConversationMessage(nil), e.history...),
		Questions:     e.cfg.Questions,
		QuestionIndex: e.questionIndex,
		UserName:      e.cfg.UserName,
	}
	e.mu.Unlock()

	e.adapter.StopListening()
	e.emitter.Emit(Event{Kind: EventMessage, Payload: msg})
	e.emitter.Emit(Event{Kind: EventProcessingStart})

	go e.processTurn(gen, req)
}

// processTurn runs the network round trip for one turn and speaks the reply.
// A reply that lands after the session ended (or a newer one started) is
// discarded instead of being applied to a dead session.
func (e *Engine) processTurn(gen uint64, req ResponseRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := e.responder.NextUtterance(ctx, req)
	if err != nil || strings.TrimSpace(response) == "" {
		if err != nil {
			slog.Error("Responder failed, using apology", "error", err)
		}
		response = e.opts.apologyStatement
	}

	e.mu.Lock()
	if !e.active || e.gen != gen {
		e.mu.Unlock()
		slog.Info("Discarding stale assistant response")
		return
	}
	e.processing = false
	e.pendingSpeech = true
	if req.Mode == models.ModeInterview && err == nil {
		if req.QuestionIndex >= len(req.Questions) {
			e.closingDelivered = true
		} else {
			e.questionIndex = req.QuestionIndex + 1
		}
	}
	msg := models.ConversationMessage{Role: models.RoleAssistant, Content: response}
	e.history = append(e.history, msg)
	e.mu.Unlock()

	e.emitter.Emit(Event{Kind: EventProcessingEnd})
	e.emitter.Emit(Event{Kind: EventMessage, Payload: msg})
	e.adapter.Speak(response)
}

func (e *Engine) onSpeechStart() {
	e.mu.Lock()
	e.speaking = true
	e.pendingSpeech = false
	e.mu.Unlock()
	e.emitter.Emit(Event{Kind: EventSpeechStart})
}

func (e *Engine) onSpeechEnd() {
	e.mu.Lock()
	e.speaking = false
	gen := e.gen
	active := e.active
	closing := e.closingDelivered
	e.mu.Unlock()
	e.emitter.Emit(Event{Kind: EventSpeechEnd})

	if !active {
		return
	}
	if closing {
		// The closing statement has been delivered; the question list is
		// exhausted and the session ends instead of listening again.
		e.Stop()
		return
	}
	time.AfterFunc(e.opts.PostSpeechDelay, func() { e.tryStartListening(gen) })
}

func (e *Engine) onRecognitionError(recErr *RecognitionError) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	gen := e.gen

	switch recErr.Kind {
	case RecognitionNoSpeech:
		e.mu.Unlock()
		time.AfterFunc(e.opts.TransientRetry, func() { e.tryStartListening(gen) })

	case RecognitionNotAllowed:
		e.teardownLocked()
		e.status = StatusInactive
		e.mu.Unlock()
		e.stopAdapter()
		slog.Error("Microphone permission denied, ending session")
		e.emitter.Emit(Event{Kind: EventError, Payload: recErr})
		e.emitter.Emit(Event{Kind: EventConversationEnd})

	default:
		e.unknownRetries++
		retries := e.unknownRetries
		if retries > e.opts.MaxUnknownRetries {
			e.teardownLocked()
			e.status = StatusInactive
			e.mu.Unlock()
			e.stopAdapter()
			slog.Error("Recognition error retries exhausted", "detail", recErr.Detail)
			e.emitter.Emit(Event{Kind: EventError, Payload: recErr})
			e.emitter.Emit(Event{Kind: EventConversationEnd})
			return
		}
		e.mu.Unlock()
		delay := e.opts.UnknownRetryBase * time.Duration(1<<(retries-1))
		slog.Warn("Recognition error, retrying", "detail", recErr.Detail, "attempt", retries, "delay", delay)
		time.AfterFunc(delay, func() { e.tryStartListening(gen) })
	}
}

// finish persists the session outcome asynchronously. The write keeps going
// even though the session is already FINISHED; Start on this engine waits
// for it.
func (e *Engine) finish(cfg models.ConversationConfig, transcript []models.ConversationMessage) {
	if e.completer == nil {
		return
	}
	e.finishWG.Add(1)
	go func() {
		defer e.finishWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.FinishTimeout)
		defer cancel()

		switch cfg.Mode {
		case models.ModeGenerate:
			// The assistant always speaks (greeting, replies), so only the
			// user's substantive turns say whether there is anything to
			// build an interview from.
			substantive := 0
			filtered := make([]models.ConversationMessage, 0, len(transcript))
			for _, msg := range transcript {
				if len(strings.TrimSpace(msg.Content)) > e.opts.MinMessageChars {
					filtered = append(filtered, msg)
					if msg.Role == models.RoleUser {
						substantive++
					}
				}
			}
			if substantive < e.opts.MinExchanges {
				slog.Info("Conversation too short to generate an interview, skipping", "substantive_user_messages", substantive)
				return
			}
			if _, err := e.completer.CreateInterviewFromConversation(ctx, cfg.UserID, filtered); err != nil {
				slog.Error("Failed to create interview from conversation", "error", err, "user_id", cfg.UserID)
				e.emitter.Emit(Event{Kind: EventError, Payload: err})
			}

		case models.ModeInterview:
			if !hasUserTurn(transcript) {
				slog.Info("Interview ended with no answers, finalizing without feedback", "interview_id", cfg.InterviewID)
				if err := e.completer.CompleteWithoutFeedback(ctx, cfg.InterviewID); err != nil {
					slog.Error("Failed to finalize interview", "error", err, "interview_id", cfg.InterviewID)
					e.emitter.Emit(Event{Kind: EventError, Payload: err})
				}
				return
			}
			if _, err := e.completer.CreateFeedback(ctx, cfg.InterviewID, cfg.UserID, cfg.FeedbackID, transcript); err != nil {
				slog.Error("Failed to create feedback", "error", err, "interview_id", cfg.InterviewID)
				e.emitter.Emit(Event{Kind: EventError, Payload: err})
			}
		}
	}()
}

func hasUserTurn(transcript []models.ConversationMessage) bool {
	for _, msg := range transcript {
		if msg.Role == models.RoleUser {
			return true
		}
	}
	return false
}
