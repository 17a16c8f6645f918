package voice

import (
	"context"
	"fmt"
)

// Capabilities reports what the speech peripheral can do. All three must be
// available before a conversation may start.
type Capabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
	Microphone  bool `json:"microphone"`
}

// Missing returns the names of unavailable capabilities.
func (c Capabilities) Missing() []string {
	var missing []string
	if !c.Recognition {
		missing = append(missing, "speech recognition")
	}
	if !c.Synthesis {
		missing = append(missing, "speech synthesis")
	}
	if !c.Microphone {
		missing = append(missing, "microphone access")
	}
	return missing
}

// CapabilityError reports which capability blocks a session from starting.
type CapabilityError struct {
	Missing []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("required speech capability unavailable: %v", e.Missing)
}

// RecognitionErrorKind classifies recognition failures for recovery policy.
type RecognitionErrorKind string

const (
	// RecognitionNoSpeech covers no-speech and audio-capture hiccups;
	// recoverable, retried after a short delay, never surfaced.
	RecognitionNoSpeech RecognitionErrorKind = "no-speech"
	// RecognitionNotAllowed means microphone permission was denied; fatal.
	RecognitionNotAllowed RecognitionErrorKind = "not-allowed"
	// RecognitionUnknown is retried with capped backoff, then surfaced.
	RecognitionUnknown RecognitionErrorKind = "unknown"
)

// RecognitionError is a classified recognition failure.
type RecognitionError struct {
	Kind   RecognitionErrorKind
	Detail string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech recognition error (%s): %s", e.Kind, e.Detail)
}

// Hooks are the upward callbacks from a speech adapter into the session.
// The adapter must only report final recognition results; interim results
// are discarded at the adapter boundary.
type Hooks struct {
	OnListeningStart func()
	OnListeningEnd   func()
	OnTranscript     func(text string)
	OnSpeechStart    func()
	OnSpeechEnd      func()
	OnError          func(err *RecognitionError)
}

// SpeechAdapter is the uniform capability over continuous speech capture and
// playback. Implementations must treat an interruption caused by CancelSpeech
// (or by a Speak call displacing an in-flight utterance) as normal
// completion, reporting OnSpeechEnd rather than OnError.
type SpeechAdapter interface {
	// Capabilities reports recognition, synthesis and microphone permission.
	Capabilities(ctx context.Context) Capabilities
	// StartListening begins continuous recognition. Implementations report
	// OnListeningStart on actual start and OnListeningEnd when recognition
	// stops for any reason.
	StartListening()
	// StopListening is idempotent.
	StopListening()
	// Speak cancels any in-flight utterance, then synthesizes text.
	Speak(text string)
	// CancelSpeech cancels any in-flight utterance.
	CancelSpeech()
	// Bind installs the session callbacks. Called once before use.
	Bind(hooks Hooks)
	// Close releases the peripheral.
	Close() error
}
