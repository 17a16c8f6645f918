package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsanthan/intervox/backend/voice"
)

type hookRecorder struct {
	listenStarts int
	listenEnds   int
	speechStarts int
	speechEnds   int
	transcripts  []string
	errors       []*voice.RecognitionError
}

func (h *hookRecorder) hooks() voice.Hooks {
	return voice.Hooks{
		OnListeningStart: func() { h.listenStarts++ },
		OnListeningEnd:   func() { h.listenEnds++ },
		OnSpeechStart:    func() { h.speechStarts++ },
		OnSpeechEnd:      func() { h.speechEnds++ },
		OnTranscript:     func(text string) { h.transcripts = append(h.transcripts, text) },
		OnError:          func(err *voice.RecognitionError) { h.errors = append(h.errors, err) },
	}
}

func drainFrame(t *testing.T, r *Relay) Frame {
	t.Helper()
	select {
	case data := <-r.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return Frame{}
	}
}

func TestDispatchRoutesLifecycleFrames(t *testing.T) {
	rec := &hookRecorder{}
	r := New(nil, "user-1", nil)
	r.Bind(rec.hooks())

	r.dispatch(Frame{Type: "listening-started"})
	r.dispatch(Frame{Type: "listening-ended"})
	r.dispatch(Frame{Type: "speech-started"})
	r.dispatch(Frame{Type: "speech-ended"})
	r.dispatch(Frame{Type: "transcript", Content: "I have five years of experience"})

	assert.Equal(t, 1, rec.listenStarts)
	assert.Equal(t, 1, rec.listenEnds)
	assert.Equal(t, 1, rec.speechStarts)
	assert.Equal(t, 1, rec.speechEnds)
	assert.Equal(t, []string{"I have five years of experience"}, rec.transcripts)
	assert.Empty(t, rec.errors)
}

func TestCapabilitiesWaitsForClientReport(t *testing.T) {
	r := New(nil, "user-1", nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.dispatch(Frame{Type: "capabilities", Recognition: true, Synthesis: true, Microphone: true})
	}()

	caps := r.Capabilities(context.Background())
	assert.True(t, caps.Recognition)
	assert.True(t, caps.Synthesis)
	assert.True(t, caps.Microphone)
	assert.Empty(t, caps.Missing())
}

func TestCapabilitiesTimesOutToZeroValue(t *testing.T) {
	r := New(nil, "user-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	caps := r.Capabilities(ctx)
	assert.Len(t, caps.Missing(), 3)
}

func TestSpeechErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		kind voice.RecognitionErrorKind
	}{
		{"no-speech", voice.RecognitionNoSpeech},
		{"audio-capture", voice.RecognitionNoSpeech},
		{"not-allowed", voice.RecognitionNotAllowed},
		{"service-not-allowed", voice.RecognitionNotAllowed},
		{"network", voice.RecognitionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := &hookRecorder{}
			r := New(nil, "user-1", nil)
			r.Bind(rec.hooks())

			r.dispatch(Frame{Type: "speech-error", Error: tt.code})

			require.Len(t, rec.errors, 1)
			assert.Equal(t, tt.kind, rec.errors[0].Kind)
			assert.Equal(t, tt.code, rec.errors[0].Detail)
		})
	}
}

func TestInterruptedSynthesisIsNormalCompletion(t *testing.T) {
	for _, code := range []string{"interrupted", "canceled"} {
		rec := &hookRecorder{}
		r := New(nil, "user-1", nil)
		r.Bind(rec.hooks())

		r.dispatch(Frame{Type: "speech-error", Error: code})

		assert.Empty(t, rec.errors, code)
		assert.Equal(t, 1, rec.speechEnds, code)
	}
}

func TestSpeakUsesClientSynthesisWhenAvailable(t *testing.T) {
	r := New(nil, "user-1", nil)
	r.dispatch(Frame{Type: "capabilities", Recognition: true, Synthesis: true, Microphone: true})

	r.Speak("Tell me about yourself.")

	frame := drainFrame(t, r)
	assert.Equal(t, "speak", frame.Type)
	assert.Equal(t, "Tell me about yourself.", frame.Content)
}

type fixedSynth struct{ audio []byte }

func (s fixedSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.audio, nil
}

func TestSpeakFallsBackToServerSynthesis(t *testing.T) {
	r := New(nil, "user-1", fixedSynth{audio: []byte("mp3-bytes")})
	r.dispatch(Frame{Type: "capabilities", Recognition: true, Synthesis: false, Microphone: true})

	r.Speak("Tell me about yourself.")

	frame := drainFrame(t, r)
	assert.Equal(t, "audio", frame.Type)
	assert.Equal(t, []byte("mp3-bytes"), frame.AudioData)
}
