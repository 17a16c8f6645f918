package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultVoiceID is the interviewer voice (Adam).
const DefaultVoiceID = "pNInz6obpgDQGcFmaJgB"

// ElevenLabsService renders assistant utterances to audio for clients whose
// browser has no local synthesis.
type ElevenLabsService struct {
	apiKey  string
	voiceID string
	client  *http.Client
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewElevenLabsService(apiKey string) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		voiceID: DefaultVoiceID,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *ElevenLabsService) VoiceID() string { return e.voiceID }

// TextToSpeech streams MP3 audio for the given text. The caller owns the
// returned body.
func (e *ElevenLabsService) TextToSpeech(ctx context.Context, text string) (io.ReadCloser, error) {
	request := elevenLabsRequest{
		Text:    text,
		ModelID: "eleven_turbo_v2", // fast model keeps turn latency down
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := "https://api.elevenlabs.io/v1/text-to-speech/" + e.voiceID
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs API error: %d - %s", resp.StatusCode, string(body))
	}

	slog.Info("Generated audio from ElevenLabs", "text_length", len(text))
	return resp.Body, nil
}

// SpeechSynthesizer combines ElevenLabs with the filesystem cache so the
// stock interviewer phrases are rendered once.
type SpeechSynthesizer struct {
	tts   *ElevenLabsService
	cache *AudioCache
}

func NewSpeechSynthesizer(tts *ElevenLabsService, cache *AudioCache) *SpeechSynthesizer {
	return &SpeechSynthesizer{tts: tts, cache: cache}
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.cache.GetOrGenerate(ctx, text, s.tts.VoiceID(), func() (io.ReadCloser, error) {
		return s.tts.TextToSpeech(ctx, text)
	})
}
