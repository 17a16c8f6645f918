package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AudioCache keeps rendered audio for the stock interviewer phrases on the
// filesystem so they are synthesized once per voice. Dynamic utterances
// (questions, model replies) pass straight through.
type AudioCache struct {
	cacheDir string
	mutex    sync.RWMutex
}

// commonPhrases is the fixed set worth caching: the transition remarks, the
// closing remark, and the mid-turn apology. Everything else varies per
// session.
var commonPhrases = buildCommonPhrases()

func buildCommonPhrases() map[string]bool {
	set := make(map[string]bool)
	for _, phrase := range briefAckRemarks {
		set[phrase] = true
	}
	for _, phrase := range detailedAckRemarks {
		set[phrase] = true
	}
	set[ClosingRemark] = true
	set[ResponderApology] = true
	return set
}

func NewAudioCache(cacheDir string) *AudioCache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		slog.Error("Failed to create cache directory", "dir", cacheDir, "error", err)
	}

	return &AudioCache{
		cacheDir: cacheDir,
	}
}

func (ac *AudioCache) generateCacheKey(text, voiceID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", text, voiceID)))
	return hex.EncodeToString(hash[:])
}

func (ac *AudioCache) getCachePath(key string) string {
	return filepath.Join(ac.cacheDir, key+".mp3")
}

// IsCommonPhrase reports whether the text belongs to the cacheable set.
func (ac *AudioCache) IsCommonPhrase(text string) bool {
	return commonPhrases[text]
}

// Get retrieves cached audio data if it exists.
func (ac *AudioCache) Get(ctx context.Context, text, voiceID string) ([]byte, bool) {
	if !ac.IsCommonPhrase(text) {
		return nil, false
	}

	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	key := ac.generateCacheKey(text, voiceID)
	cachePath := ac.getCachePath(key)

	data, err := os.ReadFile(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read cached audio", "path", cachePath, "error", err)
		}
		return nil, false
	}

	slog.Info("Cache hit for common phrase", "text", text, "voice_id", voiceID)
	return data, true
}

// Set stores audio data for a common phrase.
func (ac *AudioCache) Set(ctx context.Context, text, voiceID string, audioData []byte) error {
	if !ac.IsCommonPhrase(text) {
		return nil
	}

	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	key := ac.generateCacheKey(text, voiceID)
	cachePath := ac.getCachePath(key)

	err := os.WriteFile(cachePath, audioData, 0644)
	if err != nil {
		slog.Error("Failed to write audio to cache", "path", cachePath, "error", err)
		return err
	}

	slog.Info("Cached common phrase audio", "text", text, "voice_id", voiceID, "size", len(audioData))
	return nil
}

// GetOrGenerate serves from the cache when possible, otherwise renders the
// audio and caches it if the phrase qualifies.
func (ac *AudioCache) GetOrGenerate(ctx context.Context, text, voiceID string, generator func() (io.ReadCloser, error)) ([]byte, error) {
	if cachedData, found := ac.Get(ctx, text, voiceID); found {
		return cachedData, nil
	}

	audioReader, err := generator()
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio: %w", err)
	}
	defer audioReader.Close()

	audioData, err := io.ReadAll(audioReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if ac.IsCommonPhrase(text) {
		if err := ac.Set(ctx, text, voiceID, audioData); err != nil {
			slog.Warn("Failed to cache audio", "error", err)
		}
	}

	return audioData, nil
}

// ClearCache removes all cached files.
func (ac *AudioCache) ClearCache() error {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	return os.RemoveAll(ac.cacheDir)
}

// GetCacheStats returns the cached file count and total size.
func (ac *AudioCache) GetCacheStats() (int, int64, error) {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	entries, err := os.ReadDir(ac.cacheDir)
	if err != nil {
		return 0, 0, err
	}

	var totalSize int64
	fileCount := 0

	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".mp3" {
			fileCount++
			if info, err := entry.Info(); err == nil {
				totalSize += info.Size()
			}
		}
	}

	return fileCount, totalSize, nil
}
