package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultModelID = "eleven_turbo_v2_5"

// SynthConfig holds voice synthesis configuration
type SynthConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	Timeout time.Duration
	// Overrides maps a symbol to a voice ID, letting individual markets
	// speak with their own voice
	Overrides map[string]string
}

// Synthesizer converts text to MP3 audio via the ElevenLabs API
type Synthesizer struct {
	config     SynthConfig
	httpClient *http.Client
}

// NewSynthesizer creates a new voice synthesizer
func NewSynthesizer(config SynthConfig) *Synthesizer {
	if config.ModelID == "" {
		config.ModelID = defaultModelID
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ttsRequest is the ElevenLabs text-to-speech request body
type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize normalizes text and renders it as MP3 audio. The symbol picks
// the voice when an override is configured for it.
func (s *Synthesizer) Synthesize(ctx context.Context, symbol string, text string) ([]byte, error) {
	if s.config.APIKey == "" {
		return nil, fmt.Errorf("voice API key not configured")
	}

	normalized := Normalize(text)
	if normalized == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	body, err := json.Marshal(ttsRequest{
		Text:    normalized,
		ModelID: s.config.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := "https://api.elevenlabs.io/v1/text-to-speech/" + s.voiceFor(symbol)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.config.APIKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS request failed with status %d: %s", resp.StatusCode, truncate(audio, 200))
	}

	return audio, nil
}

// voiceFor returns the voice ID for a symbol, falling back to the default
func (s *Synthesizer) voiceFor(symbol string) string {
	if id, ok := s.config.Overrides[symbol]; ok && id != "" {
		return id
	}
	return s.config.VoiceID
}

// IsConfigured checks if the synthesizer has an API key and voice
func (s *Synthesizer) IsConfigured() bool {
	return s.config.APIKey != "" && s.config.VoiceID != ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
