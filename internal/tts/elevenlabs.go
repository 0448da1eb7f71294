package tts

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/voices"
)

// ProviderElevenLabs is the registry name of the ElevenLabs provider.
const ProviderElevenLabs = "elevenlabs"

const (
	elevenPath              = "/v1/text-to-speech/"
	elevenHeaderKey         = "xi-api-key"
	elevenAccept            = "audio/mpeg"
	elevenModel             = "eleven_multilingual_v2"
	elevenOutputFormat      = "mp3_44100_128"
	elevenDefaultStability  = 0.5
	elevenDefaultSimilarity = 0.8
	elevenDefaultSpeed      = 1.0
)

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenRequest struct {
	Seed          *int                `json:"seed,omitempty"`
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

// ElevenLabsProvider synthesizes speech with the ElevenLabs API. Voice names
// are resolved through the catalog; raw voice ids pass through unchanged.
type ElevenLabsProvider struct {
	http    *httpClient
	catalog *voices.Catalog
	baseURL string
	apiKey  string
}

// NewElevenLabsProvider creates an ElevenLabsProvider.
func NewElevenLabsProvider(cfg config.ElevenLabsConfig, catalog *voices.Catalog) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		http:    newHTTPClient(ProviderElevenLabs, time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.RequestsPerMinute),
		catalog: catalog,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Name returns the registry name.
func (p *ElevenLabsProvider) Name() string {
	return ProviderElevenLabs
}

// Extension always returns mp3.
func (p *ElevenLabsProvider) Extension(_ core.Options) string {
	return core.ExtensionMP3
}

// Synthesize calls the text-to-speech endpoint for the resolved voice.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	key, err := resolveKey(ProviderElevenLabs, opts.APIKey, p.apiKey)
	if err != nil {
		return nil, err
	}

	textErr := checkText(ProviderElevenLabs, input, 0)
	if textErr != nil {
		return nil, textErr
	}

	model := elevenModel
	if opts.Model != "" {
		model = opts.Model
	}

	payload := elevenRequest{
		Seed:    opts.Seed,
		Text:    input,
		ModelID: model,
		VoiceSettings: elevenVoiceSettings{
			Stability:       valueOr(opts.Stability, elevenDefaultStability),
			SimilarityBoost: valueOr(opts.SimilarityBoost, elevenDefaultSimilarity),
			Style:           0,
			Speed:           valueOr(opts.Speed, elevenDefaultSpeed),
			UseSpeakerBoost: true,
		},
	}

	voiceID := p.catalog.ElevenLabsVoiceID(opts.Voice)
	endpoint := p.baseURL + elevenPath + url.PathEscape(voiceID) + "?output_format=" + elevenOutputFormat

	req, reqErr := newJSONRequest(ctx, http.MethodPost, endpoint, payload)
	if reqErr != nil {
		return nil, reqErr
	}

	req.Header.Set(elevenHeaderKey, key)
	req.Header.Set(headerAccept, elevenAccept)

	resp, sendErr := p.http.send(req, key, nil)
	if sendErr != nil {
		return nil, sendErr
	}

	return resp.body, nil
}
