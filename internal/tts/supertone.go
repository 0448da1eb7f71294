package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
)

// ProviderSupertone is the registry name of the Supertone provider.
const ProviderSupertone = "supertone"

const (
	supertonePath         = "/v1/text-to-speech/"
	supertoneHeaderKey    = "x-sup-api-key"
	supertoneMaxTextRunes = 300
	supertoneLanguage     = "ko"
	supertoneStyle        = "neutral"
	supertoneModel        = "sona_speech_1"
	errMsgSupertoneVoice  = "voice id is required"
	errFmtSupertoneFormat = "unsupported output format %q, expected wav or mp3"
)

type supertoneVoiceSettings struct {
	PitchShift    float64 `json:"pitch_shift"`
	PitchVariance float64 `json:"pitch_variance"`
	Speed         float64 `json:"speed"`
}

type supertoneRequest struct {
	Text          string                 `json:"text"`
	Language      string                 `json:"language"`
	Style         string                 `json:"style"`
	Model         string                 `json:"model"`
	VoiceSettings supertoneVoiceSettings `json:"voice_settings"`
}

// SupertoneProvider synthesizes speech with the Supertone API.
type SupertoneProvider struct {
	http         *httpClient
	baseURL      string
	apiKey       string
	defaultVoice string
}

// NewSupertoneProvider creates a SupertoneProvider.
func NewSupertoneProvider(cfg config.SupertoneConfig) *SupertoneProvider {
	return &SupertoneProvider{
		http:         newHTTPClient(ProviderSupertone, time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.RequestsPerMinute),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultVoice: cfg.DefaultVoice,
	}
}

// Name returns the registry name.
func (p *SupertoneProvider) Name() string {
	return ProviderSupertone
}

// Extension is wav unless another output format was requested. Formats other
// than wav and mp3 are returned as given so that callers can refuse them.
func (p *SupertoneProvider) Extension(opts core.Options) string {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		return core.ExtensionWAV
	}

	return format
}

// Synthesize calls the text-to-speech endpoint for the requested voice.
func (p *SupertoneProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	key, err := resolveKey(ProviderSupertone, opts.APIKey, p.apiKey)
	if err != nil {
		return nil, err
	}

	textErr := checkText(ProviderSupertone, input, supertoneMaxTextRunes)
	if textErr != nil {
		return nil, textErr
	}

	extension := p.Extension(opts)
	if extension != core.ExtensionWAV && extension != core.ExtensionMP3 {
		return nil, core.NewProviderError(ProviderSupertone, core.KindBadRequest,
			fmt.Sprintf(errFmtSupertoneFormat, opts.Format), nil)
	}

	voice := opts.Voice
	if voice == "" {
		voice = p.defaultVoice
	}

	if voice == "" {
		return nil, core.NewProviderError(ProviderSupertone, core.KindBadRequest, errMsgSupertoneVoice, nil)
	}

	payload := supertoneRequest{
		Text:     input,
		Language: stringOr(opts.Language, supertoneLanguage),
		Style:    stringOr(opts.Style, supertoneStyle),
		Model:    stringOr(opts.Model, supertoneModel),
		VoiceSettings: supertoneVoiceSettings{
			PitchShift:    opts.Pitch,
			PitchVariance: valueOr(opts.Intonation, 1.0),
			Speed:         valueOr(opts.Speed, 1.0),
		},
	}

	endpoint := p.baseURL + supertonePath + url.PathEscape(voice)
	if extension != core.ExtensionWAV {
		endpoint += "?output_format=" + url.QueryEscape(extension)
	}

	req, reqErr := newJSONRequest(ctx, http.MethodPost, endpoint, payload)
	if reqErr != nil {
		return nil, reqErr
	}

	req.Header.Set(supertoneHeaderKey, key)

	resp, sendErr := p.http.send(req, key, nil)
	if sendErr != nil {
		return nil, sendErr
	}

	return resp.body, nil
}

func stringOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}
