package tts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/voices"
)

// ProviderSKTAX is the registry name of the SKT A.X provider.
const ProviderSKTAX = "skt_ax"

const (
	sktPath              = "/axtts/tts"
	sktHeaderAppKey      = "appKey"
	sktMaxTextRunes      = 1000
	sktDefaultSampleRate = 22050
	sktDefaultSpeed      = 1.0
	sktDefaultFormat     = core.ExtensionWAV
	sktAcceptPrefix      = "audio/"
)

// SKT error messages.
const (
	errMsgSKTAuth     = "Invalid SKT A.X TTS API key"
	errMsgSKTNotFound = "Voice or model not found"
	errFmtSKTVoice    = "voice %q is not in the SKT A.X catalog"
)

// SKTSampleText is the sentence spoken by voice previews.
const SKTSampleText = "안녕하세요. SKT A.X TTS 음성 샘플입니다. 반갑습니다."

// sktRequest is the JSON body of an A.X synthesis call.
type sktRequest struct {
	Model   string `json:"model"`
	Voice   string `json:"voice"`
	Text    string `json:"text"`
	Speed   string `json:"speed"`
	SFormat string `json:"sformat"`
	SR      int    `json:"sr"`
}

// SKTAXProvider synthesizes speech with the SKT A.X TTS API. The model of each
// voice comes from the injected catalog.
type SKTAXProvider struct {
	http         *httpClient
	catalog      *voices.Catalog
	endpoint     string
	apiKey       string
	defaultVoice string
}

// NewSKTAXProvider creates an SKTAXProvider.
func NewSKTAXProvider(cfg config.SKTAXConfig, catalog *voices.Catalog) *SKTAXProvider {
	return &SKTAXProvider{
		http:         newHTTPClient(ProviderSKTAX, time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.RequestsPerMinute),
		catalog:      catalog,
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + sktPath,
		apiKey:       cfg.APIKey,
		defaultVoice: cfg.DefaultVoice,
	}
}

// Name returns the registry name.
func (p *SKTAXProvider) Name() string {
	return ProviderSKTAX
}

// Extension is wav when the requested format is wav and mp3 otherwise.
func (p *SKTAXProvider) Extension(opts core.Options) string {
	if sktFormat(opts) == core.ExtensionWAV {
		return core.ExtensionWAV
	}

	return core.ExtensionMP3
}

// Voices returns the catalog voices sorted by model and name.
func (p *SKTAXProvider) Voices() []voices.SKTVoice {
	return p.catalog.SKTVoices()
}

// Synthesize calls the A.X endpoint and returns the audio body.
func (p *SKTAXProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	key, err := resolveKey(ProviderSKTAX, opts.APIKey, p.apiKey)
	if err != nil {
		return nil, err
	}

	textErr := checkText(ProviderSKTAX, input, sktMaxTextRunes)
	if textErr != nil {
		return nil, textErr
	}

	voiceName := opts.Voice
	if voiceName == "" {
		voiceName = p.defaultVoice
	}

	voice, ok := p.catalog.SKTVoice(voiceName)
	if !ok {
		return nil, core.NewProviderError(ProviderSKTAX, core.KindNotFound, fmt.Sprintf(errFmtSKTVoice, voiceName), nil)
	}

	model := voice.Model
	if opts.Model != "" {
		model = opts.Model
	}

	payload := sktRequest{
		Model:   model,
		Voice:   voice.Name,
		Text:    input,
		Speed:   fmt.Sprintf("%.1f", valueOr(opts.Speed, sktDefaultSpeed)),
		SFormat: sktFormat(opts),
		SR:      intOr(opts.SampleRate, sktDefaultSampleRate),
	}

	req, reqErr := newJSONRequest(ctx, http.MethodPost, p.endpoint, payload)
	if reqErr != nil {
		return nil, reqErr
	}

	req.Header.Set(sktHeaderAppKey, key)
	req.Header.Set(strings.ToLower(headerAccept), sktAcceptPrefix+payload.SFormat)

	resp, sendErr := p.http.send(req, key, map[int]string{
		http.StatusUnauthorized: errMsgSKTAuth,
		http.StatusNotFound:     errMsgSKTNotFound,
	})
	if sendErr != nil {
		return nil, sendErr
	}

	audioErr := p.http.expectAudio(resp, key)
	if audioErr != nil {
		return nil, audioErr
	}

	return resp.body, nil
}

func sktFormat(opts core.Options) string {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		return sktDefaultFormat
	}

	return format
}

func valueOr(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}

	return value
}

func intOr(value, fallback int) int {
	if value == 0 {
		return fallback
	}

	return value
}
