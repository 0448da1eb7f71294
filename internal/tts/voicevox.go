package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
)

// ProviderVoicevox is the registry name of the local Voicevox engine.
const ProviderVoicevox = "voicevox"

const (
	voicevoxVersionPath  = "/version"
	voicevoxQueryPath    = "/audio_query"
	voicevoxSynthPath    = "/synthesis"
	voicevoxMaxTextRunes = 1000
	voicevoxSampleRate   = 24000
	voicevoxPhonemeSecs  = 0.1
)

// Voicevox error messages.
const (
	errFmtVoicevoxSpeaker = "speaker %q is not a numeric style id"
	errFmtVoicevoxQuery   = "invalid audio query from engine: %v"
)

// VoicevoxProvider drives a local Voicevox engine in two steps: build an audio
// query for the text, then synthesize the adjusted query.
type VoicevoxProvider struct {
	http           *httpClient
	baseURL        string
	defaultSpeaker int
}

// NewVoicevoxProvider creates a VoicevoxProvider.
func NewVoicevoxProvider(cfg config.VoicevoxConfig) *VoicevoxProvider {
	return &VoicevoxProvider{
		http:           newHTTPClient(ProviderVoicevox, time.Duration(cfg.TimeoutSeconds)*time.Second, 0),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		defaultSpeaker: cfg.DefaultSpeaker,
	}
}

// Name returns the registry name.
func (p *VoicevoxProvider) Name() string {
	return ProviderVoicevox
}

// Extension always returns wav.
func (p *VoicevoxProvider) Extension(_ core.Options) string {
	return core.ExtensionWAV
}

// Version reports the engine version, doubling as a health check.
func (p *VoicevoxProvider) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicevoxVersionPath, http.NoBody)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateRequest, err)
	}

	resp, sendErr := p.http.send(req, "", nil)
	if sendErr != nil {
		return "", sendErr
	}

	return strings.Trim(strings.TrimSpace(string(resp.body)), `"`), nil
}

// Synthesize builds and adjusts an audio query, then renders it to WAV.
func (p *VoicevoxProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	textErr := checkText(ProviderVoicevox, input, voicevoxMaxTextRunes)
	if textErr != nil {
		return nil, textErr
	}

	speaker, err := p.speaker(opts.Voice)
	if err != nil {
		return nil, err
	}

	query, queryErr := p.audioQuery(ctx, input, speaker)
	if queryErr != nil {
		return nil, queryErr
	}

	query["speedScale"] = valueOr(opts.Speed, 1.0)
	query["pitchScale"] = opts.Pitch
	query["intonationScale"] = valueOr(opts.Intonation, 1.0)
	query["volumeScale"] = valueOr(opts.Volume, 1.0)
	query["prePhonemeLength"] = voicevoxPhonemeSecs
	query["postPhonemeLength"] = voicevoxPhonemeSecs
	query["outputSamplingRate"] = intOr(opts.SampleRate, voicevoxSampleRate)
	query["outputStereo"] = false

	endpoint := p.baseURL + voicevoxSynthPath + "?speaker=" + strconv.Itoa(speaker)

	req, reqErr := newJSONRequest(ctx, http.MethodPost, endpoint, query)
	if reqErr != nil {
		return nil, reqErr
	}

	resp, sendErr := p.http.send(req, "", nil)
	if sendErr != nil {
		return nil, sendErr
	}

	return resp.body, nil
}

func (p *VoicevoxProvider) speaker(voice string) (int, error) {
	if strings.TrimSpace(voice) == "" {
		return p.defaultSpeaker, nil
	}

	speaker, err := strconv.Atoi(strings.TrimSpace(voice))
	if err != nil {
		return 0, core.NewProviderError(ProviderVoicevox, core.KindBadRequest, fmt.Sprintf(errFmtVoicevoxSpeaker, voice), nil)
	}

	return speaker, nil
}

func (p *VoicevoxProvider) audioQuery(ctx context.Context, input string, speaker int) (map[string]any, error) {
	params := url.Values{}
	params.Set("text", input)
	params.Set("speaker", strconv.Itoa(speaker))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+voicevoxQueryPath+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	resp, sendErr := p.http.send(req, "", nil)
	if sendErr != nil {
		return nil, sendErr
	}

	var query map[string]any

	decodeErr := parseJSON(resp.body, &query)
	if decodeErr != nil {
		return nil, core.NewProviderError(ProviderVoicevox, core.KindUnknown, fmt.Sprintf(errFmtVoicevoxQuery, decodeErr), nil)
	}

	return query, nil
}
