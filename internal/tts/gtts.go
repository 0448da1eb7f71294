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
	"github.com/book-expert/tts-session-service/internal/tts/text"
)

// ProviderGTTS is the registry name of the Google Translate provider.
const ProviderGTTS = "gtts"

const (
	gttsPath          = "/translate_tts"
	gttsClient        = "tw-ob"
	gttsMaxChunkRunes = 100
	gttsUserAgent     = "Mozilla/5.0"
	headerUserAgent   = "User-Agent"
)

// GTTSProvider synthesizes speech through the public Google Translate TTS
// endpoint. It needs no API key; long text is sent in chunks and the MP3
// bodies are concatenated.
type GTTSProvider struct {
	http     *httpClient
	text     *text.Preprocessor
	endpoint string
	language string
}

// NewGTTSProvider creates a GTTSProvider from its configuration section.
func NewGTTSProvider(cfg config.GTTSConfig) *GTTSProvider {
	return &GTTSProvider{
		http:     newHTTPClient(ProviderGTTS, time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.RequestsPerMinute),
		text:     text.NewPreprocessor(),
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + gttsPath,
		language: cfg.Language,
	}
}

// Name returns the registry name.
func (p *GTTSProvider) Name() string {
	return ProviderGTTS
}

// Extension always returns mp3.
func (p *GTTSProvider) Extension(_ core.Options) string {
	return core.ExtensionMP3
}

// Synthesize fetches one MP3 per chunk and returns their concatenation.
func (p *GTTSProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	normalized := p.text.Normalize(input)

	err := checkText(ProviderGTTS, normalized, 0)
	if err != nil {
		return nil, err
	}

	language := p.language
	if opts.Language != "" {
		language = opts.Language
	}

	var audio []byte

	for _, chunk := range p.text.Split(normalized, gttsMaxChunkRunes) {
		data, chunkErr := p.fetch(ctx, chunk, language)
		if chunkErr != nil {
			return nil, chunkErr
		}

		audio = append(audio, data...)
	}

	return audio, nil
}

func (p *GTTSProvider) fetch(ctx context.Context, chunk, language string) ([]byte, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", gttsClient)
	query.Set("tl", language)
	query.Set("q", chunk)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	req.Header.Set(headerUserAgent, gttsUserAgent)

	resp, sendErr := p.http.send(req, "", nil)
	if sendErr != nil {
		return nil, sendErr
	}

	return resp.body, nil
}
