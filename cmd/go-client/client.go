package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/cleanup"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/service"
)

const (
	errFmtRequest  = "%s %s: %w"
	errFmtStatus   = "%s %s returned %d: %s"
	errFmtDecode   = "decode %s response: %w"
	maxErrorBody   = 512
	contentTypeKey = "Content-Type"
	contentTypeVal = "application/json"
)

// apiClient calls the TTS session service HTTP API.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type synthesizeBody struct {
	TempDir  string         `json:"tempdir"`
	Segments []core.Segment `json:"segments"`
	Options  core.Options   `json:"options"`
}

type combineBody struct {
	TempDir string `json:"tempdir"`
}

// Health calls /healthz.
func (c *apiClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any

	err := c.call(ctx, http.MethodGet, "/healthz", nil, &out)

	return out, err
}

// Synthesize submits one batch to /tts/:provider.
func (c *apiClient) Synthesize(
	ctx context.Context, provider, tempDir string, segments []core.Segment, opts core.Options,
) ([]core.SegmentResult, error) {
	var out []core.SegmentResult

	err := c.call(ctx, http.MethodPost, "/tts/"+provider, synthesizeBody{
		TempDir:  tempDir,
		Segments: segments,
		Options:  opts,
	}, &out)

	return out, err
}

// Combine calls /combine_wav.
func (c *apiClient) Combine(ctx context.Context, tempDir string) (service.CombineResult, error) {
	var out service.CombineResult

	err := c.call(ctx, http.MethodPost, "/combine_wav", combineBody{TempDir: tempDir}, &out)

	return out, err
}

// Cleanup calls /cleanup.
func (c *apiClient) Cleanup(ctx context.Context) (service.CleanupResult, error) {
	var out service.CleanupResult

	err := c.call(ctx, http.MethodPost, "/cleanup", nil, &out)

	return out, err
}

// StorageInfo calls /storage_info.
func (c *apiClient) StorageInfo(ctx context.Context) (cleanup.StorageInfo, error) {
	var out cleanup.StorageInfo

	err := c.call(ctx, http.MethodGet, "/storage_info", nil, &out)

	return out, err
}

func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf(errFmtRequest, method, path, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf(errFmtRequest, method, path, err)
	}

	req.Header.Set(contentTypeKey, contentTypeVal)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtRequest, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf(errFmtRequest, method, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf(errFmtStatus, method, path, resp.StatusCode, errorDetail(data))
	}

	decodeErr := json.Unmarshal(data, out)
	if decodeErr != nil {
		return fmt.Errorf(errFmtDecode, path, decodeErr)
	}

	return nil
}

// errorDetail extracts {"detail": ...} or returns the truncated body.
func errorDetail(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}

	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		return body.Detail
	}

	text := strings.TrimSpace(string(data))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}

	return text
}
