// Package tts provides the synthesis providers and the segment processor.
//
// Every remote provider shares the HTTP plumbing in this file: a client with a
// per-provider timeout, an optional request limiter, and the mapping of
// upstream failures onto core.ProviderError.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-session-service/internal/core"
	"golang.org/x/time/rate"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	audioContentType  = "audio/"
)

// Error messages.
const (
	errMsgEmptyText        = "text cannot be empty"
	errMsgMissingAPIKey    = "API key is required"
	errMsgConnection       = "could not reach the service"
	errMsgEmptyAudio       = "received empty audio data"
	errFmtTextTooLong      = "text is %d characters, limit is %d"
	errFmtNotAudio         = "unexpected content type %q"
	errFmtCreateRequest    = "failed to create request: %w"
	errFmtMarshalRequest   = "failed to marshal request: %w"
	errFmtReadResponse     = "failed to read response body: %w"
	errFmtRateLimitPending = "rate limit wait cancelled: %w"
	maxErrorBodyRunes      = 200
)

// httpClient is the transport shared by the remote providers.
type httpClient struct {
	client   *http.Client
	limiter  *rate.Limiter
	provider string
}

// newHTTPClient builds the transport for provider. A non-positive
// requestsPerMinute disables request limiting.
func newHTTPClient(provider string, timeout time.Duration, requestsPerMinute int) *httpClient {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}

	return &httpClient{
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		provider: provider,
	}
}

// upstreamResponse is a fully read successful response.
type upstreamResponse struct {
	header http.Header
	body   []byte
}

// send waits for the limiter, performs req and reads the body. Transport
// failures become ServiceUnavailable; non-2xx responses are mapped by status,
// using overrides for provider-specific messages. secret is scrubbed from any
// upstream text placed in the error.
func (c *httpClient) send(req *http.Request, secret string, overrides map[int]string) (upstreamResponse, error) {
	if c.limiter != nil {
		waitErr := c.limiter.Wait(req.Context())
		if waitErr != nil {
			return upstreamResponse{}, fmt.Errorf(errFmtRateLimitPending, waitErr)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return upstreamResponse{}, ctxErr
		}

		return upstreamResponse{}, core.NewProviderError(
			c.provider, core.KindServiceUnavailable, errMsgConnection, scrubbed(err, secret))
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return upstreamResponse{}, core.NewProviderError(
			c.provider, core.KindServiceUnavailable, errMsgConnection, fmt.Errorf(errFmtReadResponse, readErr))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message, ok := overrides[resp.StatusCode]
		if !ok {
			message = core.RedactSecret(upstreamMessage(resp.Status, body), secret)
		}

		return upstreamResponse{}, core.NewStatusError(c.provider, resp.StatusCode, message)
	}

	if len(body) == 0 {
		return upstreamResponse{}, core.NewProviderError(c.provider, core.KindUnknown, errMsgEmptyAudio, nil)
	}

	return upstreamResponse{header: resp.Header, body: body}, nil
}

// expectAudio rejects responses that do not carry an audio content type.
func (c *httpClient) expectAudio(resp upstreamResponse, secret string) error {
	contentType := resp.header.Get(headerContentType)
	if strings.HasPrefix(strings.ToLower(contentType), audioContentType) {
		return nil
	}

	message := fmt.Sprintf(errFmtNotAudio, contentType)
	if detail := jsonMessage(resp.body); detail != "" {
		message = core.RedactSecret(detail, secret)
	}

	return core.NewProviderError(c.provider, core.KindUnknown, message, nil)
}

// upstreamMessage extracts a human-readable message from an error body,
// falling back to the truncated raw body and then the status line.
func upstreamMessage(status string, body []byte) string {
	if message := jsonMessage(body); message != "" {
		return message
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return status
	}

	runes := []rune(raw)
	if len(runes) > maxErrorBodyRunes {
		raw = string(runes[:maxErrorBodyRunes])
	}

	return status + ": " + raw
}

// resolveKey prefers the per-request key over the configured one.
func resolveKey(provider, requestKey, configuredKey string) (string, error) {
	key := strings.TrimSpace(requestKey)
	if key == "" {
		key = strings.TrimSpace(configuredKey)
	}

	if key == "" {
		return "", core.NewProviderError(provider, core.KindAuth, errMsgMissingAPIKey, nil)
	}

	return key, nil
}

// checkText rejects empty text and text above limit runes. A non-positive
// limit disables the length check.
func checkText(provider, text string, limit int) error {
	length := len([]rune(strings.TrimSpace(text)))
	if length == 0 {
		return core.NewProviderError(provider, core.KindBadRequest, errMsgEmptyText, nil)
	}

	if limit > 0 && length > limit {
		return core.NewProviderError(provider, core.KindBadRequest, fmt.Sprintf(errFmtTextTooLong, length, limit), nil)
	}

	return nil
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf(errFmtMarshalRequest, err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, reqErr)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	return req, nil
}

func scrubbed(err error, secret string) error {
	if secret == "" {
		return err
	}

	return errors.New(core.RedactSecret(err.Error(), secret))
}
