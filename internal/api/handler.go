// Package api exposes the TTS session service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/cleanup"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/history"
	"github.com/book-expert/tts-session-service/internal/service"
	"github.com/book-expert/tts-session-service/internal/tts"
	"github.com/book-expert/tts-session-service/internal/voices"
	"github.com/gin-gonic/gin"
)

const (
	contentTypeWAV     = "audio/wav"
	contentTypeMPEG    = "audio/mpeg"
	dispositionType    = "attachment"
	sampleFileFmt      = "sample_%s.%s"
	headerDisposition  = "Content-Disposition"
	historyQueryLimit  = 100
	logFmtRequestError = "%s %s failed with %d: %v"
	errFmtBadBody      = "invalid request body: %v"
)

// Backend is the service surface used by the handlers.
type Backend interface {
	Synthesize(ctx context.Context, provider string, segments []core.Segment, sessionID string, opts core.Options) ([]core.SegmentResult, error)
	Combine(ctx context.Context, sessionID string) (service.CombineResult, error)
	Cleanup(ctx context.Context) service.CleanupResult
	StorageInfo() cleanup.StorageInfo
	CheckSKTKey(apiKey string) error
	SKTVoices(apiKey string) ([]voices.SKTVoice, error)
	VoiceSample(ctx context.Context, provider, voice string, opts core.Options) (service.Sample, error)
	History(ctx context.Context, sessionID string, limit int) ([]history.Event, error)
	Providers() []string
	Ready() error
}

// TTSRequest is the body of /tts_simple.
type TTSRequest struct {
	TempDir  string         `json:"tempdir"`
	Segments []core.Segment `json:"segments"`
}

// SKTRequest is the body of /tts_skt_ax.
type SKTRequest struct {
	TempDir  string         `json:"tempdir"`
	APIKey   string         `json:"api_key"`
	Voice    string         `json:"voice"`
	SFormat  string         `json:"sformat"`
	Segments []core.Segment `json:"segments"`
	Speed    float64        `json:"speed"`
	SR       int            `json:"sr"`
}

// ProviderRequest is the body of /tts/:provider.
type ProviderRequest struct {
	TempDir  string         `json:"tempdir"`
	Segments []core.Segment `json:"segments"`
	Options  core.Options   `json:"options"`
}

// CombineRequest is the body of /combine_wav.
type CombineRequest struct {
	TempDir string `json:"tempdir"`
}

// VoicesRequest is the body of the SKT A.X voice routes.
type VoicesRequest struct {
	APIKey string `json:"api_key"`
}

// Handler serves the HTTP routes.
type Handler struct {
	backend Backend
	log     *logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(backend Backend, log *logger.Logger) *Handler {
	return &Handler{backend: backend, log: log}
}

// HandleSimple synthesizes with gTTS.
func (h *Handler) HandleSimple(c *gin.Context) {
	var req TTSRequest
	if !h.bind(c, &req) {
		return
	}

	h.synthesize(c, tts.ProviderGTTS, req.Segments, req.TempDir, core.Options{})
}

// HandleSKTAX synthesizes with SKT A.X.
func (h *Handler) HandleSKTAX(c *gin.Context) {
	var req SKTRequest
	if !h.bind(c, &req) {
		return
	}

	keyErr := h.backend.CheckSKTKey(req.APIKey)
	if keyErr != nil {
		h.fail(c, keyErr)

		return
	}

	opts := core.Options{
		APIKey:     req.APIKey,
		Voice:      req.Voice,
		Format:     req.SFormat,
		Speed:      req.Speed,
		SampleRate: req.SR,
	}

	h.synthesize(c, tts.ProviderSKTAX, req.Segments, req.TempDir, opts)
}

// HandleProvider synthesizes with the provider named in the path.
func (h *Handler) HandleProvider(c *gin.Context) {
	var req ProviderRequest
	if !h.bind(c, &req) {
		return
	}

	h.synthesize(c, c.Param("provider"), req.Segments, req.TempDir, req.Options)
}

func (h *Handler) synthesize(c *gin.Context, provider string, segments []core.Segment, sessionID string, opts core.Options) {
	results, err := h.backend.Synthesize(c.Request.Context(), provider, segments, sessionID, opts)
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, results)
}

// HandleCombine combines a session and cleans it up.
func (h *Handler) HandleCombine(c *gin.Context) {
	var req CombineRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.backend.Combine(c.Request.Context(), req.TempDir)
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleSKTVoices lists the SKT A.X catalog.
func (h *Handler) HandleSKTVoices(c *gin.Context) {
	var req VoicesRequest
	if !h.bind(c, &req) {
		return
	}

	list, err := h.backend.SKTVoices(req.APIKey)
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, list)
}

// HandleSKTSample returns a preview of one SKT A.X voice as an attachment.
func (h *Handler) HandleSKTSample(c *gin.Context) {
	var req VoicesRequest
	if !h.bind(c, &req) {
		return
	}

	keyErr := h.backend.CheckSKTKey(req.APIKey)
	if keyErr != nil {
		h.fail(c, keyErr)

		return
	}

	voice := c.Param("voice")

	sample, err := h.backend.VoiceSample(c.Request.Context(), tts.ProviderSKTAX, voice, core.Options{
		APIKey: req.APIKey,
		Format: core.ExtensionWAV,
	})
	if err != nil {
		h.fail(c, err)

		return
	}

	contentType := contentTypeWAV
	if sample.Extension == core.ExtensionMP3 {
		contentType = contentTypeMPEG
	}

	c.Header(headerDisposition, sampleDisposition(voice, sample.Extension))
	c.Data(http.StatusOK, contentType, sample.Data)
}

// sampleDisposition quotes or RFC 2231 encodes the voice so that arbitrary
// path values cannot alter the header.
func sampleDisposition(voice, extension string) string {
	disposition := mime.FormatMediaType(dispositionType, map[string]string{
		"filename": fmt.Sprintf(sampleFileFmt, voice, extension),
	})
	if disposition == "" {
		return dispositionType
	}

	return disposition
}

// HandleStorageInfo reports outputs directory usage.
func (h *Handler) HandleStorageInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.StorageInfo())
}

// HandleCleanup runs storage maintenance.
func (h *Handler) HandleCleanup(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Cleanup(c.Request.Context()))
}

// HandleHistory lists the events of one session.
func (h *Handler) HandleHistory(c *gin.Context) {
	events, err := h.backend.History(c.Request.Context(), c.Param("session"), historyQueryLimit)
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, events)
}

// HandleHealth reports liveness and the registered providers.
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "providers": h.backend.Providers()})
}

// HandleReady reports whether the outputs directory is usable.
func (h *Handler) HandleReady(c *gin.Context) {
	err := h.backend.Ready()
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) bind(c *gin.Context, target any) bool {
	err := c.ShouldBindJSON(target)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf(errFmtBadBody, err)})

		return false
	}

	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, detail := StatusOf(err)
	h.log.Warn(logFmtRequestError, c.Request.Method, c.FullPath(), status, err)
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// StatusOf maps an error to an HTTP status and a client-facing message.
func StatusOf(err error) (int, string) {
	var providerErr *core.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind.HTTPStatus(), providerErr.Message
	}

	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrInvalidSessionID),
		errors.Is(err, core.ErrNoFilesToCombine):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
