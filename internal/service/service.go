// Package service orchestrates synthesis batches, combines and storage
// maintenance for the HTTP and NATS transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/cleanup"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/history"
	"github.com/book-expert/tts-session-service/internal/objectstore"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/book-expert/tts-session-service/internal/telemetry"
	"github.com/book-expert/tts-session-service/internal/tts"
	"github.com/book-expert/tts-session-service/internal/tts/audio"
	"github.com/book-expert/tts-session-service/internal/voices"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultCombineSweepMinutes = 30
	defaultCleanupSweepMinutes = 60
	defaultSampleCacheSize     = 64
	outputsDirPerms            = 0o750
)

// Log and error formats.
const (
	logFmtSynthesized     = "Session %s: %d segments synthesized with %s"
	logFmtCleanupWarning  = "Cleanup after combining %s reported: %s"
	logFmtSweepWarning    = "Combined sweep reported: %s"
	logFmtPublishFailed   = "Publishing combined audio for %s failed: %v"
	logFmtPublished       = "Published combined audio for %s as %s"
	logFmtHistoryFailed   = "Recording %s history for %s failed: %v"
	logFmtHistoryPrune    = "History prune failed: %v"
	logFmtSampleCached    = "Serving cached %s sample for voice %s"
	logFmtMaintenanceDone = "Storage cleanup removed %d files (%d old combined, %d session files)"
	errFmtSampleVoice     = "%w: voice name cannot be empty"
	errFmtOutputsDir      = "%w: %s: %w"
	errMsgSKTKeyRequired  = "SKT A.X TTS API key is required"
	detailFmtSynthesized  = "%d segments via %s"
	detailFmtCombined     = "%d ms, %d files cleaned"
)

// Publisher stores combined artifacts outside the local filesystem.
type Publisher interface {
	Publish(ctx context.Context, artifact objectstore.Artifact) (string, error)
}

// Config wires a Service. Publisher and History may be nil.
type Config struct {
	Registry            *tts.Registry
	Catalog             *voices.Catalog
	History             *history.Store
	Publisher           Publisher
	Metrics             *telemetry.Instruments
	Log                 *logger.Logger
	OutputsDir          string
	SKTAPIKey           string
	CombineSweepMinutes int
	CleanupSweepMinutes int
	SampleCacheSize     int
}

// CombineResult is returned by Combine.
type CombineResult struct {
	CombinedPath   string         `json:"combined_path"`
	ArtifactKey    string         `json:"artifact_key,omitempty"`
	Cleanup        cleanup.Result `json:"-"`
	DurationMillis int64          `json:"durationMillis"`
}

// CleanupResult is returned by Cleanup.
type CleanupResult struct {
	Errors            []string `json:"errors,omitempty"`
	TotalFilesCleaned int      `json:"total_files_cleaned"`
	OldCombinedFiles  int      `json:"old_combined_files"`
	TempFilesCleaned  int      `json:"temp_files_cleaned"`
	Success           bool     `json:"success"`
}

// Sample is a synthesized voice preview.
type Sample struct {
	Data      []byte
	Extension string
}

// Service is the transport-independent entry point of the TTS backend.
type Service struct {
	registry      *tts.Registry
	catalog       *voices.Catalog
	history       *history.Store
	publisher     Publisher
	metrics       *telemetry.Instruments
	log           *logger.Logger
	processor     *tts.SegmentProcessor
	combiner      *audio.Combiner
	cleaner       *cleanup.Cleaner
	locks         *session.Locks
	samples       *lru.Cache[string, Sample]
	layout        session.Layout
	sktAPIKey     string
	combineMaxAge float64
	cleanupMaxAge float64
}

// New builds a Service from cfg.
func New(cfg Config, opts ...cleanup.Option) (*Service, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Noop()
	}

	cacheSize := cfg.SampleCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultSampleCacheSize
	}

	samples, err := lru.New[string, Sample](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sample cache: %w", err)
	}

	layout := session.NewLayout(cfg.OutputsDir)
	locks := session.NewLocks()

	observeErr := cfg.Metrics.ObserveLockedSessions(locks.Len)
	if observeErr != nil {
		return nil, observeErr
	}

	return &Service{
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		history:       cfg.History,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		log:           cfg.Log,
		processor:     tts.NewSegmentProcessor(layout, locks, cfg.Metrics, cfg.Log),
		combiner:      audio.NewCombiner(layout, cfg.Log),
		cleaner:       cleanup.New(layout, cfg.Log, opts...),
		locks:         locks,
		samples:       samples,
		layout:        layout,
		sktAPIKey:     cfg.SKTAPIKey,
		combineMaxAge: float64(minutesOr(cfg.CombineSweepMinutes, defaultCombineSweepMinutes)),
		cleanupMaxAge: float64(minutesOr(cfg.CleanupSweepMinutes, defaultCleanupSweepMinutes)),
	}, nil
}

// Providers lists the registered provider names.
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// Ready reports whether the outputs directory can be used.
func (s *Service) Ready() error {
	err := os.MkdirAll(s.layout.Root(), outputsDirPerms)
	if err != nil {
		return fmt.Errorf(errFmtOutputsDir, core.ErrDirectoryCreate, s.layout.Root(), err)
	}

	return nil
}

// Synthesize runs one batch through the named provider.
func (s *Service) Synthesize(
	ctx context.Context,
	providerName string,
	segments []core.Segment,
	sessionID string,
	opts core.Options,
) ([]core.SegmentResult, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	results, err := s.processor.Process(ctx, provider, segments, sessionID, opts)
	if err != nil {
		s.record(ctx, sessionID, history.KindFailure, err.Error())

		return nil, err
	}

	s.log.Info(logFmtSynthesized, sessionID, len(results), provider.Name())
	s.record(ctx, sessionID, history.KindSynthesize, fmt.Sprintf(detailFmtSynthesized, len(results), provider.Name()))

	return results, nil
}

// Combine merges the session audio into combined_<session>.wav, removes the
// session directory and ages out old combined files. Cleanup and publishing
// problems are logged and never fail the call.
func (s *Service) Combine(ctx context.Context, sessionID string) (CombineResult, error) {
	safeID, err := session.Validate(sessionID)
	if err != nil {
		return CombineResult{}, err
	}

	ctx, span := s.metrics.Start(ctx, "tts.combine", telemetry.AttrSession.String(safeID))
	defer span.End()

	unlock := s.locks.Lock(safeID)
	defer unlock()

	combined, err := s.combiner.Combine(ctx, safeID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.record(ctx, safeID, history.KindFailure, err.Error())

		return CombineResult{}, err
	}

	result := CombineResult{
		CombinedPath:   combined.CombinedPath,
		ArtifactKey:    "",
		Cleanup:        cleanup.Result{Errors: nil, DeletedFiles: 0, DeletedSize: 0, Success: false},
		DurationMillis: combined.DurationMillis,
	}

	cleaned, cleanErr := s.cleaner.CleanSession(safeID)
	if cleanErr != nil {
		s.log.Warn(logFmtCleanupWarning, safeID, cleanErr.Error())
	}

	for _, msg := range cleaned.Errors {
		s.log.Warn(logFmtCleanupWarning, safeID, msg)
	}

	result.Cleanup = cleaned

	swept := s.cleaner.SweepOldCombined(s.combineMaxAge)
	for _, msg := range swept.Errors {
		s.log.Warn(logFmtSweepWarning, msg)
	}

	s.metrics.FilesDeleted(ctx, cleaned.DeletedFiles+swept.DeletedFiles)
	s.metrics.SessionCombined(ctx, combined.DurationMillis)

	result.ArtifactKey = s.publish(ctx, safeID, combined)

	s.record(ctx, safeID, history.KindCombine, fmt.Sprintf(detailFmtCombined, combined.DurationMillis, cleaned.DeletedFiles))

	return result, nil
}

func (s *Service) publish(ctx context.Context, sessionID string, combined audio.CombineResult) string {
	if s.publisher == nil {
		return ""
	}

	key, err := s.publisher.Publish(ctx, objectstore.Artifact{
		SessionID:      sessionID,
		Path:           combined.CombinedPath,
		DurationMillis: combined.DurationMillis,
	})
	if err != nil {
		s.log.Warn(logFmtPublishFailed, sessionID, err)

		return ""
	}

	s.log.Info(logFmtPublished, sessionID, key)

	return key
}

// Cleanup removes combined files older than the cleanup window and every
// session directory, then prunes expired history.
func (s *Service) Cleanup(ctx context.Context) CleanupResult {
	swept := s.cleaner.SweepOldCombined(s.cleanupMaxAge)
	all := s.cleaner.CleanAll()

	errs := make([]string, 0, len(swept.Errors)+len(all.Errors))
	errs = append(errs, swept.Errors...)
	errs = append(errs, all.Errors...)

	for _, msg := range errs {
		s.log.Warn(logFmtSweepWarning, msg)
	}

	total := swept.DeletedFiles + all.DeletedFiles
	s.metrics.FilesDeleted(ctx, total)
	s.log.Info(logFmtMaintenanceDone, total, swept.DeletedFiles, all.DeletedFiles)

	if s.history != nil {
		pruneErr := s.history.Prune(ctx)
		if pruneErr != nil {
			s.log.Warn(logFmtHistoryPrune, pruneErr)
		}
	}

	s.record(ctx, "", history.KindCleanup, fmt.Sprintf("%d files", total))

	return CleanupResult{
		Errors:            errs,
		TotalFilesCleaned: total,
		OldCombinedFiles:  swept.DeletedFiles,
		TempFilesCleaned:  all.DeletedFiles,
		Success:           true,
	}
}

// StorageInfo reports usage below the outputs directory.
func (s *Service) StorageInfo() cleanup.StorageInfo {
	return s.cleaner.StorageInfo()
}

// CheckSKTKey fails with an auth error when no SKT A.X key is supplied or
// configured.
func (s *Service) CheckSKTKey(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" && s.sktAPIKey == "" {
		return core.NewProviderError(tts.ProviderSKTAX, core.KindAuth, errMsgSKTKeyRequired, nil)
	}

	return nil
}

// SKTVoices lists the SKT A.X catalog. A key must be supplied or configured.
func (s *Service) SKTVoices(apiKey string) ([]voices.SKTVoice, error) {
	err := s.CheckSKTKey(apiKey)
	if err != nil {
		return nil, err
	}

	return s.catalog.SKTVoices(), nil
}

// VoiceSample synthesizes the preview sentence with voice. Previews are cached
// per provider, voice, model and format.
func (s *Service) VoiceSample(ctx context.Context, providerName, voice string, opts core.Options) (Sample, error) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return Sample{}, fmt.Errorf(errFmtSampleVoice, core.ErrValidation)
	}

	provider, err := s.registry.Get(providerName)
	if err != nil {
		return Sample{}, err
	}

	opts.Voice = voice
	key := strings.Join([]string{provider.Name(), voice, opts.Model, opts.Format}, "|")

	cached, ok := s.samples.Get(key)
	if ok {
		s.log.Info(logFmtSampleCached, provider.Name(), voice)

		return cached, nil
	}

	data, err := provider.Synthesize(ctx, tts.SKTSampleText, opts)
	if err != nil {
		var providerErr *core.ProviderError
		if errors.As(err, &providerErr) {
			s.metrics.ProviderFailed(ctx, provider.Name(), providerErr.Kind.String())
		}

		return Sample{}, err
	}

	sample := Sample{Data: data, Extension: provider.Extension(opts)}
	s.samples.Add(key, sample)

	return sample, nil
}

// History lists the recorded events of a session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.Event, error) {
	safeID, err := session.Validate(sessionID)
	if err != nil {
		return nil, err
	}

	if s.history == nil {
		return []history.Event{}, nil
	}

	return s.history.List(ctx, safeID, limit)
}

func (s *Service) record(ctx context.Context, sessionID, kind, detail string) {
	if s.history == nil {
		return
	}

	err := s.history.Append(ctx, history.Event{
		CreatedAt: time.Time{},
		SessionID: sessionID,
		RequestID: RequestID(ctx),
		Kind:      kind,
		Detail:    detail,
		ID:        0,
	})
	if err != nil {
		s.log.Warn(logFmtHistoryFailed, kind, sessionID, err)
	}
}

func minutesOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}

	return value
}
