// Package service_test tests the orchestration of batches, combines and
// storage maintenance.
package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/cleanup"
	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/history"
	"github.com/book-expert/tts-session-service/internal/objectstore"
	"github.com/book-expert/tts-session-service/internal/service"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/book-expert/tts-session-service/internal/tts"
	"github.com/book-expert/tts-session-service/internal/tts/audio/audiotest"
	"github.com/book-expert/tts-session-service/internal/voices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPublish = errors.New("bucket offline")

type fakeProvider struct {
	err   error
	data  []byte
	calls int
	mu    sync.Mutex
}

func (f *fakeProvider) Name() string {
	return "fake"
}

func (f *fakeProvider) Extension(_ core.Options) string {
	return core.ExtensionWAV
}

func (f *fakeProvider) Synthesize(_ context.Context, _ string, _ core.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	return f.data, nil
}

type fakePublisher struct {
	err       error
	artifacts []objectstore.Artifact
}

func (f *fakePublisher) Publish(_ context.Context, artifact objectstore.Artifact) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.artifacts = append(f.artifacts, artifact)

	return objectstore.ArtifactKey(artifact.SessionID), nil
}

type fixture struct {
	svc       *service.Service
	provider  *fakeProvider
	publisher *fakePublisher
	store     *history.Store
	layout    session.Layout
}

func newFixture(t *testing.T, publisher *fakePublisher, opts ...cleanup.Option) fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "service-test.log")
	require.NoError(t, err)

	catalog, err := voices.Default()
	require.NoError(t, err)

	store, err := history.Open(context.Background(), config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionDays: 7,
		Enabled:       true,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	provider := &fakeProvider{err: nil, data: audiotest.WAV(t, 500, 16000, 1, 0), calls: 0, mu: sync.Mutex{}}
	outputs := t.TempDir()

	cfg := service.Config{
		Registry:            tts.NewRegistry(provider),
		Catalog:             catalog,
		History:             store,
		Publisher:           nil,
		Metrics:             nil,
		Log:                 log,
		OutputsDir:          outputs,
		SKTAPIKey:           "",
		CombineSweepMinutes: 0,
		CleanupSweepMinutes: 0,
		SampleCacheSize:     4,
	}
	if publisher != nil {
		cfg.Publisher = publisher
	}

	svc, err := service.New(cfg, opts...)
	require.NoError(t, err)

	return fixture{svc: svc, provider: provider, publisher: publisher, store: store, layout: session.NewLayout(outputs)}
}

func segments() []core.Segment {
	return []core.Segment{{ID: 1, Text: "첫 번째"}, {ID: 2, Text: "두 번째"}}
}

func TestService_SynthesizeCombinePublishAndRecord(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{err: nil, artifacts: nil}
	fx := newFixture(t, publisher)
	ctx := service.WithRequestID(context.Background(), "req-1")

	results, err := fx.svc.Synthesize(ctx, "fake", segments(), "book-7", core.Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(fx.layout.AudioDir("book-7"), "0001.wav"), results[0].Path)

	combined, err := fx.svc.Combine(ctx, "book-7")
	require.NoError(t, err)
	assert.Equal(t, fx.layout.CombinedPath("book-7"), combined.CombinedPath)
	assert.Equal(t, int64(1000), combined.DurationMillis)
	assert.Contains(t, combined.ArtifactKey, "combined/book-7/")
	assert.Equal(t, 2, combined.Cleanup.DeletedFiles)

	require.Len(t, publisher.artifacts, 1)
	assert.Equal(t, combined.CombinedPath, publisher.artifacts[0].Path)
	assert.Equal(t, int64(1000), publisher.artifacts[0].DurationMillis)

	_, statErr := os.Stat(fx.layout.SessionDir("book-7"))
	assert.True(t, os.IsNotExist(statErr))

	events, err := fx.svc.History(ctx, "book-7", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, history.KindSynthesize, events[0].Kind)
	assert.Equal(t, history.KindCombine, events[1].Kind)
	assert.Equal(t, "req-1", events[1].RequestID)
}

func TestService_CombineSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakePublisher{err: errPublish, artifacts: nil})
	ctx := context.Background()

	_, err := fx.svc.Synthesize(ctx, "fake", segments(), "s1", core.Options{})
	require.NoError(t, err)

	combined, err := fx.svc.Combine(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, combined.ArtifactKey)
	assert.FileExists(t, combined.CombinedPath)
}

func TestService_CombineErrors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.Combine(ctx, "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	_, err = fx.svc.Combine(ctx, "../escape")
	require.ErrorIs(t, err, core.ErrInvalidSessionID)

	require.NoError(t, os.MkdirAll(fx.layout.AudioDir("empty"), 0o750))

	_, err = fx.svc.Combine(ctx, "empty")
	require.ErrorIs(t, err, core.ErrNoFilesToCombine)

	events, err := fx.svc.History(ctx, "missing", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, history.KindFailure, events[0].Kind)
}

func TestService_DirectoryReferencesNeverReachOtherSessions(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	ctx := context.Background()

	results, err := fx.svc.Synthesize(ctx, "fake", segments(), "other", core.Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	combinedOther := fx.layout.CombinedPath("kept")
	require.NoError(t, os.WriteFile(combinedOther, []byte("x"), 0o600))

	for _, raw := range []string{".", "..", " . "} {
		_, err = fx.svc.Synthesize(ctx, "fake", segments(), raw, core.Options{})
		require.ErrorIs(t, err, core.ErrInvalidSessionID, raw)

		_, err = fx.svc.Combine(ctx, raw)
		require.ErrorIs(t, err, core.ErrInvalidSessionID, raw)
	}

	for _, result := range results {
		_, statErr := os.Stat(result.Path)
		assert.NoError(t, statErr, result.Path)
	}

	_, statErr := os.Stat(combinedOther)
	assert.NoError(t, statErr)

	_, err = fx.svc.Synthesize(ctx, "fake", segments(), "other", core.Options{Extension: "ogg"})
	require.ErrorIs(t, err, core.ErrValidation)

	fx.provider.mu.Lock()
	defer fx.provider.mu.Unlock()

	assert.Equal(t, 2, fx.provider.calls)
}

func TestService_SynthesizeErrors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.Synthesize(ctx, "nope", segments(), "s1", core.Options{})
	require.ErrorIs(t, err, core.ErrValidation)

	fx.provider.err = core.NewProviderError("fake", core.KindAuth, "bad key", nil)

	_, err = fx.svc.Synthesize(ctx, "fake", segments(), "s1", core.Options{})
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindAuth, kind)

	events, err := fx.svc.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, history.KindFailure, events[0].Kind)
}

func TestService_CleanupSweepsCombinedAndSessions(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fx := newFixture(t, nil, cleanup.WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
	ctx := context.Background()

	_, err := fx.svc.Synthesize(ctx, "fake", segments(), "a", core.Options{})
	require.NoError(t, err)

	_, err = fx.svc.Synthesize(ctx, "fake", segments()[:1], "b", core.Options{})
	require.NoError(t, err)

	audiotest.Write(t, fx.layout.CombinedPath("old"), []byte("RIFF"))

	result := fx.svc.Cleanup(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.OldCombinedFiles)
	assert.Equal(t, 3, result.TempFilesCleaned)
	assert.Equal(t, 4, result.TotalFilesCleaned)

	info := fx.svc.StorageInfo()
	assert.True(t, info.OutputsDirExists)
	assert.Zero(t, info.TotalFiles)
}

func TestService_SKTVoicesRequiresKey(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)

	_, err := fx.svc.SKTVoices(" ")
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindAuth, kind)

	list, err := fx.svc.SKTVoices("key")
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}

func TestService_VoiceSampleIsCached(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	ctx := context.Background()

	first, err := fx.svc.VoiceSample(ctx, "fake", "aria", core.Options{})
	require.NoError(t, err)
	assert.Equal(t, core.ExtensionWAV, first.Extension)

	second, err := fx.svc.VoiceSample(ctx, "fake", "aria", core.Options{})
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, fx.provider.calls)

	_, err = fx.svc.VoiceSample(ctx, "fake", "  ", core.Options{})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestService_Ready(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	require.NoError(t, fx.svc.Ready())
	assert.DirExists(t, fx.layout.Root())
	assert.ElementsMatch(t, []string{"fake"}, fx.svc.Providers())
}
