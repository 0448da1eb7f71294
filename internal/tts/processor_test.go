// Package tts_test tests the providers and the segment processor.
package tts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/tts-session-service/internal/cleanup"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/book-expert/tts-session-service/internal/telemetry"
	"github.com/book-expert/tts-session-service/internal/tts"
	"github.com/book-expert/tts-session-service/internal/tts/audio"
	"github.com/book-expert/tts-session-service/internal/tts/audio/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider returns prepared payloads in call order.
type stubProvider struct {
	err       error
	payloads  [][]byte
	extension string
	calls     int
	mu        sync.Mutex
}

func (s *stubProvider) Name() string {
	return "stub"
}

func (s *stubProvider) Extension(_ core.Options) string {
	return s.extension
}

func (s *stubProvider) Synthesize(_ context.Context, _ string, _ core.Options) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.calls
	s.calls++

	if s.err != nil && index >= len(s.payloads) {
		return nil, s.err
	}

	return s.payloads[index%len(s.payloads)], nil
}

func newProcessor(t *testing.T) (*tts.SegmentProcessor, session.Layout, *session.Locks) {
	t.Helper()

	layout := session.NewLayout(t.TempDir())
	locks := session.NewLocks()

	return tts.NewSegmentProcessor(layout, locks, telemetry.Noop(), testLogger(t)), layout, locks
}

func TestProcess_EndToEndCombineAndClean(t *testing.T) {
	t.Parallel()

	processor, layout, _ := newProcessor(t)

	provider := &stubProvider{
		err: nil,
		payloads: [][]byte{
			audiotest.WAV(t, 1000, 16000, 1, 0),
			audiotest.WAV(t, 1500, 16000, 1, 0),
		},
		extension: "mp3",
		calls:     0,
		mu:        sync.Mutex{},
	}

	segments := []core.Segment{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}

	results, err := processor.Process(context.Background(), provider, segments, "s1", core.Options{Extension: "wav"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	dir := layout.AudioDir("s1")
	assert.Equal(t, core.SegmentResult{Sequence: 1, Text: "a", DurationMillis: 1000, Path: filepath.Join(dir, "0001.wav")}, results[0])
	assert.Equal(t, core.SegmentResult{Sequence: 2, Text: "b", DurationMillis: 1500, Path: filepath.Join(dir, "0002.wav")}, results[1])

	combined, err := audio.NewCombiner(layout, testLogger(t)).Combine(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), combined.DurationMillis)
	assert.Equal(t, layout.CombinedPath("s1"), combined.CombinedPath)

	cleaned, err := cleanup.New(layout, testLogger(t)).CleanSession("s1")
	require.NoError(t, err)
	assert.True(t, cleaned.Success)
	assert.GreaterOrEqual(t, cleaned.DeletedFiles, 2)

	_, statErr := os.Stat(layout.SessionDir("s1"))
	assert.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(layout.CombinedPath("s1"))
	assert.NoError(t, statErr)
}

func TestProcess_UsesProviderExtensionAndMP3Durations(t *testing.T) {
	t.Parallel()

	processor, layout, _ := newProcessor(t)

	provider := &stubProvider{
		err:       nil,
		payloads:  [][]byte{audiotest.SilentMP3(25)},
		extension: "mp3",
		calls:     0,
		mu:        sync.Mutex{},
	}

	results, err := processor.Process(context.Background(), provider,
		[]core.Segment{{ID: 7, Text: "first"}, {ID: 3, Text: "second"}}, "ids", core.Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 7, results[0].Sequence)
	assert.Equal(t, 3, results[1].Sequence)
	assert.Equal(t, filepath.Join(layout.AudioDir("ids"), "0001.mp3"), results[0].Path)
	assert.Equal(t, filepath.Join(layout.AudioDir("ids"), "0002.mp3"), results[1].Path)
	assert.InDelta(t, 600, results[0].DurationMillis, 24)
}

func TestProcess_ValidationHappensBeforeIO(t *testing.T) {
	t.Parallel()

	processor, layout, _ := newProcessor(t)

	provider := &stubProvider{err: nil, payloads: [][]byte{[]byte("x")}, extension: "wav", calls: 0, mu: sync.Mutex{}}

	tests := []struct {
		name     string
		session  string
		segments []core.Segment
	}{
		{name: "no segments", session: "s1", segments: nil},
		{name: "empty text", session: "s1", segments: []core.Segment{{ID: 1, Text: "ok"}, {ID: 2, Text: "  "}}},
		{name: "empty session", session: "", segments: []core.Segment{{ID: 1, Text: "ok"}}},
		{name: "traversal", session: "../etc", segments: []core.Segment{{ID: 1, Text: "ok"}}},
		{name: "outputs root", session: ".", segments: []core.Segment{{ID: 1, Text: "ok"}}},
	}

	for _, testCase := range tests {
		_, err := processor.Process(context.Background(), provider, testCase.segments, testCase.session, core.Options{})
		require.ErrorIs(t, err, core.ErrValidation, testCase.name)
	}

	assert.Equal(t, 0, provider.calls)

	_, statErr := os.Stat(layout.SessionDir("s1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcess_RejectsUnnumberedExtensionBeforeSynthesis(t *testing.T) {
	t.Parallel()

	processor, layout, _ := newProcessor(t)

	requested := &stubProvider{err: nil, payloads: [][]byte{[]byte("x")}, extension: "wav", calls: 0, mu: sync.Mutex{}}

	_, err := processor.Process(context.Background(), requested,
		[]core.Segment{{ID: 1, Text: "ok"}}, "s1", core.Options{Extension: "ogg"})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, requested.calls)

	declared := &stubProvider{err: nil, payloads: [][]byte{[]byte("x")}, extension: "flac", calls: 0, mu: sync.Mutex{}}

	_, err = processor.Process(context.Background(), declared,
		[]core.Segment{{ID: 1, Text: "ok"}}, "s1", core.Options{})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, declared.calls)

	_, statErr := os.Stat(layout.SessionDir("s1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcess_ProviderErrorAbortsBatchWithoutRollback(t *testing.T) {
	t.Parallel()

	processor, layout, _ := newProcessor(t)

	providerErr := core.NewProviderError("stub", core.KindRateLimit, "slow down", nil)
	provider := &stubProvider{
		err:       providerErr,
		payloads:  [][]byte{audiotest.WAV(t, 100, 8000, 1, 0)},
		extension: "wav",
		calls:     0,
		mu:        sync.Mutex{},
	}

	segments := []core.Segment{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}, {ID: 3, Text: "c"}}

	results, err := processor.Process(context.Background(), provider, segments, "partial", core.Options{})
	require.Error(t, err)
	assert.Nil(t, results)

	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindRateLimit, kind)

	names, listErr := session.ListAudioFiles(layout.AudioDir("partial"))
	require.NoError(t, listErr)
	assert.Equal(t, []string{"0001.wav"}, names)
	assert.Equal(t, 2, provider.calls)
}

func TestProcess_UndecodablePayloadIsDecodeError(t *testing.T) {
	t.Parallel()

	processor, _, _ := newProcessor(t)

	provider := &stubProvider{err: nil, payloads: [][]byte{[]byte("not audio")}, extension: "wav", calls: 0, mu: sync.Mutex{}}

	_, err := processor.Process(context.Background(), provider, []core.Segment{{ID: 1, Text: "a"}}, "bad", core.Options{})
	require.ErrorIs(t, err, core.ErrAudioDecode)
	assert.False(t, errors.Is(err, core.ErrFilePersist))
}

func TestProcess_ConcurrentBatchesOnOneSessionNeverShareANumber(t *testing.T) {
	t.Parallel()

	processor, layout, locks := newProcessor(t)

	provider := &stubProvider{
		err:       nil,
		payloads:  [][]byte{audiotest.WAV(t, 10, 8000, 1, 0)},
		extension: "wav",
		calls:     0,
		mu:        sync.Mutex{},
	}

	const batches = 8

	var waitGroup sync.WaitGroup

	for range batches {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, err := processor.Process(context.Background(), provider,
				[]core.Segment{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}, "shared", core.Options{})
			if err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}

	waitGroup.Wait()

	names, err := session.ListAudioFiles(layout.AudioDir("shared"))
	require.NoError(t, err)
	require.Len(t, names, batches*2)

	audio.SortBySequence(names)

	for index, name := range names {
		sequence, ok := session.SequenceOf(name)
		require.True(t, ok)
		assert.Equal(t, index+1, sequence)
	}

	assert.Equal(t, 0, locks.Len())
}
