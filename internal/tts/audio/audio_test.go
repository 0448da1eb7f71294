// Package audio_test tests decoding, conforming and combining session audio.
package audio_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/book-expert/tts-session-service/internal/tts/audio"
	"github.com/book-expert/tts-session-service/internal/tts/audio/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mp3Tolerance allows one MP3 frame (24 ms at 48 kHz) of decoder slack.
const mp3Tolerance = 24

func newCombiner(t *testing.T) (*audio.Combiner, session.Layout) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "audio-test.log")
	require.NoError(t, err)

	layout := session.NewLayout(t.TempDir())

	return audio.NewCombiner(layout, log), layout
}

func TestDecode_WAVDuration(t *testing.T) {
	t.Parallel()

	data := audiotest.WAV(t, 1500, 22050, 1, 0)

	clip, err := audio.Decode(data, "wav")
	require.NoError(t, err)

	assert.Equal(t, 22050, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, int64(1500), clip.DurationMillis())
}

func TestDecode_MP3Duration(t *testing.T) {
	t.Parallel()

	clip, err := audio.Decode(audiotest.SilentMP3(25), "mp3")
	require.NoError(t, err)

	assert.Equal(t, audiotest.MP3SampleRate, clip.SampleRate)
	assert.Equal(t, 2, clip.Channels)
	assert.InDelta(t, 600, clip.DurationMillis(), mp3Tolerance)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audio.Decode([]byte("definitely not audio"), "wav")
	require.ErrorIs(t, err, core.ErrAudioDecode)

	_, err = audio.Decode([]byte("RIFF"), "ogg")
	require.ErrorIs(t, err, core.ErrAudioDecode)
}

func TestConform_PreservesDuration(t *testing.T) {
	t.Parallel()

	mono := audiotest.Clip(250, 8000, 1, 1200)

	stereo := audio.Conform(mono, 16000, 2)

	assert.Equal(t, 16000, stereo.SampleRate)
	assert.Equal(t, 2, stereo.Channels)
	assert.Equal(t, int64(250), stereo.DurationMillis())
	assert.Equal(t, 1200, stereo.Samples[0])
	assert.Equal(t, 1200, stereo.Samples[len(stereo.Samples)-1])

	down := audio.Conform(stereo, 8000, 1)
	assert.Equal(t, int64(250), down.DurationMillis())
}

func TestSortBySequence(t *testing.T) {
	t.Parallel()

	names := []string{"0010.wav", "0002.mp3", "notes.wav", "0001.wav", "10000.mp3"}

	audio.SortBySequence(names)

	assert.Equal(t, []string{"0001.wav", "0002.mp3", "0010.wav", "10000.mp3", "notes.wav"}, names)
}

func TestCombine_OrdersByNumericStemAndSumsDurations(t *testing.T) {
	t.Parallel()

	combiner, layout := newCombiner(t)
	dir := layout.AudioDir("ordered")

	durations := []int{100, 200, 300, 400, 500}

	for index := len(durations) - 1; index >= 0; index-- {
		name := filepath.Join(dir, sequenceName(index+1, "wav"))
		audiotest.Write(t, name, audiotest.WAV(t, durations[index], 8000, 1, (index+1)*100))
	}

	result, err := combiner.Combine(context.Background(), "ordered")
	require.NoError(t, err)

	assert.Equal(t, int64(1500), result.DurationMillis)
	assert.Equal(t, layout.CombinedPath("ordered"), result.CombinedPath)
	assert.Len(t, result.SourceFiles, 5)

	combined, err := audio.DecodeFile(result.CombinedPath)
	require.NoError(t, err)
	require.Equal(t, int64(1500), combined.DurationMillis())

	offset := 0
	for index, duration := range durations {
		frames := duration * 8
		assert.Equal(t, (index+1)*100, combined.Samples[offset], "first sample of segment %d", index+1)
		assert.Equal(t, (index+1)*100, combined.Samples[offset+frames-1], "last sample of segment %d", index+1)
		offset += frames
	}

	for _, source := range result.SourceFiles {
		_, statErr := os.Stat(source)
		assert.NoError(t, statErr, "combine must leave sources in place")
	}
}

func TestCombine_MixedExtensions(t *testing.T) {
	t.Parallel()

	combiner, layout := newCombiner(t)
	dir := layout.AudioDir("mixed")

	audiotest.Write(t, filepath.Join(dir, "0001.mp3"), audiotest.SilentMP3(25))
	audiotest.Write(t, filepath.Join(dir, "0002.wav"), audiotest.WAV(t, 1400, audiotest.MP3SampleRate, 2, 1000))

	result, err := combiner.Combine(context.Background(), "mixed")
	require.NoError(t, err)
	assert.InDelta(t, 2000, result.DurationMillis, mp3Tolerance)

	combined, err := audio.DecodeFile(result.CombinedPath)
	require.NoError(t, err)

	assert.Equal(t, 0, combined.Samples[0], "mp3 silence comes first")
	assert.Equal(t, 1000, combined.Samples[len(combined.Samples)-1], "wav tone comes last")
}

func TestCombine_SessionNotFound(t *testing.T) {
	t.Parallel()

	combiner, _ := newCombiner(t)

	_, err := combiner.Combine(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestCombine_RejectsDirectoryReferences(t *testing.T) {
	t.Parallel()

	combiner, layout := newCombiner(t)
	audiotest.Write(t, filepath.Join(layout.Root(), "audio", "tts", "0001.wav"), audiotest.WAV(t, 100, 16000, 1, 0))

	for _, raw := range []string{".", "..", "a/b"} {
		_, err := combiner.Combine(context.Background(), raw)
		require.ErrorIs(t, err, core.ErrInvalidSessionID, raw)
	}

	entries, err := os.ReadDir(layout.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "audio", entries[0].Name())
}

func TestCombine_NoFilesToCombine(t *testing.T) {
	t.Parallel()

	combiner, layout := newCombiner(t)
	require.NoError(t, os.MkdirAll(layout.AudioDir("empty"), 0o750))

	_, err := combiner.Combine(context.Background(), "empty")
	require.ErrorIs(t, err, core.ErrNoFilesToCombine)
}

func TestCombine_CorruptFileIsDecodeError(t *testing.T) {
	t.Parallel()

	combiner, layout := newCombiner(t)
	audiotest.Write(t, filepath.Join(layout.AudioDir("bad"), "0001.wav"), []byte("garbage"))

	_, err := combiner.Combine(context.Background(), "bad")
	require.ErrorIs(t, err, core.ErrAudioDecode)

	_, statErr := os.Stat(layout.CombinedPath("bad"))
	assert.True(t, os.IsNotExist(statErr))
}

func sequenceName(sequence int, ext string) string {
	return fmt.Sprintf("%04d.%s", sequence, ext)
}
