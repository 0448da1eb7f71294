// Package audiotest builds small audio payloads for tests.
package audiotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/tts-session-service/internal/tts/audio"
)

// MP3 frame layout: MPEG-1 Layer III, 128 kbps, 48 kHz, stereo, no CRC, no padding.
const (
	mp3FrameSize       = 384
	MP3SampleRate      = 48000
	MP3SamplesPerFrame = 1152
)

var mp3FrameHeader = []byte{0xFF, 0xFB, 0x94, 0x00}

// Clip returns a clip of durationMillis filled with value.
func Clip(durationMillis, sampleRate, channels, value int) audio.Clip {
	frames := durationMillis * sampleRate / 1000
	samples := make([]int, frames*channels)

	for i := range samples {
		samples[i] = value
	}

	return audio.Clip{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// WAV encodes a constant-valued clip as WAV bytes.
func WAV(t testing.TB, durationMillis, sampleRate, channels, value int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")

	err := audio.WriteWAVFile(path, Clip(durationMillis, sampleRate, channels, value))
	if err != nil {
		t.Fatalf("write wav fixture: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav fixture: %v", err)
	}

	return data
}

// SilentMP3 returns frames of all-zero MP3 audio; every frame decodes to
// 1152 stereo samples of silence at 48 kHz (24 ms).
func SilentMP3(frames int) []byte {
	out := make([]byte, 0, frames*mp3FrameSize)

	for range frames {
		frame := make([]byte, mp3FrameSize)
		copy(frame, mp3FrameHeader)
		out = append(out, frame...)
	}

	return out
}

// Write stores data at path, creating parent directories.
func Write(t testing.TB, path string, data []byte) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}
