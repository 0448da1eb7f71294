// Package audio decodes, conforms and concatenates session audio files.
//
// All decoded audio is held as interleaved 16-bit PCM so that files produced by
// different providers (MP3 and WAV, any rate or channel count) can be joined
// into one WAV artifact.
package audio

// Output encoding of combined artifacts.
const (
	bitDepth16     = 16
	pcmFormat      = 1
	millisPerSec   = 1000
	maxInt16       = 32767
	minInt16       = -32768
	mp3Channels    = 2
	mp3SampleBytes = 2
)

// Clip is decoded, interleaved 16-bit PCM audio.
type Clip struct {
	Samples    []int
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in the clip.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}

	return len(c.Samples) / c.Channels
}

// DurationMillis returns the clip duration truncated to whole milliseconds.
func (c Clip) DurationMillis() int64 {
	if c.SampleRate <= 0 {
		return 0
	}

	return int64(c.Frames()) * millisPerSec / int64(c.SampleRate)
}

