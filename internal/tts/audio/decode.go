package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	bitDepth8           = 8
	bitDepth24          = 24
	bitDepth32          = 32
	unsigned8Offset     = 128
)

// Decode errors and formats.
var (
	errInvalidWAV          = errors.New("not a valid wav stream")
	errUnsupportedEncoding = errors.New("unsupported wav encoding")
	errUnsupportedFormat   = errors.New("unsupported audio extension")
	errEmptyStream         = errors.New("stream contains no audio frames")
)

const (
	errFmtDecodeFile  = "%w: %s: %w"
	errFmtDecodeBytes = "%w: %s payload: %w"
	errFmtWAVEncoding = "%w: format %d, %d-bit"
)

// DecodeFile decodes the file at path, choosing the codec from its extension.
func DecodeFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf(errFmtDecodeFile, core.ErrAudioDecode, path, err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	clip, err := decode(data, ext)
	if err != nil {
		return Clip{}, fmt.Errorf(errFmtDecodeFile, core.ErrAudioDecode, path, err)
	}

	return clip, nil
}

// Decode decodes an in-memory payload of the given extension ("mp3" or "wav").
func Decode(data []byte, extension string) (Clip, error) {
	clip, err := decode(data, extension)
	if err != nil {
		return Clip{}, fmt.Errorf(errFmtDecodeBytes, core.ErrAudioDecode, extension, err)
	}

	return clip, nil
}

// DurationMillis decodes the file at path and returns its duration.
func DurationMillis(path string) (int64, error) {
	clip, err := DecodeFile(path)
	if err != nil {
		return 0, err
	}

	return clip.DurationMillis(), nil
}

func decode(data []byte, extension string) (Clip, error) {
	switch strings.ToLower(extension) {
	case core.ExtensionWAV:
		return decodeWAV(data)
	case core.ExtensionMP3:
		return decodeMP3(data)
	default:
		return Clip{}, fmt.Errorf("%w: %q", errUnsupportedFormat, extension)
	}
}

func decodeWAV(data []byte) (Clip, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Clip{}, errInvalidWAV
	}

	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		return Clip{}, fmt.Errorf(errFmtWAVEncoding, errUnsupportedEncoding, decoder.WavAudioFormat, decoder.BitDepth)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read pcm: %w", err)
	}

	if buffer.Format == nil || buffer.Format.NumChannels <= 0 || buffer.Format.SampleRate <= 0 {
		return Clip{}, errInvalidWAV
	}

	samples, err := to16Bit(buffer.Data, int(decoder.BitDepth))
	if err != nil {
		return Clip{}, err
	}

	return Clip{
		Samples:    samples,
		SampleRate: buffer.Format.SampleRate,
		Channels:   buffer.Format.NumChannels,
	}, nil
}

func to16Bit(data []int, depth int) ([]int, error) {
	samples := make([]int, len(data))

	switch depth {
	case bitDepth8:
		for i, value := range data {
			samples[i] = (value - unsigned8Offset) << bitDepth8
		}
	case bitDepth16:
		copy(samples, data)
	case bitDepth24:
		for i, value := range data {
			samples[i] = value >> bitDepth8
		}
	case bitDepth32:
		for i, value := range data {
			samples[i] = value >> bitDepth16
		}
	default:
		return nil, fmt.Errorf(errFmtWAVEncoding, errUnsupportedEncoding, wavFormatPCM, depth)
	}

	return samples, nil
}

// decodeMP3 always yields stereo output; go-mp3 upmixes mono streams.
func decodeMP3(data []byte) (Clip, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("open mp3 stream: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Clip{}, fmt.Errorf("read mp3 stream: %w", err)
	}

	if len(pcm) < mp3SampleBytes*mp3Channels {
		return Clip{}, errEmptyStream
	}

	samples := make([]int, len(pcm)/mp3SampleBytes)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}

	return Clip{
		Samples:    samples,
		SampleRate: decoder.SampleRate(),
		Channels:   mp3Channels,
	}, nil
}
