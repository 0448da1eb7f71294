package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const filePermissions = 0o600

// EncodeWAV writes clip to w as a 16-bit PCM WAV stream.
func EncodeWAV(w io.WriteSeeker, clip Clip) error {
	encoder := wav.NewEncoder(w, clip.SampleRate, bitDepth16, clip.Channels, pcmFormat)

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: clip.Channels, SampleRate: clip.SampleRate},
		Data:           clip.Samples,
		SourceBitDepth: bitDepth16,
	}

	err := encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf("close wav encoder: %w", closeErr)
	}

	return nil
}

// WriteWAVFile encodes clip into a new file at path, replacing any existing
// file only once the new one is complete.
func WriteWAVFile(path string, clip Clip) error {
	tempPath := path + ".partial"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("create %s: %w", tempPath, err)
	}

	encodeErr := EncodeWAV(file, clip)
	closeErr := file.Close()

	if encodeErr != nil {
		_ = os.Remove(tempPath)

		return encodeErr
	}

	if closeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("close %s: %w", tempPath, closeErr)
	}

	renameErr := os.Rename(tempPath, path)
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("move %s into place: %w", path, renameErr)
	}

	return nil
}
