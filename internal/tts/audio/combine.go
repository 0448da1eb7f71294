package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/session"
)

const (
	errFmtSessionNotFound = "%w: %s"
	errFmtNoFiles         = "%w: %s"
	errFmtStatDir         = "failed to inspect session directory %s: %w"
	errFmtWriteCombined   = "failed to write combined audio %s: %w"
	logFmtCombining       = "Combining %d audio files for session %s"
	logFmtCombined        = "Combined session %s into %s (%d ms)"
)

// CombineResult describes a combined session artifact.
type CombineResult struct {
	CombinedPath   string   `json:"combined_path"`
	SourceFiles    []string `json:"-"`
	DurationMillis int64    `json:"durationMillis"`
}

// Combiner joins a session's numbered audio files into one WAV artifact.
type Combiner struct {
	log    *logger.Logger
	layout session.Layout
}

// NewCombiner creates a Combiner for layout.
func NewCombiner(layout session.Layout, log *logger.Logger) *Combiner {
	return &Combiner{log: log, layout: layout}
}

// Combine decodes every audio file of the session in ascending numeric order,
// concatenates them without gaps and writes outputs/combined_<session>.wav.
// The reported duration is the sum of the per-file durations. Source files are
// left in place.
func (c *Combiner) Combine(ctx context.Context, sessionID string) (CombineResult, error) {
	safeID, err := session.Validate(sessionID)
	if err != nil {
		return CombineResult{}, err
	}

	dir := c.layout.AudioDir(safeID)

	info, statErr := os.Stat(dir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return CombineResult{}, fmt.Errorf(errFmtSessionNotFound, core.ErrSessionNotFound, safeID)
		}

		return CombineResult{}, fmt.Errorf(errFmtStatDir, dir, statErr)
	}

	if !info.IsDir() {
		return CombineResult{}, fmt.Errorf(errFmtSessionNotFound, core.ErrSessionNotFound, safeID)
	}

	names, err := session.ListAudioFiles(dir)
	if err != nil {
		return CombineResult{}, err
	}

	if len(names) == 0 {
		return CombineResult{}, fmt.Errorf(errFmtNoFiles, core.ErrNoFilesToCombine, safeID)
	}

	SortBySequence(names)
	c.log.Info(logFmtCombining, len(names), safeID)

	clips := make([]Clip, 0, len(names))
	paths := make([]string, 0, len(names))

	var totalMillis int64

	for _, name := range names {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return CombineResult{}, fmt.Errorf("combine %s cancelled: %w", safeID, ctxErr)
		}

		path := filepath.Join(dir, name)

		clip, decodeErr := DecodeFile(path)
		if decodeErr != nil {
			return CombineResult{}, decodeErr
		}

		totalMillis += clip.DurationMillis()
		clips = append(clips, clip)
		paths = append(paths, path)
	}

	combined := Join(clips)
	combinedPath := c.layout.CombinedPath(safeID)

	writeErr := WriteWAVFile(combinedPath, combined)
	if writeErr != nil {
		return CombineResult{}, fmt.Errorf(errFmtWriteCombined, combinedPath, writeErr)
	}

	c.log.Info(logFmtCombined, safeID, combinedPath, totalMillis)

	return CombineResult{
		CombinedPath:   combinedPath,
		SourceFiles:    paths,
		DurationMillis: totalMillis,
	}, nil
}

// Join conforms clips to a common format and concatenates them in order.
func Join(clips []Clip) Clip {
	sampleRate, channels := TargetFormat(clips)
	joined := Clip{Samples: nil, SampleRate: sampleRate, Channels: channels}

	for _, clip := range clips {
		conformed := Conform(clip, sampleRate, channels)
		joined.Samples = append(joined.Samples, conformed.Samples...)
	}

	return joined
}

// SortBySequence orders file names by numeric stem; names without a numeric
// stem sort after numbered ones, alphabetically.
func SortBySequence(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		left, leftOK := session.SequenceOf(names[i])
		right, rightOK := session.SequenceOf(names[j])

		switch {
		case leftOK && rightOK:
			if left == right {
				return names[i] < names[j]
			}

			return left < right
		case leftOK:
			return true
		case rightOK:
			return false
		default:
			return names[i] < names[j]
		}
	})
}
