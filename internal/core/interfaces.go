// Package core defines the domain types and interfaces shared by the TTS session service.
package core

import "context"

// Audio file extensions understood by the namer and the combiner.
const (
	ExtensionMP3 = "mp3"
	ExtensionWAV = "wav"
)

// SupportedExtensions lists every audio extension that participates in a
// session's numbering, in a fixed order.
func SupportedExtensions() []string {
	return []string{ExtensionMP3, ExtensionWAV}
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Segment is one unit of text submitted for synthesis.
type Segment struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// SegmentResult describes the audio file produced for a single segment.
type SegmentResult struct {
	Sequence       int    `json:"sequence"`
	Text           string `json:"text"`
	DurationMillis int64  `json:"durationMillis"`
	Path           string `json:"path"`
}

// Options carries per-request synthesis settings. Zero values mean "use the
// provider default"; providers ignore fields that do not apply to them.
type Options struct {
	// APIKey overrides the provider's configured key for this request.
	APIKey string `json:"api_key,omitempty"`
	// Extension overrides the provider's declared file extension.
	Extension string `json:"extension,omitempty"`

	Voice    string `json:"voice,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Style    string `json:"style,omitempty"`
	Format   string `json:"format,omitempty"`

	Speed      float64 `json:"speed,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	Intonation float64 `json:"intonation,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Seed       *int    `json:"seed,omitempty"`

	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// Provider is the synthesis capability implemented by every TTS backend.
type Provider interface {
	// Name returns the registry name of the provider.
	Name() string
	// Extension returns the file extension the provider produces for opts.
	Extension(opts Options) string
	// Synthesize converts text to encoded audio bytes.
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}
