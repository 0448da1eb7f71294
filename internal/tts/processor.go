package tts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/book-expert/tts-session-service/internal/telemetry"
	"github.com/book-expert/tts-session-service/internal/tts/audio"
	"github.com/book-expert/tts-session-service/internal/tts/text"
	"go.opentelemetry.io/otel/codes"
)

const filePermissions = 0o600

// Processor errors and log formats.
const (
	errMsgNoSegments      = "%w: segments cannot be empty"
	errFmtEmptySegment    = "%w: segment %d has empty text"
	errFmtSegmentProvider = "segment %d: %w"
	errFmtPersist         = "%w: segment %d to %s: %w"
	errFmtDuration        = "segment %d: %w"
	logFmtBatchStart      = "Processing %d segments for session %s with %s"
	logFmtSegmentDone     = "Segment %d written to %s (%d chars, %d ms)"
	logFmtSegmentFailed   = "Segment %d for session %s failed with %s: %v"
)

// SegmentProcessor synthesizes an ordered batch of segments into a session's
// numbered audio files.
type SegmentProcessor struct {
	namer   *session.Namer
	locks   *session.Locks
	metrics *telemetry.Instruments
	log     *logger.Logger
}

// NewSegmentProcessor creates a SegmentProcessor writing below layout. Writers
// of one session are serialized through locks.
func NewSegmentProcessor(layout session.Layout, locks *session.Locks, metrics *telemetry.Instruments, log *logger.Logger) *SegmentProcessor {
	return &SegmentProcessor{
		namer:   session.NewNamer(layout),
		locks:   locks,
		metrics: metrics,
		log:     log,
	}
}

// Process synthesizes segments in submission order and returns one result per
// segment. The first failure aborts the batch; files already written stay on
// disk.
func (p *SegmentProcessor) Process(
	ctx context.Context,
	provider core.Provider,
	segments []core.Segment,
	sessionID string,
	opts core.Options,
) ([]core.SegmentResult, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf(errMsgNoSegments, core.ErrValidation)
	}

	safeID, err := session.Validate(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	for _, segment := range segments {
		if strings.TrimSpace(segment.Text) == "" {
			return nil, fmt.Errorf(errFmtEmptySegment, core.ErrValidation, segment.ID)
		}
	}

	requested := opts.Extension
	if requested == "" {
		requested = provider.Extension(opts)
	}

	extension, err := session.NormalizeExtension(requested)
	if err != nil {
		return nil, err
	}

	unlock := p.locks.Lock(safeID)
	defer unlock()

	p.log.Info(logFmtBatchStart, len(segments), safeID, provider.Name())

	results := make([]core.SegmentResult, 0, len(segments))

	for _, segment := range segments {
		result, segmentErr := p.processSegment(ctx, provider, segment, safeID, extension, opts)
		if segmentErr != nil {
			return nil, segmentErr
		}

		results = append(results, result)
	}

	return results, nil
}

func (p *SegmentProcessor) processSegment(
	ctx context.Context,
	provider core.Provider,
	segment core.Segment,
	sessionID, extension string,
	opts core.Options,
) (core.SegmentResult, error) {
	ctx, span := p.metrics.Start(ctx, "tts.segment",
		telemetry.AttrProvider.String(provider.Name()),
		telemetry.AttrSession.String(sessionID))
	defer span.End()

	path, err := p.namer.NextPath(sessionID, extension)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "next path")

		return core.SegmentResult{}, err
	}

	data, synthErr := provider.Synthesize(ctx, segment.Text, opts)
	if synthErr != nil {
		kind, _ := core.KindOf(synthErr)
		p.metrics.ProviderFailed(ctx, provider.Name(), kind.String())
		p.log.Error(logFmtSegmentFailed, segment.ID, sessionID, provider.Name(), synthErr)
		span.RecordError(synthErr)
		span.SetStatus(codes.Error, "synthesize")

		return core.SegmentResult{}, fmt.Errorf(errFmtSegmentProvider, segment.ID, synthErr)
	}

	writeErr := os.WriteFile(path, data, filePermissions)
	if writeErr != nil {
		span.RecordError(writeErr)
		span.SetStatus(codes.Error, "persist")

		return core.SegmentResult{}, fmt.Errorf(errFmtPersist, core.ErrFilePersist, segment.ID, path, writeErr)
	}

	durationMillis, durationErr := audio.DurationMillis(path)
	if durationErr != nil {
		span.RecordError(durationErr)
		span.SetStatus(codes.Error, "decode")

		return core.SegmentResult{}, fmt.Errorf(errFmtDuration, segment.ID, durationErr)
	}

	p.metrics.SegmentSynthesized(ctx, provider.Name())
	p.log.Info(logFmtSegmentDone, segment.ID, path, text.RuneLength(segment.Text), durationMillis)

	return core.SegmentResult{
		Sequence:       segment.ID,
		Text:           segment.Text,
		DurationMillis: durationMillis,
		Path:           path,
	}, nil
}
