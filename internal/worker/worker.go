// Package worker serves synthesis and combine requests over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/service"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 5 * time.Minute

// Reply error kinds for failures that are not provider errors.
const (
	KindValidation      = "validation"
	KindSessionNotFound = "session_not_found"
	KindNoFiles         = "no_files"
	KindAudioDecode     = "audio_decode"
	KindFilesystem      = "filesystem"
	KindMalformed       = "malformed_request"
)

const (
	logFmtListening     = "Listening on %s and %s"
	logFmtParseFailed   = "Failed to parse request on %s: %v"
	logFmtJobFailed     = "%s request for workflow %s failed: %v"
	logFmtReplyFailed   = "Failed to publish reply for workflow %s: %v"
	logFmtSynthesizeJob = "Synthesize request for workflow %s: %d segments to %s with %s"
	logFmtCombineJob    = "Combine request for workflow %s: %s"
)

// Backend is the service surface used by the worker.
type Backend interface {
	Synthesize(ctx context.Context, provider string, segments []core.Segment, sessionID string, opts core.Options) ([]core.SegmentResult, error)
	Combine(ctx context.Context, sessionID string) (service.CombineResult, error)
}

// SynthesizeRequest is received on the synthesize subject.
type SynthesizeRequest struct {
	Header   events.EventHeader `json:"header"`
	Provider string             `json:"provider"`
	TempDir  string             `json:"tempdir"`
	Segments []core.Segment     `json:"segments"`
	Options  core.Options       `json:"options"`
}

// SynthesizeReply answers a SynthesizeRequest.
type SynthesizeReply struct {
	Header  events.EventHeader   `json:"header"`
	Error   string               `json:"error,omitempty"`
	Kind    string               `json:"kind,omitempty"`
	Results []core.SegmentResult `json:"results,omitempty"`
}

// CombineRequest is received on the combine subject.
type CombineRequest struct {
	Header  events.EventHeader `json:"header"`
	TempDir string             `json:"tempdir"`
}

// CombineReply answers a CombineRequest.
type CombineReply struct {
	Header         events.EventHeader `json:"header"`
	Error          string             `json:"error,omitempty"`
	Kind           string             `json:"kind,omitempty"`
	CombinedPath   string             `json:"combined_path,omitempty"`
	ArtifactKey    string             `json:"artifact_key,omitempty"`
	DurationMillis int64              `json:"durationMillis"`
}

// Subjects names the subjects the worker answers on. An empty QueueGroup
// subscribes without a queue.
type Subjects struct {
	Synthesize string
	Combine    string
	QueueGroup string
}

// NatsWorker listens for TTS requests on NATS subjects and replies to them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	backend        Backend
	log            *logger.Logger
	clock          func() time.Time
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(natsConnection *nats.Conn, subjects Subjects, backend Backend, log *logger.Logger) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		backend:        backend,
		log:            log,
		clock:          time.Now,
	}
}

// Run subscribes to both subjects and blocks until ctx is done, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	synthSub, err := w.subscribe(w.subjects.Synthesize, w.handleSynthesize)
	if err != nil {
		return err
	}

	combineSub, err := w.subscribe(w.subjects.Combine, w.handleCombine)
	if err != nil {
		_ = synthSub.Unsubscribe()

		return err
	}

	w.log.System(logFmtListening, w.subjects.Synthesize, w.subjects.Combine)

	<-ctx.Done()

	drainErr := errors.Join(synthSub.Drain(), combineSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	var (
		sub *nats.Subscription
		err error
	)

	if w.subjects.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(subject, w.subjects.QueueGroup, handler)
	} else {
		sub, err = w.natsConnection.Subscribe(subject, handler)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	return sub, nil
}

func (w *NatsWorker) handleSynthesize(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req SynthesizeRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error(logFmtParseFailed, msg.Subject, err)
		w.respond(msg, "", SynthesizeReply{
			Header: w.replyHeader(events.EventHeader{}), Error: err.Error(), Kind: KindMalformed, Results: nil,
		})

		return
	}

	workflowID := req.Header.WorkflowID
	w.log.Info(logFmtSynthesizeJob, workflowID, len(req.Segments), req.TempDir, req.Provider)

	ctx = service.WithRequestID(ctx, req.Header.EventID)
	reply := SynthesizeReply{Header: w.replyHeader(req.Header), Error: "", Kind: "", Results: nil}

	results, err := w.backend.Synthesize(ctx, req.Provider, req.Segments, req.TempDir, req.Options)
	if err != nil {
		w.log.Error(logFmtJobFailed, "Synthesize", workflowID, err)
		reply.Error = err.Error()
		reply.Kind = ErrorKind(err)
	} else {
		reply.Results = results
	}

	w.respond(msg, workflowID, reply)
}

func (w *NatsWorker) handleCombine(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req CombineRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error(logFmtParseFailed, msg.Subject, err)
		w.respond(msg, "", CombineReply{
			Header: w.replyHeader(events.EventHeader{}), Error: err.Error(), Kind: KindMalformed,
			CombinedPath: "", ArtifactKey: "", DurationMillis: 0,
		})

		return
	}

	workflowID := req.Header.WorkflowID
	w.log.Info(logFmtCombineJob, workflowID, req.TempDir)

	ctx = service.WithRequestID(ctx, req.Header.EventID)
	reply := CombineReply{
		Header: w.replyHeader(req.Header), Error: "", Kind: "", CombinedPath: "", ArtifactKey: "", DurationMillis: 0,
	}

	result, err := w.backend.Combine(ctx, req.TempDir)
	if err != nil {
		w.log.Error(logFmtJobFailed, "Combine", workflowID, err)
		reply.Error = err.Error()
		reply.Kind = ErrorKind(err)
	} else {
		reply.CombinedPath = result.CombinedPath
		reply.ArtifactKey = result.ArtifactKey
		reply.DurationMillis = result.DurationMillis
	}

	w.respond(msg, workflowID, reply)
}

// replyHeader keeps the correlation fields of in and stamps a fresh event id.
func (w *NatsWorker) replyHeader(in events.EventHeader) events.EventHeader {
	out := in
	out.EventID = uuid.NewString()
	out.Timestamp = w.clock()

	return out
}

// respond marshals and sends reply to the requester.
func (w *NatsWorker) respond(msg *nats.Msg, workflowID string, reply any) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, workflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error(logFmtReplyFailed, workflowID, err)
	}
}

// ErrorKind classifies err for a reply.
func ErrorKind(err error) string {
	kind, ok := core.KindOf(err)
	if ok {
		return kind.String()
	}

	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidSessionID):
		return KindValidation
	case errors.Is(err, core.ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, core.ErrNoFilesToCombine):
		return KindNoFiles
	case errors.Is(err, core.ErrAudioDecode):
		return KindAudioDecode
	case errors.Is(err, core.ErrFilePersist), errors.Is(err, core.ErrDirectoryCreate):
		return KindFilesystem
	default:
		return core.KindUnknown.String()
	}
}
