// Package objectstore publishes combined session audio to a NATS JetStream
// object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Object metadata keys.
const (
	MetaSession  = "session"
	MetaDuration = "duration_ms"
	keyPrefix    = "combined"
	artifactExt  = ".wav"
)

// NatsObjectStore implements core.ObjectStore on a JetStream object bucket.
type NatsObjectStore struct {
	store  nats.ObjectStore
	bucket string
}

var _ core.ObjectStore = (*NatsObjectStore)(nil)

// Artifact describes a combined file to publish.
type Artifact struct {
	SessionID      string
	Path           string
	DurationMillis int64
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Combined session audio in the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{store: store, bucket: bucketName}, nil
}

// ArtifactKey returns a fresh key of the form combined/<session>/<uuid>.wav.
func ArtifactKey(sessionID string) string {
	return path.Join(keyPrefix, sessionID, uuid.NewString()+artifactExt)
}

// Publish streams the artifact file into the bucket under a fresh key and
// returns that key.
func (n *NatsObjectStore) Publish(ctx context.Context, artifact Artifact) (string, error) {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact '%s': %w", artifact.Path, err)
	}
	defer file.Close()

	key := ArtifactKey(artifact.SessionID)

	_, putErr := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata: map[string]string{
			MetaSession:  artifact.SessionID,
			MetaDuration: strconv.FormatInt(artifact.DurationMillis, 10),
		},
		Opts: nil,
	}, file, nats.Context(ctx))
	if putErr != nil {
		return "", fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, putErr)
	}

	return key, nil
}

// Metadata returns the metadata recorded for key.
func (n *NatsObjectStore) Metadata(ctx context.Context, key string) (map[string]string, error) {
	info, err := n.store.GetInfo(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get info for object '%s' in bucket '%s': %w", key, n.bucket, err)
	}

	return info.Metadata, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
