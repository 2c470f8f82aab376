// Package results publishes the outcome of a download session as a JSON
// manifest to a blob bucket (file:// or mem:// URLs).
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/kylegalloway/ariaflow/internal/tasks"
)

// KeyPrefix is prepended to every manifest key.
const KeyPrefix = "ariaflow"

// ErrNotFound means no manifest exists under the requested key.
var ErrNotFound = errors.New("manifest not found")

// Manifest is the persisted record of one session.
type Manifest struct {
	SessionID  string                   `json:"session_id"`
	Directory  string                   `json:"directory"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Completed  []tasks.CompletionRecord `json:"completed"`
	Failed     []tasks.CompletionRecord `json:"failed"`
}

// Key returns the object key the manifest is written under.
func (m Manifest) Key() string {
	return path.Join(KeyPrefix, m.SessionID+".json")
}

// Publisher writes manifests to a bucket.
type Publisher struct {
	bucket *blob.Bucket
}

// Open opens the bucket at bucketURL and returns a Publisher owning it.
func Open(ctx context.Context, bucketURL string) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Publisher{bucket: bkt}, nil
}

// NewPublisher wraps an already opened bucket. Close closes it.
func NewPublisher(bucket *blob.Bucket) *Publisher {
	return &Publisher{bucket: bucket}
}

// Publish writes m and returns the key it was stored under.
func (p *Publisher) Publish(ctx context.Context, m Manifest) (string, error) {
	if m.SessionID == "" {
		return "", errors.New("publish manifest: empty session id")
	}
	if m.Completed == nil {
		m.Completed = []tasks.CompletionRecord{}
	}
	if m.Failed == nil {
		m.Failed = []tasks.CompletionRecord{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	key := m.Key()
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := p.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", fmt.Errorf("write manifest %s: %w", key, err)
	}
	return key, nil
}

// Load reads the manifest stored under key.
func (p *Publisher) Load(ctx context.Context, key string) (Manifest, error) {
	data, err := p.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Manifest{}, fmt.Errorf("read manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return m, nil
}

// Close closes the underlying bucket.
func (p *Publisher) Close() error {
	return p.bucket.Close()
}
