// Package archive uploads call transcripts to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/pkg/voice"
)

const uploadTimeout = 30 * time.Second

// Transcript is the archived document for one call.
type Transcript struct {
	Call     callstore.Record    `json:"call"`
	Messages []voice.ChatMessage `json:"messages"`
}

// Archiver stores transcripts and returns their location.
type Archiver interface {
	Archive(ctx context.Context, t Transcript) (string, error)
}

// Nop discards transcripts.
type Nop struct{}

func (Nop) Archive(context.Context, Transcript) (string, error) { return "", nil }

// S3 writes one JSON object per call under <prefix>/<room>/.
type S3 struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	bucketOnce sync.Once
	bucketErr  error
}

// New returns Nop when cfg is not enabled.
func New(cfg config.S3Config) (Archiver, error) {
	if !cfg.Enabled() {
		return Nop{}, nil
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.ForcePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the key a transcript is stored under.
func (s *S3) ObjectName(t Transcript) string {
	started := t.Call.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	name := fmt.Sprintf("%s-%s.json", started.UTC().Format("20060102-150405"), firstNonEmpty(t.Call.JobID, "call"))
	return path.Join(s.prefix, t.Call.Room, name)
}

func (s *S3) Archive(ctx context.Context, t Transcript) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	object := s.ObjectName(t)
	_, err = s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}

func (s *S3) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketErr = fmt.Errorf("check bucket: %w", err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				s.bucketErr = fmt.Errorf("create bucket: %w", err)
			}
		}
	})
	return s.bucketErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
