// Package storage is the gateway to the R2/S3 bucket holding input and
// output artifacts. Keys are freshly generated UUIDs so caller-supplied
// names can never collide with or overwrite existing objects.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrUnavailable marks blob-store outages so callers can map them to the
// right failure mode instead of swallowing them.
var ErrUnavailable = errors.New("object storage unavailable")

type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func New(client *s3.Client, bucket string) *Store {
	return &Store{client: client, presign: s3.NewPresignClient(client), bucket: bucket}
}

// Put stores the body under prefix/{uuid}.{ext} and returns the key. The
// original filename travels only as object metadata, never in the key.
func (s *Store) Put(ctx context.Context, body io.Reader, size int64, contentType, originalName, prefix, ext string) (string, error) {
	key := GenerateKey(prefix, ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"originalname": originalName,
			"uploadedat":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "put %s: %v", key, err)
	}
	return key, nil
}

// PresignGet mints a capability URL for one object, valid for ttl only.
// Expiry is enforced by the object store, not by this process.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "presign %s: %v", key, err)
	}
	return req.URL, nil
}

// Delete removes an object. Deleting a key that does not exist is not an
// error; S3 semantics already make this idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "delete %s: %v", key, err)
	}
	return nil
}

// Ping verifies the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "head bucket: %v", err)
	}
	return nil
}

// GenerateKey builds a collision-resistant object key.
func GenerateKey(prefix, ext string) string {
	return prefix + "/" + uuid.NewString() + "." + ext
}
