package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store persists saved prerender state in an S3 bucket, for
// deployments where a circuit may resume on a different server.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	store := statestore.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "circuits/")
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed store. The prefix is prepended to every
// object key (e.g. "circuits/").
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// key returns the object key for a circuit id.
func (s *S3Store) key(circuitID string) string {
	return s.prefix + circuitID
}

// Load returns the state for a circuit id.
func (s *S3Store) Load(ctx context.Context, circuitID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(circuitID)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("statestore: load %s: %w", circuitID, err)
	}
	defer out.Body.Close()

	state, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("statestore: read %s: %w", circuitID, err)
	}
	return state, nil
}

// Save writes the state for a circuit id.
func (s *S3Store) Save(ctx context.Context, circuitID string, state []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(circuitID)),
		Body:   bytes.NewReader(state),
	})
	if err != nil {
		return fmt.Errorf("statestore: save %s: %w", circuitID, err)
	}
	return nil
}

// Clear removes the state for a circuit id.
func (s *S3Store) Clear(ctx context.Context, circuitID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(circuitID)),
	})
	if err != nil {
		return fmt.Errorf("statestore: clear %s: %w", circuitID, err)
	}
	return nil
}
