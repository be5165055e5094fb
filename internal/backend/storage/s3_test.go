package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/backend"
)

type fakeS3 struct {
	puts      []*s3.PutObjectInput
	bodies    []string
	deletes   []*s3.DeleteObjectsInput
	deleteOut *s3.DeleteObjectsOutput
	err       error
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &manager.UploadOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, in)
	if f.deleteOut != nil {
		return f.deleteOut, nil
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Store_Upload(t *testing.T) {
	fake := &fakeS3{}
	s := newS3Store(S3Config{Region: "eu-west-1", BucketPrefix: "flipbook-"}, fake, fake)

	err := s.Upload(context.Background(), backend.BucketPublications, "pdfs/u1/p1.pdf",
		strings.NewReader("%PDF-"), 5, "application/pdf")
	require.NoError(t, err)

	require.Len(t, fake.puts, 1)
	assert.Equal(t, "flipbook-publications", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, "pdfs/u1/p1.pdf", aws.ToString(fake.puts[0].Key))
	assert.Equal(t, "application/pdf", aws.ToString(fake.puts[0].ContentType))
	assert.Equal(t, "%PDF-", fake.bodies[0])
}

func TestS3Store_UploadError(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	s := newS3Store(S3Config{}, fake, fake)

	err := s.Upload(context.Background(), backend.BucketAvatars, "u1/a.png", strings.NewReader("x"), 1, "")

	assert.ErrorContains(t, err, "access denied")
}

func TestS3Store_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Region: "us-east-1"}, "https://publications.s3.us-east-1.amazonaws.com/pdfs/a.pdf"},
		{"endpoint", S3Config{Endpoint: "http://minio:9000/"}, "http://minio:9000/publications/pdfs/a.pdf"},
		{"cdn", S3Config{Endpoint: "http://minio:9000", PublicBaseURL: "https://cdn.test"}, "https://cdn.test/publications/pdfs/a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newS3Store(tt.cfg, &fakeS3{}, &fakeS3{})

			url := s.PublicURL(backend.BucketPublications, "pdfs/a.pdf")
			assert.Equal(t, tt.want, url)

			key, ok := s.PathFromURL(backend.BucketPublications, url)
			require.True(t, ok)
			assert.Equal(t, "pdfs/a.pdf", key)
		})
	}
}

func TestS3Store_Remove(t *testing.T) {
	fake := &fakeS3{}
	s := newS3Store(S3Config{}, fake, fake)

	require.NoError(t, s.Remove(context.Background(), backend.BucketPublications))
	assert.Empty(t, fake.deletes, "no keys, no request")

	require.NoError(t, s.Remove(context.Background(), backend.BucketPublications, "pdfs/a.pdf", "thumbs/a.png"))
	require.Len(t, fake.deletes, 1)
	assert.Len(t, fake.deletes[0].Delete.Objects, 2)
}

func TestS3Store_RemoveReportsPerKeyErrors(t *testing.T) {
	fake := &fakeS3{deleteOut: &s3.DeleteObjectsOutput{
		Errors: []types.Error{{Key: aws.String("pdfs/a.pdf"), Message: aws.String("AccessDenied")}},
	}}
	s := newS3Store(S3Config{}, fake, fake)

	err := s.Remove(context.Background(), backend.BucketPublications, "pdfs/a.pdf")

	assert.ErrorContains(t, err, "pdfs/a.pdf")
}
