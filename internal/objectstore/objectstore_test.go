package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestNewS3_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3(ctx, Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("half credentials returns error", func(t *testing.T) {
		_, err := NewS3(ctx, Config{Bucket: "b", AccessKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be set together")
	})

	t.Run("valid config creates store", func(t *testing.T) {
		s, err := NewS3(ctx, Config{
			Bucket:       "fieldnote-photos",
			AccessKey:    "k",
			SecretKey:    "s",
			Endpoint:     "localhost:9000",
			UsePathStyle: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "fieldnote-photos", s.Bucket())
		assert.Equal(t, "http://localhost:9000", s.endpoint)
		assert.Equal(t, "us-east-1", s.region)
		assert.Equal(t, "max-age=3600", s.cacheControl)
	})

	t.Run("ssl endpoint gets https", func(t *testing.T) {
		s, err := NewS3(ctx, Config{Bucket: "b", Endpoint: "minio.local", UseSSL: true}, WithClient(&fakePutter{}))
		require.NoError(t, err)
		assert.Equal(t, "https://minio.local", s.endpoint)
	})
}

func TestS3Store_Upload(t *testing.T) {
	fake := &fakePutter{}
	s, err := NewS3(context.Background(), Config{Bucket: "fieldnote-photos"},
		WithClient(fake), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, s.Upload(context.Background(), "u1/1700000000000_abc.jpg", []byte("jpeg"), "image/jpeg"))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "fieldnote-photos", aws.ToString(in.Bucket))
	assert.Equal(t, "u1/1700000000000_abc.jpg", aws.ToString(in.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(in.ContentType))
	assert.Equal(t, "max-age=3600", aws.ToString(in.CacheControl))
	assert.Equal(t, "*", aws.ToString(in.IfNoneMatch), "uploads never overwrite")
	assert.Equal(t, []byte("jpeg"), fake.bodies[0])
}

func TestS3Store_Upload_Errors(t *testing.T) {
	fake := &fakePutter{err: errors.New("precondition failed")}
	s, err := NewS3(context.Background(), Config{Bucket: "b"}, WithClient(fake))
	require.NoError(t, err)

	err = s.Upload(context.Background(), "", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")

	err = s.Upload(context.Background(), "k.jpg", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precondition failed")
}

func TestS3Store_PublicURL(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "public base url",
			cfg:  Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/photos/"},
			want: "https://cdn.example.com/photos/u1/a%20b.jpg",
		},
		{
			name: "path style endpoint",
			cfg:  Config{Bucket: "b", Endpoint: "http://localhost:9000", UsePathStyle: true},
			want: "http://localhost:9000/b/u1/a%20b.jpg",
		},
		{
			name: "virtual host endpoint",
			cfg:  Config{Bucket: "b", Endpoint: "https://storage.example.com"},
			want: "https://b.storage.example.com/u1/a%20b.jpg",
		},
		{
			name: "aws default",
			cfg:  Config{Bucket: "b", Region: "us-west-2"},
			want: "https://b.s3.us-west-2.amazonaws.com/u1/a%20b.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewS3(ctx, tt.cfg, WithClient(&fakePutter{}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.PublicURL("u1/a b.jpg"))
		})
	}
}
