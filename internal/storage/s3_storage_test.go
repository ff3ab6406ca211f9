package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func setupStorageTest(bucket string) (*S3Storage, *fakePutter) {
	fake := &fakePutter{}
	s := NewS3StorageWithClient(fake, bucket, "reports/carts")
	s.now = func() time.Time { return time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC) }
	return s, fake
}

func TestS3Storage_Upload(t *testing.T) {
	s, fake := setupStorageTest("reports")

	res, err := s.Upload(context.Background(), "carts.xlsx", "application/test", strings.NewReader("payload"))
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "reports", aws.ToString(in.Bucket))
	assert.Equal(t, res.Key, aws.ToString(in.Key))
	assert.Equal(t, "application/test", aws.ToString(in.ContentType))
	assert.Equal(t, "payload", fake.bodies[0])

	assert.True(t, strings.HasPrefix(res.Key, "reports/carts/2024/05/06/"))
	assert.True(t, strings.HasSuffix(res.Key, "-carts.xlsx"))
	assert.Equal(t, "s3://reports/"+res.Key, res.URL)
}

func TestS3Storage_KeysAreUnique(t *testing.T) {
	s, _ := setupStorageTest("reports")
	assert.NotEqual(t, s.Key("a.xlsx"), s.Key("a.xlsx"))
	assert.True(t, strings.HasSuffix(s.Key("/tmp/out/a.xlsx"), "-a.xlsx"))
}

func TestS3Storage_Upload_Errors(t *testing.T) {
	t.Run("No bucket", func(t *testing.T) {
		s, fake := setupStorageTest("")
		_, err := s.Upload(context.Background(), "a.xlsx", "x", strings.NewReader(""))
		assert.Error(t, err)
		assert.Empty(t, fake.inputs)
	})

	t.Run("Client failure", func(t *testing.T) {
		s, fake := setupStorageTest("reports")
		fake.err = errors.New("access denied")
		_, err := s.Upload(context.Background(), "a.xlsx", "x", strings.NewReader(""))
		assert.ErrorIs(t, err, fake.err)
	})
}
