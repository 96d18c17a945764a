package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	getErr  error
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestS3_PutAndFetch(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := NewS3WithClient(client, "audio_files", "/journal/")

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a1.mp3", []byte("mp3-bytes"), ""))

	require.Len(t, client.puts, 1)
	assert.Equal(t, "journal/a1.mp3", *client.puts[0].Key)
	assert.Equal(t, "audio/mpeg", *client.puts[0].ContentType)
	assert.Equal(t, "AES256", *client.puts[0].ServerSideEncryption)

	data, err := store.FetchBytes(ctx, "a1.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)
}

func TestS3_FetchMissing(t *testing.T) {
	store := NewS3WithClient(&fakeS3{objects: map[string][]byte{}}, "audio_files", "")

	_, err := store.FetchBytes(context.Background(), "missing.webm")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3_FetchUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	store := NewS3WithClient(&fakeS3{getErr: cause}, "audio_files", "")

	_, err := store.FetchBytes(context.Background(), "a1.webm")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, cause)
}
