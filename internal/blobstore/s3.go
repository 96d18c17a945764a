package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

var sseAlgorithm = "AES256"

// S3Config holds the S3 bucket settings
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3 is a Store backed by an S3 bucket
type S3 struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3 builds an AWS session from cfg and returns an S3 store
func NewS3(cfg S3Config) (*S3, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3WithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient returns an S3 store using the given client
func NewS3WithClient(client s3iface.S3API, bucket, prefix string) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

// FetchBytes downloads the object stored under key
func (s *S3) FetchBytes(ctx context.Context, key string) ([]byte, error) {
	objKey := s.objectKey(key)
	obj, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", objKey, err)
	}
	defer obj.Body.Close()

	buf := &bytes.Buffer{}
	if obj.ContentLength != nil && *obj.ContentLength > 0 {
		buf.Grow(int(*obj.ContentLength))
	}
	if _, err := io.Copy(buf, obj.Body); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", objKey, err)
	}
	return buf.Bytes(), nil
}

// Put uploads data under key with server-side encryption
func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = MimeType(key)
	}
	objKey := s.objectKey(key)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objKey),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: &sseAlgorithm,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", objKey, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
