package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/tree"
)

const (
	// MinPartSize is the smallest part S3 accepts except for the last one.
	MinPartSize = 5 * 1024 * 1024

	// DefaultPartSize is the multipart part size used when none is configured.
	DefaultPartSize = 10 * 1024 * 1024

	abortTimeout = 30 * time.Second
)

// S3Client is the subset of the S3 API the sink uses.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// SinkConfig configures an S3Sink.
type SinkConfig struct {
	Bucket string

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// PartSize is the multipart part size (default: 10MB, minimum: 5MB)
	PartSize int64

	// Clock overrides time.Now for object key timestamps
	Clock func() time.Time
}

// S3Sink uploads folder archives to an S3 bucket.
//
// Archives smaller than one part go up with a single PutObject; larger ones
// are streamed as a multipart upload which is aborted if the export fails.
type S3Sink struct {
	client   S3Client
	exporter *Exporter
	bucket   string
	prefix   string
	partSize int64
	now      func() time.Time
}

// NewS3Sink creates a sink writing archives produced by exporter.
func NewS3Sink(client S3Client, exporter *Exporter, cfg SinkConfig) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.PartSize < MinPartSize {
		return nil, fmt.Errorf("archive: part size %d is below the S3 minimum of %d", cfg.PartSize, MinPartSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &S3Sink{
		client:   client,
		exporter: exporter,
		bucket:   cfg.Bucket,
		prefix:   cfg.KeyPrefix,
		partSize: cfg.PartSize,
		now:      cfg.Clock,
	}, nil
}

// objectKey names the archive <prefix><user>/<folder-id>-<utc timestamp>.zip.
func (s *S3Sink) objectKey(sess *tree.Session, folderID uuid.UUID) string {
	stamp := s.now().UTC().Format("20060102T150405Z")
	return s.prefix + path.Join(sess.Username, fmt.Sprintf("%s-%s.zip", folderID, stamp))
}

// Upload exports the folder into the bucket and returns the object key.
func (s *S3Sink) Upload(ctx context.Context, sess *tree.Session, folderID uuid.UUID) (string, error) {
	key := s.objectKey(sess, folderID)
	w := &multipartWriter{
		sink:   s,
		ctx:    ctx,
		key:    key,
		buffer: &bytes.Buffer{},
	}

	if _, err := s.exporter.export(ctx, "s3", sess, folderID, w); err != nil {
		w.abort()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	logger.Info("archive: uploaded s3://%s/%s", s.bucket, key)
	return key, nil
}

// multipartWriter buffers archive bytes into parts and uploads them as they
// fill.
type multipartWriter struct {
	sink     *S3Sink
	ctx      context.Context
	key      string
	buffer   *bytes.Buffer
	uploadID string
	parts    []types.CompletedPart
	err      error
}

func (w *multipartWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	n, _ := w.buffer.Write(p)
	if int64(w.buffer.Len()) >= w.sink.partSize {
		if err := w.uploadPart(); err != nil {
			w.err = err
			return n, err
		}
	}
	return n, nil
}

func (w *multipartWriter) uploadPart() error {
	if w.buffer.Len() == 0 {
		return nil
	}

	if w.uploadID == "" {
		out, err := w.sink.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.sink.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String("application/zip"),
		})
		if err != nil {
			return fmt.Errorf("failed to create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(out.UploadId)
		w.sink.exporter.metrics.RecordMultipartUpload("initiated")
	}

	partNum := int32(len(w.parts) + 1)
	// The buffer is reset below, so the part needs its own copy.
	data := append([]byte(nil), w.buffer.Bytes()...)

	out, err := w.sink.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.sink.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNum),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNum, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNum),
	})
	w.buffer.Reset()
	return nil
}

// Close finishes the upload: a single PutObject if no part was started,
// otherwise the final part and CompleteMultipartUpload.
func (w *multipartWriter) Close() error {
	if w.err != nil {
		w.abort()
		return w.err
	}

	if w.uploadID == "" {
		_, err := w.sink.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.sink.bucket),
			Key:         aws.String(w.key),
			Body:        bytes.NewReader(w.buffer.Bytes()),
			ContentType: aws.String("application/zip"),
		})
		if err != nil {
			w.err = fmt.Errorf("failed to put archive: %w", err)
		}
		return w.err
	}

	if err := w.uploadPart(); err != nil {
		w.err = err
		w.abort()
		return err
	}

	parts := slices.Clone(w.parts)
	slices.SortFunc(parts, func(a, b types.CompletedPart) int {
		return int(aws.ToInt32(a.PartNumber) - aws.ToInt32(b.PartNumber))
	})

	_, err := w.sink.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.sink.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		w.err = fmt.Errorf("failed to complete multipart upload: %w", err)
		w.abort()
		return w.err
	}

	w.sink.exporter.metrics.RecordMultipartUpload("completed")
	return nil
}

// abort cancels an in-progress multipart upload. It uses its own deadline
// since the caller's context may already be cancelled.
func (w *multipartWriter) abort() {
	if w.uploadID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	_, err := w.sink.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.sink.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	var noSuchUpload *types.NoSuchUpload
	if err != nil && !errors.As(err, &noSuchUpload) {
		logger.Warn("archive: failed to abort upload %s: %v", w.uploadID, err)
	}

	w.sink.exporter.metrics.RecordMultipartUpload("aborted")
	w.uploadID = ""
}
