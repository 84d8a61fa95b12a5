package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

// objectStore is the part of *minio.Client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Client struct {
	client objectStore
	bucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, bucket string, secure bool) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the archive bucket if it is missing.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if ok {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// DownloadFrames читает все объекты под префиксом (для воспроизведения кадров)
func (c *Client) DownloadFrames(ctx context.Context, bucket, prefix string) ([][]byte, error) {
	objectCh := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var files [][]byte
	for object := range objectCh {
		if object.Err != nil {
			return nil, object.Err
		}

		// Пропускаем саму папку
		if strings.HasSuffix(object.Key, "/") {
			continue
		}

		obj, err := c.client.GetObject(ctx, bucket, object.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}

		buf := new(bytes.Buffer)
		_, err = io.Copy(buf, obj)
		obj.Close()
		if err != nil {
			return nil, err
		}

		files = append(files, buf.Bytes())
	}

	return files, nil
}

// ObjectPath is <client_id>/<unix-millis>_<event_id>.jpg
func ObjectPath(ev *models.MotionEvent) string {
	return fmt.Sprintf("%s/%d_%s.jpg", ev.ClientID, ev.Timestamp.UnixMilli(), ev.ID)
}

// Record archives the encoded motion frame regardless of delivery outcome.
func (c *Client) Record(ctx context.Context, rec models.EventRecord) error {
	if len(rec.Image) == 0 {
		return nil
	}

	_, err := c.client.PutObject(
		ctx,
		c.bucket,
		ObjectPath(rec.Event),
		bytes.NewReader(rec.Image),
		int64(len(rec.Image)),
		minio.PutObjectOptions{
			ContentType: "image/jpeg",
			UserMetadata: map[string]string{
				"regions":   strconv.Itoa(len(rec.Event.Regions)),
				"delivered": strconv.FormatBool(rec.Delivered()),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to archive frame to S3: %w", err)
	}

	return nil
}

func (c *Client) Name() string {
	return "s3"
}
