package storage

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReceiptStore persists receipt images and hands back retrievable URLs.
type ReceiptStore interface {
	Upload(ctx context.Context, filename, mimeType string, r io.Reader, size int64) (string, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		log.Println(err)
		return nil, err
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// Upload stores the image under receipts/<epoch-millis>_<filename> and
// returns a presigned download URL.
func (s *MinioStore) Upload(ctx context.Context, filename, mimeType string, r io.Reader, size int64) (string, error) {
	key := fmt.Sprintf("receipts/%d_%s", time.Now().UnixMilli(), filepath.Base(filename))

	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: mimeType,
	}); err != nil {
		log.Println(err)
		return "", err
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, 7*24*time.Hour, nil)
	if err != nil {
		log.Println(err)
		return "", err
	}

	return u.String(), nil
}

func (s *MinioStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	key := strings.TrimPrefix(u.Path, "/"+s.bucket+"/")

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		log.Println(err)
		return nil, err
	}

	defer obj.Close()

	return ioutil.ReadAll(obj)
}
