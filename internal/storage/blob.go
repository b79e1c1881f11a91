package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// BlobConfig S3兼容存储的连接配置（MinIO / R2）
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"` // 对外访问前缀
	Mock      bool   `yaml:"-"`
}

// BlobStore 把后端返回的临时片段URL转存为我们自己的公开URL。
// 后端URL本来就在我们的存储上时跳过转存。
type BlobStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	httpc     *http.Client
	mock      bool
	log       *logrus.Entry
}

func NewBlobStore(cfg BlobConfig) (*BlobStore, error) {
	log := logrus.WithField("component", "blobstore")
	if cfg.Mock {
		return &BlobStore{mock: true, publicURL: strings.TrimSuffix(cfg.PublicURL, "/"), log: log}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		log.WithField("bucket", cfg.Bucket).Info("bucket created")
	}

	return &BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		httpc:     &http.Client{Timeout: 2 * time.Minute},
		log:       log,
	}, nil
}

// StoreClip 下载后端生成的片段并上传到对象存储，返回公开URL。
func (s *BlobStore) StoreClip(ctx context.Context, clipURL, runID string, sceneIndex int) (string, error) {
	if s.mock {
		return clipURL, nil
	}
	// 已经在我们的存储上，不用搬
	if s.publicURL != "" && strings.HasPrefix(clipURL, s.publicURL) {
		return clipURL, nil
	}

	data, err := s.download(ctx, clipURL)
	if err != nil {
		return "", fmt.Errorf("download clip: %w", err)
	}

	objectPath := fmt.Sprintf("runs/%s/scene_%d.mp4", runID, sceneIndex)
	_, err = s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "video/mp4"})
	if err != nil {
		return "", fmt.Errorf("upload clip: %w", err)
	}

	s.log.WithFields(logrus.Fields{"path": objectPath, "bytes": len(data)}).Debug("clip stored")
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectPath), nil
}

func (s *BlobStore) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
