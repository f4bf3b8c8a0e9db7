package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type s3Driver struct{}

func (s3Driver) Open(options *StorageOptions) (Cache, error) {
	bucket, query, err := parseConfigURL(options.Endpoint)
	if err != nil {
		return nil, err
	}

	region := options.Region
	if v := query.Get("region"); v != "" {
		region = v
	}

	ctx := context.Background()
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
	}
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if options.AccessKeyID != "" && options.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			options.AccessKeyID, options.SecretAccessKey, "",
		)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg)
	return &s3Cache{
		bucket:     bucket,
		client:     client,
		downloader: s3manager.NewDownloader(client),
		uploader:   s3manager.NewUploader(client),
	}, nil
}

type s3Cache struct {
	bucket     string
	client     *s3.Client
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
}

func (c *s3Cache) Has(key string) (bool, error) {
	ctx := context.Background()
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *s3Cache) Get(key string) ([]byte, error) {
	ctx := context.Background()
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	if exp := out.Metadata["expires-at"]; exp != "" {
		if nano, e := strconv.ParseInt(exp, 10, 64); e == nil && nano != 0 && time.Now().UnixNano() > nano {
			return nil, ErrExpired
		}
	}
	return io.ReadAll(out.Body)
}

func (c *s3Cache) Set(key string, value []byte, ttl time.Duration) error {
	ctx := context.Background()
	meta := map[string]string{}
	if ttl > 0 {
		meta["expires-at"] = strconv.FormatInt(time.Now().Add(ttl).UnixNano(), 10)
	}
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   &c.bucket,
		Key:      &key,
		Body:     bytes.NewReader(value),
		Metadata: meta,
	})
	return err
}

func (c *s3Cache) Delete(key string) error {
	ctx := context.Background()
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &c.bucket, Key: &key})
	return err
}

func (c *s3Cache) Flush() error {
	return errors.New("storage: s3 cache does not support flush")
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func init() {
	Register("s3", s3Driver{})
}
