package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config 对象存储配置（课程资料包所在的桶）
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// Client 课程资料对象存储客户端
type Client struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

// MaterialLink 资料包内单个文件的临时下载链接
type MaterialLink struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// NewClient 创建对象存储客户端，支持自定义 Endpoint（MinIO 等兼容实现）
func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.String()
		}
		opts = append(opts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, SigningRegion: cfg.Region}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// PresignGet 为单个对象生成临时下载链接
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("s3 client not initialized")
	}
	if key == "" {
		return "", errors.New("object key is required")
	}
	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		if ttl > 0 {
			po.Expires = ttl
		}
	})
	if err != nil {
		return "", err
	}
	return presigned.URL, nil
}

// ShareFolder 为课程资料目录下所有对象生成临时下载链接
func (c *Client) ShareFolder(ctx context.Context, prefix string, ttl time.Duration) ([]MaterialLink, error) {
	if c == nil {
		return nil, errors.New("s3 client not initialized")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("folder prefix is required")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	expiresAt := time.Now().Add(ttl).UTC().Format(time.RFC3339)
	var links []MaterialLink
	var continuation *string
	for {
		output, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", prefix, err)
		}
		for _, object := range output.Contents {
			if object.Key == nil || strings.HasSuffix(*object.Key, "/") {
				continue
			}
			presignedURL, err := c.PresignGet(ctx, *object.Key, ttl)
			if err != nil {
				return nil, err
			}
			links = append(links, MaterialLink{
				Key:       *object.Key,
				URL:       presignedURL,
				ExpiresAt: expiresAt,
			})
		}
		if output.IsTruncated == nil || !*output.IsTruncated {
			break
		}
		continuation = output.NextContinuationToken
	}
	return links, nil
}
