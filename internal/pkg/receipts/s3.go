package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // S3-compatible services (Backblaze, MinIO)
	Enabled         bool
}

func LoadS3Config() (*S3Config, error) {
	cfg := &S3Config{
		AccessKeyID:     env.GetEnv("RECEIPTS_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("RECEIPTS_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("RECEIPTS_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("RECEIPTS_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("RECEIPTS_S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("RECEIPTS_S3_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("RECEIPTS_S3_ACCESS_KEY_ID is required when S3 receipts are enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("RECEIPTS_S3_SECRET_ACCESS_KEY is required when S3 receipts are enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("RECEIPTS_S3_BUCKET is required when S3 receipts are enabled")
		}
	}
	return cfg, nil
}

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type S3Store struct {
	api    objectAPI
	config *S3Config
}

// NewS3Store connects and checks the bucket. Outside prod a missing bucket is created.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{api: client, config: cfg}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Receipts] Using S3 bucket %s", cfg.BucketName)
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.BucketName)})
	if err == nil {
		return nil
	}
	if env.GetEnv("APP_ENV", "dev") == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", s.config.BucketName, err)
	}

	log.Warnf("[Receipts] Bucket %s not found, attempting to create it", s.config.BucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(s.config.BucketName)}
	if s.config.EndpointURL == "" && s.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	if _, err := s.api.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.config.BucketName, err)
	}
	return nil
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte, contentType string) (Stored, error) {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"upload-source": "agistaffers-bank-deposit",
		},
	})
	if err != nil {
		return Stored{}, fmt.Errorf("failed to upload receipt to S3: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.config.BucketName, key)
	log.Infof("[Receipts] Uploaded %s (%d bytes)", location, len(data))
	return Stored{Location: location, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *S3Store) Delete(ctx context.Context, location string) error {
	key := strings.TrimPrefix(location, "s3://"+s.config.BucketName+"/")
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete receipt from S3: %w", err)
	}
	return nil
}
