package services

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Presigner issues time-limited URLs for direct client access to object
// storage. File bytes never pass through this process.
type Presigner interface {
	// PutURL returns a presigned upload URL for the key.
	PutURL(ctx context.Context, key string) (string, error)

	// GetURL returns a presigned download URL. A non-empty contentType is
	// set as the response content type of the download.
	GetURL(ctx context.Context, key, contentType string) (string, error)
}

// S3Config holds the object storage settings (MinIO in the compose setup).
type S3Config struct {
	RootUser     string // MINIO_ROOT_USER
	RootPassword string // MINIO_ROOT_PASSWORD
	Bucket       string
	Region       string
	BaseEndpoint string
	Expiry       time.Duration
}

// S3Presigner implements Presigner with aws-sdk-go-v2 against an
// S3-compatible endpoint.
type S3Presigner struct {
	config S3Config
}

func NewS3Presigner(cfg S3Config) *S3Presigner {
	return &S3Presigner{config: cfg}
}

func (p *S3Presigner) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(p.config.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.config.RootUser,
			p.config.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(p.config.BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

func (p *S3Presigner) PutURL(ctx context.Context, key string) (string, error) {
	presignClient, err := p.getPresignClient(ctx)
	if err != nil {
		return "", err
	}

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &p.config.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(p.config.Expiry))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

func (p *S3Presigner) GetURL(ctx context.Context, key, contentType string) (string, error) {
	presignClient, err := p.getPresignClient(ctx)
	if err != nil {
		return "", err
	}

	in := &s3.GetObjectInput{
		Bucket: &p.config.Bucket,
		Key:    &key,
	}
	if contentType != "" {
		in.ResponseContentType = &contentType
	}

	req, err := presignGetObject(presignClient, ctx, in, s3.WithPresignExpires(p.config.Expiry))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

// attachmentContentType maps a filename to the response content type of its
// download URL. Only jpeg gets special treatment so browsers render it
// inline; everything else downloads with the storage default.
func attachmentContentType(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".jpg") {
		return "image/jpeg"
	}
	return ""
}
