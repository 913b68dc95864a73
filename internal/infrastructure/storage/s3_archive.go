// Package storage archiva el XML autorizado en un almacenamiento compatible con S3.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
)

var _ billing.PayloadArchive = (*S3Archive)(nil)

// Config parámetros del bucket de archivo.
type Config struct {
	Endpoint     string // Vacío = AWS; con valor = MinIO/RustFS/etc.
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archive implementa billing.PayloadArchive con aws-sdk-go-v2.
type S3Archive struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Archive crea el cliente S3 a partir de la configuración.
func NewS3Archive(ctx context.Context, cfg Config, log zerolog.Logger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket obligatorio")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: configuración AWS: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// Los almacenamientos compatibles no siempre aceptan los checksums por defecto del SDK.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Archive{client: client, bucket: cfg.Bucket, log: log}, nil
}

// EnsureBucket crea el bucket si no existe. Se llama al arrancar.
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("storage: verificar bucket: %w", err)
	}
	a.log.Info().Str("bucket", a.bucket).Msg("creando bucket de archivo")
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	var alreadyOwned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &alreadyOwned) {
		return fmt.Errorf("storage: crear bucket: %w", err)
	}
	return nil
}

// Archive sube el XML y devuelve su ubicación s3://bucket/key.
func (a *S3Archive) Archive(ctx context.Context, issuerID, accessKey string, payload []byte) (string, error) {
	key := ObjectKey(issuerID, accessKey)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/xml"),
		Metadata: map[string]string{
			"issuer-id":  issuerID,
			"access-key": accessKey,
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: subir %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}

// ObjectKey organiza los XML por emisor y período de emisión (AAMM de la clave):
// emp-1/2025/11/<clave>.xml
func ObjectKey(issuerID, accessKey string) string {
	if len(accessKey) == 44 {
		return fmt.Sprintf("%s/20%s/%s/%s.xml", issuerID, accessKey[2:4], accessKey[4:6], accessKey)
	}
	return fmt.Sprintf("%s/%s.xml", issuerID, accessKey)
}
