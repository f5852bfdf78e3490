// Package reliability holds operational safety nets around the data
// layer, currently off-site database backups.
package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/config"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/database"
)

// BackupResult reports one backup run.
type BackupResult struct {
	StartedAt time.Time `json:"started_at"`
	Uploaded  []string  `json:"uploaded"`
	Failed    []string  `json:"failed,omitempty"`
}

// BackupService uploads gzipped snapshots of the sqlite databases to an
// S3-compatible bucket. Works with R2 and MinIO via a custom endpoint.
type BackupService struct {
	client    *s3.Client
	bucket    string
	databases []*database.DB
	log       zerolog.Logger
}

// NewBackupService creates the backup service. Returns an error when the
// AWS configuration cannot be assembled.
func NewBackupService(ctx context.Context, cfg config.BackupConfig, databases []*database.DB, log zerolog.Logger) (*BackupService, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &BackupService{
		client:    client,
		bucket:    cfg.Bucket,
		databases: databases,
		log:       log.With().Str("component", "backup").Logger(),
	}, nil
}

// Run backs up every registered database. One failed database does not
// stop the others.
func (s *BackupService) Run(ctx context.Context) *BackupResult {
	result := &BackupResult{StartedAt: time.Now()}
	stamp := result.StartedAt.UTC().Format("20060102-150405")

	for _, db := range s.databases {
		key := fmt.Sprintf("backups/%s/%s-%s.db.gz", db.Name(), db.Name(), stamp)
		if err := s.backupOne(ctx, db, key); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Database backup failed")
			result.Failed = append(result.Failed, db.Name())
			continue
		}
		result.Uploaded = append(result.Uploaded, key)
	}

	s.log.Info().
		Int("uploaded", len(result.Uploaded)).
		Int("failed", len(result.Failed)).
		Msg("Backup run completed")
	return result
}

// backupOne checkpoints the WAL, gzips the database file, and uploads it.
func (s *BackupService) backupOne(ctx context.Context, db *database.DB, key string) error {
	// Fold WAL contents into the main file so the snapshot is complete.
	if err := db.WALCheckpoint(); err != nil {
		s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed, backing up anyway")
	}

	data, err := os.ReadFile(db.Path())
	if err != nil {
		return fmt.Errorf("read database file: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("compress database: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.log.Info().
		Str("database", db.Name()).
		Str("key", key).
		Int("size_bytes", buf.Len()).
		Msg("Database backed up")
	return nil
}
