// Package archive exports the audit trail to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/infrastructure/config"
)

// exportBatchLimit bounds one export query; anything beyond it is picked up
// by the next tick
const exportBatchLimit = 5000

// objectUploader is the slice of the S3 client the archiver needs
type objectUploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3AuditArchiver periodically exports audit rows as JSONL objects. The
// database remains the source of truth; the archive is a write-once copy
// for retention, so a failed export is retried on the next tick rather
// than blocking the pipeline.
type S3AuditArchiver struct {
	client   objectUploader
	bucket   string
	prefix   string
	interval time.Duration
	audits   billing.AuditRepository
	logger   *zap.Logger

	mu         sync.Mutex
	exportedTo time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewS3AuditArchiver creates an archiver from configuration. It is
// compatible with any S3-compatible storage (AWS S3, MinIO, localstack).
func NewS3AuditArchiver(cfg *config.ArchiveConfig, audits billing.AuditRepository, logger *zap.Logger) (*S3AuditArchiver, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return newArchiver(client, cfg, audits, logger), nil
}

// NewS3AuditArchiverWithClient creates an archiver with an existing client
func NewS3AuditArchiverWithClient(client objectUploader, cfg *config.ArchiveConfig, audits billing.AuditRepository, logger *zap.Logger) *S3AuditArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newArchiver(client, cfg, audits, logger)
}

func newArchiver(client objectUploader, cfg *config.ArchiveConfig, audits billing.AuditRepository, logger *zap.Logger) *S3AuditArchiver {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}
	return &S3AuditArchiver{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		interval:   interval,
		audits:     audits,
		logger:     logger,
		exportedTo: time.Now(),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the background export loop
func (a *S3AuditArchiver) Start() {
	a.wg.Add(1)
	go a.loop()
	a.logger.Info("Audit archiver started",
		zap.String("bucket", a.bucket),
		zap.Duration("interval", a.interval))
}

// Stop stops the export loop and waits for an in-flight export to finish
func (a *S3AuditArchiver) Stop() {
	a.closeOnce.Do(func() {
		close(a.stopChan)
	})
	a.wg.Wait()
}

func (a *S3AuditArchiver) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := a.ExportOnce(ctx); err != nil {
				a.logger.Error("Audit archive export failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// ExportOnce exports audit rows created since the last successful export.
// The window only advances on success, so a failed upload is re-exported
// next time; duplicate objects in the archive are harmless, missing rows
// are not.
func (a *S3AuditArchiver) ExportOnce(ctx context.Context) error {
	a.mu.Lock()
	from := a.exportedTo
	a.mu.Unlock()

	to := time.Now()

	events, err := a.audits.FindCreatedBetween(ctx, from, to, exportBatchLimit)
	if err != nil {
		return fmt.Errorf("query audit rows: %w", err)
	}
	if len(events) == 0 {
		a.mu.Lock()
		a.exportedTo = to
		a.mu.Unlock()
		return nil
	}

	// When the batch is full, only advance to the last exported row so the
	// remainder lands in the next export
	if len(events) == exportBatchLimit {
		to = events[len(events)-1].CreatedAt
	}

	body, err := encodeJSONL(events)
	if err != nil {
		return fmt.Errorf("encode audit rows: %w", err)
	}

	key := a.objectKey(to)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload audit archive %s: %w", key, err)
	}

	a.mu.Lock()
	a.exportedTo = to
	a.mu.Unlock()

	a.logger.Info("Audit archive exported",
		zap.String("key", key),
		zap.Int("rows", len(events)))

	return nil
}

// objectKey builds a date-partitioned object key for the export
func (a *S3AuditArchiver) objectKey(to time.Time) string {
	ts := to.UTC()
	key := fmt.Sprintf("%s/audit-%s.jsonl", ts.Format("2006/01/02"), ts.Format("20060102T150405Z"))
	if a.prefix != "" {
		key = strings.TrimSuffix(a.prefix, "/") + "/" + key
	}
	return key
}

// encodeJSONL serializes audit rows as one JSON document per line
func encodeJSONL(events []billing.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
