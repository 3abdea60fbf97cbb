package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/infrastructure/config"
)

type capturedObject struct {
	key  string
	body []byte
}

type fakeUploader struct {
	objects []capturedObject
	err     error
}

func (u *fakeUploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	u.objects = append(u.objects, capturedObject{key: *params.Key, body: body})
	return &s3.PutObjectOutput{}, nil
}

type memoryAuditRepo struct {
	rows []billing.AuditEvent
	err  error
}

func (r *memoryAuditRepo) AppendTx(_ context.Context, _ *gorm.DB, event *billing.AuditEvent) error {
	r.rows = append(r.rows, *event)
	return nil
}

func (r *memoryAuditRepo) Append(_ context.Context, event *billing.AuditEvent) error {
	r.rows = append(r.rows, *event)
	return nil
}

func (r *memoryAuditRepo) FindByTenant(_ context.Context, tenantID uuid.UUID, _ int) ([]billing.AuditEvent, error) {
	var events []billing.AuditEvent
	for _, ev := range r.rows {
		if ev.TenantID == tenantID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (r *memoryAuditRepo) FindCreatedBetween(_ context.Context, from, to time.Time, limit int) ([]billing.AuditEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	var events []billing.AuditEvent
	for _, ev := range r.rows {
		if !ev.CreatedAt.Before(from) && ev.CreatedAt.Before(to) {
			events = append(events, ev)
		}
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func newTestArchiver(uploader *fakeUploader, audits *memoryAuditRepo) *S3AuditArchiver {
	return NewS3AuditArchiverWithClient(uploader, &config.ArchiveConfig{
		Bucket:   "planform-audit",
		Prefix:   "audit",
		Interval: time.Hour,
	}, audits, nil)
}

func auditRow(action string, createdAt time.Time) billing.AuditEvent {
	ev := billing.NewAuditEvent(uuid.New(), billing.AuditActorSystem, action, "tenant", "t-1", `{"k":"v"}`, "corr-1")
	ev.CreatedAt = createdAt
	return *ev
}

func TestS3AuditArchiver_ExportOnce(t *testing.T) {
	uploader := &fakeUploader{}
	audits := &memoryAuditRepo{}
	archiver := newTestArchiver(uploader, audits)

	audits.rows = []billing.AuditEvent{
		auditRow(billing.AuditActionPlanUpgraded, time.Now().Add(-30*time.Second)),
		auditRow(billing.AuditActionPaymentFailed, time.Now().Add(-20*time.Second)),
	}

	// Rewind the watermark so the rows fall inside the export window
	archiver.mu.Lock()
	archiver.exportedTo = time.Now().Add(-time.Minute)
	archiver.mu.Unlock()

	require.NoError(t, archiver.ExportOnce(context.Background()))

	require.Len(t, uploader.objects, 1)
	obj := uploader.objects[0]
	assert.True(t, strings.HasPrefix(obj.key, "audit/"), "prefix applied, got %s", obj.key)
	assert.True(t, strings.HasSuffix(obj.key, ".jsonl"))

	lines := bytes.Split(bytes.TrimSpace(obj.body), []byte("\n"))
	assert.Len(t, lines, 2, "one JSON document per audit row")
	assert.Contains(t, string(lines[0]), billing.AuditActionPlanUpgraded)
	assert.Contains(t, string(lines[1]), billing.AuditActionPaymentFailed)
}

func TestS3AuditArchiver_EmptyWindowSkipsUpload(t *testing.T) {
	uploader := &fakeUploader{}
	archiver := newTestArchiver(uploader, &memoryAuditRepo{})

	require.NoError(t, archiver.ExportOnce(context.Background()))
	assert.Empty(t, uploader.objects, "nothing to export, nothing uploaded")
}

func TestS3AuditArchiver_WatermarkAdvancesOnlyOnSuccess(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("access denied")}
	audits := &memoryAuditRepo{}
	archiver := newTestArchiver(uploader, audits)

	audits.rows = []billing.AuditEvent{auditRow(billing.AuditActionPlanUpgraded, time.Now())}
	archiver.mu.Lock()
	archiver.exportedTo = time.Now().Add(-time.Minute)
	before := archiver.exportedTo
	archiver.mu.Unlock()

	require.Error(t, archiver.ExportOnce(context.Background()))

	archiver.mu.Lock()
	assert.True(t, archiver.exportedTo.Equal(before), "failed upload must be retried from the same watermark")
	archiver.mu.Unlock()

	// The next export after recovery picks the same rows up
	uploader.err = nil
	require.NoError(t, archiver.ExportOnce(context.Background()))
	assert.Len(t, uploader.objects, 1)
}

func TestS3AuditArchiver_QueryFailureSurfaces(t *testing.T) {
	uploader := &fakeUploader{}
	archiver := newTestArchiver(uploader, &memoryAuditRepo{err: errors.New("connection reset")})

	assert.Error(t, archiver.ExportOnce(context.Background()))
	assert.Empty(t, uploader.objects)
}

func TestS3AuditArchiver_ObjectKeyLayout(t *testing.T) {
	archiver := newTestArchiver(&fakeUploader{}, &memoryAuditRepo{})

	to := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	assert.Equal(t, "audit/2026/02/03/audit-20260203T040506Z.jsonl", archiver.objectKey(to))
}

func TestS3AuditArchiver_StartStop(t *testing.T) {
	archiver := newTestArchiver(&fakeUploader{}, &memoryAuditRepo{})

	archiver.Start()
	archiver.Stop()
	archiver.Stop()
}
