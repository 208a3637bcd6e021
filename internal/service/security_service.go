package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushub/campus-api/internal/models"
	appErrors "github.com/campushub/campus-api/pkg/errors"
	"github.com/campushub/campus-api/pkg/export"
	"github.com/campushub/campus-api/pkg/jobs"
	"github.com/campushub/campus-api/pkg/storage"
)

type securityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, error)
}

// SecurityService records security events and serves the audit/export
// surface. Events are persisted asynchronously through the job queue; if
// the queue rejects the job the write happens inline, because HIGH events
// must never be lost to backpressure.
type SecurityService struct {
	repo    securityEventRepository
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger

	csv *export.CSVExporter
	pdf *export.PDFExporter

	archive *storage.Archive
	signer  *storage.LinkSigner
	maxRows int
}

// NewSecurityService constructs a SecurityService. The queue is optional;
// without one all writes are synchronous.
func NewSecurityService(repo securityEventRepository, metrics *MetricsService, logger *zap.Logger) *SecurityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
	}
}

// StartQueue wires and starts the asynchronous persistence workers.
func (s *SecurityService) StartQueue(ctx context.Context, cfg jobs.Config) {
	cfg.Logger = s.logger
	s.queue = jobs.NewQueue("security-events", s.handleJob, cfg)
	s.queue.Start(ctx)
}

// StopQueue drains the workers.
func (s *SecurityService) StopQueue() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

func (s *SecurityService) handleJob(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(*models.SecurityEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return s.repo.Create(ctx, event)
}

// Record logs and persists a security event. Never returns an error to the
// caller: event recording must not fail the request that triggered it.
func (s *SecurityService) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("severity", string(event.Severity)),
		zap.String("ip", event.IP),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", *event.UserID))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", *event.ActorID))
	}
	switch event.Severity {
	case models.SeverityHigh:
		s.logger.Error("security event", fields...)
	case models.SeverityMedium:
		s.logger.Warn("security event", fields...)
	default:
		s.logger.Info("security event", fields...)
	}

	if s.metrics != nil {
		s.metrics.ObserveSecurityEvent(event.Severity, event.Kind)
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: event.ID, Type: event.Kind, Payload: event}); err == nil {
			return
		}
	}
	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Error("failed to persist security event", zap.String("kind", event.Kind), zap.Error(err))
	}
}

// Detail marshals structured event context, swallowing marshal errors.
func Detail(payload map[string]interface{}) []byte {
	raw, _ := json.Marshal(payload)
	return raw
}

// List returns events for the admin surface.
func (s *SecurityService) List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, error) {
	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list security events")
	}
	return events, nil
}

// Export renders the filtered event log as CSV or PDF bytes.
func (s *SecurityService) Export(ctx context.Context, filter models.SecurityEventFilter, format string) ([]byte, string, error) {
	if s.maxRows > 0 && (filter.Limit == 0 || filter.Limit > s.maxRows) {
		filter.Limit = s.maxRows
	}
	events, err := s.List(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	report := export.Report{
		Title:   "Security Event Log",
		Headers: []string{"#", "Time", "Severity", "Kind", "User", "Actor", "IP", "User Agent"},
	}
	for i, event := range events {
		userID, actorID := "", ""
		if event.UserID != nil {
			userID = *event.UserID
		}
		if event.ActorID != nil {
			actorID = *event.ActorID
		}
		report.Rows = append(report.Rows, []string{
			strconv.Itoa(i + 1),
			event.CreatedAt.UTC().Format(time.RFC3339),
			string(event.Severity),
			event.Kind,
			userID,
			actorID,
			event.IP,
			event.UserAgent,
		})
	}

	switch format {
	case "pdf":
		raw, err := s.pdf.Render(report)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return raw, "application/pdf", nil
	case "csv", "":
		raw, err := s.csv.Render(report)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return raw, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// EnableArchive turns on on-disk report archival with signed download
// links. maxRows caps every export regardless of the requested limit.
func (s *SecurityService) EnableArchive(archive *storage.Archive, signer *storage.LinkSigner, maxRows int) {
	s.archive = archive
	s.signer = signer
	s.maxRows = maxRows
}

// ArchivedReport describes a stored export reachable through a signed
// token.
type ArchivedReport struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Archive renders the filtered event log, stores it and returns a signed
// download token.
func (s *SecurityService) Archive(ctx context.Context, filter models.SecurityEventFilter, format string) (*ArchivedReport, error) {
	if s.archive == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "report archival is disabled")
	}

	payload, _, err := s.Export(ctx, filter, format)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "csv"
	}

	name := fmt.Sprintf("security-events/%s-%s.%s",
		time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8], format)
	if err := s.archive.Put(name, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	token, expiresAt, err := s.signer.Sign(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &ArchivedReport{Token: token, ExpiresAt: expiresAt}, nil
}

// Fetch resolves a signed token to the stored report bytes.
func (s *SecurityService) Fetch(token string) ([]byte, string, string, error) {
	if s.archive == nil || s.signer == nil {
		return nil, "", "", appErrors.Clone(appErrors.ErrNotFound, "report archival is disabled")
	}

	name, err := s.signer.Verify(token)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInvalidTokenFormat.Code, appErrors.ErrInvalidTokenFormat.Status, "invalid download token")
	}

	payload, err := s.archive.Get(name)
	if err != nil {
		return nil, "", "", appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}

	contentType := "text/csv"
	if strings.HasSuffix(name, ".pdf") {
		contentType = "application/pdf"
	}
	return payload, contentType, path.Base(name), nil
}

// SweepArchive removes stored reports older than ttl.
func (s *SecurityService) SweepArchive(ttl time.Duration) {
	if s.archive == nil {
		return
	}
	removed, err := s.archive.Sweep(ttl)
	if err != nil {
		s.logger.Warn("report archive sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("report archive sweep", zap.Int("removed", removed))
	}
}
