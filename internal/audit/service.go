package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/internal/alerts"
	"github.com/angelmondragon/ledgergate-backend/pkg/correlation"
	dbpkg "github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

// SystemActor is recorded when no human triggered the change.
const SystemActor = "system"

// WithCorrelationID threads id through ctx for every entry recorded downstream.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return correlation.WithID(ctx, id)
}

// CorrelationIDFrom returns the id carried by ctx, if any.
func CorrelationIDFrom(ctx context.Context) string {
	return correlation.FromContext(ctx)
}

// RecordInput describes one audited state change.
type RecordInput struct {
	Action        enums.AuditAction
	EntityType    string
	EntityID      string
	ActorID       string
	ActorRole     string
	Before        any
	After         any
	Context       BusinessContext
	RiskLevel     enums.RiskLevel
	CorrelationID string
}

// Failure is an audit write that did not land. It is escalated once the caller's
// transaction has finished.
type Failure struct {
	Input RecordInput
	Err   error
}

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AuditLog, error)
	RecordBestEffort(ctx context.Context, tx *gorm.DB, input RecordInput) *Failure
	Escalate(ctx context.Context, failures ...*Failure)
}

// Reader serves verified history.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
	Verify(entry models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]models.AuditLog, error)
}

type failureCounter interface {
	IncAuditFailure()
}

// ServiceParams wires the audit trail.
type ServiceParams struct {
	Repository  Repository
	Logger      *logger.Logger
	ChecksumKey string
	Alerts      alerts.Sender
	Metrics     failureCounter
}

// Service implements Recorder and Reader.
type Service struct {
	repo    Repository
	logg    *logger.Logger
	sums    *checksummer
	alerts  alerts.Sender
	metrics failureCounter
	now     func() time.Time
}

// NewService builds the audit trail.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	sums, err := newChecksummer(params.ChecksumKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:    params.Repository,
		logg:    params.Logger,
		sums:    sums,
		alerts:  params.Alerts,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// Record inserts a checksummed entry. With a non-nil tx the insert joins it.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AuditLog, error) {
	entry, err := s.build(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert audit entry")
	}
	return entry, nil
}

// RecordBestEffort records inside a savepoint so a failed audit insert never aborts
// the surrounding transaction. Failures are logged and returned for escalation.
// Without a tx the failure is escalated immediately.
func (s *Service) RecordBestEffort(ctx context.Context, tx *gorm.DB, input RecordInput) *Failure {
	var err error
	if tx == nil {
		_, err = s.Record(ctx, nil, input)
	} else {
		err = tx.Transaction(func(sp *gorm.DB) error {
			_, recErr := s.Record(ctx, sp, input)
			return recErr
		})
	}
	if err == nil {
		return nil
	}

	failure := &Failure{Input: input, Err: err}
	if s.metrics != nil {
		s.metrics.IncAuditFailure()
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"audit_action": input.Action,
		"entity_type":  input.EntityType,
		"entity_id":    input.EntityID,
	})
	s.logg.Error(logCtx, "audit write failed", err)
	if tx == nil {
		s.Escalate(ctx, failure)
		return nil
	}
	return failure
}

// Escalate raises a critical alert per failure. Nil entries are skipped.
func (s *Service) Escalate(ctx context.Context, failures ...*Failure) {
	for _, failure := range failures {
		if failure == nil || s.alerts == nil {
			continue
		}
		alert := alerts.Alert{
			Category:   enums.AlertCategoryAuditFailure,
			Severity:   enums.AlertSeverityCritical,
			Message:    fmt.Sprintf("audit entry for %s was not recorded: %v", failure.Input.Action, failure.Err),
			EntityType: failure.Input.EntityType,
			EntityID:   failure.Input.EntityID,
		}
		if err := s.alerts.SendAlert(ctx, alert); err != nil {
			s.logg.Error(ctx, "audit failure alert not sent", err)
		}
	}
}

func (s *Service) build(ctx context.Context, input RecordInput) (*models.AuditLog, error) {
	if strings.TrimSpace(string(input.Action)) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit action required")
	}
	if strings.TrimSpace(input.EntityType) == "" || strings.TrimSpace(input.EntityID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit entity required")
	}
	if err := input.Context.validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid business context")
	}
	if input.RiskLevel == "" {
		input.RiskLevel = enums.RiskLow
	}
	if !input.RiskLevel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid risk level")
	}
	actor := strings.TrimSpace(input.ActorID)
	if actor == "" {
		actor = SystemActor
	}
	corrID := input.CorrelationID
	if corrID == "" {
		corrID = correlation.FromContext(ctx)
	}
	if corrID == "" {
		corrID = correlation.NewID()
	}

	before, err := marshalState(input.Before)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode before state")
	}
	after, err := marshalState(input.After)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode after state")
	}
	business, err := json.Marshal(input.Context)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode business context")
	}

	entry := &models.AuditLog{
		ID:              uuid.New(),
		Action:          input.Action,
		EntityType:      input.EntityType,
		EntityID:        input.EntityID,
		ActorID:         actor,
		ActorRole:       input.ActorRole,
		BeforeState:     before,
		AfterState:      after,
		BusinessContext: business,
		RiskLevel:       input.RiskLevel,
		CorrelationID:   corrID,
		// Postgres keeps microseconds; truncating first keeps the checksum stable on read-back.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	sum, err := s.sums.sum(*entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute audit checksum")
	}
	entry.Checksum = sum
	return entry, nil
}

func marshalState(state any) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}
	if raw, ok := state.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(state)
}

// Verify recomputes the checksum. Mismatches never reveal which field changed.
func (s *Service) Verify(entry models.AuditLog) error {
	sum, err := s.sums.sum(entry)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute audit checksum")
	}
	if sum != entry.Checksum {
		return pkgerrors.New(pkgerrors.CodeIntegrityCheckFailed, "audit entry failed integrity check")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "audit entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load audit entry")
	}
	if err := s.Verify(*entry); err != nil {
		s.logIntegrityFailure(ctx, *entry)
		return nil, err
	}
	return entry, nil
}

func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	entries, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}
	return s.verifyAll(ctx, entries)
}

func (s *Service) ListByCorrelation(ctx context.Context, correlationID string) ([]models.AuditLog, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "correlation id required")
	}
	entries, err := s.repo.ListByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}
	return s.verifyAll(ctx, entries)
}

// IntegrityReport summarizes one checksum scan.
type IntegrityReport struct {
	Checked int
	Failed  []uuid.UUID
}

// ScanSince re-verifies up to limit entries written at or after since. Every
// mismatch is logged and raised as a critical alert; the scan itself does not fail.
func (s *Service) ScanSince(ctx context.Context, since time.Time, limit int) (IntegrityReport, error) {
	var report IntegrityReport
	entries, err := s.repo.ListCreatedSince(ctx, since, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}
	for _, entry := range entries {
		report.Checked++
		if err := s.Verify(entry); err == nil {
			continue
		}
		report.Failed = append(report.Failed, entry.ID)
		s.logIntegrityFailure(ctx, entry)
		if s.alerts == nil {
			continue
		}
		alert := alerts.Alert{
			Category:   enums.AlertCategoryAuditFailure,
			Severity:   enums.AlertSeverityCritical,
			Message:    fmt.Sprintf("audit entry %s failed its integrity check", entry.ID),
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
		}
		if alertErr := s.alerts.SendAlert(ctx, alert); alertErr != nil {
			s.logg.Error(ctx, "integrity alert not sent", alertErr)
		}
	}
	return report, nil
}

func (s *Service) verifyAll(ctx context.Context, entries []models.AuditLog) ([]models.AuditLog, error) {
	for _, entry := range entries {
		if err := s.Verify(entry); err != nil {
			s.logIntegrityFailure(ctx, entry)
			return nil, err
		}
	}
	return entries, nil
}

func (s *Service) logIntegrityFailure(ctx context.Context, entry models.AuditLog) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"audit_id":    entry.ID.String(),
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
	})
	s.logg.Error(logCtx, "audit integrity check failed", nil)
}
