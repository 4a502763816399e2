package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/pkg/correlation"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox/payloads"
)

// Alert is an operator-facing notification. Delivery happens downstream of the outbox.
type Alert struct {
	Category   enums.AlertCategory
	Severity   enums.AlertSeverity
	Message    string
	EntityType string
	EntityID   string
}

// Sender raises alerts without holding up the caller's own transaction.
type Sender interface {
	SendAlert(ctx context.Context, alert Alert) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the alert sender.
type ServiceParams struct {
	DB      txRunner
	Outbox  outboxEmitter
	Logger  *logger.Logger
	Enabled bool
}

type service struct {
	db      txRunner
	outbox  outboxEmitter
	logg    *logger.Logger
	enabled bool
	now     func() time.Time
}

// NewService returns a Sender that queues alert.raised events on the outbox.
func NewService(params ServiceParams) (Sender, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      params.DB,
		outbox:  params.Outbox,
		logg:    params.Logger,
		enabled: params.Enabled,
		now:     time.Now,
	}, nil
}

func (s *service) SendAlert(ctx context.Context, alert Alert) error {
	if strings.TrimSpace(alert.Message) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "alert message required")
	}
	if alert.Severity == "" {
		alert.Severity = enums.AlertSeverityWarning
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"alert_category": alert.Category,
		"alert_severity": alert.Severity,
		"entity_type":    alert.EntityType,
		"entity_id":      alert.EntityID,
	})
	if !s.enabled {
		s.logg.Warn(logCtx, "alert publishing disabled: "+alert.Message)
		return nil
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventAlertRaised,
		AggregateType: enums.AggregateAlert,
		AggregateID:   uuid.New(),
		CorrelationID: correlation.FromContext(ctx),
		Data: payloads.AlertRaisedEvent{
			Category:   alert.Category,
			Severity:   alert.Severity,
			Message:    alert.Message,
			EntityType: alert.EntityType,
			EntityID:   alert.EntityID,
			RaisedAt:   s.now().UTC(),
		},
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, event)
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue alert")
	}
	s.logg.Info(logCtx, "alert queued")
	return nil
}

// Nop drops every alert. Used by tools that run without an outbox.
type Nop struct{}

func (Nop) SendAlert(context.Context, Alert) error { return nil }
