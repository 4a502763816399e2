// Package numbering hands out human-readable sequence labels. Labels are for
// display only; nothing keys on them.
package numbering

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

const (
	EntityLedgerEntry     = "ledger_entry"
	EntityApprovalRequest = "approval_request"
)

var prefixes = map[string]string{
	EntityLedgerEntry:     "LE",
	EntityApprovalRequest: "AR",
}

// Numberer returns the next label for an entity type.
type Numberer interface {
	NextNumber(ctx context.Context, entityType string) (string, error)
}

type counterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	CounterKey(name string) string
}

type service struct {
	store counterStore
}

// NewService returns a Numberer backed by Redis counters.
func NewService(store counterStore) (Numberer, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store required")
	}
	return &service{store: store}, nil
}

func (s *service) NextNumber(ctx context.Context, entityType string) (string, error) {
	prefix := prefixFor(entityType)
	n, err := s.store.Incr(ctx, s.store.CounterKey("seq:"+entityType))
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", entityType, err)
	}
	return Format(prefix, n), nil
}

// Format renders PREFIX-000000n.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s-%07d", prefix, n)
}

// Label asks numberer for the next label and falls back to an id-derived one on failure.
func Label(ctx context.Context, numberer Numberer, logg *logger.Logger, entityType string, id uuid.UUID) string {
	if numberer != nil {
		label, err := numberer.NextNumber(ctx, entityType)
		if err == nil {
			return label
		}
		if logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{"entity_type": entityType, "error": err.Error()}), "numbering unavailable, using id label")
		}
	}
	return prefixFor(entityType) + "-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

func prefixFor(entityType string) string {
	if prefix, ok := prefixes[entityType]; ok {
		return prefix
	}
	return strings.ToUpper(entityType)
}
