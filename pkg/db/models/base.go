package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID gives rows a client-side UUID so inserts do not depend on a database default.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error      { assignID(&e.ID); return nil }
func (a *LedgerAllocation) BeforeCreate(*gorm.DB) error { assignID(&a.ID); return nil }
func (c *ApprovalChain) BeforeCreate(*gorm.DB) error    { assignID(&c.ID); return nil }
func (g *ApprovalGuard) BeforeCreate(*gorm.DB) error    { assignID(&g.ID); return nil }
func (r *ApprovalRequest) BeforeCreate(*gorm.DB) error  { assignID(&r.ID); return nil }
func (d *ApprovalDecision) BeforeCreate(*gorm.DB) error { assignID(&d.ID); return nil }
func (m *PendingMutation) BeforeCreate(*gorm.DB) error  { assignID(&m.ID); return nil }
func (a *AuditLog) BeforeCreate(*gorm.DB) error         { assignID(&a.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error      { assignID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error        { assignID(&d.ID); return nil }

// All lists every model, in dependency order, for sqlite AutoMigrate in tests and local runs.
func All() []any {
	return []any{
		&Setting{},
		&LedgerStreamLock{},
		&LedgerEntry{},
		&LedgerAllocation{},
		&ApprovalChain{},
		&ApprovalGuard{},
		&Approver{},
		&ApprovalRequest{},
		&ApprovalDecision{},
		&PendingMutation{},
		&AuditLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
