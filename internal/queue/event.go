// Package queue defines the audit event payload and moves it through a
// message broker: publishers for RabbitMQ and Kafka, and consumers that
// append every event to logs/audit.log.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types.
const (
	EventRegister             = "auth.register"
	EventLoginSuccess         = "auth.login.success"
	EventLoginFailure         = "auth.login.failure"
	EventRefresh              = "auth.refresh"
	EventLogout               = "auth.logout"
	EventCredentialSaved      = "credential.saved"
	EventCredentialDisconnect = "credential.disconnected"
	EventAccountRoleChanged   = "account.role_changed"
	EventAccountDeactivated   = "account.deactivated"
	EventAdminBootstrapped    = "account.admin_bootstrapped"
)

// AuditEvent records one security-relevant action. It carries identifiers
// only, never secrets or password material.
type AuditEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AccountID  uint64            `json:"account_id,omitempty"`
	ActorID    uint64            `json:"actor_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Service    string            `json:"service,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewAuditEvent stamps a fresh id and the current time.
func NewAuditEvent(typ string, accountID uint64) AuditEvent {
	return AuditEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		AccountID:  accountID,
		OccurredAt: time.Now().UTC(),
	}
}
