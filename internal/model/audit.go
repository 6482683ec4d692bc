package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"userId" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entityType" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entityId" db:"entity_id"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	IPAddress  string          `json:"ipAddress" db:"ip_address"`
	UserAgent  string          `json:"userAgent" db:"user_agent"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate        = "create"
	AuditActionUpdate        = "update"
	AuditActionLogin         = "login"
	AuditActionRegister      = "register"
	AuditActionPasswordReset = "password_reset"

	// Entity types
	AuditEntityUser        = "user"
	AuditEntityAppointment = "appointment"
	AuditEntityReport      = "medical_report"
)
