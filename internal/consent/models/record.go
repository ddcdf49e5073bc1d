package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "consentsync/pkg/domain-errors"
)

// Partition names one of the two mutually exclusive consent collections.
// Membership only moves from active to archived.
type Partition string

const (
	PartitionActive   Partition = "active"
	PartitionArchived Partition = "archived"
)

// Archived reports the remote partition filter value.
func (p Partition) Archived() bool {
	return p == PartitionArchived
}

// Record is a consent as the sync layer sees it. PurposeName is the display
// name joined from the purposes lookup table.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	Subject     string     `json:"subject"`
	PurposeID   uuid.UUID  `json:"purpose_id"`
	PurposeName string     `json:"purpose_name"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Archived    bool       `json:"archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// Partition returns the collection the record belongs to.
func (r Record) Partition() Partition {
	if r.Archived {
		return PartitionArchived
	}
	return PartitionActive
}

// MarkArchived returns a copy moved to the archived partition at now.
// Already archived records are returned unchanged.
func (r Record) MarkArchived(now time.Time) Record {
	if r.Archived {
		return r
	}
	r.Archived = true
	at := now
	r.ArchivedAt = &at
	return r
}

// CreateInput is what the UI submits to record a new consent. The purpose is
// given by name and resolved to an id against the backend.
type CreateInput struct {
	Subject     string `json:"subject"`
	PurposeName string `json:"purpose"`
	Notes       string `json:"notes,omitempty"`
}

// Validate trims the input and rejects empty required fields.
func (in *CreateInput) Validate() error {
	in.Subject = strings.TrimSpace(in.Subject)
	in.PurposeName = strings.TrimSpace(in.PurposeName)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Subject == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if in.PurposeName == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "purpose is required")
	}
	return nil
}

// ParseRecordID parses a consent id at a trust boundary.
func ParseRecordID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "consent id cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid consent id")
	}
	return id, nil
}
