// Package audit records consent writes as an append-only event stream.
// Emission never blocks a write: events go through an in-process inbox that a
// worker drains into a Sink (Kafka, or the log when no brokers are set).
package audit

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventConsentCreated  EventType = "consent_created"
	EventConsentArchived EventType = "consent_archived"
	// EventConsentArchiveDiverged marks a consent archived locally whose remote
	// archive call failed.
	EventConsentArchiveDiverged EventType = "consent_archive_diverged"
)

type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	ConsentID uuid.UUID `json:"consent_id"`
	Subject   string    `json:"subject,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
