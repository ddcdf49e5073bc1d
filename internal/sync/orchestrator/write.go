package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentsync/internal/audit"
	"consentsync/internal/consent/models"
	dErrors "consentsync/pkg/domain-errors"
	"consentsync/pkg/platform/sentinel"
)

// Create records a new consent. It needs a fresh connectivity check, resolves
// the purpose name and inserts remotely; the stored record is prepended to
// the active collection and cached before Create returns.
func (o *Orchestrator) Create(ctx context.Context, in models.CreateInput) (models.Record, error) {
	if err := in.Validate(); err != nil {
		return models.Record{}, err
	}
	ctx, span := o.tracer.Start(ctx, "sync.create")
	defer span.End()

	if !o.probe(ctx, true) {
		return models.Record{}, spanError(span, dErrors.New(dErrors.CodeConnectivity, "cannot create consent while offline"))
	}

	purposeID, err := o.resolvePurpose(ctx, in.PurposeName)
	if err != nil {
		return models.Record{}, spanError(span, err)
	}

	rec := models.Record{
		ID:          uuid.New(),
		Subject:     in.Subject,
		PurposeID:   purposeID,
		PurposeName: in.PurposeName,
		Notes:       in.Notes,
		CreatedAt:   o.now().UTC(),
	}
	stored, err := o.insert(ctx, rec)
	if err != nil {
		return models.Record{}, spanError(span, err)
	}
	span.SetAttributes(attribute.String("consent_id", stored.ID.String()))

	o.mutate(ctx, func(active, archived []models.Record) ([]models.Record, []models.Record, bool) {
		next := make([]models.Record, 0, len(active)+1)
		next = append(next, stored)
		next = append(next, active...)
		return next, archived, true
	})
	o.emit(ctx, audit.EventConsentCreated, stored, "")
	return stored, nil
}

func (o *Orchestrator) resolvePurpose(ctx context.Context, name string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Lookup)
	defer cancel()
	id, err := o.backend.ResolvePurpose(ctx, name)
	if errors.Is(err, sentinel.ErrNotFound) {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("purpose %q not found", name))
	}
	if err != nil {
		return uuid.Nil, classify(ctx, err, "resolve purpose")
	}
	return id, nil
}

func (o *Orchestrator) insert(ctx context.Context, rec models.Record) (models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Insert)
	defer cancel()
	row, err := o.backend.InsertConsent(ctx, rec)
	if err != nil {
		return models.Record{}, classify(ctx, err, "insert consent")
	}
	stored, err := models.FromRow(row)
	if err != nil {
		o.logger.WarnContext(ctx, "inserted consent did not map back, keeping local copy", "consent_id", rec.ID, "error", err)
		return rec, nil
	}
	if stored.PurposeName == "" {
		stored.PurposeName = rec.PurposeName
	}
	return stored, nil
}

// Archive moves a consent to the archived collection. The local move happens
// first and is never rolled back: when the remote call fails the error wraps
// ErrArchiveUnconfirmed.
func (o *Orchestrator) Archive(ctx context.Context, id uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "sync.archive",
		trace.WithAttributes(attribute.String("consent_id", id.String())))
	defer span.End()

	if !o.probe(ctx, true) {
		return spanError(span, dErrors.New(dErrors.CodeConnectivity, "cannot archive consent while offline"))
	}

	var moved *models.Record
	o.mutate(ctx, func(active, archived []models.Record) ([]models.Record, []models.Record, bool) {
		idx := indexOf(active, id)
		if idx < 0 {
			return active, archived, false
		}
		rec := active[idx].MarkArchived(o.now().UTC())
		moved = &rec

		nextActive := make([]models.Record, 0, len(active)-1)
		nextActive = append(nextActive, active[:idx]...)
		nextActive = append(nextActive, active[idx+1:]...)
		nextArchived := make([]models.Record, 0, len(archived)+1)
		nextArchived = append(nextArchived, rec)
		nextArchived = append(nextArchived, archived...)
		return nextActive, nextArchived, true
	})

	if err := o.archiveRemote(ctx, id); err != nil {
		if moved == nil {
			return spanError(span, err)
		}
		o.logger.WarnContext(ctx, "archive applied locally but not remotely", "consent_id", id, "error", err)
		o.emit(ctx, audit.EventConsentArchiveDiverged, *moved, err.Error())
		return spanError(span, &dErrors.Error{
			Code:    dErrors.CodeOf(err),
			Message: "archive not confirmed by backend; the consent is already archived locally and may differ from the backend until connectivity returns",
			Err:     fmt.Errorf("%w: %w", ErrArchiveUnconfirmed, err),
		})
	}

	rec := models.Record{ID: id}
	if moved != nil {
		rec = *moved
	}
	o.emit(ctx, audit.EventConsentArchived, rec, "")
	return nil
}

func (o *Orchestrator) archiveRemote(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Archive)
	defer cancel()
	if err := o.backend.ArchiveConsent(ctx, id); err != nil {
		return classify(ctx, err, "archive consent")
	}
	return nil
}

// Get finds a consent in memory, falling back to the backend when connected.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (models.Record, error) {
	o.mu.Lock()
	rec, ok := find(o.state.Active, id)
	if !ok {
		rec, ok = find(o.state.Archived, id)
	}
	o.mu.Unlock()
	if ok {
		return rec, nil
	}

	if !o.probe(ctx, false) {
		return models.Record{}, dErrors.New(dErrors.CodeNotFound, "consent not found")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Lookup)
	defer cancel()
	row, err := o.backend.GetConsent(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeNotFound, "consent not found")
	}
	if err != nil {
		return models.Record{}, classify(ctx, err, "get consent")
	}
	return models.FromRow(row)
}

func (o *Orchestrator) emit(ctx context.Context, t audit.EventType, rec models.Record, reason string) {
	if o.auditor == nil {
		return
	}
	o.auditor.Emit(ctx, audit.Event{
		Type:      t,
		ConsentID: rec.ID,
		Subject:   rec.Subject,
		Purpose:   rec.PurposeName,
		Reason:    reason,
	})
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

func indexOf(records []models.Record, id uuid.UUID) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func find(records []models.Record, id uuid.UUID) (models.Record, bool) {
	if i := indexOf(records, id); i >= 0 {
		return records[i], true
	}
	return models.Record{}, false
}
