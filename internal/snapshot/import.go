package snapshot

import (
	"context"
	"fmt"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

// LimitationsMessage describes what an import can and cannot change.
const LimitationsMessage = "Import can only update existing entities' names and labels. " +
	"It does NOT create new entities, change domains, reassign devices, or remove anything."

// ChangeStatus is the outcome for one imported record.
type ChangeStatus string

const (
	StatusUpdated ChangeStatus = "updated"
	StatusSkipped ChangeStatus = "skipped"
	StatusFailed  ChangeStatus = "failed"
)

// Change describes what happened to one record. Unchanged records are
// counted but not listed.
type Change struct {
	EntityID string       `json:"entity_id"`
	Status   ChangeStatus `json:"status"`
	Fields   []string     `json:"fields,omitempty"`
	OldName  *string      `json:"old_name,omitempty"`
	NewName  *string      `json:"new_name,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// ImportResult counts the outcome of an import. In a dry run Updated is
// the number of entities that would have changed.
type ImportResult struct {
	Total     int      `json:"total"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	DryRun    bool     `json:"dry_run"`
	Changes   []Change `json:"changes"`
}

// Summary is the human-readable line used in notifications.
func (r *ImportResult) Summary() string {
	verb := "Updated"
	if r.DryRun {
		verb = "Would update"
	}
	msg := fmt.Sprintf("%s %d entities, skipped %d not found in the registry.", verb, r.Updated, r.Skipped)
	if r.Failed > 0 {
		msg += fmt.Sprintf(" %d failed.", r.Failed)
	}
	return msg
}

// Importer reconciles an import document against a live registry.
type Importer struct {
	logger Logger
}

// NewImporter returns an importer.
func NewImporter() *Importer {
	return &Importer{logger: noopLogger{}}
}

// SetLogger sets the logger used for per-entity outcomes.
func (im *Importer) SetLogger(logger Logger) {
	im.logger = logger
}

// Import parses raw and applies name and label differences to the
// matching entities of src. A parse failure applies nothing. A failed
// update is logged and counted and the remaining records still run.
func (im *Importer) Import(ctx context.Context, src registry.Source, raw []byte, opts ImportOptions) (*ImportResult, error) {
	records, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	var updater registry.EntityUpdater
	if !opts.DryRun {
		if !registry.Supports(src, registry.CapUpdateEntity) {
			return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, registry.ErrReadOnly)
		}
		updater = src.(registry.EntityUpdater)
	}

	entities, err := src.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing entities: %w", ErrRegistryUnavailable, err)
	}
	current := make(map[string]registry.Entity, len(entities))
	for _, e := range entities {
		current[e.EntityID] = e
	}

	result := &ImportResult{
		Total:   len(records),
		DryRun:  opts.DryRun,
		Changes: []Change{},
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import interrupted: %w", err)
		}

		if rec.Invalid != "" {
			im.logger.Warn("invalid import record", "entity_id", rec.EntityID, "reason", rec.Invalid)
			result.Failed++
			result.Changes = append(result.Changes, Change{EntityID: rec.EntityID, Status: StatusFailed, Reason: rec.Invalid})
			continue
		}

		cur, ok := current[rec.EntityID]
		if !ok {
			im.logger.Debug("import skipped unknown entity", "entity_id", rec.EntityID)
			result.Skipped++
			result.Changes = append(result.Changes, Change{EntityID: rec.EntityID, Status: StatusSkipped, Reason: "not in registry"})
			continue
		}

		upd, fields := diff(cur, rec)
		if upd.Empty() {
			result.Unchanged++
			continue
		}

		change := Change{EntityID: rec.EntityID, Status: StatusUpdated, Fields: fields}
		if upd.NameSet {
			change.OldName = registry.CloneString(cur.Name)
			change.NewName = registry.CloneString(upd.Name)
		}

		if opts.DryRun {
			upd.Apply(&cur)
			current[rec.EntityID] = cur
			result.Updated++
			result.Changes = append(result.Changes, change)
			continue
		}

		updated, err := updater.UpdateEntity(ctx, rec.EntityID, upd)
		if err != nil {
			im.logger.Error("entity update failed", "entity_id", rec.EntityID, "error", err)
			change.Status = StatusFailed
			change.Reason = err.Error()
			result.Failed++
			result.Changes = append(result.Changes, change)
			continue
		}
		im.logger.Info("entity updated", "entity_id", rec.EntityID, "fields", fields)
		current[rec.EntityID] = updated
		result.Updated++
		result.Changes = append(result.Changes, change)
	}

	return result, nil
}

// diff returns the update that brings cur in line with rec, and the
// names of the fields it touches.
func diff(cur registry.Entity, rec Record) (registry.EntityUpdate, []string) {
	var upd registry.EntityUpdate
	var fields []string
	if rec.NameSet && !registry.SameString(cur.Name, rec.Name) {
		upd.NameSet = true
		upd.Name = registry.CloneString(rec.Name)
		fields = append(fields, "name")
	}
	if rec.LabelsSet && !registry.SameLabels(cur.Labels, rec.Labels) {
		upd.LabelsSet = true
		upd.Labels = registry.NormalizeLabels(rec.Labels)
		fields = append(fields, "labels")
	}
	return upd, fields
}
