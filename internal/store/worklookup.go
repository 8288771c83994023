package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/joeylife94/asgard-sub000/internal/models"
)

// ResolveWork maps an opaque work reference ("log:<id>") onto the log entry
// it points at. The log table is owned by the ingest pipeline; this is a
// read-only collaborator lookup used to confirm the unit of work exists and
// to derive the dispatch priority from its severity.
func (s *Store) ResolveWork(ctx context.Context, workRef string) (models.WorkItem, error) {
	id, err := parseLogRef(workRef)
	if err != nil {
		return models.WorkItem{}, err
	}

	var severity string
	err = s.pool.QueryRow(ctx, `SELECT severity FROM log_entries WHERE id = $1`, id).Scan(&severity)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, fmt.Errorf("log entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("resolve work ref: %w", err)
	}
	return models.WorkItem{Ref: workRef, Severity: severity}, nil
}

func parseLogRef(ref string) (int64, error) {
	raw, ok := strings.CutPrefix(ref, "log:")
	if !ok {
		return 0, fmt.Errorf("work ref %q: %w", ref, ErrNotFound)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("work ref %q: %w", ref, ErrNotFound)
	}
	return id, nil
}
