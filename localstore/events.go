package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/types"
)

const defaultEventLimit = 20

// EventQueryFilters narrows QueryEvents. All filters are ANDed.
type EventQueryFilters struct {
	Verdict    string
	SearchTerm string // LIKE match on product, batch and manufacturer
}

// QueryEventsResult holds one page of audit events plus the total match count.
type QueryEventsResult struct {
	Events     []types.AuditEvent `json:"events"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
}

// SaveEvents writes a batch of audit events in one transaction.
func (s *Store) SaveEvents(ctx context.Context, events []types.AuditEvent) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
	INSERT INTO %s (id, timestamp, cache_key, product_name, batch_number, manufacturer, verdict, risk_score, cached, registry_match_id, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, eventsTableName))
	if err != nil {
		return fmt.Errorf("localstore: failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var matchID sql.NullInt64
		if ev.RegistryMatchID != nil {
			matchID = sql.NullInt64{Int64: int64(*ev.RegistryMatchID), Valid: true}
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID,
			formatTime(ev.Timestamp),
			ev.CacheKey,
			ev.ProductName,
			ev.BatchNumber,
			ev.Manufacturer,
			string(ev.Verdict),
			ev.RiskScore,
			boolToInt(ev.Cached),
			matchID,
			ev.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("localstore: failed to insert audit event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: failed to commit transaction: %w", err)
	}
	s.logger.Debug("LocalStore: saved audit events", zap.Int("count", len(events)))
	return nil
}

const eventColumns = "id, timestamp, cache_key, product_name, batch_number, manufacturer, verdict, risk_score, cached, registry_match_id, duration_ms"

// QueryEvents returns a page of audit events, newest first.
func (s *Store) QueryEvents(ctx context.Context, filters EventQueryFilters, page, limit int) (*QueryEventsResult, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	offset := (page - 1) * limit

	var args []interface{}
	where := []string{"1 = 1"}
	if filters.Verdict != "" {
		where = append(where, "verdict = ?")
		args = append(args, filters.Verdict)
	}
	if filters.SearchTerm != "" {
		pattern := "%" + filters.SearchTerm + "%"
		where = append(where, "(product_name LIKE ? OR batch_number LIKE ? OR manufacturer LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	whereStr := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", eventsTableName, whereStr)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("localstore: failed to count audit events: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY timestamp DESC LIMIT ? OFFSET ?", eventColumns, eventsTableName, whereStr)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("localstore: failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []types.AuditEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: error iterating audit events: %w", err)
	}

	return &QueryEventsResult{Events: events, TotalCount: total, Page: page, Limit: limit}, nil
}

// GetEvent returns a single audit event, or nil when the id is unknown.
func (s *Store) GetEvent(ctx context.Context, id string) (*types.AuditEvent, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", eventColumns, eventsTableName), id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (types.AuditEvent, error) {
	var (
		ev      types.AuditEvent
		ts      string
		verdict string
		cached  int
		matchID sql.NullInt64
	)
	err := row.Scan(&ev.ID, &ts, &ev.CacheKey, &ev.ProductName, &ev.BatchNumber, &ev.Manufacturer,
		&verdict, &ev.RiskScore, &cached, &matchID, &ev.DurationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ev, err
		}
		return ev, fmt.Errorf("localstore: failed to scan audit event: %w", err)
	}
	if ev.Timestamp, err = parseTime(ts); err != nil {
		return ev, fmt.Errorf("localstore: invalid timestamp for audit event %s: %w", ev.ID, err)
	}
	ev.Verdict = types.Verdict(verdict)
	ev.Cached = cached == 1
	if matchID.Valid {
		id := int(matchID.Int64)
		ev.RegistryMatchID = &id
	}
	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
