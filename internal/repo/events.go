package repo

import (
	"context"
	"database/sql"

	"tms/internal/domain"
)

// LatestEvents returns the newest n audit events, optionally filtered by
// type and entity kind.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	var where []string
	var args []any
	if evtType != "" {
		where = append(where, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, entityKind)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var entityID, actorID sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &entityID, &actorID, &ev.Payload); err != nil {
			return nil, err
		}
		ev.EntityID = entityID.Int64
		ev.ActorID = actorID.Int64
		res = append(res, ev)
	}
	return res, rows.Err()
}
