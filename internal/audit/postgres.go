package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"authcore.org/internal/ids"
)

var _ Sink = (*PGSink)(nil)

// PGSink appends events to the audit_events table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Append(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	data, _ := json.Marshal(ev.Data)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_events(id, occurred_at, event_type, event_category, actor_id,
		 username, session_id, ip_address, user_agent, description, success, error_message, event_data)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		ev.ID, ev.OccurredAt, string(ev.Type), ev.Category, nullable(ev.ActorID),
		nullable(ev.Username), nullable(ev.SessionID), nullable(ev.IP),
		nullable(ev.UserAgent), ev.Description, ev.Success, nullable(ev.Error), data,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
