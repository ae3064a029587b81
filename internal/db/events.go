package db

import (
	"context"
	"errors"
	"time"
)

// Actions recorded in the audit log.
const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionUpload      = "upload"
	ActionDownload    = "download"
	ActionRename      = "rename"
	ActionDelete      = "delete"
)

// Event is one audit log row.
type Event struct {
	ID       int64  `json:"id"`
	At       int64  `json:"at"`
	Actor    string `json:"actor"`
	Action   string `json:"action"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size_bytes,omitempty"`
	RemoteIP string `json:"remote_ip,omitempty"`
}

// InsertEvent appends one audit row.
func (d *DB) InsertEvent(ctx context.Context, e Event) error {
	if e.Action == "" {
		return errors.New("event action is required")
	}
	if e.At == 0 {
		e.At = time.Now().Unix()
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO events(at, actor, action, file_name, size_bytes, remote_ip)
VALUES(?, ?, ?, ?, ?, ?)
`, e.At, e.Actor, e.Action, e.FileName, e.Size, e.RemoteIP)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (d *DB) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, at, actor, action, file_name, size_bytes, remote_ip
FROM events ORDER BY at DESC, id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.At, &e.Actor, &e.Action, &e.FileName, &e.Size, &e.RemoteIP); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneEvents deletes events older than the cutoff, bounding table growth.
func (d *DB) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM events WHERE at < ?", time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
