// Package store persists events, participants, items and assignments in
// SQLite. The assignments table carries the uniqueness constraints that back
// the injectivity guarantee; violations surface as ErrConflict.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	capacity INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft',
	draw_seq INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL REFERENCES events(id),
	name TEXT NOT NULL,
	contact TEXT NOT NULL DEFAULT '',
	joined_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL REFERENCES events(id),
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	withdrawn INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL REFERENCES events(id),
	participant_id INTEGER NOT NULL REFERENCES participants(id),
	item_id INTEGER NOT NULL REFERENCES items(id),
	draw_order INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(event_id, participant_id),
	UNIQUE(event_id, item_id),
	UNIQUE(event_id, draw_order)
);
`

// Store persists draw state in SQLite.
type Store struct {
	db *sql.DB
}

func toMillis(v time.Time) int64   { return v.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps the
	// in-memory database from vanishing between queries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// CreateEvent inserts a new event in draft status.
func (s *Store) CreateEvent(ctx context.Context, name string, capacity int) (Event, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (name, capacity, status, created_at) VALUES (?, ?, ?, ?)`,
		name, capacity, StatusDraft, toMillis(now))
	if err != nil {
		return Event{}, fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("create event: %w", err)
	}
	return Event{ID: id, Name: name, Capacity: capacity, Status: StatusDraft, CreatedAt: now}, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, capacity, status, created_at FROM events WHERE id = ?`, id)
	var ev Event
	var createdAt int64
	if err := row.Scan(&ev.ID, &ev.Name, &ev.Capacity, &ev.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	ev.CreatedAt = fromMillis(createdAt)
	return ev, nil
}

// UpdateEventStatus writes the new status without validating the transition;
// the session controller owns the state machine.
func (s *Store) UpdateEventStatus(ctx context.Context, id int64, status EventStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddParticipant registers a participant for an event.
func (s *Store) AddParticipant(ctx context.Context, eventID int64, name, contact string) (Participant, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (event_id, name, contact, joined_at) VALUES (?, ?, ?, ?)`,
		eventID, name, contact, toMillis(now))
	if err != nil {
		return Participant{}, fmt.Errorf("add participant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Participant{}, fmt.Errorf("add participant: %w", err)
	}
	return Participant{ID: id, EventID: eventID, Name: name, Contact: contact, JoinedAt: now}, nil
}

func (s *Store) GetParticipant(ctx context.Context, id int64) (Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, name, contact, joined_at FROM participants WHERE id = ?`, id)
	return scanParticipant(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	var joinedAt int64
	if err := row.Scan(&p.ID, &p.EventID, &p.Name, &p.Contact, &joinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	p.JoinedAt = fromMillis(joinedAt)
	return p, nil
}

// RemoveParticipant deletes a participant and cascades to its assignment, if
// any. The removed assignment is returned so the caller can publish the
// delete.
func (s *Store) RemoveParticipant(ctx context.Context, id int64) (Participant, *Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Participant{}, nil, fmt.Errorf("remove participant: %w", err)
	}
	defer tx.Rollback()

	p, err := scanParticipant(tx.QueryRowContext(ctx,
		`SELECT id, event_id, name, contact, joined_at FROM participants WHERE id = ?`, id))
	if err != nil {
		return Participant{}, nil, err
	}

	var removed *Assignment
	row := tx.QueryRowContext(ctx,
		`SELECT id, event_id, participant_id, item_id, draw_order, created_at
		   FROM assignments WHERE participant_id = ?`, id)
	a, err := scanAssignment(row)
	switch {
	case err == nil:
		removed = &a
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, a.ID); err != nil {
			return Participant{}, nil, fmt.Errorf("remove participant assignment: %w", err)
		}
	case !errors.Is(err, ErrNotFound):
		return Participant{}, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id); err != nil {
		return Participant{}, nil, fmt.Errorf("remove participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Participant{}, nil, fmt.Errorf("remove participant: %w", err)
	}
	return p, removed, nil
}

func (s *Store) ListParticipants(ctx context.Context, eventID int64) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, name, contact, joined_at FROM participants
		  WHERE event_id = ? ORDER BY joined_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return collectParticipants(rows)
}

// UnassignedParticipants lists the event's participants with no assignment,
// in join order.
func (s *Store) UnassignedParticipants(ctx context.Context, eventID int64) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.event_id, p.name, p.contact, p.joined_at
		   FROM participants p
		  WHERE p.event_id = ?
		    AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.participant_id = p.id)
		  ORDER BY p.joined_at ASC, p.id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("unassigned participants: %w", err)
	}
	return collectParticipants(rows)
}

func collectParticipants(rows *sql.Rows) ([]Participant, error) {
	defer rows.Close()
	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect participants: %w", err)
	}
	return out, nil
}

// AddItem appends an item with the next sequence number for the event.
func (s *Store) AddItem(ctx context.Context, eventID int64, name string) (Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("add item: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM items WHERE event_id = ?`, eventID).Scan(&seq); err != nil {
		return Item{}, fmt.Errorf("add item: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (event_id, seq, name) VALUES (?, ?, ?)`, eventID, seq, name)
	if err != nil {
		return Item{}, fmt.Errorf("add item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Item{}, fmt.Errorf("add item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("add item: %w", err)
	}
	return Item{ID: id, EventID: eventID, Seq: seq, Name: name}, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, seq, name, withdrawn FROM items WHERE id = ?`, id)
	return scanItem(row)
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.EventID, &it.Seq, &it.Name, &it.Withdrawn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("scan item: %w", err)
	}
	return it, nil
}

// WithdrawItem marks an item withdrawn. Existing assignments are untouched;
// the item just never enters another draw.
func (s *Store) WithdrawItem(ctx context.Context, id int64) (Item, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE items SET withdrawn = 1 WHERE id = ?`, id); err != nil {
		return Item{}, fmt.Errorf("withdraw item: %w", err)
	}
	return s.GetItem(ctx, id)
}

func (s *Store) ListItems(ctx context.Context, eventID int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, seq, name, withdrawn FROM items
		  WHERE event_id = ? ORDER BY seq ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return collectItems(rows)
}

// AvailableItems lists non-withdrawn items with no assignment, in sequence
// order.
func (s *Store) AvailableItems(ctx context.Context, eventID int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.event_id, i.seq, i.name, i.withdrawn
		   FROM items i
		  WHERE i.event_id = ? AND i.withdrawn = 0
		    AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.item_id = i.id)
		  ORDER BY i.seq ASC, i.id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("available items: %w", err)
	}
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect items: %w", err)
	}
	return out, nil
}

func scanAssignment(row rowScanner) (Assignment, error) {
	var a Assignment
	var createdAt int64
	if err := row.Scan(&a.ID, &a.EventID, &a.ParticipantID, &a.ItemID, &a.DrawOrder, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, fmt.Errorf("scan assignment: %w", err)
	}
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

// InsertAssignments commits a batch of pairings in one transaction,
// all-or-nothing. Draw orders come from the event's draw_seq counter so an
// undone order is never reused. A uniqueness violation on any pair rolls the
// whole batch back and returns ErrConflict.
func (s *Store) InsertAssignments(ctx context.Context, eventID int64, pairs []PairRef) ([]Assignment, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("insert assignments: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT draw_seq FROM events WHERE id = ?`, eventID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert assignments: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Assignment, 0, len(pairs))
	for _, pr := range pairs {
		seq++
		res, err := tx.ExecContext(ctx,
			`INSERT INTO assignments (event_id, participant_id, item_id, draw_order, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			eventID, pr.ParticipantID, pr.ItemID, seq, toMillis(now))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrConflict
			}
			return nil, fmt.Errorf("insert assignment: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert assignment: %w", err)
		}
		out = append(out, Assignment{
			ID:            id,
			EventID:       eventID,
			ParticipantID: pr.ParticipantID,
			ItemID:        pr.ItemID,
			DrawOrder:     seq,
			CreatedAt:     now,
		})
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET draw_seq = ? WHERE id = ?`, seq, eventID); err != nil {
		return nil, fmt.Errorf("insert assignments: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert assignments: %w", err)
	}
	return out, nil
}

// UndoLast deletes the n assignments with the highest draw_order, returning
// them in descending order. If n exceeds the current count nothing is deleted
// and the result is empty.
func (s *Store) UndoLast(ctx context.Context, eventID int64, n int) ([]Assignment, error) {
	if n <= 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("undo assignments: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE event_id = ?`, eventID).Scan(&total); err != nil {
		return nil, fmt.Errorf("undo assignments: %w", err)
	}
	if n > total {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, participant_id, item_id, draw_order, created_at
		   FROM assignments WHERE event_id = ?
		  ORDER BY draw_order DESC LIMIT ?`, eventID, n)
	if err != nil {
		return nil, fmt.Errorf("undo assignments: %w", err)
	}
	undone, err := collectAssignments(rows)
	if err != nil {
		return nil, err
	}

	for _, a := range undone {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, a.ID); err != nil {
			return nil, fmt.Errorf("undo assignments: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("undo assignments: %w", err)
	}
	return undone, nil
}

// ClearAssignments deletes every assignment for the event, returning the
// removed rows in descending draw_order.
func (s *Store) ClearAssignments(ctx context.Context, eventID int64) ([]Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, participant_id, item_id, draw_order, created_at
		   FROM assignments WHERE event_id = ? ORDER BY draw_order DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	cleared, err := collectAssignments(rows)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE event_id = ?`, eventID); err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	return cleared, nil
}

// ListAssignments returns the event's assignments in draw order.
func (s *Store) ListAssignments(ctx context.Context, eventID int64) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, participant_id, item_id, draw_order, created_at
		   FROM assignments WHERE event_id = ? ORDER BY draw_order ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return collectAssignments(rows)
}

func collectAssignments(rows *sql.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect assignments: %w", err)
	}
	return out, nil
}
