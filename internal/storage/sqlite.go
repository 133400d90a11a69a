package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database with methods for tasks, events, chat history and reminders.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fusion.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tasks ---

func (s *Store) SaveTask(t Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, title, description, completed, priority, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, t.Completed, t.Priority, nullTime(t.DueDate), formatTime(t.CreatedAt),
	)
	return err
}

// UpdateTask overwrites the mutable columns of an existing task.
func (s *Store) UpdateTask(t Task) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Completed, t.Priority, nullTime(t.DueDate), t.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

const taskColumns = `id, user_id, title, description, completed, priority, due_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var due sql.NullString
	var createdAt string
	if err := r.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority, &due, &createdAt); err != nil {
		return Task{}, err
	}
	ca, err := parseTime(createdAt)
	if err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ca
	if due.Valid && due.String != "" {
		d, err := parseTime(due.String)
		if err != nil {
			return Task{}, fmt.Errorf("parsing due_date: %w", err)
		}
		t.DueDate = &d
	}
	return t, nil
}

func (s *Store) GetTask(id string) (Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns the user's tasks, newest first.
func (s *Store) ListTasks(userID string) ([]Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Events ---

func (s *Store) SaveEvent(e Event) error {
	_, err := s.db.Exec(`
		INSERT INTO events (id, user_id, title, description, start_at, end_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Description, formatTime(e.Start), formatTime(e.End), formatTime(e.CreatedAt),
	)
	return err
}

func (s *Store) UpdateEvent(e Event) error {
	res, err := s.db.Exec(`
		UPDATE events SET title = ?, description = ?, start_at = ?, end_at = ?
		WHERE id = ?`,
		e.Title, e.Description, formatTime(e.Start), formatTime(e.End), e.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) DeleteEvent(id string) error {
	res, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

const eventColumns = `id, user_id, title, description, start_at, end_at, created_at`

func scanEvent(r rowScanner) (Event, error) {
	var e Event
	var start, end, createdAt string
	if err := r.Scan(&e.ID, &e.UserID, &e.Title, &e.Description, &start, &end, &createdAt); err != nil {
		return Event{}, err
	}
	var err error
	if e.Start, err = parseTime(start); err != nil {
		return Event{}, fmt.Errorf("parsing start_at: %w", err)
	}
	if e.End, err = parseTime(end); err != nil {
		return Event{}, fmt.Errorf("parsing end_at: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Event{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return e, nil
}

func (s *Store) GetEvent(id string) (Event, error) {
	e, err := scanEvent(s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	return e, err
}

// ListEvents returns the user's events ordered by start time.
func (s *Store) ListEvents(userID string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events WHERE user_id = ?
		ORDER BY start_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Chat history ---

// LoadMessages returns the persisted conversation in append order.
func (s *Store) LoadMessages() ([]ChatMessage, error) {
	rows, err := s.db.Query(`SELECT id, sender, text, created_at FROM chat_messages ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// ReplaceMessages atomically replaces the persisted conversation with msgs.
func (s *Store) ReplaceMessages(msgs []ChatMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("clearing chat messages: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chat_messages (position, id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.Exec(i, m.ID, m.Sender, m.Text, formatTime(m.CreatedAt)); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// --- Reminders ---

// ScheduleReminder inserts a pending reminder, replacing any existing row with the same ID.
func (s *Store) ScheduleReminder(r Reminder) error {
	now := formatTime(time.Now())
	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO reminders (id, source_type, source_id, title, body, fire_at, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, body = excluded.body, fire_at = excluded.fire_at,
			status = 'pending', attempts = 0, max_attempts = excluded.max_attempts,
			last_error = NULL, updated_at = excluded.updated_at`,
		r.ID, r.SourceType, r.SourceID, r.Title, r.Body, formatTime(r.FireAt), maxAttempts, now, now,
	)
	return err
}

// CancelReminders deletes every pending reminder for the given source. It returns
// the number of reminders removed.
func (s *Store) CancelReminders(sourceType, sourceID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM reminders WHERE source_type = ? AND source_id = ? AND status = 'pending'`, sourceType, sourceID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const reminderColumns = `id, source_type, source_id, title, body, fire_at, status, attempts, max_attempts, last_error, created_at, updated_at`

func scanReminder(r rowScanner) (Reminder, error) {
	var rem Reminder
	var fireAt, createdAt, updatedAt string
	var lastError sql.NullString
	if err := r.Scan(&rem.ID, &rem.SourceType, &rem.SourceID, &rem.Title, &rem.Body, &fireAt,
		&rem.Status, &rem.Attempts, &rem.MaxAttempts, &lastError, &createdAt, &updatedAt); err != nil {
		return Reminder{}, err
	}
	rem.LastError = lastError.String
	var err error
	if rem.FireAt, err = parseTime(fireAt); err != nil {
		return Reminder{}, fmt.Errorf("parsing fire_at for reminder %s: %w", rem.ID, err)
	}
	if rem.CreatedAt, err = parseTime(createdAt); err != nil {
		return Reminder{}, fmt.Errorf("parsing created_at for reminder %s: %w", rem.ID, err)
	}
	if rem.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Reminder{}, fmt.Errorf("parsing updated_at for reminder %s: %w", rem.ID, err)
	}
	return rem, nil
}

// ListReminders returns all reminders for a source ordered by fire time.
func (s *Store) ListReminders(sourceType, sourceID string) ([]Reminder, error) {
	rows, err := s.db.Query(`SELECT `+reminderColumns+` FROM reminders
		WHERE source_type = ? AND source_id = ? ORDER BY fire_at ASC`, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ClaimDueReminder marks the earliest pending reminder with fire_at <= now as
// running and returns it. It returns nil when nothing is due.
func (s *Store) ClaimDueReminder(now time.Time) (*Reminder, error) {
	nowStr := formatTime(now)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	r, err := scanReminder(tx.QueryRow(`SELECT `+reminderColumns+` FROM reminders
		WHERE status = 'pending' AND fire_at <= ?
		ORDER BY fire_at ASC, created_at ASC
		LIMIT 1`, nowStr))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting due reminder: %w", err)
	}

	res, err := tx.Exec(`UPDATE reminders SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, nowStr, r.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating reminder status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated reminder rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	r.Status = "running"
	r.UpdatedAt = now.UTC()
	return &r, nil
}

func (s *Store) CompleteReminder(id string) error {
	res, err := s.db.Exec(`UPDATE reminders SET status = 'delivered', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// FailReminder records a delivery failure. The reminder is retried with
// exponential backoff until max_attempts is reached.
func (s *Store) FailReminder(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM reminders WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE reminders SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE reminders SET status = 'pending', attempts = ?, last_error = ?, fire_at = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
