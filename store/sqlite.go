package store

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		description  TEXT NOT NULL DEFAULT '',
		priority     INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'pending',
		assigned_to  TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		result       TEXT NOT NULL DEFAULT '',
		created_at   DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS agents (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		role         TEXT NOT NULL DEFAULT '',
		capabilities TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'idle',
		current_task TEXT NOT NULL DEFAULT '',
		spawned_at   DATETIME
	);

	CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		type      TEXT NOT NULL,
		task_id   TEXT NOT NULL DEFAULT '',
		agent_id  TEXT NOT NULL DEFAULT '',
		detail    TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schedules (
		name        TEXT PRIMARY KEY,
		cron        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority    INTEGER NOT NULL DEFAULT 0,
		enabled     INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTask upserts a task snapshot.
func (s *SQLiteStore) SaveTask(t TaskRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, description, priority, status, assigned_to, error, result, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   assigned_to = excluded.assigned_to,
		   error = excluded.error,
		   result = excluded.result,
		   completed_at = excluded.completed_at`,
		t.ID, t.Description, t.Priority, t.Status, t.AssignedTo, t.Error, t.Result, t.CreatedAt, t.CompletedAt,
	)
	return err
}

// ListTasks returns all task snapshots, newest first.
func (s *SQLiteStore) ListTasks() ([]TaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, description, priority, status, assigned_to, error, result, created_at, completed_at
		 FROM tasks ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var createdAt, completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Description, &t.Priority, &t.Status, &t.AssignedTo, &t.Error, &t.Result, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			t.CreatedAt = createdAt.Time
		}
		if completedAt.Valid {
			t.CompletedAt = completedAt.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveAgent upserts an agent snapshot.
func (s *SQLiteStore) SaveAgent(a AgentRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO agents (id, name, role, capabilities, status, current_task, spawned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   current_task = excluded.current_task`,
		a.ID, a.Name, a.Role, strings.Join(a.Capabilities, ","), a.Status, a.CurrentTask, a.SpawnedAt,
	)
	return err
}

// ListAgents returns all agent snapshots.
func (s *SQLiteStore) ListAgents() ([]AgentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, name, role, capabilities, status, current_task, spawned_at FROM agents`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		var a AgentRecord
		var caps string
		var spawnedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &caps, &a.Status, &a.CurrentTask, &spawnedAt); err != nil {
			return nil, err
		}
		if caps != "" {
			a.Capabilities = strings.Split(caps, ",")
		}
		if spawnedAt.Valid {
			a.SpawnedAt = spawnedAt.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// InsertEvent appends to the event log.
func (s *SQLiteStore) InsertEvent(e Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (type, task_id, agent_id, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Type, e.TaskID, e.AgentID, e.Detail, e.Timestamp,
	)
	return err
}

// ListEvents returns recent events, newest first.
func (s *SQLiteStore) ListEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, type, task_id, agent_id, detail, timestamp
		 FROM events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.TaskID, &e.AgentID, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertSchedule persists a schedule definition.
func (s *SQLiteStore) UpsertSchedule(sc Schedule) error {
	_, err := s.db.Exec(
		`INSERT INTO schedules (name, cron, description, priority, enabled)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   cron = excluded.cron,
		   description = excluded.description,
		   priority = excluded.priority,
		   enabled = excluded.enabled`,
		sc.Name, sc.Cron, sc.Description, sc.Priority, boolToInt(sc.Enabled),
	)
	return err
}

// DeleteSchedule removes a schedule by name.
func (s *SQLiteStore) DeleteSchedule(name string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE name = ?`, name)
	return err
}

// ListSchedules returns all schedule definitions.
func (s *SQLiteStore) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query(`SELECT name, cron, description, priority, enabled FROM schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var sc Schedule
		var enabled int
		if err := rows.Scan(&sc.Name, &sc.Cron, &sc.Description, &sc.Priority, &enabled); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
