package persist

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agentbus/pkg/models"
	"agentbus/pkg/rooms"
)

// DB is the embedded relational mirror of room state. Writes are
// best-effort: the engine logs and swallows failures, so the in-memory
// room stays authoritative for a request even when a durable write
// fails.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and initializes the
// schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	d := &DB{db: db}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS members (
			room_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			role TEXT NOT NULL,
			vote_weight REAL NOT NULL DEFAULT 1.0,
			active INTEGER NOT NULL DEFAULT 1,
			joined_at TEXT NOT NULL,
			contributions INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(room_id, client_id)
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY(room_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			msg_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			reply_to TEXT NOT NULL DEFAULT '',
			msg_type TEXT NOT NULL DEFAULT 'message',
			mentions TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, channel);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			decision_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			text TEXT NOT NULL,
			proposed_by TEXT NOT NULL,
			proposed_at TEXT NOT NULL,
			vote_type TEXT NOT NULL,
			required_votes INTEGER NOT NULL DEFAULT 0,
			approved INTEGER NOT NULL DEFAULT 0,
			vetoed INTEGER NOT NULL DEFAULT 0,
			alternatives TEXT NOT NULL DEFAULT '[]',
			amendments TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			voter TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_votes_decision ON votes(decision_id);`,
		`CREATE TABLE IF NOT EXISTS files (
			file_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT 'main',
			data BLOB NOT NULL DEFAULT x'',
			PRIMARY KEY(room_id, file_id)
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL,
			claimed_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			deadline TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS code_executions (
			exec_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

const tsLayout = time.RFC3339Nano

// SaveRoom upserts a room row.
func (d *DB) SaveRoom(r models.Room) error {
	_, err := d.db.Exec(`INSERT INTO rooms(room_id, topic, created_at, active) VALUES(?,?,?,?)
		ON CONFLICT(room_id) DO UPDATE SET topic=excluded.topic, active=excluded.active`,
		r.ID, r.Topic, r.CreatedAt.Format(tsLayout), boolInt(r.Active))
	return err
}

// SaveMember upserts a member row.
func (d *DB) SaveMember(roomID string, m models.Member) error {
	_, err := d.db.Exec(`INSERT INTO members(room_id, client_id, role, vote_weight, active, joined_at, contributions)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(room_id, client_id) DO UPDATE SET
			role=excluded.role, vote_weight=excluded.vote_weight,
			active=excluded.active, contributions=excluded.contributions`,
		roomID, m.ClientID, string(m.Role), m.VoteWeight, boolInt(m.Active),
		m.JoinedAt.Format(tsLayout), m.Contributions)
	return err
}

// SaveChannel upserts a channel row.
func (d *DB) SaveChannel(roomID string, c models.Channel) error {
	_, err := d.db.Exec(`INSERT INTO channels(room_id, name, channel_id, topic, created_at) VALUES(?,?,?,?,?)
		ON CONFLICT(room_id, name) DO UPDATE SET topic=excluded.topic`,
		roomID, c.Name, c.ID, c.Topic, c.CreatedAt.Format(tsLayout))
	return err
}

// SaveMessage inserts a message row.
func (d *DB) SaveMessage(roomID string, m models.RoomMessage) error {
	mentions, _ := json.Marshal(m.Mentions)
	_, err := d.db.Exec(`INSERT OR REPLACE INTO messages(msg_id, room_id, channel, sender, text, reply_to, msg_type, mentions, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		m.ID, roomID, m.Channel, m.From, m.Text, m.ReplyTo, m.Type, string(mentions),
		m.Timestamp.Format(tsLayout))
	return err
}

// SaveDecision upserts a decision row; vote events live in the votes
// table.
func (d *DB) SaveDecision(roomID string, dec models.Decision) error {
	alts, _ := json.Marshal(dec.Alternatives)
	amds, _ := json.Marshal(dec.Amendments)
	_, err := d.db.Exec(`INSERT INTO decisions(decision_id, room_id, text, proposed_by, proposed_at, vote_type, required_votes, approved, vetoed, alternatives, amendments)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(decision_id) DO UPDATE SET
			text=excluded.text, approved=excluded.approved, vetoed=excluded.vetoed,
			alternatives=excluded.alternatives, amendments=excluded.amendments`,
		dec.ID, roomID, dec.Text, dec.ProposedBy, dec.ProposedAt.Format(tsLayout),
		string(dec.VoteType), dec.RequiredVotes, boolInt(dec.Approved), boolInt(dec.Vetoed),
		string(alts), string(amds))
	return err
}

// SaveVote appends a vote event.
func (d *DB) SaveVote(roomID, decisionID, voter, kind string) error {
	_, err := d.db.Exec(`INSERT INTO votes(room_id, decision_id, voter, kind, created_at) VALUES(?,?,?,?,?)`,
		roomID, decisionID, voter, kind, time.Now().UTC().Format(tsLayout))
	return err
}

// SaveFile upserts a file row including the content blob.
func (d *DB) SaveFile(roomID string, f models.SharedFile) error {
	_, err := d.db.Exec(`INSERT OR REPLACE INTO files(file_id, room_id, name, uploaded_by, uploaded_at, size, content_type, channel, data)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		f.ID, roomID, f.Name, f.UploadedBy, f.UploadedAt.Format(tsLayout), f.Size, f.ContentType, f.Channel, f.Data)
	return err
}

// DeleteFile removes an evicted file row.
func (d *DB) DeleteFile(roomID, fileID string) error {
	_, err := d.db.Exec(`DELETE FROM files WHERE room_id=? AND file_id=?`, roomID, fileID)
	return err
}

// SaveTask upserts a task row.
func (d *DB) SaveTask(t models.Task) error {
	completed := ""
	if !t.CompletedAt.IsZero() {
		completed = t.CompletedAt.Format(tsLayout)
	}
	_, err := d.db.Exec(`INSERT OR REPLACE INTO tasks(task_id, room_id, sender, text, status, claimed_by, created_at, deadline, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RoomID, t.From, t.Text, t.Status, t.ClaimedBy,
		t.CreatedAt.Format(tsLayout), t.Deadline.Format(tsLayout), completed)
	return err
}

// SaveCodeExecution records a delegated execution request.
func (d *DB) SaveCodeExecution(execID, roomID, requestedBy, language, code, status string) error {
	_, err := d.db.Exec(`INSERT OR REPLACE INTO code_executions(exec_id, room_id, requested_by, language, code, status, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		execID, roomID, requestedBy, language, code, status, time.Now().UTC().Format(tsLayout))
	return err
}

// LoadRoom rebuilds a room's state from the durable schema.
func (d *DB) LoadRoom(roomID string) (rooms.State, error) {
	var st rooms.State

	row := d.db.QueryRow(`SELECT room_id, topic, created_at, active FROM rooms WHERE room_id=?`, roomID)
	var created string
	var active int
	if err := row.Scan(&st.Room.ID, &st.Room.Topic, &created, &active); err != nil {
		if err == sql.ErrNoRows {
			return st, models.ErrNotFound
		}
		return st, err
	}
	st.Room.CreatedAt = parseTS(created)
	st.Room.Active = active != 0

	rows, err := d.db.Query(`SELECT client_id, role, vote_weight, active, joined_at, contributions FROM members WHERE room_id=?`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var m models.Member
		var joined string
		var act int
		var role string
		if err := rows.Scan(&m.ClientID, &role, &m.VoteWeight, &act, &joined, &m.Contributions); err != nil {
			rows.Close()
			return st, err
		}
		m.Role = models.MemberRole(role)
		m.Active = act != 0
		m.JoinedAt = parseTS(joined)
		st.Members = append(st.Members, m)
	}
	rows.Close()

	rows, err = d.db.Query(`SELECT channel_id, name, topic, created_at FROM channels WHERE room_id=?`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var c models.Channel
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &c.Topic, &created); err != nil {
			rows.Close()
			return st, err
		}
		c.CreatedAt = parseTS(created)
		st.Channels = append(st.Channels, c)
	}
	rows.Close()

	rows, err = d.db.Query(`SELECT msg_id, channel, sender, text, reply_to, msg_type, mentions, created_at
		FROM messages WHERE room_id=? ORDER BY created_at, msg_id`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var m models.RoomMessage
		var mentions, created string
		if err := rows.Scan(&m.ID, &m.Channel, &m.From, &m.Text, &m.ReplyTo, &m.Type, &mentions, &created); err != nil {
			rows.Close()
			return st, err
		}
		_ = json.Unmarshal([]byte(mentions), &m.Mentions)
		m.Timestamp = parseTS(created)
		st.Messages = append(st.Messages, m)
	}
	rows.Close()

	rows, err = d.db.Query(`SELECT decision_id, text, proposed_by, proposed_at, vote_type, required_votes, approved, vetoed, alternatives, amendments
		FROM decisions WHERE room_id=?`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var dec models.Decision
		var proposed, voteType, alts, amds string
		var approved, vetoed int
		if err := rows.Scan(&dec.ID, &dec.Text, &dec.ProposedBy, &proposed, &voteType,
			&dec.RequiredVotes, &approved, &vetoed, &alts, &amds); err != nil {
			rows.Close()
			return st, err
		}
		dec.ProposedAt = parseTS(proposed)
		dec.VoteType = models.VoteType(voteType)
		dec.Approved = approved != 0
		dec.Vetoed = vetoed != 0
		_ = json.Unmarshal([]byte(alts), &dec.Alternatives)
		_ = json.Unmarshal([]byte(amds), &dec.Amendments)
		st.Decisions = append(st.Decisions, dec)
	}
	rows.Close()

	rows, err = d.db.Query(`SELECT decision_id, voter, kind FROM votes WHERE room_id=? ORDER BY id`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var v rooms.VoteRecord
		if err := rows.Scan(&v.DecisionID, &v.Voter, &v.Kind); err != nil {
			rows.Close()
			return st, err
		}
		st.Votes = append(st.Votes, v)
	}
	rows.Close()

	rows, err = d.db.Query(`SELECT file_id, name, uploaded_by, uploaded_at, size, content_type, channel, data
		FROM files WHERE room_id=? ORDER BY uploaded_at`, roomID)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var f models.SharedFile
		var uploaded string
		if err := rows.Scan(&f.ID, &f.Name, &f.UploadedBy, &uploaded, &f.Size, &f.ContentType, &f.Channel, &f.Data); err != nil {
			rows.Close()
			return st, err
		}
		f.UploadedAt = parseTS(uploaded)
		st.Files = append(st.Files, f)
	}
	rows.Close()

	return st, nil
}

// RoomIDs lists every persisted room id.
func (d *DB) RoomIDs() ([]string, error) {
	rows, err := d.db.Query(`SELECT room_id FROM rooms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
