// Package catalog is the SQLite-backed file catalog: stored files, sessions
// and the ordered attachments linking them.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrSessionNotFound = errors.New("session not found")
)

// File is one stored file.
type File struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Filename    string         `json:"filename"`
	Path        string         `json:"-"`
	ContentType string         `json:"content_type,omitempty"`
	Size        int64          `json:"size"`
	Checksum    string         `json:"checksum,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment is a file attached to a session at a position.
type Attachment struct {
	SessionID string
	FileID    string
	MessageID string
	Position  int
	// File is nil when the attachment points at a file that no longer exists.
	File *File
}

// Catalog reads and writes catalog rows.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// CreateSession records a session. Creating an existing session is a no-op.
func (c *Catalog) CreateSession(ctx context.Context, id, userID string) error {
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO sessions(id, user_id, created_at)
VALUES(?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, id, nullable(userID), c.stamp())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionExists reports whether id is a known session.
func (c *Catalog) SessionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return true, nil
}

// AddFile inserts f, assigning an id and creation time when unset.
func (c *Catalog) AddFile(ctx context.Context, f File) (File, error) {
	if f.Filename == "" {
		return File{}, fmt.Errorf("filename is empty")
	}
	if f.Path == "" {
		return File{}, fmt.Errorf("file path is empty")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = c.now().UTC()
	}
	if f.Meta == nil {
		f.Meta = map[string]any{}
	}
	meta, err := json.Marshal(f.Meta)
	if err != nil {
		return File{}, fmt.Errorf("encode file meta: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
INSERT INTO files(id, user_id, filename, path, content_type, size, checksum, meta, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, f.ID, nullable(f.UserID), f.Filename, f.Path, nullable(f.ContentType), f.Size, nullable(f.Checksum),
		string(meta), f.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return f, nil
}

// GetFile returns the file with id or ErrFileNotFound.
func (c *Catalog) GetFile(ctx context.Context, id string) (*File, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, user_id, filename, path, content_type, size, checksum, meta, created_at
FROM files
WHERE id = ?;
`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// Attach appends fileID to the session's attachments, creating the session
// if needed.
func (c *Catalog) Attach(ctx context.Context, sessionID, fileID, messageID string) error {
	if _, err := c.GetFile(ctx, fileID); err != nil {
		return err
	}
	if err := c.CreateSession(ctx, sessionID, ""); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO session_files(session_id, file_id, message_id, position, created_at)
VALUES(?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM session_files WHERE session_id = ?), ?);
`, sessionID, fileID, nullable(messageID), sessionID, c.stamp())
	if err != nil {
		return fmt.Errorf("attach file: %w", err)
	}
	return nil
}

// ListAttachments returns the session's attachments in attach order.
func (c *Catalog) ListAttachments(ctx context.Context, sessionID string) ([]Attachment, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT sf.session_id, sf.file_id, sf.message_id, sf.position,
       f.id, f.user_id, f.filename, f.path, f.content_type, f.size, f.checksum, f.meta, f.created_at
FROM session_files sf
LEFT JOIN files f ON f.id = sf.file_id
WHERE sf.session_id = ?
ORDER BY sf.position ASC, sf.rowid ASC;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var (
			a         Attachment
			messageID sql.NullString
			fr        fileRow
		)
		if err := rows.Scan(
			&a.SessionID, &a.FileID, &messageID, &a.Position,
			&fr.id, &fr.userID, &fr.filename, &fr.path, &fr.contentType, &fr.size, &fr.checksum, &fr.meta, &fr.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.MessageID = messageID.String
		if fr.id.Valid {
			a.File = fr.file()
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return out, nil
}

// ListFiles returns files newest first, optionally for one user.
func (c *Catalog) ListFiles(ctx context.Context, userID string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT id, user_id, filename, path, content_type, size, checksum, meta, created_at
FROM files
WHERE (? = '' OR user_id = ?)
ORDER BY created_at DESC
LIMIT ?;
`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (c *Catalog) stamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}

type fileRow struct {
	id          sql.NullString
	userID      sql.NullString
	filename    sql.NullString
	path        sql.NullString
	contentType sql.NullString
	size        sql.NullInt64
	checksum    sql.NullString
	meta        sql.NullString
	createdAt   sql.NullString
}

func (r fileRow) file() *File {
	f := &File{
		ID:          r.id.String,
		UserID:      r.userID.String,
		Filename:    r.filename.String,
		Path:        r.path.String,
		ContentType: r.contentType.String,
		Size:        r.size.Int64,
		Checksum:    r.checksum.String,
	}
	if r.meta.Valid && r.meta.String != "" {
		_ = json.Unmarshal([]byte(r.meta.String), &f.Meta)
	}
	if t, err := time.Parse(time.RFC3339Nano, r.createdAt.String); err == nil {
		f.CreatedAt = t
	}
	return f
}

func scanFile(s scanner) (*File, error) {
	var r fileRow
	if err := s.Scan(&r.id, &r.userID, &r.filename, &r.path, &r.contentType, &r.size, &r.checksum, &r.meta, &r.createdAt); err != nil {
		return nil, err
	}
	return r.file(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
