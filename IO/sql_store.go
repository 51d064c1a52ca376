package IO

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const phrasesSchema = `CREATE TABLE IF NOT EXISTS phrases (
	pos    INTEGER PRIMARY KEY,
	length INTEGER NOT NULL,
	tokens BLOB    NOT NULL
)`

// SQLStore serves a token store from an SQLite table. Lengths are loaded
// once at open so length filtering never touches the token blobs.
type SQLStore struct {
	db      *sql.DB
	lengths []int
	slice   *sql.Stmt
}

// OpenSQLStore opens path and loads the length index.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	s := &SQLStore{db: db}
	if err := s.loadLengths(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "load index of %s", path)
	}
	s.slice, err = db.Prepare(`SELECT tokens FROM phrases WHERE pos = ?`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare slice")
	}
	return s, nil
}

func (s *SQLStore) loadLengths() error {
	rows, err := s.db.Query(`SELECT pos, length FROM phrases ORDER BY pos`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var pos, n int
		if err := rows.Scan(&pos, &n); err != nil {
			return err
		}
		if pos != len(s.lengths) {
			return errors.Errorf("positions are not contiguous: expected %d, found %d", len(s.lengths), pos)
		}
		s.lengths = append(s.lengths, n)
	}
	return rows.Err()
}

func (s *SQLStore) Count() int { return len(s.lengths) }

func (s *SQLStore) Length(pos int) (int, error) {
	if pos < 0 || pos >= len(s.lengths) {
		return 0, errors.Errorf("position %d out of range [0,%d)", pos, len(s.lengths))
	}
	return s.lengths[pos], nil
}

func (s *SQLStore) Slice(pos int) ([]int, error) {
	if pos < 0 || pos >= len(s.lengths) {
		return nil, errors.Errorf("position %d out of range [0,%d)", pos, len(s.lengths))
	}
	var blob []byte
	if err := s.slice.QueryRow(pos).Scan(&blob); err != nil {
		return nil, errors.Wrapf(err, "read entry %d", pos)
	}
	return decodeTokens(blob), nil
}

func (s *SQLStore) Close() error {
	if s.slice != nil {
		s.slice.Close()
	}
	return s.db.Close()
}

// SQLWriter fills a phrases table inside a single transaction that is
// committed on Close.
type SQLWriter struct {
	db   *sql.DB
	tx   *sql.Tx
	ins  *sql.Stmt
	next int
}

// NewSQLWriter creates (or truncates) the phrases table at path.
func NewSQLWriter(path string) (*SQLWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	for _, q := range []string{phrasesSchema, `DELETE FROM phrases`} {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "prepare phrases table")
		}
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, err
	}
	ins, err := tx.Prepare(`INSERT INTO phrases (pos, length, tokens) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, err
	}
	return &SQLWriter{db: db, tx: tx, ins: ins}, nil
}

func (w *SQLWriter) Write(ids []int) error {
	if _, err := w.ins.Exec(w.next, len(ids), encodeTokens(ids)); err != nil {
		return errors.Wrapf(err, "insert entry %d", w.next)
	}
	w.next++
	return nil
}

func (w *SQLWriter) Close() error {
	w.ins.Close()
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return errors.Wrap(err, "commit phrases")
	}
	return w.db.Close()
}
