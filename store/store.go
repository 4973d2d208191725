package store

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNoRows = errors.New("no rows found")

// Store is an operational journal: connection events and completed
// transfers. No message or payload content ever lands here.
type Store struct {
	conn *sql.DB
}

// TransferRecord describes one completed chunked transfer.
type TransferRecord struct {
	Kind        string    `json:"kind"` // "file" or "audio"
	TransferID  int64     `json:"transferId"`
	Name        string    `json:"name"`
	Chunks      int       `json:"chunks"`
	Bytes       int64     `json:"bytes"`
	Digest      string    `json:"digest"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	CompletedAt time.Time `json:"completedAt"`
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	st := &Store{conn: conn}
	if err := st.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return st, nil
}

func (st *Store) Close() error {
	return st.conn.Close()
}

func (st *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			host TEXT NOT NULL,
			connected_at TEXT NOT NULL,
			disconnected_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			transfer_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			digest TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_username ON connections(username, connected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_completed ON transfers(completed_at)`,
	}

	for _, query := range queries {
		if _, err := st.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// RecordConnect journals a new connection and returns the row id, which the
// session hands back to RecordDisconnect at teardown.
func (st *Store) RecordConnect(username, host string, at time.Time) (int64, error) {
	res, err := st.conn.Exec(
		"INSERT INTO connections (username, host, connected_at) VALUES (?, ?, ?)",
		username, host, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (st *Store) RecordDisconnect(rowID int64, at time.Time) error {
	res, err := st.conn.Exec(
		"UPDATE connections SET disconnected_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), rowID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (st *Store) RecordTransfer(rec TransferRecord) error {
	_, err := st.conn.Exec(
		`INSERT INTO transfers (kind, transfer_id, name, chunks, bytes, digest, sender, recipient, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Kind, rec.TransferID, rec.Name, rec.Chunks, rec.Bytes,
		rec.Digest, rec.Sender, rec.Recipient,
		rec.CompletedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentTransfers returns up to limit completed transfers, newest first.
func (st *Store) RecentTransfers(limit int) ([]TransferRecord, error) {
	rows, err := st.conn.Query(
		`SELECT kind, transfer_id, name, chunks, bytes, digest, sender, recipient, completed_at
		 FROM transfers ORDER BY completed_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		var completedAt string
		err := rows.Scan(&rec.Kind, &rec.TransferID, &rec.Name, &rec.Chunks,
			&rec.Bytes, &rec.Digest, &rec.Sender, &rec.Recipient, &completedAt)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt, _ = time.Parse(time.RFC3339, completedAt)
		records = append(records, rec)
	}

	return records, rows.Err()
}
