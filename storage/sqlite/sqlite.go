// Package sqlite implements storage.Backend over a single SQLite file,
// using the five tables spec.md §6 names: repo_lock, super_block, wals,
// addresses, blocks. modernc.org/sqlite is a pure-Go driver, so this
// backend needs no cgo toolchain.
package sqlite

import (
	"context"
	"database/sql"
	"os"

	_ "modernc.org/sqlite"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS repo_lock (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	holder TEXT NOT NULL,
	locked_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS super_block (
	suffix INTEGER PRIMARY KEY CHECK (suffix IN (0, 1)),
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS wals (
	id BLOB PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS addresses (
	id BLOB PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS blocks (
	idx INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);
`

// Backend is a SQLite-file-backed storage.Backend. The zero value is not
// usable; construct with New.
type Backend struct {
	path string
	db   *sql.DB
}

// New creates a backend over the SQLite file at path. The file need not
// exist yet; Init creates it and the schema.
func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) open() error {
	if b.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return storage.WrapIO("sqlite.open", err)
	}
	// a single file-backed SQLite connection; the repo model is already
	// single-writer, so there is no pooling benefit and WAL-mode readers
	// sharing one *sql.DB avoid SQLITE_BUSY on concurrent access.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return storage.WrapIO("sqlite.open", err)
	}
	b.db = db
	return nil
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	if err := b.open(); err != nil {
		return false, err
	}
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT count(*) FROM super_block`).Scan(&n)
	if err != nil {
		return false, nil // table doesn't exist yet: not a repo
	}
	return n > 0, nil
}

func (b *Backend) Connect(ctx context.Context, force bool) error {
	if err := b.open(); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO("sqlite.Connect", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, `SELECT holder FROM repo_lock WHERE id = 1`).Scan(&holder)
	if err == nil && !force {
		return storage.ErrRepoOpened("sqlite.Connect")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO repo_lock (id, holder, locked_at) VALUES (1, ?, strftime('%s','now'))
		 ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, locked_at = excluded.locked_at`,
		"sealedfs"); err != nil {
		return storage.WrapIO("sqlite.Connect", err)
	}
	return tx.Commit()
}

func (b *Backend) Init(ctx context.Context) error {
	if err := b.open(); err != nil {
		return err
	}
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrRepoExists("sqlite.Init")
	}
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return storage.WrapIO("sqlite.Init", err)
	}
	return b.Connect(ctx, false)
}

func (b *Backend) Open(ctx context.Context, force bool) error {
	return b.Connect(ctx, force)
}

func (b *Backend) GetSuperBlock(ctx context.Context, suffix int) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM super_block WHERE suffix = ?`, suffix).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound("sqlite.GetSuperBlock")
	}
	if err != nil {
		return nil, storage.WrapIO("sqlite.GetSuperBlock", err)
	}
	return data, nil
}

func (b *Backend) PutSuperBlock(ctx context.Context, suffix int, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO super_block (suffix, data) VALUES (?, ?)
		 ON CONFLICT(suffix) DO UPDATE SET data = excluded.data`, suffix, data)
	if err != nil {
		return storage.WrapIO("sqlite.PutSuperBlock", err)
	}
	return nil
}

func (b *Backend) GetWal(ctx context.Context, id eid.ID) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM wals WHERE id = ?`, id[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound("sqlite.GetWal")
	}
	if err != nil {
		return nil, storage.WrapIO("sqlite.GetWal", err)
	}
	return data, nil
}

func (b *Backend) PutWal(ctx context.Context, id eid.ID, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO wals (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, id[:], data)
	if err != nil {
		return storage.WrapIO("sqlite.PutWal", err)
	}
	return nil
}

func (b *Backend) DelWal(ctx context.Context, id eid.ID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM wals WHERE id = ?`, id[:]); err != nil {
		return storage.WrapIO("sqlite.DelWal", err)
	}
	return nil
}

func (b *Backend) GetAddress(ctx context.Context, id eid.ID) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM addresses WHERE id = ?`, id[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound("sqlite.GetAddress")
	}
	if err != nil {
		return nil, storage.WrapIO("sqlite.GetAddress", err)
	}
	return data, nil
}

func (b *Backend) PutAddress(ctx context.Context, id eid.ID, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO addresses (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, id[:], data)
	if err != nil {
		return storage.WrapIO("sqlite.PutAddress", err)
	}
	return nil
}

func (b *Backend) DelAddress(ctx context.Context, id eid.ID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = ?`, id[:]); err != nil {
		return storage.WrapIO("sqlite.DelAddress", err)
	}
	return nil
}

func (b *Backend) GetBlocks(ctx context.Context, dst []byte, span storage.BlockSpan) error {
	if int64(len(dst)) < span.Len() {
		return storage.ErrInvalidURI("sqlite.GetBlocks")
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT idx, data FROM blocks WHERE idx >= ? AND idx < ?`,
		span.Begin, span.Begin+uint64(span.Cnt))
	if err != nil {
		return storage.WrapIO("sqlite.GetBlocks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx uint64
		var data []byte
		if err := rows.Scan(&idx, &data); err != nil {
			return storage.WrapIO("sqlite.GetBlocks", err)
		}
		off := int64(idx-span.Begin) * storage.BlkSize
		copy(dst[off:off+storage.BlkSize], data)
	}
	return rows.Err()
}

func (b *Backend) PutBlocks(ctx context.Context, span storage.BlockSpan, src []byte) error {
	if int64(len(src)) < span.Len() {
		return storage.ErrInvalidURI("sqlite.PutBlocks")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO("sqlite.PutBlocks", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO blocks (idx, data) VALUES (?, ?)
		 ON CONFLICT(idx) DO UPDATE SET data = excluded.data`)
	if err != nil {
		return storage.WrapIO("sqlite.PutBlocks", err)
	}
	defer stmt.Close()
	for i := uint32(0); i < span.Cnt; i++ {
		off := int64(i) * storage.BlkSize
		if _, err := stmt.ExecContext(ctx, span.Begin+uint64(i), src[off:off+storage.BlkSize]); err != nil {
			return storage.WrapIO("sqlite.PutBlocks", err)
		}
	}
	return tx.Commit()
}

func (b *Backend) DelBlocks(ctx context.Context, span storage.BlockSpan) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE idx >= ? AND idx < ?`,
		span.Begin, span.Begin+uint64(span.Cnt))
	if err != nil {
		return storage.WrapIO("sqlite.DelBlocks", err)
	}
	return nil
}

func (b *Backend) Flush(ctx context.Context) error {
	return nil // every write above already commits its own transaction
}

func (b *Backend) Destroy(ctx context.Context) error {
	if err := b.Close(ctx); err != nil {
		return err
	}
	if b.path == ":memory:" {
		return nil
	}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return storage.WrapIO("sqlite.Destroy", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(b.path + suffix)
	}
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	_, _ = b.db.ExecContext(ctx, `DELETE FROM repo_lock WHERE id = 1`)
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return storage.WrapIO("sqlite.Close", err)
	}
	return nil
}

