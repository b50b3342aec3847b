package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLitePageStore persists fixed-size pages as rows of a single SQLite
// table, standing in for the host buffer manager's relation file (spec.md
// §6 "On-disk layout"). This is the teacher repository's own go.mod
// dependency (github.com/mattn/go-sqlite3), previously declared but unused.
type SQLitePageStore struct {
	db   *sql.DB
	rel  string
	size uint64 // cached page count, refreshed from COUNT(*) on open
}

// OpenSQLitePageStore opens (or creates) a relation's page table at path.
// relation names the logical relation, allowing one SQLite file to back
// several indexes via distinct tables.
func OpenSQLitePageStore(path, relation string) (*SQLitePageStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite page store: %w", err)
	}
	table := pageTableName(relation)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		blockno INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create page table: %w", err)
	}

	s := &SQLitePageStore{db: db, rel: relation}
	var count sql.NullInt64
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: count pages: %w", err)
	}
	s.size = uint64(count.Int64)
	return s, nil
}

func pageTableName(relation string) string {
	return fmt.Sprintf("annidx_pages_%s", relation)
}

func (s *SQLitePageStore) table() string { return pageTableName(s.rel) }

func (s *SQLitePageStore) Allocate() (uint64, error) {
	blockno := s.size
	empty := NewPage(PageTypeMeta).Encode()
	q := fmt.Sprintf("INSERT INTO %s (blockno, data) VALUES (?, ?)", s.table())
	if _, err := s.db.Exec(q, blockno, empty); err != nil {
		return 0, fmt.Errorf("storage: allocate page %d: %w", blockno, err)
	}
	s.size++
	return blockno, nil
}

func (s *SQLitePageStore) Read(blockno uint64) (*Page, error) {
	q := fmt.Sprintf("SELECT data FROM %s WHERE blockno = ?", s.table())
	var raw []byte
	if err := s.db.QueryRow(q, blockno).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: block %d not found", blockno)
		}
		return nil, fmt.Errorf("storage: read block %d: %w", blockno, err)
	}
	return DecodePage(raw)
}

func (s *SQLitePageStore) Write(blockno uint64, page *Page) error {
	q := fmt.Sprintf("UPDATE %s SET data = ? WHERE blockno = ?", s.table())
	res, err := s.db.Exec(q, page.Encode(), blockno)
	if err != nil {
		return fmt.Errorf("storage: write block %d: %w", blockno, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: write block %d: %w", blockno, err)
	}
	if affected == 0 {
		return fmt.Errorf("storage: block %d does not exist", blockno)
	}
	return nil
}

func (s *SQLitePageStore) NumPages() (uint64, error) { return s.size, nil }

func (s *SQLitePageStore) Close() error { return s.db.Close() }
