package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresEntryTableName     = "opscache_entries"
	postgresPartitionTableName = "opscache_partitions"
	postgresOperationTimeout   = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresStore struct {
	dsn            string
	entryTable     string
	partitionTable string
	openDB         sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:            dsn,
		entryTable:     postgresEntryTableName,
		partitionTable: postgresPartitionTableName,
		openDB:         sql.Open,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, partition, key string) (Entry, error) {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return Entry{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Entry{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE partition = $1 AND entry_key = $2", postgresQuoteIdentifier(s.entryTable))
	var payload string
	err := s.db.QueryRowContext(ctx, query, partition, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) Put(ctx context.Context, partition, key string, entry Entry) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (partition, entry_key, payload, stored_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition, entry_key)
		DO UPDATE SET payload = EXCLUDED.payload, stored_at = EXCLUDED.stored_at`, postgresQuoteIdentifier(s.entryTable))
	_, err = s.db.ExecContext(ctx, query, partition, key, string(payload), entry.StoredAt.UTC())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, partition, key string) error {
	if strings.TrimSpace(partition) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE partition = $1 AND entry_key = $2", postgresQuoteIdentifier(s.entryTable))
	_, err := s.db.ExecContext(ctx, query, partition, key)
	return err
}

func (s *PostgresStore) EnsurePartition(ctx context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO NOTHING`, postgresQuoteIdentifier(s.partitionTable))
	_, err := s.db.ExecContext(ctx, query, partition)
	return err
}

func (s *PostgresStore) DeletePartition(ctx context.Context, partition string) error {
	if strings.TrimSpace(partition) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	deleteEntries := fmt.Sprintf("DELETE FROM %s WHERE partition = $1", postgresQuoteIdentifier(s.entryTable))
	if _, err := s.db.ExecContext(ctx, deleteEntries, partition); err != nil {
		return err
	}
	deleteRegistry := fmt.Sprintf("DELETE FROM %s WHERE name = $1", postgresQuoteIdentifier(s.partitionTable))
	_, err := s.db.ExecContext(ctx, deleteRegistry, partition)
	return err
}

func (s *PostgresStore) ListPartitions(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT name FROM %s
		UNION
		SELECT DISTINCT partition FROM %s
		ORDER BY 1`, postgresQuoteIdentifier(s.partitionTable), postgresQuoteIdentifier(s.entryTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PostgresStore) Keys(ctx context.Context, partition string) ([]string, error) {
	if strings.TrimSpace(partition) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT entry_key FROM %s WHERE partition = $1 ORDER BY entry_key", postgresQuoteIdentifier(s.entryTable))
	rows, err := s.db.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		entryTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				partition TEXT NOT NULL,
				entry_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (partition, entry_key)
			)`, postgresQuoteIdentifier(s.entryTable))
		if _, err := db.ExecContext(ctx, entryTable); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		partitionTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.partitionTable))
		if _, err := db.ExecContext(ctx, partitionTable); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
