// Package bdkeeper owns the local SQLite store: the business entity tables,
// the durable sync queue, persisted settings, and payloads awaiting
// redelivery.
package bdkeeper

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/sellpoint/sellpoint-client/pkg/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// entityTables whitelists the table names the keeper accepts for record
// operations. Everything else is rejected before any SQL is built.
var entityTables = map[string]struct{}{
	models.TableProducts:   {},
	models.TableSales:      {},
	models.TableCustomers:  {},
	models.TableCategories: {},
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Keeper wraps the SQLite database.
type Keeper struct {
	db *sql.DB
}

// NewKeeper creates a Keeper on an already opened and migrated database.
func NewKeeper(db *sql.DB) *Keeper {
	return &Keeper{db: db}
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Keeper, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection serializes
	// writers instead of surfacing SQLITE_BUSY, and keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewKeeper(db), nil
}

// Close closes the underlying database.
func (k *Keeper) Close() error {
	return k.db.Close()
}

// dbtx is the query surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

// InTransaction runs fn with every keeper call made through the derived
// context joined into one transaction: all of them commit or roll back
// together. A nested call joins the enclosing transaction.
func (k *Keeper) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (k *Keeper) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return k.db
}

func validTable(table string) error {
	if _, ok := entityTables[table]; !ok {
		return fmt.Errorf("unknown entity table %q", table)
	}
	return nil
}

func validColumns(data map[string]string) error {
	for col := range data {
		if !columnName.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
	}
	return nil
}

// CreateRecord inserts a record into an entity table. An existing record
// with the same id is replaced; remote retries are idempotent by id.
func (k *Keeper) CreateRecord(ctx context.Context, table string, data map[string]string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if err := validColumns(data); err != nil {
		return err
	}
	if data["id"] == "" {
		return fmt.Errorf("record for %s has no id", table)
	}

	keys := make([]string, 0, len(data))
	values := make([]interface{}, 0, len(data))
	for key, value := range data {
		keys = append(keys, key)
		values = append(values, value)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s(%s) VALUES(%s)",
		table, strings.Join(keys, ","), strings.Repeat("?,", len(keys)-1)+"?")
	_, err := k.conn(ctx).ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// UpdateRecord updates the record with the given id. Only the provided
// columns change.
func (k *Keeper) UpdateRecord(ctx context.Context, table string, id string, data map[string]string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if err := validColumns(data); err != nil {
		return err
	}

	keys := make([]string, 0, len(data))
	values := make([]interface{}, 0, len(data))
	for key, value := range data {
		if key == "id" {
			continue
		}
		keys = append(keys, key+" = ?")
		values = append(values, value)
	}
	if len(keys) == 0 {
		return nil
	}
	values = append(values, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(keys, ","))
	_, err := k.conn(ctx).ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// DeleteRecord removes the record with the given id. Deleting a missing
// record is a no-op so remote retries stay idempotent.
func (k *Keeper) DeleteRecord(ctx context.Context, table string, id string) error {
	if err := validTable(table); err != nil {
		return err
	}
	_, err := k.conn(ctx).ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// GetRecord returns the record with the given id, or sql.ErrNoRows.
func (k *Keeper) GetRecord(ctx context.Context, table string, id string) (map[string]string, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	rows, err := k.conn(ctx).QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	return records[0], nil
}

// AllRecords returns every record of an entity table.
func (k *Keeper) AllRecords(ctx context.Context, table string) ([]map[string]string, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	rows, err := k.conn(ctx).QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecords returns the number of rows in an entity table.
func (k *Keeper) CountRecords(ctx context.Context, table string) (int, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}
	var n int
	err := k.conn(ctx).QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

func scanRecords(rows *sql.Rows) ([]map[string]string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var data []map[string]string
	for rows.Next() {
		values := make([]interface{}, len(columns))
		for i := range values {
			values[i] = new(sql.NullString)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]string, len(columns))
		for i, column := range columns {
			row[column] = values[i].(*sql.NullString).String
		}
		data = append(data, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows encountered an error: %w", err)
	}
	return data, nil
}

// AppendSyncOperation persists one operation at the tail of the sync queue.
func (k *Keeper) AppendSyncOperation(ctx context.Context, op models.SyncOperation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = k.conn(ctx).ExecContext(ctx,
		`INSERT INTO sync_queue (sync_id, table_name, operation, payload, origin_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Table, string(op.Kind), string(payload), op.OriginID,
		op.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append sync operation: %w", err)
	}
	return nil
}

// PendingSyncOperations returns undelivered, non-dead operations in
// insertion order.
func (k *Keeper) PendingSyncOperations(ctx context.Context) ([]models.SyncOperation, error) {
	rows, err := k.conn(ctx).QueryContext(ctx,
		`SELECT sync_id, table_name, operation, payload, origin_id, created_at, attempts
		 FROM sync_queue WHERE delivered = 0 AND dead = 0 ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load pending operations: %w", err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		var op models.SyncOperation
		var kind, payload, createdAt string
		if err := rows.Scan(&op.ID, &op.Table, &kind, &payload, &op.OriginID, &createdAt, &op.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		op.Kind = models.OpKind(kind)
		if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", op.ID, err)
		}
		if op.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkDelivered flips an operation to delivered. The transition happens at
// most once; a second call is a no-op.
func (k *Keeper) MarkDelivered(ctx context.Context, syncID string) error {
	_, err := k.conn(ctx).ExecContext(ctx,
		"UPDATE sync_queue SET delivered = 1 WHERE sync_id = ? AND delivered = 0", syncID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// RecordRejection increments the permanent-rejection counter of an
// operation and dead-letters it once maxRejections is reached.
func (k *Keeper) RecordRejection(ctx context.Context, syncID string, maxRejections int) error {
	_, err := k.conn(ctx).ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1,
		 dead = CASE WHEN attempts + 1 >= ? THEN 1 ELSE dead END
		 WHERE sync_id = ?`, maxRejections, syncID)
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// CompactQueue drops delivered entries.
func (k *Keeper) CompactQueue(ctx context.Context) error {
	_, err := k.conn(ctx).ExecContext(ctx, "DELETE FROM sync_queue WHERE delivered = 1")
	if err != nil {
		return fmt.Errorf("compact queue: %w", err)
	}
	return nil
}

// QueueCounts returns the number of pending and dead operations.
func (k *Keeper) QueueCounts(ctx context.Context) (pending int, dead int, err error) {
	err = k.conn(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE delivered = 0 AND dead = 0").Scan(&pending)
	if err != nil {
		return 0, 0, err
	}
	err = k.conn(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE dead = 1").Scan(&dead)
	return pending, dead, err
}

// MergeSettings upserts the provided keys into the persisted settings.
// Unspecified keys are left untouched.
func (k *Keeper) MergeSettings(ctx context.Context, settings map[string]string) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range settings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return fmt.Errorf("merge setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Settings returns all persisted settings.
func (k *Keeper) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := k.conn(ctx).QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SavePendingPayload stores a payload (backup, ticket) that could not be
// delivered, for a later retry.
func (k *Keeper) SavePendingPayload(ctx context.Context, kind string, body []byte) error {
	_, err := k.conn(ctx).ExecContext(ctx,
		"INSERT INTO pending_payloads (kind, body, created_at) VALUES (?, ?, ?)",
		kind, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save pending payload: %w", err)
	}
	return nil
}

// PendingPayload is a stored payload awaiting redelivery.
type PendingPayload struct {
	ID   int64
	Kind string
	Body []byte
}

// PendingPayloads returns stored payloads of the given kind in insertion order.
func (k *Keeper) PendingPayloads(ctx context.Context, kind string) ([]PendingPayload, error) {
	rows, err := k.conn(ctx).QueryContext(ctx,
		"SELECT id, kind, body FROM pending_payloads WHERE kind = ? ORDER BY id", kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payloads []PendingPayload
	for rows.Next() {
		var p PendingPayload
		var body string
		if err := rows.Scan(&p.ID, &p.Kind, &body); err != nil {
			return nil, err
		}
		p.Body = []byte(body)
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

// DeletePendingPayload removes a payload once it has been delivered.
func (k *Keeper) DeletePendingPayload(ctx context.Context, id int64) error {
	_, err := k.conn(ctx).ExecContext(ctx, "DELETE FROM pending_payloads WHERE id = ?", id)
	return err
}

// ResetAll clears every entity table and all persisted settings. The sync
// queue is left alone: operations already queued before the reset still
// belong to the server.
func (k *Keeper) ResetAll(ctx context.Context) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for table := range entityTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return tx.Commit()
}

// SeedDefaults inserts the default category and settings a fresh terminal
// starts with. Existing rows are not overwritten.
func (k *Keeper) SeedDefaults(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := k.conn(ctx).ExecContext(ctx,
		"INSERT OR IGNORE INTO categories (id, name, updated_at) VALUES (?, ?, ?)",
		"default", "Uncategorized", now)
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	_, err = k.conn(ctx).ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES
		 ('currency', 'USD'), ('receipt_footer', 'Thank you!')`)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// IsEmpty reports whether no entity table has any rows.
func (k *Keeper) IsEmpty(ctx context.Context) (bool, error) {
	for table := range entityTables {
		n, err := k.CountRecords(ctx, table)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}
