/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements economy.Store and economy.AtomicStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

WHOLE-RECORD PERSISTENCE:
  Aggregates (a handle's ledger, an order, a shop) are stored as single
  JSON documents keyed by their identifier. The engine reads a record,
  mutates it under the matching lock, and writes it back whole. Columns
  exist only for keys the engine queries by.

KEY TABLES:
  ledgers:          One row per handle (owner, balance, entry trail)
  transactions:     Committed and failed transfers, indexed by undo-hook msg ids
  active_orders:    At most one row per (shop, slot)
  locked_orders:    Keyed by (shop, order id)
  delivered_orders: Append-only archive
  msg_mappings:     Outward board message -> order reverse index
  shops:            Shop configuration
  order_seqs:       Per-shop monotonic order counters
  delivery_slots:   Explicit buyer -> slot assignments

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/economy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - economy/store.go: Interface definitions
  - economy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/economy-engine/economy"
)

// Store implements economy.AtomicStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Handle ledgers (whole record per handle)
	CREATE TABLE IF NOT EXISTS ledgers (
		handle TEXT PRIMARY KEY,
		record_json TEXT NOT NULL
	);

	-- Transfer outcomes, indexed by their undo-hook message ids so a
	-- reaction on either party's notification resolves back here
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		payer_msg TEXT,
		recip_msg TEXT,
		record_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_payer_msg
		ON transactions(payer_msg) WHERE payer_msg != '';
	CREATE INDEX IF NOT EXISTS idx_transactions_recip_msg
		ON transactions(recip_msg) WHERE recip_msg != '';

	-- CRITICAL: the primary key enforces at most one active order per
	-- (shop, slot); a second insert for the same slot is a bug upstream
	CREATE TABLE IF NOT EXISTS active_orders (
		shop TEXT NOT NULL,
		slot TEXT NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (shop, slot)
	);

	CREATE TABLE IF NOT EXISTS locked_orders (
		shop TEXT NOT NULL,
		order_id TEXT NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (shop, order_id)
	);

	-- Append-only delivery archive
	CREATE TABLE IF NOT EXISTS delivered_orders (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		shop TEXT NOT NULL,
		record_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_delivered_orders_shop
		ON delivered_orders(shop);

	-- Outward board message -> order reverse index
	CREATE TABLE IF NOT EXISTS msg_mappings (
		msg TEXT PRIMARY KEY,
		record_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shops (
		id TEXT PRIMARY KEY,
		record_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_seqs (
		shop TEXT PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS delivery_slots (
		shop TEXT NOT NULL,
		buyer TEXT NOT NULL,
		slot TEXT NOT NULL,
		PRIMARY KEY (shop, buyer)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer abstracts *sql.DB and *sql.Tx so every operation can run either
// standalone or inside WithAtomic.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) GetLedger(ctx context.Context, h economy.HandleID) (*economy.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLedger(ctx, s.db, h)
}

func (s *Store) PutLedger(ctx context.Context, h economy.HandleID, rec economy.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putLedger(ctx, s.db, h, rec)
}

func (s *Store) DeleteLedger(ctx context.Context, h economy.HandleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM ledgers WHERE handle = ?", h)
	return err
}

func getLedger(ctx context.Context, q queryer, h economy.HandleID) (*economy.LedgerRecord, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT record_json FROM ledgers WHERE handle = ?", h).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger %s: %w", h, err)
	}

	var rec economy.LedgerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", h, err)
	}
	return &rec, nil
}

func putLedger(ctx context.Context, q queryer, h economy.HandleID, rec economy.LedgerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ledger %s: %w", h, err)
	}

	query := `
		INSERT INTO ledgers (handle, record_json) VALUES (?, ?)
		ON CONFLICT(handle) DO UPDATE SET record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, h, string(raw))
	return err
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) PutTransaction(ctx context.Context, tx economy.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putTransaction(ctx, s.db, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id economy.TransactionID) (*economy.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransaction(ctx, s.db, "SELECT record_json FROM transactions WHERE id = ?", id)
}

func (s *Store) GetTransactionByMsg(ctx context.Context, msg economy.MsgID) (*economy.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransaction(ctx, s.db,
		"SELECT record_json FROM transactions WHERE payer_msg = ? OR recip_msg = ? LIMIT 1", msg, msg)
}

func putTransaction(ctx context.Context, q queryer, tx economy.Transaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
	}

	query := `
		INSERT INTO transactions (id, payer_msg, recip_msg, record_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payer_msg = excluded.payer_msg,
			recip_msg = excluded.recip_msg,
			record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, tx.ID, tx.PayerMsgID, tx.RecipMsgID, string(raw))
	return err
}

func queryTransaction(ctx context.Context, q queryer, query string, args ...any) (*economy.Transaction, error) {
	var raw string
	err := q.QueryRowContext(ctx, query, args...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	var tx economy.Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

// =============================================================================
// ORDER STORE
// =============================================================================

func (s *Store) GetActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOrder(ctx, s.db,
		"SELECT record_json FROM active_orders WHERE shop = ? AND slot = ?", shop, slot)
}

func (s *Store) PutActiveOrder(ctx context.Context, o economy.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putActiveOrder(ctx, s.db, o)
}

func (s *Store) DeleteActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM active_orders WHERE shop = ? AND slot = ?", shop, slot)
	return err
}

func (s *Store) ListActiveOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrders(ctx, s.db, "active_orders", shop)
}

func (s *Store) GetLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOrder(ctx, s.db,
		"SELECT record_json FROM locked_orders WHERE shop = ? AND order_id = ?", shop, id)
}

func (s *Store) PutLockedOrder(ctx context.Context, o economy.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putLockedOrder(ctx, s.db, o)
}

func (s *Store) DeleteLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM locked_orders WHERE shop = ? AND order_id = ?", shop, id)
	return err
}

func (s *Store) ListLockedOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrders(ctx, s.db, "locked_orders", shop)
}

func (s *Store) AppendDeliveredOrder(ctx context.Context, o economy.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendDeliveredOrder(ctx, s.db, o)
}

func (s *Store) ListDeliveredOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT record_json FROM delivered_orders WHERE shop = ? ORDER BY seq ASC", shop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func putActiveOrder(ctx context.Context, q queryer, o economy.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", o.ID, err)
	}

	query := `
		INSERT INTO active_orders (shop, slot, record_json) VALUES (?, ?, ?)
		ON CONFLICT(shop, slot) DO UPDATE SET record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, o.ShopID, o.Slot, string(raw))
	return err
}

func putLockedOrder(ctx context.Context, q queryer, o economy.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", o.ID, err)
	}

	query := `
		INSERT INTO locked_orders (shop, order_id, record_json) VALUES (?, ?, ?)
		ON CONFLICT(shop, order_id) DO UPDATE SET record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, o.ShopID, o.ID, string(raw))
	return err
}

func appendDeliveredOrder(ctx context.Context, q queryer, o economy.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", o.ID, err)
	}

	_, err = q.ExecContext(ctx,
		"INSERT INTO delivered_orders (shop, record_json) VALUES (?, ?)", o.ShopID, string(raw))
	return err
}

func queryOrder(ctx context.Context, q queryer, query string, args ...any) (*economy.Order, error) {
	var raw string
	err := q.QueryRowContext(ctx, query, args...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	var o economy.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &o, nil
}

func listOrders(ctx context.Context, q queryer, table string, shop economy.ShopID) ([]economy.Order, error) {
	query := "SELECT record_json FROM " + table
	var args []any
	if shop != "" {
		query += " WHERE shop = ?"
		args = append(args, shop)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]economy.Order, error) {
	var orders []economy.Order
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o economy.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) GetMsgMapping(ctx context.Context, msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT record_json FROM msg_mappings WHERE msg = ?", msg).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load msg mapping %s: %w", msg, err)
	}

	var mp economy.MsgOrderMapping
	if err := json.Unmarshal([]byte(raw), &mp); err != nil {
		return nil, fmt.Errorf("failed to decode msg mapping %s: %w", msg, err)
	}
	return &mp, nil
}

func (s *Store) PutMsgMapping(ctx context.Context, mp economy.MsgOrderMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putMsgMapping(ctx, s.db, mp)
}

func (s *Store) DeleteMsgMapping(ctx context.Context, msg economy.MsgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM msg_mappings WHERE msg = ?", msg)
	return err
}

func putMsgMapping(ctx context.Context, q queryer, mp economy.MsgOrderMapping) error {
	raw, err := json.Marshal(mp)
	if err != nil {
		return fmt.Errorf("failed to encode msg mapping %s: %w", mp.MsgID, err)
	}

	query := `
		INSERT INTO msg_mappings (msg, record_json) VALUES (?, ?)
		ON CONFLICT(msg) DO UPDATE SET record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, mp.MsgID, string(raw))
	return err
}

// =============================================================================
// SHOP STORE
// =============================================================================

func (s *Store) GetShop(ctx context.Context, id economy.ShopID) (*economy.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT record_json FROM shops WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shop %s: %w", id, err)
	}

	var shop economy.Shop
	if err := json.Unmarshal([]byte(raw), &shop); err != nil {
		return nil, fmt.Errorf("failed to decode shop %s: %w", id, err)
	}
	return &shop, nil
}

func (s *Store) PutShop(ctx context.Context, shop economy.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putShop(ctx, s.db, shop)
}

func (s *Store) DeleteShop(ctx context.Context, id economy.ShopID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM shops WHERE id = ?", id)
	return err
}

func (s *Store) ListShops(ctx context.Context) ([]economy.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT record_json FROM shops ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shops []economy.Shop
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var shop economy.Shop
		if err := json.Unmarshal([]byte(raw), &shop); err != nil {
			return nil, fmt.Errorf("failed to decode shop: %w", err)
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

func putShop(ctx context.Context, q queryer, shop economy.Shop) error {
	raw, err := json.Marshal(shop)
	if err != nil {
		return fmt.Errorf("failed to encode shop %s: %w", shop.ID, err)
	}

	query := `
		INSERT INTO shops (id, record_json) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET record_json = excluded.record_json
	`
	_, err = q.ExecContext(ctx, query, shop.ID, string(raw))
	return err
}

// NextOrderSeq atomically increments and returns the shop's order counter.
func (s *Store) NextOrderSeq(ctx context.Context, id economy.ShopID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextOrderSeq(ctx, s.db, id)
}

func nextOrderSeq(ctx context.Context, q queryer, id economy.ShopID) (int64, error) {
	query := `
		INSERT INTO order_seqs (shop, seq) VALUES (?, 1)
		ON CONFLICT(shop) DO UPDATE SET seq = order_seqs.seq + 1
		RETURNING seq
	`

	var seq int64
	if err := q.QueryRowContext(ctx, query, id).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to advance order seq for %s: %w", id, err)
	}
	return seq, nil
}

func (s *Store) GetDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slot economy.SlotID
	err := s.db.QueryRowContext(ctx,
		"SELECT slot FROM delivery_slots WHERE shop = ? AND buyer = ?", shop, buyer).Scan(&slot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (s *Store) PutDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDeliverySlot(ctx, s.db, shop, buyer, slot)
}

func putDeliverySlot(ctx context.Context, q queryer, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	query := `
		INSERT INTO delivery_slots (shop, buyer, slot) VALUES (?, ?, ?)
		ON CONFLICT(shop, buyer) DO UPDATE SET slot = excluded.slot
	`
	_, err := q.ExecContext(ctx, query, shop, buyer, slot)
	return err
}

// =============================================================================
// ATOMIC STORE
// =============================================================================

// WithAtomic executes fn within a database transaction. All writes commit
// together or not at all.
func (s *Store) WithAtomic(ctx context.Context, fn func(store economy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the view of the store inside WithAtomic. It runs against the
// open *sql.Tx without re-taking the parent mutex.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetLedger(ctx context.Context, h economy.HandleID) (*economy.LedgerRecord, error) {
	return getLedger(ctx, ts.tx, h)
}

func (ts *txStore) PutLedger(ctx context.Context, h economy.HandleID, rec economy.LedgerRecord) error {
	return putLedger(ctx, ts.tx, h, rec)
}

func (ts *txStore) DeleteLedger(ctx context.Context, h economy.HandleID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM ledgers WHERE handle = ?", h)
	return err
}

func (ts *txStore) PutTransaction(ctx context.Context, tx economy.Transaction) error {
	return putTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id economy.TransactionID) (*economy.Transaction, error) {
	return queryTransaction(ctx, ts.tx, "SELECT record_json FROM transactions WHERE id = ?", id)
}

func (ts *txStore) GetTransactionByMsg(ctx context.Context, msg economy.MsgID) (*economy.Transaction, error) {
	return queryTransaction(ctx, ts.tx,
		"SELECT record_json FROM transactions WHERE payer_msg = ? OR recip_msg = ? LIMIT 1", msg, msg)
}

func (ts *txStore) GetActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	return queryOrder(ctx, ts.tx,
		"SELECT record_json FROM active_orders WHERE shop = ? AND slot = ?", shop, slot)
}

func (ts *txStore) PutActiveOrder(ctx context.Context, o economy.Order) error {
	return putActiveOrder(ctx, ts.tx, o)
}

func (ts *txStore) DeleteActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) error {
	_, err := ts.tx.ExecContext(ctx,
		"DELETE FROM active_orders WHERE shop = ? AND slot = ?", shop, slot)
	return err
}

func (ts *txStore) ListActiveOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return listOrders(ctx, ts.tx, "active_orders", shop)
}

func (ts *txStore) GetLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	return queryOrder(ctx, ts.tx,
		"SELECT record_json FROM locked_orders WHERE shop = ? AND order_id = ?", shop, id)
}

func (ts *txStore) PutLockedOrder(ctx context.Context, o economy.Order) error {
	return putLockedOrder(ctx, ts.tx, o)
}

func (ts *txStore) DeleteLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) error {
	_, err := ts.tx.ExecContext(ctx,
		"DELETE FROM locked_orders WHERE shop = ? AND order_id = ?", shop, id)
	return err
}

func (ts *txStore) ListLockedOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return listOrders(ctx, ts.tx, "locked_orders", shop)
}

func (ts *txStore) AppendDeliveredOrder(ctx context.Context, o economy.Order) error {
	return appendDeliveredOrder(ctx, ts.tx, o)
}

func (ts *txStore) ListDeliveredOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT record_json FROM delivered_orders WHERE shop = ? ORDER BY seq ASC", shop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (ts *txStore) GetMsgMapping(ctx context.Context, msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	var raw string
	err := ts.tx.QueryRowContext(ctx,
		"SELECT record_json FROM msg_mappings WHERE msg = ?", msg).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var mp economy.MsgOrderMapping
	if err := json.Unmarshal([]byte(raw), &mp); err != nil {
		return nil, fmt.Errorf("failed to decode msg mapping %s: %w", msg, err)
	}
	return &mp, nil
}

func (ts *txStore) PutMsgMapping(ctx context.Context, mp economy.MsgOrderMapping) error {
	return putMsgMapping(ctx, ts.tx, mp)
}

func (ts *txStore) DeleteMsgMapping(ctx context.Context, msg economy.MsgID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM msg_mappings WHERE msg = ?", msg)
	return err
}

func (ts *txStore) GetShop(ctx context.Context, id economy.ShopID) (*economy.Shop, error) {
	var raw string
	err := ts.tx.QueryRowContext(ctx, "SELECT record_json FROM shops WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var shop economy.Shop
	if err := json.Unmarshal([]byte(raw), &shop); err != nil {
		return nil, fmt.Errorf("failed to decode shop %s: %w", id, err)
	}
	return &shop, nil
}

func (ts *txStore) PutShop(ctx context.Context, shop economy.Shop) error {
	return putShop(ctx, ts.tx, shop)
}

func (ts *txStore) DeleteShop(ctx context.Context, id economy.ShopID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM shops WHERE id = ?", id)
	return err
}

func (ts *txStore) ListShops(ctx context.Context) ([]economy.Shop, error) {
	rows, err := ts.tx.QueryContext(ctx, "SELECT record_json FROM shops ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shops []economy.Shop
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var shop economy.Shop
		if err := json.Unmarshal([]byte(raw), &shop); err != nil {
			return nil, fmt.Errorf("failed to decode shop: %w", err)
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

func (ts *txStore) NextOrderSeq(ctx context.Context, id economy.ShopID) (int64, error) {
	return nextOrderSeq(ctx, ts.tx, id)
}

func (ts *txStore) GetDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	var slot economy.SlotID
	err := ts.tx.QueryRowContext(ctx,
		"SELECT slot FROM delivery_slots WHERE shop = ? AND buyer = ?", shop, buyer).Scan(&slot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (ts *txStore) PutDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	return putDeliverySlot(ctx, ts.tx, shop, buyer, slot)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"ledgers", "transactions", "active_orders", "locked_orders",
		"delivered_orders", "msg_mappings", "shops", "order_seqs", "delivery_slots",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
