/*
Package redis provides a Redis-backed implementation of the storage interfaces.

PURPOSE:
  Implements economy.Store and economy.AtomicStore on Redis for
  deployments that already run one. Records are stored as JSON values
  under typed key prefixes; the per-shop order counter uses INCR.

KEYSPACE:
  econ:ledger:<handle>        ledger record
  econ:tx:<id>                transaction record
  econ:txmsg:<msg>            undo-hook msg id -> transaction id
  econ:active:<shop>:<slot>   active order
  econ:locked:<shop>:<id>     locked order
  econ:delivered:<shop>       delivery archive (list, append-only)
  econ:msg:<msg>              board message -> order mapping
  econ:shop:<id>              shop record
  econ:seq:<shop>             order counter
  econ:slot:<shop>:<buyer>    delivery-slot assignment

DURABILITY:
  WithAtomic runs fn against the live client with no rollback. Writers
  already serialize on the engine's lock registry, so partial state is
  only reachable after a mid-operation crash. Acceptable for game-grade
  data; use the SQLite store where that is not.
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/warp/economy-engine/economy"
)

// Store implements economy.AtomicStore on a Redis client.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing client (for tests with miniredis-style fakes).
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func ledgerKey(h economy.HandleID) string    { return "econ:ledger:" + string(h) }
func txKey(id economy.TransactionID) string  { return "econ:tx:" + string(id) }
func txMsgKey(msg economy.MsgID) string      { return "econ:txmsg:" + string(msg) }
func msgKey(msg economy.MsgID) string        { return "econ:msg:" + string(msg) }
func shopKey(id economy.ShopID) string       { return "econ:shop:" + string(id) }
func seqKey(id economy.ShopID) string        { return "econ:seq:" + string(id) }
func deliveredKey(id economy.ShopID) string  { return "econ:delivered:" + string(id) }

func activeKey(shop economy.ShopID, slot economy.SlotID) string {
	return fmt.Sprintf("econ:active:%s:%s", shop, slot)
}

func lockedKey(shop economy.ShopID, id economy.OrderID) string {
	return fmt.Sprintf("econ:locked:%s:%s", shop, id)
}

func slotKey(shop economy.ShopID, buyer economy.HandleID) string {
	return fmt.Sprintf("econ:slot:%s:%s", shop, buyer)
}

// getJSON loads and decodes one record. Missing keys return (false, nil).
func (s *Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) GetLedger(ctx context.Context, h economy.HandleID) (*economy.LedgerRecord, error) {
	var rec economy.LedgerRecord
	ok, err := s.getJSON(ctx, ledgerKey(h), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) PutLedger(ctx context.Context, h economy.HandleID, rec economy.LedgerRecord) error {
	return s.putJSON(ctx, ledgerKey(h), rec)
}

func (s *Store) DeleteLedger(ctx context.Context, h economy.HandleID) error {
	return s.rdb.Del(ctx, ledgerKey(h)).Err()
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) PutTransaction(ctx context.Context, tx economy.Transaction) error {
	if err := s.putJSON(ctx, txKey(tx.ID), tx); err != nil {
		return err
	}
	// Secondary index so a reaction on either notification finds the transfer.
	for _, msg := range []economy.MsgID{tx.PayerMsgID, tx.RecipMsgID} {
		if msg == "" {
			continue
		}
		if err := s.rdb.Set(ctx, txMsgKey(msg), string(tx.ID), 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id economy.TransactionID) (*economy.Transaction, error) {
	var tx economy.Transaction
	ok, err := s.getJSON(ctx, txKey(id), &tx)
	if err != nil || !ok {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) GetTransactionByMsg(ctx context.Context, msg economy.MsgID) (*economy.Transaction, error) {
	id, err := s.rdb.Get(ctx, txMsgKey(msg)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve msg %s: %w", msg, err)
	}
	return s.GetTransaction(ctx, economy.TransactionID(id))
}

// =============================================================================
// ORDER STORE
// =============================================================================

func (s *Store) GetActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	var o economy.Order
	ok, err := s.getJSON(ctx, activeKey(shop, slot), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (s *Store) PutActiveOrder(ctx context.Context, o economy.Order) error {
	return s.putJSON(ctx, activeKey(o.ShopID, o.Slot), o)
}

func (s *Store) DeleteActiveOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) error {
	return s.rdb.Del(ctx, activeKey(shop, slot)).Err()
}

func (s *Store) ListActiveOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return s.scanOrders(ctx, s.orderPattern("econ:active:", shop))
}

func (s *Store) GetLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	var o economy.Order
	ok, err := s.getJSON(ctx, lockedKey(shop, id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (s *Store) PutLockedOrder(ctx context.Context, o economy.Order) error {
	return s.putJSON(ctx, lockedKey(o.ShopID, o.ID), o)
}

func (s *Store) DeleteLockedOrder(ctx context.Context, shop economy.ShopID, id economy.OrderID) error {
	return s.rdb.Del(ctx, lockedKey(shop, id)).Err()
}

func (s *Store) ListLockedOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return s.scanOrders(ctx, s.orderPattern("econ:locked:", shop))
}

func (s *Store) AppendDeliveredOrder(ctx context.Context, o economy.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", o.ID, err)
	}
	return s.rdb.RPush(ctx, deliveredKey(o.ShopID), raw).Err()
}

func (s *Store) ListDeliveredOrders(ctx context.Context, shop economy.ShopID) ([]economy.Order, error) {
	raws, err := s.rdb.LRange(ctx, deliveredKey(shop), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	orders := make([]economy.Order, 0, len(raws))
	for _, raw := range raws {
		var o economy.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("failed to decode delivered order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *Store) orderPattern(prefix string, shop economy.ShopID) string {
	if shop == "" {
		return prefix + "*"
	}
	return fmt.Sprintf("%s%s:*", prefix, shop)
}

func (s *Store) scanOrders(ctx context.Context, pattern string) ([]economy.Order, error) {
	var orders []economy.Order
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		var o economy.Order
		ok, err := s.getJSON(ctx, iter.Val(), &o)
		if err != nil {
			return nil, err
		}
		if ok {
			orders = append(orders, o)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetMsgMapping(ctx context.Context, msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	var mp economy.MsgOrderMapping
	ok, err := s.getJSON(ctx, msgKey(msg), &mp)
	if err != nil || !ok {
		return nil, err
	}
	return &mp, nil
}

func (s *Store) PutMsgMapping(ctx context.Context, mp economy.MsgOrderMapping) error {
	return s.putJSON(ctx, msgKey(mp.MsgID), mp)
}

func (s *Store) DeleteMsgMapping(ctx context.Context, msg economy.MsgID) error {
	return s.rdb.Del(ctx, msgKey(msg)).Err()
}

// =============================================================================
// SHOP STORE
// =============================================================================

func (s *Store) GetShop(ctx context.Context, id economy.ShopID) (*economy.Shop, error) {
	var shop economy.Shop
	ok, err := s.getJSON(ctx, shopKey(id), &shop)
	if err != nil || !ok {
		return nil, err
	}
	return &shop, nil
}

func (s *Store) PutShop(ctx context.Context, shop economy.Shop) error {
	return s.putJSON(ctx, shopKey(shop.ID), shop)
}

func (s *Store) DeleteShop(ctx context.Context, id economy.ShopID) error {
	return s.rdb.Del(ctx, shopKey(id)).Err()
}

func (s *Store) ListShops(ctx context.Context) ([]economy.Shop, error) {
	var shops []economy.Shop
	iter := s.rdb.Scan(ctx, 0, "econ:shop:*", 0).Iterator()
	for iter.Next(ctx) {
		var shop economy.Shop
		ok, err := s.getJSON(ctx, iter.Val(), &shop)
		if err != nil {
			return nil, err
		}
		if ok {
			shops = append(shops, shop)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) NextOrderSeq(ctx context.Context, id economy.ShopID) (int64, error) {
	seq, err := s.rdb.Incr(ctx, seqKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance order seq for %s: %w", id, err)
	}
	return seq, nil
}

func (s *Store) GetDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	raw, err := s.rdb.Get(ctx, slotKey(shop, buyer)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slot := economy.SlotID(raw)
	return &slot, nil
}

func (s *Store) PutDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	return s.rdb.Set(ctx, slotKey(shop, buyer), string(slot), 0).Err()
}

// =============================================================================
// ATOMIC STORE
// =============================================================================

// WithAtomic executes fn against the live store. Redis offers no rollback
// for this access pattern; writers already serialize on the engine's lock
// registry, so partial state is only reachable after a mid-operation crash.
func (s *Store) WithAtomic(ctx context.Context, fn func(store economy.Store) error) error {
	return fn(s)
}
