// Package store provides economy.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one RWMutex. Public methods
// take the lock and delegate to unexported unlocked accessors; WithAtomic
// holds the write lock for its whole duration and hands fn a view over the
// same accessors, so a rollback can never erase a concurrent commit.
type Memory struct {
	mu        sync.RWMutex
	ledgers   map[economy.HandleID]economy.LedgerRecord
	txs       map[economy.TransactionID]economy.Transaction
	txByMsg   map[economy.MsgID]economy.TransactionID
	active    map[activeKey]economy.Order
	locked    map[lockedKey]economy.Order
	delivered map[economy.ShopID][]economy.Order
	mappings  map[economy.MsgID]economy.MsgOrderMapping
	shops     map[economy.ShopID]economy.Shop
	seqs      map[economy.ShopID]int64
	slots     map[slotAssignKey]economy.SlotID
}

type activeKey struct {
	Shop economy.ShopID
	Slot economy.SlotID
}

type lockedKey struct {
	Shop economy.ShopID
	ID   economy.OrderID
}

type slotAssignKey struct {
	Shop  economy.ShopID
	Buyer economy.HandleID
}

func NewMemory() *Memory {
	return &Memory{
		ledgers:   make(map[economy.HandleID]economy.LedgerRecord),
		txs:       make(map[economy.TransactionID]economy.Transaction),
		txByMsg:   make(map[economy.MsgID]economy.TransactionID),
		active:    make(map[activeKey]economy.Order),
		locked:    make(map[lockedKey]economy.Order),
		delivered: make(map[economy.ShopID][]economy.Order),
		mappings:  make(map[economy.MsgID]economy.MsgOrderMapping),
		shops:     make(map[economy.ShopID]economy.Shop),
		seqs:      make(map[economy.ShopID]int64),
		slots:     make(map[slotAssignKey]economy.SlotID),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) GetLedger(_ context.Context, h economy.HandleID) (*economy.LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLedger(h)
}

func (m *Memory) getLedger(h economy.HandleID) (*economy.LedgerRecord, error) {
	rec, ok := m.ledgers[h]
	if !ok {
		return nil, nil
	}
	out := copyLedger(rec)
	return &out, nil
}

func (m *Memory) PutLedger(_ context.Context, h economy.HandleID, rec economy.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLedger(h, rec)
}

func (m *Memory) putLedger(h economy.HandleID, rec economy.LedgerRecord) error {
	m.ledgers[h] = copyLedger(rec)
	return nil
}

func (m *Memory) DeleteLedger(_ context.Context, h economy.HandleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ledgers, h)
	return nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (m *Memory) PutTransaction(_ context.Context, tx economy.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putTransaction(tx)
}

func (m *Memory) putTransaction(tx economy.Transaction) error {
	m.txs[tx.ID] = copyTx(tx)
	if tx.PayerMsgID != "" {
		m.txByMsg[tx.PayerMsgID] = tx.ID
	}
	if tx.RecipMsgID != "" {
		m.txByMsg[tx.RecipMsgID] = tx.ID
	}
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id economy.TransactionID) (*economy.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id)
}

func (m *Memory) getTransaction(id economy.TransactionID) (*economy.Transaction, error) {
	tx, ok := m.txs[id]
	if !ok {
		return nil, nil
	}
	out := copyTx(tx)
	return &out, nil
}

func (m *Memory) GetTransactionByMsg(_ context.Context, msg economy.MsgID) (*economy.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionByMsg(msg)
}

func (m *Memory) getTransactionByMsg(msg economy.MsgID) (*economy.Transaction, error) {
	id, ok := m.txByMsg[msg]
	if !ok {
		return nil, nil
	}
	return m.getTransaction(id)
}

// =============================================================================
// ORDER STORE
// =============================================================================

func (m *Memory) GetActiveOrder(_ context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getActiveOrder(shop, slot)
}

func (m *Memory) getActiveOrder(shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	o, ok := m.active[activeKey{Shop: shop, Slot: slot}]
	if !ok {
		return nil, nil
	}
	out := copyOrder(o)
	return &out, nil
}

func (m *Memory) PutActiveOrder(_ context.Context, o economy.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putActiveOrder(o)
}

func (m *Memory) putActiveOrder(o economy.Order) error {
	m.active[activeKey{Shop: o.ShopID, Slot: o.Slot}] = copyOrder(o)
	return nil
}

func (m *Memory) DeleteActiveOrder(_ context.Context, shop economy.ShopID, slot economy.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteActiveOrder(shop, slot)
}

func (m *Memory) deleteActiveOrder(shop economy.ShopID, slot economy.SlotID) error {
	delete(m.active, activeKey{Shop: shop, Slot: slot})
	return nil
}

func (m *Memory) ListActiveOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActiveOrders(shop)
}

func (m *Memory) listActiveOrders(shop economy.ShopID) ([]economy.Order, error) {
	var out []economy.Order
	for k, o := range m.active {
		if shop == "" || k.Shop == shop {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (m *Memory) GetLockedOrder(_ context.Context, shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLockedOrder(shop, id)
}

func (m *Memory) getLockedOrder(shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	o, ok := m.locked[lockedKey{Shop: shop, ID: id}]
	if !ok {
		return nil, nil
	}
	out := copyOrder(o)
	return &out, nil
}

func (m *Memory) PutLockedOrder(_ context.Context, o economy.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLockedOrder(o)
}

func (m *Memory) putLockedOrder(o economy.Order) error {
	m.locked[lockedKey{Shop: o.ShopID, ID: o.ID}] = copyOrder(o)
	return nil
}

func (m *Memory) DeleteLockedOrder(_ context.Context, shop economy.ShopID, id economy.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLockedOrder(shop, id)
}

func (m *Memory) deleteLockedOrder(shop economy.ShopID, id economy.OrderID) error {
	delete(m.locked, lockedKey{Shop: shop, ID: id})
	return nil
}

func (m *Memory) ListLockedOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLockedOrders(shop)
}

func (m *Memory) listLockedOrders(shop economy.ShopID) ([]economy.Order, error) {
	var out []economy.Order
	for k, o := range m.locked {
		if shop == "" || k.Shop == shop {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (m *Memory) AppendDeliveredOrder(_ context.Context, o economy.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendDeliveredOrder(o)
}

func (m *Memory) appendDeliveredOrder(o economy.Order) error {
	m.delivered[o.ShopID] = append(m.delivered[o.ShopID], copyOrder(o))
	return nil
}

func (m *Memory) ListDeliveredOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDeliveredOrders(shop)
}

func (m *Memory) listDeliveredOrders(shop economy.ShopID) ([]economy.Order, error) {
	orders := m.delivered[shop]
	out := make([]economy.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, copyOrder(o))
	}
	return out, nil
}

func (m *Memory) GetMsgMapping(_ context.Context, msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMsgMapping(msg)
}

func (m *Memory) getMsgMapping(msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	mp, ok := m.mappings[msg]
	if !ok {
		return nil, nil
	}
	out := mp
	return &out, nil
}

func (m *Memory) PutMsgMapping(_ context.Context, mp economy.MsgOrderMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putMsgMapping(mp)
}

func (m *Memory) putMsgMapping(mp economy.MsgOrderMapping) error {
	m.mappings[mp.MsgID] = mp
	return nil
}

func (m *Memory) DeleteMsgMapping(_ context.Context, msg economy.MsgID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteMsgMapping(msg)
}

func (m *Memory) deleteMsgMapping(msg economy.MsgID) error {
	delete(m.mappings, msg)
	return nil
}

// =============================================================================
// SHOP STORE
// =============================================================================

func (m *Memory) GetShop(_ context.Context, id economy.ShopID) (*economy.Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getShop(id)
}

func (m *Memory) getShop(id economy.ShopID) (*economy.Shop, error) {
	s, ok := m.shops[id]
	if !ok {
		return nil, nil
	}
	out := copyShop(s)
	return &out, nil
}

func (m *Memory) PutShop(_ context.Context, s economy.Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putShop(s)
}

func (m *Memory) putShop(s economy.Shop) error {
	m.shops[s.ID] = copyShop(s)
	return nil
}

func (m *Memory) DeleteShop(_ context.Context, id economy.ShopID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.shops, id)
	return nil
}

func (m *Memory) ListShops(_ context.Context) ([]economy.Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listShops()
}

func (m *Memory) listShops() ([]economy.Shop, error) {
	out := make([]economy.Shop, 0, len(m.shops))
	for _, s := range m.shops {
		out = append(out, copyShop(s))
	}
	return out, nil
}

func (m *Memory) NextOrderSeq(_ context.Context, id economy.ShopID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextOrderSeq(id)
}

func (m *Memory) nextOrderSeq(id economy.ShopID) (int64, error) {
	m.seqs[id]++
	return m.seqs[id], nil
}

func (m *Memory) GetDeliverySlot(_ context.Context, shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDeliverySlot(shop, buyer)
}

func (m *Memory) getDeliverySlot(shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	slot, ok := m.slots[slotAssignKey{Shop: shop, Buyer: buyer}]
	if !ok {
		return nil, nil
	}
	out := slot
	return &out, nil
}

func (m *Memory) PutDeliverySlot(_ context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putDeliverySlot(shop, buyer, slot)
}

func (m *Memory) putDeliverySlot(shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	m.slots[slotAssignKey{Shop: shop, Buyer: buyer}] = slot
	return nil
}

// =============================================================================
// ATOMIC STORE - Exclusive block with snapshot rollback
// =============================================================================

// WithAtomic holds the write lock for the whole call, so concurrent
// readers and writers block until the block resolves and a rollback can
// only ever restore state this block itself changed. fn receives a view
// over the same maps; it must not call back into the outer store.
func (m *Memory) WithAtomic(_ context.Context, fn func(economy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(atomicView{m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

// atomicView exposes the unlocked accessors to a WithAtomic block while
// the outer store holds its write lock.
type atomicView struct {
	m *Memory
}

func (v atomicView) GetLedger(_ context.Context, h economy.HandleID) (*economy.LedgerRecord, error) {
	return v.m.getLedger(h)
}

func (v atomicView) PutLedger(_ context.Context, h economy.HandleID, rec economy.LedgerRecord) error {
	return v.m.putLedger(h, rec)
}

func (v atomicView) DeleteLedger(_ context.Context, h economy.HandleID) error {
	delete(v.m.ledgers, h)
	return nil
}

func (v atomicView) PutTransaction(_ context.Context, tx economy.Transaction) error {
	return v.m.putTransaction(tx)
}

func (v atomicView) GetTransaction(_ context.Context, id economy.TransactionID) (*economy.Transaction, error) {
	return v.m.getTransaction(id)
}

func (v atomicView) GetTransactionByMsg(_ context.Context, msg economy.MsgID) (*economy.Transaction, error) {
	return v.m.getTransactionByMsg(msg)
}

func (v atomicView) GetActiveOrder(_ context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Order, error) {
	return v.m.getActiveOrder(shop, slot)
}

func (v atomicView) PutActiveOrder(_ context.Context, o economy.Order) error {
	return v.m.putActiveOrder(o)
}

func (v atomicView) DeleteActiveOrder(_ context.Context, shop economy.ShopID, slot economy.SlotID) error {
	return v.m.deleteActiveOrder(shop, slot)
}

func (v atomicView) ListActiveOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return v.m.listActiveOrders(shop)
}

func (v atomicView) GetLockedOrder(_ context.Context, shop economy.ShopID, id economy.OrderID) (*economy.Order, error) {
	return v.m.getLockedOrder(shop, id)
}

func (v atomicView) PutLockedOrder(_ context.Context, o economy.Order) error {
	return v.m.putLockedOrder(o)
}

func (v atomicView) DeleteLockedOrder(_ context.Context, shop economy.ShopID, id economy.OrderID) error {
	return v.m.deleteLockedOrder(shop, id)
}

func (v atomicView) ListLockedOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return v.m.listLockedOrders(shop)
}

func (v atomicView) AppendDeliveredOrder(_ context.Context, o economy.Order) error {
	return v.m.appendDeliveredOrder(o)
}

func (v atomicView) ListDeliveredOrders(_ context.Context, shop economy.ShopID) ([]economy.Order, error) {
	return v.m.listDeliveredOrders(shop)
}

func (v atomicView) GetMsgMapping(_ context.Context, msg economy.MsgID) (*economy.MsgOrderMapping, error) {
	return v.m.getMsgMapping(msg)
}

func (v atomicView) PutMsgMapping(_ context.Context, mp economy.MsgOrderMapping) error {
	return v.m.putMsgMapping(mp)
}

func (v atomicView) DeleteMsgMapping(_ context.Context, msg economy.MsgID) error {
	return v.m.deleteMsgMapping(msg)
}

func (v atomicView) GetShop(_ context.Context, id economy.ShopID) (*economy.Shop, error) {
	return v.m.getShop(id)
}

func (v atomicView) PutShop(_ context.Context, s economy.Shop) error {
	return v.m.putShop(s)
}

func (v atomicView) DeleteShop(_ context.Context, id economy.ShopID) error {
	delete(v.m.shops, id)
	return nil
}

func (v atomicView) ListShops(_ context.Context) ([]economy.Shop, error) {
	return v.m.listShops()
}

func (v atomicView) NextOrderSeq(_ context.Context, id economy.ShopID) (int64, error) {
	return v.m.nextOrderSeq(id)
}

func (v atomicView) GetDeliverySlot(_ context.Context, shop economy.ShopID, buyer economy.HandleID) (*economy.SlotID, error) {
	return v.m.getDeliverySlot(shop, buyer)
}

func (v atomicView) PutDeliverySlot(_ context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	return v.m.putDeliverySlot(shop, buyer, slot)
}

type memorySnapshot struct {
	ledgers   map[economy.HandleID]economy.LedgerRecord
	txs       map[economy.TransactionID]economy.Transaction
	txByMsg   map[economy.MsgID]economy.TransactionID
	active    map[activeKey]economy.Order
	locked    map[lockedKey]economy.Order
	delivered map[economy.ShopID][]economy.Order
	mappings  map[economy.MsgID]economy.MsgOrderMapping
	shops     map[economy.ShopID]economy.Shop
	seqs      map[economy.ShopID]int64
	slots     map[slotAssignKey]economy.SlotID
}

// snapshotLocked deep-copies every map. Caller holds the write lock.
func (m *Memory) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		ledgers:   make(map[economy.HandleID]economy.LedgerRecord, len(m.ledgers)),
		txs:       make(map[economy.TransactionID]economy.Transaction, len(m.txs)),
		txByMsg:   make(map[economy.MsgID]economy.TransactionID, len(m.txByMsg)),
		active:    make(map[activeKey]economy.Order, len(m.active)),
		locked:    make(map[lockedKey]economy.Order, len(m.locked)),
		delivered: make(map[economy.ShopID][]economy.Order, len(m.delivered)),
		mappings:  make(map[economy.MsgID]economy.MsgOrderMapping, len(m.mappings)),
		shops:     make(map[economy.ShopID]economy.Shop, len(m.shops)),
		seqs:      make(map[economy.ShopID]int64, len(m.seqs)),
		slots:     make(map[slotAssignKey]economy.SlotID, len(m.slots)),
	}
	for k, v := range m.ledgers {
		s.ledgers[k] = copyLedger(v)
	}
	for k, v := range m.txs {
		s.txs[k] = copyTx(v)
	}
	for k, v := range m.txByMsg {
		s.txByMsg[k] = v
	}
	for k, v := range m.active {
		s.active[k] = copyOrder(v)
	}
	for k, v := range m.locked {
		s.locked[k] = copyOrder(v)
	}
	for k, v := range m.delivered {
		orders := make([]economy.Order, 0, len(v))
		for _, o := range v {
			orders = append(orders, copyOrder(o))
		}
		s.delivered[k] = orders
	}
	for k, v := range m.mappings {
		s.mappings[k] = v
	}
	for k, v := range m.shops {
		s.shops[k] = copyShop(v)
	}
	for k, v := range m.seqs {
		s.seqs[k] = v
	}
	for k, v := range m.slots {
		s.slots[k] = v
	}
	return s
}

// restoreLocked swaps the snapshot back in. Caller holds the write lock.
func (m *Memory) restoreLocked(s memorySnapshot) {
	m.ledgers = s.ledgers
	m.txs = s.txs
	m.txByMsg = s.txByMsg
	m.active = s.active
	m.locked = s.locked
	m.delivered = s.delivered
	m.mappings = s.mappings
	m.shops = s.shops
	m.seqs = s.seqs
	m.slots = s.slots
}

// =============================================================================
// DEEP COPIES - Records never alias caller memory
// =============================================================================

func copyLedger(rec economy.LedgerRecord) economy.LedgerRecord {
	out := rec
	out.Entries = make([]economy.InternalTransRecord, len(rec.Entries))
	copy(out.Entries, rec.Entries)
	for i, e := range rec.Entries {
		ids := make([]economy.MsgID, len(e.CorrelationIDs))
		copy(ids, e.CorrelationIDs)
		out.Entries[i].CorrelationIDs = ids
	}
	return out
}

func copyTx(tx economy.Transaction) economy.Transaction {
	out := tx
	if tx.Metadata != nil {
		out.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func copyOrder(o economy.Order) economy.Order {
	out := o
	out.Items = make(map[string]int, len(o.Items))
	for k, v := range o.Items {
		out.Items[k] = v
	}
	out.UndoHooks = make([]economy.UndoHook, len(o.UndoHooks))
	copy(out.UndoHooks, o.UndoHooks)
	return out
}

func copyShop(s economy.Shop) economy.Shop {
	out := s
	out.Employees = make([]economy.ActorID, len(s.Employees))
	copy(out.Employees, s.Employees)
	if s.Catalog != nil {
		out.Catalog = make(map[string]economy.Money, len(s.Catalog))
		for k, v := range s.Catalog {
			out.Catalog[k] = v
		}
	}
	return out
}
