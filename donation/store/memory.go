// Package store provides in-memory donation.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/donation-ledger/donation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	donations map[donation.DonationID]donation.Donation
	history   map[donation.DonationID][]donation.StatusEntry
	users     map[donation.UserID]donation.User
	inbox     []donation.Notification

	nextDonation     donation.DonationID
	nextEntry        donation.EntryID
	nextUser         donation.UserID
	nextNotification donation.NotificationID
}

func NewMemory() *Memory {
	return &Memory{
		donations: make(map[donation.DonationID]donation.Donation),
		history:   make(map[donation.DonationID][]donation.StatusEntry),
		users:     make(map[donation.UserID]donation.User),
	}
}

// InsertDonation adds a donation row.
func (m *Memory) InsertDonation(_ context.Context, d donation.Donation) (donation.DonationID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertDonationLocked(d), nil
}

func (m *Memory) insertDonationLocked(d donation.Donation) donation.DonationID {
	m.nextDonation++
	d.ID = m.nextDonation
	m.donations[d.ID] = d
	return d.ID
}

// AppendStatus adds a history entry, optionally conditional on the current status.
func (m *Memory) AppendStatus(_ context.Context, e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e, expect)
}

func (m *Memory) appendLocked(e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	if _, ok := m.donations[e.DonationID]; !ok {
		return 0, donation.ErrDonationNotFound
	}
	entries := m.history[e.DonationID]
	if expect != "" {
		current, err := donation.CurrentStatus(entries)
		if err != nil || current.Status != expect {
			return 0, donation.ErrStatusConflict
		}
	}

	m.nextEntry++
	e.ID = m.nextEntry

	// Keep history sorted by (ChangedAt, ID); new IDs are always highest.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].ChangedAt.After(e.ChangedAt)
	})
	entries = append(entries, donation.StatusEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.history[e.DonationID] = entries
	return e.ID, nil
}

func (m *Memory) GetDonation(_ context.Context, id donation.DonationID) (donation.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id donation.DonationID) (donation.Donation, error) {
	d, ok := m.donations[id]
	if !ok {
		return donation.Donation{}, donation.ErrDonationNotFound
	}
	return d, nil
}

func (m *Memory) History(_ context.Context, id donation.DonationID) ([]donation.StatusEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(id), nil
}

func (m *Memory) historyLocked(id donation.DonationID) []donation.StatusEntry {
	result := make([]donation.StatusEntry, len(m.history[id]))
	copy(result, m.history[id])
	return result
}

func (m *Memory) QueryDonations(_ context.Context, f donation.Filter) ([]donation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(f), nil
}

func (m *Memory) queryLocked(f donation.Filter) []donation.Record {
	var result []donation.Record
	for id, d := range m.donations {
		if f.DonorID != nil && d.DonorID != *f.DonorID {
			continue
		}
		if f.PaymentMethod != "" && d.PaymentMethod != f.PaymentMethod {
			continue
		}
		if !f.Created.Contains(d.CreatedAt) {
			continue
		}
		current, err := donation.CurrentStatus(m.history[id])
		if err != nil {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, current.Status) {
			continue
		}
		result = append(result, donation.Record{Donation: d, Status: current.Status, StatusChangedAt: current.ChangedAt})
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

func hasStatus(list []donation.Status, s donation.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u donation.User) (donation.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(u.Email, 0) {
		return 0, donation.ErrDuplicateEmail
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.AccountStatus == "" {
		u.AccountStatus = donation.AccountActive
	}
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *Memory) GetUser(_ context.Context, id donation.UserID) (donation.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return donation.User{}, donation.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) UpdateUser(_ context.Context, u donation.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return donation.ErrUserNotFound
	}
	if m.emailTaken(u.Email, u.ID) {
		return donation.ErrDuplicateEmail
	}
	u.CreatedAt = existing.CreatedAt
	m.users[u.ID] = u
	return nil
}

func (m *Memory) emailTaken(email string, except donation.UserID) bool {
	if email == "" {
		return false
	}
	for id, u := range m.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (m *Memory) ListUsers(_ context.Context, f donation.UserFilter) ([]donation.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []donation.User
	for _, u := range m.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.AccountStatus != "" && u.AccountStatus != f.AccountStatus {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Memory) SaveNotification(_ context.Context, n donation.Notification) (donation.NotificationID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNotification++
	n.ID = m.nextNotification
	m.inbox = append(m.inbox, n)
	return n.ID, nil
}

func (m *Memory) ListNotifications(_ context.Context, userID donation.UserID, unreadOnly bool) ([]donation.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []donation.Notification
	for i := len(m.inbox) - 1; i >= 0; i-- {
		n := m.inbox[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, userID donation.UserID, id donation.NotificationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.inbox {
		if m.inbox[i].ID == id && m.inbox[i].UserID == userID {
			m.inbox[i].Read = true
			return nil
		}
	}
	return donation.ErrNotificationNotFound
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn while holding the store lock, so transactions are
// serialized. Simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(donation.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	donations := make(map[donation.DonationID]donation.Donation, len(tm.donations))
	for k, v := range tm.donations {
		donations[k] = v
	}
	history := make(map[donation.DonationID][]donation.StatusEntry, len(tm.history))
	for k, v := range tm.history {
		history[k] = append([]donation.StatusEntry{}, v...)
	}
	return memorySnapshot{
		donations:    donations,
		history:      history,
		nextDonation: tm.nextDonation,
		nextEntry:    tm.nextEntry,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.donations = s.donations
	tm.history = s.history
	tm.nextDonation = s.nextDonation
	tm.nextEntry = s.nextEntry
}

type memorySnapshot struct {
	donations    map[donation.DonationID]donation.Donation
	history      map[donation.DonationID][]donation.StatusEntry
	nextDonation donation.DonationID
	nextEntry    donation.EntryID
}

// txMemoryView runs against the parent without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertDonation(_ context.Context, d donation.Donation) (donation.DonationID, error) {
	return tv.parent.insertDonationLocked(d), nil
}

func (tv *txMemoryView) AppendStatus(_ context.Context, e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	return tv.parent.appendLocked(e, expect)
}

func (tv *txMemoryView) GetDonation(_ context.Context, id donation.DonationID) (donation.Donation, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) History(_ context.Context, id donation.DonationID) ([]donation.StatusEntry, error) {
	return tv.parent.historyLocked(id), nil
}

func (tv *txMemoryView) QueryDonations(_ context.Context, f donation.Filter) ([]donation.Record, error) {
	return tv.parent.queryLocked(f), nil
}

var (
	_ donation.TxStore           = (*TxMemory)(nil)
	_ donation.UserStore         = (*Memory)(nil)
	_ donation.NotificationStore = (*Memory)(nil)
)
