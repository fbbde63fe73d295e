// Package memory is an in-process repository.Store used by tests and local
// runs without Postgres. Transactions are serialised: InTx works on a copy of
// the data and swaps it in only when fn succeeds, so a failed fn leaves no
// trace. Nested InTx behaves like a savepoint.
//
// Code running inside InTx must only use the tx Store it was handed. Using
// the root Store from inside a transaction deadlocks.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

// ErrUniqueViolation mirrors a unique index rejecting an insert.
var ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")

// ErrCheckViolation mirrors a check constraint rejecting a row.
var ErrCheckViolation = errors.New("new row violates check constraint")

type state struct {
	seq int64

	bookings     map[uuid.UUID]models.Booking
	bookingSeq   map[uuid.UUID]int64
	vehicles     map[uuid.UUID]models.Vehicle
	wallets      map[uuid.UUID]models.Wallet
	walletByUser map[uuid.UUID]uuid.UUID
	entries      map[uuid.UUID][]models.WalletTransaction
	payments     map[uuid.UUID]models.Payment
	paymentSeq   map[uuid.UUID]int64
	orderIndex   map[string]uuid.UUID
}

func newState() *state {
	return &state{
		bookings:     make(map[uuid.UUID]models.Booking),
		bookingSeq:   make(map[uuid.UUID]int64),
		vehicles:     make(map[uuid.UUID]models.Vehicle),
		wallets:      make(map[uuid.UUID]models.Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		entries:      make(map[uuid.UUID][]models.WalletTransaction),
		payments:     make(map[uuid.UUID]models.Payment),
		paymentSeq:   make(map[uuid.UUID]int64),
		orderIndex:   make(map[string]uuid.UUID),
	}
}

// clone copies the maps. Rows are stored by value and never mutated in
// place, so copying the structs is enough.
func (s *state) clone() *state {
	out := newState()
	out.seq = s.seq
	for k, v := range s.bookings {
		out.bookings[k] = v
	}
	for k, v := range s.bookingSeq {
		out.bookingSeq[k] = v
	}
	for k, v := range s.vehicles {
		out.vehicles[k] = v
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.walletByUser {
		out.walletByUser[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = append([]models.WalletTransaction(nil), v...)
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.paymentSeq {
		out.paymentSeq[k] = v
	}
	for k, v := range s.orderIndex {
		out.orderIndex[k] = v
	}
	return out
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store is the root handle.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
}

func New() *Store {
	return &Store{data: newState()}
}

// access runs fn against the data the handle sees.
type access func(write bool, fn func(*state) error) error

func (s *Store) access(write bool, fn func(*state) error) error {
	if !write {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return fn(s.data)
	}
	return s.commit(fn)
}

// commit runs fn on a copy under the writer lock and publishes the copy on
// success.
func (s *Store) commit(fn func(*state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Bookings() repository.BookingRepository { return &bookingRepo{do: s.access} }
func (s *Store) Vehicles() repository.VehicleRepository { return &vehicleRepo{do: s.access} }
func (s *Store) Wallets() repository.WalletRepository   { return &walletRepo{do: s.access} }
func (s *Store) Payments() repository.PaymentRepository { return &paymentRepo{do: s.access} }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(func(work *state) error {
		return fn(&txStore{data: work})
	})
}

// txStore is the handle passed to InTx callbacks. Its goroutine holds the
// writer lock, so it reads and writes data directly.
type txStore struct {
	data *state
}

func (t *txStore) access(_ bool, fn func(*state) error) error {
	return fn(t.data)
}

func (t *txStore) Bookings() repository.BookingRepository { return &bookingRepo{do: t.access} }
func (t *txStore) Vehicles() repository.VehicleRepository { return &vehicleRepo{do: t.access} }
func (t *txStore) Wallets() repository.WalletRepository   { return &walletRepo{do: t.access} }
func (t *txStore) Payments() repository.PaymentRepository { return &paymentRepo{do: t.access} }

func (t *txStore) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	savepoint := t.data.clone()
	if err := fn(&txStore{data: savepoint}); err != nil {
		return err
	}
	*t.data = *savepoint
	return nil
}
