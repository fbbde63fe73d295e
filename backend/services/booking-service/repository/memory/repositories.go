package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

func paginate(total, page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	return start, end
}

type bookingRepo struct {
	do access
}

func (r *bookingRepo) Create(_ context.Context, booking *models.Booking) error {
	return r.do(true, func(s *state) error {
		if booking.ID == uuid.Nil {
			booking.ID = uuid.New()
		}
		if _, exists := s.bookings[booking.ID]; exists {
			return ErrUniqueViolation
		}
		for _, b := range s.bookings {
			if b.BookingNumber == booking.BookingNumber {
				return ErrUniqueViolation
			}
		}
		now := time.Now()
		if booking.CreatedAt.IsZero() {
			booking.CreatedAt = now
		}
		booking.UpdatedAt = now
		s.bookings[booking.ID] = *booking
		s.bookingSeq[booking.ID] = s.next()
		return nil
	})
}

func (r *bookingRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	var out models.Booking
	err := r.do(false, func(s *state) error {
		b, ok := s.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByIDForUpdate needs no extra locking here: transactions already hold
// the writer lock.
func (r *bookingRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r *bookingRepo) Update(_ context.Context, id uuid.UUID, guard repository.BookingGuard, updates map[string]interface{}) error {
	return r.do(true, func(s *state) error {
		b, ok := s.bookings[id]
		if !ok {
			return repository.ErrConflict
		}
		if len(guard.Statuses) > 0 && !containsStatus(guard.Statuses, b.Status) {
			return repository.ErrConflict
		}
		if guard.PaymentStatus != "" && b.PaymentStatus != guard.PaymentStatus {
			return repository.ErrConflict
		}
		for col, v := range updates {
			if err := setBookingColumn(&b, col, v); err != nil {
				return err
			}
		}
		b.UpdatedAt = time.Now()
		s.bookings[id] = b
		return nil
	})
}

func containsStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *bookingRepo) List(_ context.Context, filter repository.BookingFilter, page, limit int) ([]models.Booking, int64, error) {
	var out []models.Booking
	var total int64
	err := r.do(false, func(s *state) error {
		matched := make([]models.Booking, 0)
		for _, b := range s.bookings {
			switch filter.Role {
			case models.RoleFarmer:
				if b.FarmerID != filter.UserID {
					continue
				}
			case models.RoleOwner:
				if b.OwnerID != filter.UserID {
					continue
				}
			}
			if filter.Status != "" && b.Status != filter.Status {
				continue
			}
			matched = append(matched, b)
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return s.bookingSeq[matched[i].ID] > s.bookingSeq[matched[j].ID]
		})
		total = int64(len(matched))
		start, end := paginate(len(matched), page, limit)
		out = matched[start:end]
		return nil
	})
	return out, total, err
}

type vehicleRepo struct {
	do access
}

func (r *vehicleRepo) FindAvailable(_ context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var out models.Vehicle
	err := r.do(false, func(s *state) error {
		v, ok := s.vehicles[id]
		if !ok || !v.IsAvailable {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *vehicleRepo) Save(_ context.Context, vehicle *models.Vehicle) error {
	return r.do(true, func(s *state) error {
		if vehicle.ID == uuid.Nil {
			vehicle.ID = uuid.New()
		}
		s.vehicles[vehicle.ID] = *vehicle
		return nil
	})
}

type walletRepo struct {
	do access
}

func (r *walletRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var out models.Wallet
	err := r.do(false, func(s *state) error {
		id, ok := s.walletByUser[userID]
		if !ok {
			return repository.ErrNotFound
		}
		out = s.wallets[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *walletRepo) FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.FindByUserID(ctx, userID)
}

func (r *walletRepo) CreateIfAbsent(_ context.Context, w *models.Wallet) error {
	return r.do(true, func(s *state) error {
		if _, exists := s.walletByUser[w.UserID]; exists {
			return nil
		}
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		if w.Currency == "" {
			w.Currency = "INR"
		}
		if w.Balance.IsNegative() {
			return ErrCheckViolation
		}
		now := time.Now()
		w.CreatedAt, w.UpdatedAt = now, now
		s.wallets[w.ID] = *w
		s.walletByUser[w.UserID] = w.ID
		return nil
	})
}

func (r *walletRepo) UpdateBalance(_ context.Context, walletID uuid.UUID, expectedVersion int64, balance decimal.Decimal) error {
	return r.do(true, func(s *state) error {
		w, ok := s.wallets[walletID]
		if !ok || w.Version != expectedVersion {
			return repository.ErrConflict
		}
		if balance.IsNegative() {
			return ErrCheckViolation
		}
		w.Balance = balance
		w.Version = expectedVersion + 1
		w.UpdatedAt = time.Now()
		s.wallets[walletID] = w
		return nil
	})
}

func (r *walletRepo) AppendTransaction(_ context.Context, txn *models.WalletTransaction) error {
	return r.do(true, func(s *state) error {
		if _, ok := s.wallets[txn.WalletID]; !ok {
			return fmt.Errorf("memory: wallet %s does not exist", txn.WalletID)
		}
		if !txn.Amount.IsPositive() || txn.BalanceAfter.IsNegative() {
			return ErrCheckViolation
		}
		for _, e := range s.entries[txn.WalletID] {
			if e.Sequence == txn.Sequence {
				return ErrUniqueViolation
			}
		}
		if txn.ID == uuid.Nil {
			txn.ID = uuid.New()
		}
		if txn.CreatedAt.IsZero() {
			txn.CreatedAt = time.Now()
		}
		list := append(s.entries[txn.WalletID], *txn)
		sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
		s.entries[txn.WalletID] = list
		return nil
	})
}

func (r *walletRepo) ListTransactions(_ context.Context, walletID uuid.UUID, page, limit int) ([]models.WalletTransaction, int64, error) {
	var out []models.WalletTransaction
	var total int64
	err := r.do(false, func(s *state) error {
		entries := s.entries[walletID]
		total = int64(len(entries))
		newest := make([]models.WalletTransaction, len(entries))
		for i, e := range entries {
			newest[len(entries)-1-i] = e
		}
		start, end := paginate(len(newest), page, limit)
		out = newest[start:end]
		return nil
	})
	return out, total, err
}

func (r *walletRepo) AllTransactions(_ context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	err := r.do(false, func(s *state) error {
		out = append([]models.WalletTransaction(nil), s.entries[walletID]...)
		return nil
	})
	return out, err
}

type paymentRepo struct {
	do access
}

func (r *paymentRepo) Create(_ context.Context, payment *models.Payment) error {
	return r.do(true, func(s *state) error {
		if _, exists := s.orderIndex[payment.GatewayOrderID]; exists {
			return ErrUniqueViolation
		}
		if payment.ID == uuid.Nil {
			payment.ID = uuid.New()
		}
		now := time.Now()
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = now
		}
		payment.UpdatedAt = now
		s.payments[payment.ID] = *payment
		s.paymentSeq[payment.ID] = s.next()
		s.orderIndex[payment.GatewayOrderID] = payment.ID
		return nil
	})
}

func (r *paymentRepo) FindByGatewayOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	var out models.Payment
	err := r.do(false, func(s *state) error {
		id, ok := s.orderIndex[orderID]
		if !ok {
			return repository.ErrNotFound
		}
		out = s.payments[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *paymentRepo) FindByGatewayOrderIDForUpdate(ctx context.Context, orderID string) (*models.Payment, error) {
	return r.FindByGatewayOrderID(ctx, orderID)
}

func (r *paymentRepo) FindLatestByBookingID(_ context.Context, bookingID uuid.UUID, statuses ...models.PaymentStatus) (*models.Payment, error) {
	var out models.Payment
	err := r.do(false, func(s *state) error {
		found := false
		for id, p := range s.payments {
			if p.BookingID != bookingID || (len(statuses) > 0 && !containsPaymentStatus(statuses, p.Status)) {
				continue
			}
			if !found || p.CreatedAt.After(out.CreatedAt) ||
				(p.CreatedAt.Equal(out.CreatedAt) && s.paymentSeq[id] > s.paymentSeq[out.ID]) {
				out = p
				found = true
			}
		}
		if !found {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func containsPaymentStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *paymentRepo) Update(_ context.Context, id uuid.UUID, from models.PaymentStatus, updates map[string]interface{}) error {
	return r.do(true, func(s *state) error {
		p, ok := s.payments[id]
		if !ok || p.Status != from {
			return repository.ErrConflict
		}
		for col, v := range updates {
			if err := setPaymentColumn(&p, col, v); err != nil {
				return err
			}
		}
		p.UpdatedAt = time.Now()
		s.payments[id] = p
		return nil
	})
}

func (r *paymentRepo) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := r.do(false, func(s *state) error {
		for _, p := range s.payments {
			if p.Status == models.PaymentPending && p.CreatedAt.Before(createdBefore) {
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
			switch {
			case a == nil && b != nil:
				return true
			case a != nil && b == nil:
				return false
			case a != nil && !a.Equal(*b):
				return a.Before(*b)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *paymentRepo) MarkChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.do(true, func(s *state) error {
		p, ok := s.payments[id]
		if !ok || p.Status != models.PaymentPending {
			return repository.ErrConflict
		}
		checked := at
		p.LastCheckedAt = &checked
		p.CheckAttempts++
		s.payments[id] = p
		return nil
	})
}
