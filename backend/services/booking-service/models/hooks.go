package models

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (b *Booking) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (t *WalletTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ErrImmutableLedger is returned by any attempt to rewrite a ledger entry.
var ErrImmutableLedger = errors.New("wallet transactions are append-only")

func (t *WalletTransaction) BeforeUpdate(*gorm.DB) error { return ErrImmutableLedger }
func (t *WalletTransaction) BeforeDelete(*gorm.DB) error { return ErrImmutableLedger }
