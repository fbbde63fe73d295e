// Package ledger holds the balance rules of the wallet ledger: how an entry
// moves a balance and how a wallet's history is audited against its balance.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrTooPrecise        = errors.New("amount must have at most two decimal places")
	ErrInsufficient      = errors.New("insufficient balance")
	ErrUnknownEntryType  = errors.New("unknown entry type")
)

// ValidateAmount checks a money amount supplied by a caller.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrTooPrecise
	}
	return nil
}

// Apply returns the balance after applying an entry of type t to before.
// A debit larger than before fails with ErrInsufficient.
func Apply(before decimal.Decimal, t models.EntryType, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount); err != nil {
		return before, err
	}
	switch t {
	case models.Credit:
		return before.Add(amount), nil
	case models.Debit:
		if before.LessThan(amount) {
			return before, ErrInsufficient
		}
		return before.Sub(amount), nil
	}
	return before, fmt.Errorf("%w: %q", ErrUnknownEntryType, t)
}

// Violation describes the first place a wallet's history stops adding up.
type Violation struct {
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("ledger violation at sequence %d: %s", v.Sequence, v.Reason)
}

// Audit is the result of Verify.
type Audit struct {
	Entries       int             `json:"entries"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledgerBalance"`
	Consistent    bool            `json:"consistent"`
	Violation     *Violation      `json:"violation,omitempty"`
}

// Verify replays entries (oldest first) and checks that every entry moves
// the balance by exactly its amount, that each entry starts where the
// previous one ended, that no balance is negative, and that the final
// balance equals the wallet's stored balance.
func Verify(balance decimal.Decimal, entries []models.WalletTransaction) Audit {
	audit := Audit{Entries: len(entries), Balance: balance, LedgerBalance: decimal.Zero}

	running := decimal.Zero
	for i, e := range entries {
		fail := func(format string, args ...interface{}) Audit {
			audit.LedgerBalance = running
			audit.Violation = &Violation{Sequence: e.Sequence, Reason: fmt.Sprintf(format, args...)}
			return audit
		}

		if i > 0 && e.Sequence <= entries[i-1].Sequence {
			return fail("sequence not increasing after %d", entries[i-1].Sequence)
		}
		if !e.BalanceBefore.Equal(running) {
			return fail("balance_before %s does not match previous balance_after %s", e.BalanceBefore, running)
		}
		after, err := Apply(e.BalanceBefore, e.TransactionType, e.Amount)
		if err != nil {
			return fail("%v", err)
		}
		if !after.Equal(e.BalanceAfter) {
			return fail("balance_after %s, expected %s", e.BalanceAfter, after)
		}
		running = after
	}

	audit.LedgerBalance = running
	if !running.Equal(balance) {
		audit.Violation = &Violation{Reason: fmt.Sprintf("wallet balance %s differs from ledger sum %s", balance, running)}
		if n := len(entries); n > 0 {
			audit.Violation.Sequence = entries[n-1].Sequence
		}
		return audit
	}
	audit.Consistent = true
	return audit
}
