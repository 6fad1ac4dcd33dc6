package payment

import (
	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

// DeriveDeltas computes the balance deltas a payment mutation produces from
// the row state before and after the write. A nil before is a create, a nil
// after is a delete. Zero deltas are dropped.
func DeriveDeltas(before, after *domain.Payment) []domain.BalanceDelta {
	var out []domain.BalanceDelta
	add := func(d domain.BalanceDelta) {
		if !d.Value.IsZero() {
			out = append(out, d)
		}
	}

	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		add(domain.BalanceDelta{ContactPersonID: after.ContactPersonID, Value: after.Amount})
	case after == nil:
		add(domain.BalanceDelta{ContactPersonID: before.ContactPersonID, Value: before.Amount.Neg()})
	case before.ContactPersonID == after.ContactPersonID:
		add(domain.BalanceDelta{ContactPersonID: after.ContactPersonID, Value: after.Amount.Sub(before.Amount)})
	default:
		add(domain.BalanceDelta{ContactPersonID: before.ContactPersonID, Value: before.Amount.Neg()})
		add(domain.BalanceDelta{ContactPersonID: after.ContactPersonID, Value: after.Amount})
	}
	return out
}
