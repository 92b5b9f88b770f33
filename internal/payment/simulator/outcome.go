package simulator

import (
	"math/rand"

	"github.com/Mujojo03/BitMarket-sub000/internal/payment"
)

// Outcome decides how a pending invoice resolves once the buyer "pays".
type Outcome interface {
	Resolve() string
}

// RandomOutcome settles SuccessPercent of invoices and fails the rest.
type RandomOutcome struct {
	SuccessPercent int
}

func (o RandomOutcome) Resolve() string {
	roll := rand.Intn(100)
	return calcOutcome(roll, o.SuccessPercent)
}

func calcOutcome(roll, successPercent int) string {
	if roll < successPercent {
		return payment.StatusPaid
	}
	return payment.StatusFailed
}

// FixedOutcome always resolves to the same gateway status.
type FixedOutcome string

func (o FixedOutcome) Resolve() string { return string(o) }
