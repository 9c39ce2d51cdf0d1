package port

import "context"

type PaymentRail interface {
	// Transfer moves amount of the payment currency between two identities
	Transfer(ctx context.Context, from, to string, amount int64) error
}
