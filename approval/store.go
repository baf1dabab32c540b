package approval

import "context"

// Store persists revenue claims. Claims are never deleted.
type Store interface {
	// UpsertClaim atomically inserts or updates the claim with the given
	// natural key. fn receives the existing claim (nil if absent) and
	// returns the claim to store. If fn fails nothing is written.
	UpsertClaim(ctx context.Context, key NaturalKey, fn func(existing *RevenueClaim) (RevenueClaim, error)) (RevenueClaim, error)

	// GetClaim returns a claim or a core.NotFoundError.
	GetClaim(ctx context.Context, id string) (RevenueClaim, error)

	// FindClaim looks a claim up by natural key.
	FindClaim(ctx context.Context, key NaturalKey) (RevenueClaim, error)

	// UpdateClaim applies fn atomically to one claim.
	UpdateClaim(ctx context.Context, id string, fn func(*RevenueClaim) error) (RevenueClaim, error)

	// ListClaims returns matching claims ordered by CreatedAt.
	ListClaims(ctx context.Context, f ClaimFilter) ([]RevenueClaim, error)
}
