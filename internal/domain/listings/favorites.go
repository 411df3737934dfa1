package listings

import (
	"context"

	"campusmarket/internal/domain/user"
)

// FavoriteRepository keeps each user's saved listings (the "cart").
type FavoriteRepository interface {
	// Toggle flips membership and returns the new state.
	Toggle(ctx context.Context, userID user.ID, listingID ListingID) (bool, error)
	List(ctx context.Context, userID user.ID) ([]ListingID, error)
}
