package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	domainlistings "campusmarket/internal/domain/listings"
	domainuser "campusmarket/internal/domain/user"
)

const defaultSearchLimit = 20

// ListingRepository is an in-memory implementation for demo purposes.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]*domainlistings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{
		items: make(map[domainlistings.ListingID]*domainlistings.Listing),
	}
}

// ByID returns a copy of the listing or domainlistings.ErrNotFound.
func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(ids))
	for _, id := range ids {
		if listing, ok := r.items[id]; ok {
			out[id] = cloneListing(listing)
		}
	}
	return out, nil
}

// Save stores a copy without the pending events.
func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil || strings.TrimSpace(string(listing.ID)) == "" {
		return domainlistings.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listing.ID] = cloneListing(listing)
	return nil
}

// Search returns listings that satisfy provided filters, newest first.
func (r *ListingRepository) Search(ctx context.Context, params domainlistings.SearchParams) ([]*domainlistings.Listing, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(params.Query))
	matches := make([]*domainlistings.Listing, 0, len(r.items))
	for _, listing := range r.items {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if !params.IncludeInactive && listing.Status != domainlistings.StatusActive {
			continue
		}
		if params.Kind != "" && listing.Kind != params.Kind {
			continue
		}
		if params.Seller != "" && listing.Seller != params.Seller {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(listing.Title+" "+listing.Description), query) {
			continue
		}
		matches = append(matches, listing)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	start := min(max(params.Offset, 0), total)
	end := min(start+limit, total)
	out := make([]*domainlistings.Listing, 0, end-start)
	for _, listing := range matches[start:end] {
		out = append(out, cloneListing(listing))
	}
	return out, total, nil
}

func cloneListing(l *domainlistings.Listing) *domainlistings.Listing {
	copyListing := *l
	copyListing.Images = append([]string(nil), l.Images...)
	copyListing.Clear()
	return &copyListing
}

// FavoriteRepository keeps every user's saved listings in insertion order.
type FavoriteRepository struct {
	mu    sync.Mutex
	items map[domainuser.ID][]domainlistings.ListingID
}

func NewFavoriteRepository() *FavoriteRepository {
	return &FavoriteRepository{items: make(map[domainuser.ID][]domainlistings.ListingID)}
}

func (r *FavoriteRepository) Toggle(ctx context.Context, userID domainuser.ID, listingID domainlistings.ListingID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.items[userID]
	for i, id := range list {
		if id == listingID {
			r.items[userID] = append(list[:i:i], list[i+1:]...)
			return false, nil
		}
	}
	r.items[userID] = append(list, listingID)
	return true, nil
}

func (r *FavoriteRepository) List(ctx context.Context, userID domainuser.ID) ([]domainlistings.ListingID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainlistings.ListingID(nil), r.items[userID]...), nil
}

var _ domainlistings.Repository = (*ListingRepository)(nil)
var _ domainlistings.FavoriteRepository = (*FavoriteRepository)(nil)
