package dto

import (
	"time"

	domainlistings "campusmarket/internal/domain/listings"
)

type Listing struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"seller_id"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	PriceCents    int64     `json:"price_cents"`
	Images        []string  `json:"images"`
	Campus        string    `json:"campus,omitempty"`
	Status        string    `json:"status"`
	SuspendReason string    `json:"suspend_reason,omitempty"`
	Favorite      bool      `json:"favorite,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ListingCatalog struct {
	Items  []Listing `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type FavoriteState struct {
	ListingID string `json:"listing_id"`
	Favorite  bool   `json:"favorite"`
}

func MapListing(l *domainlistings.Listing) Listing {
	if l == nil {
		return Listing{}
	}
	return Listing{
		ID:            string(l.ID),
		SellerID:      string(l.Seller),
		Kind:          string(l.Kind),
		Title:         l.Title,
		Description:   l.Description,
		PriceCents:    l.PriceCents,
		Images:        append([]string{}, l.Images...),
		Campus:        l.Campus,
		Status:        string(l.Status),
		SuspendReason: l.SuspendReason,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func MapCatalog(items []*domainlistings.Listing, total, limit, offset int) ListingCatalog {
	out := ListingCatalog{Items: make([]Listing, 0, len(items)), Total: total, Limit: limit, Offset: offset}
	for _, l := range items {
		out.Items = append(out.Items, MapListing(l))
	}
	return out
}
