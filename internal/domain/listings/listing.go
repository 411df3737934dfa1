package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"campusmarket/internal/domain/shared/events"
)

var (
	ErrIDRequired     = errors.New("listings: id is required")
	ErrSellerRequired = errors.New("listings: seller is required")
	ErrTitleRequired  = errors.New("listings: title is required")
	ErrInvalidKind    = errors.New("listings: invalid kind")
	ErrNegativePrice  = errors.New("listings: price must be non-negative")
	ErrInvalidState   = errors.New("listings: invalid state transition")
	ErrNotFound       = errors.New("listings: not found")
	ErrNotOwner       = errors.New("listings: listing belongs to another seller")
)

type ListingID string
type SellerID string

type Kind string

const (
	KindMarketplace Kind = "marketplace"
	KindHousing     Kind = "housing"
	KindServices    Kind = "services"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusSuspended Status = "suspended"
)

type Listing struct {
	ID          ListingID
	Seller      SellerID
	Kind        Kind
	Title       string
	Description string
	PriceCents  int64
	Images      []string
	Campus      string
	Status      Status
	// SuspendReason is set by moderators.
	SuspendReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	events.Recorder
}

type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	ByIDs(ctx context.Context, ids []ListingID) (map[ListingID]*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	Search(ctx context.Context, params SearchParams) ([]*Listing, int, error)
}

type SearchParams struct {
	Kind   Kind
	Query  string
	Seller SellerID
	// IncludeInactive also returns draft, sold and suspended listings.
	IncludeInactive bool
	Limit           int
	Offset          int
}

type CreateParams struct {
	ID          ListingID
	Seller      SellerID
	Kind        Kind
	Title       string
	Description string
	PriceCents  int64
	Images      []string
	Campus      string
	Now         time.Time
}

func NewListing(params CreateParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(string(params.Seller)) == "" {
		return nil, ErrSellerRequired
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrTitleRequired
	}
	kind, ok := ParseKind(string(params.Kind))
	if !ok {
		return nil, ErrInvalidKind
	}
	if params.PriceCents < 0 {
		return nil, ErrNegativePrice
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	l := &Listing{
		ID:          params.ID,
		Seller:      params.Seller,
		Kind:        kind,
		Title:       strings.TrimSpace(params.Title),
		Description: strings.TrimSpace(params.Description),
		PriceCents:  params.PriceCents,
		Images:      append([]string(nil), params.Images...),
		Campus:      strings.TrimSpace(params.Campus),
		Status:      StatusDraft,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	l.Record(ListingEvent{Name: EventListingCreated, ListingID: l.ID, SellerID: l.Seller, At: l.CreatedAt})
	return l, nil
}

func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindMarketplace:
		return KindMarketplace, true
	case KindHousing:
		return KindHousing, true
	case KindServices:
		return KindServices, true
	}
	return "", false
}

func (l *Listing) Publish(now time.Time) error {
	switch l.Status {
	case StatusActive:
		return nil
	case StatusDraft:
	default:
		return ErrInvalidState
	}
	l.Status = StatusActive
	l.touch(now)
	l.Record(ListingEvent{Name: EventListingPublished, ListingID: l.ID, SellerID: l.Seller, At: l.UpdatedAt})
	return nil
}

// MarkSold is a seller action; only active listings can be sold.
func (l *Listing) MarkSold(seller SellerID, now time.Time) error {
	if l.Seller != seller {
		return ErrNotOwner
	}
	if l.Status != StatusActive {
		return ErrInvalidState
	}
	l.Status = StatusSold
	l.touch(now)
	l.Record(ListingEvent{Name: EventListingSold, ListingID: l.ID, SellerID: l.Seller, At: l.UpdatedAt})
	return nil
}

// Suspend is a moderation action and works from any state.
func (l *Listing) Suspend(reason string, now time.Time) error {
	if l.Status == StatusSuspended {
		return nil
	}
	l.Status = StatusSuspended
	l.SuspendReason = strings.TrimSpace(reason)
	l.touch(now)
	l.Record(ListingEvent{Name: EventListingSuspended, ListingID: l.ID, SellerID: l.Seller, Reason: l.SuspendReason, At: l.UpdatedAt})
	return nil
}

func (l *Listing) Thumbnail() string {
	if len(l.Images) == 0 {
		return ""
	}
	return l.Images[0]
}

func (l *Listing) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	l.UpdatedAt = now.UTC()
}
