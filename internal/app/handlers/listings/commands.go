package listings

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/app/outbox"
	domainlistings "campusmarket/internal/domain/listings"
	domainuser "campusmarket/internal/domain/user"
)

const (
	createListingKey   = "listings.create"
	publishListingKey  = "listings.publish"
	markSoldKey        = "listings.mark_sold"
	suspendListingKey  = "admin.listings.suspend"
	toggleFavoriteKey  = "favorites.toggle"
	defaultCatalogSize = 20
)

// Deps are shared by listing and favorite handlers.
type Deps struct {
	Listings  domainlistings.Repository
	Favorites domainlistings.FavoriteRepository
	Users     domainuser.Repository
	Outbox    outbox.Outbox
	Encoder   outbox.EventEncoder
	Now       func() time.Time
	NewID     func() string
	Logger    *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// save persists the listing and ships the events it recorded.
func (d *Deps) save(ctx context.Context, listing *domainlistings.Listing) error {
	pending := listing.Pending()
	if err := d.Listings.Save(ctx, listing); err != nil {
		return err
	}
	listing.Clear()
	return outbox.RecordDomainEvents(ctx, d.Outbox, d.Encoder, pending)
}

type CreateListingCommand struct {
	SellerID    string   `validate:"required"`
	Kind        string   `validate:"required,oneof=marketplace housing services"`
	Title       string   `validate:"required,max=120"`
	Description string   `validate:"max=4000"`
	PriceCents  int64    `validate:"gte=0"`
	Images      []string `validate:"max=10,dive,url"`
	Campus      string
	// Publish makes the listing active right away instead of leaving a draft.
	Publish bool
	// RequestKey comes from the Idempotency-Key header.
	RequestKey string
}

func (CreateListingCommand) Key() string       { return createListingKey }
func (c CreateListingCommand) ActorID() string { return c.SellerID }

func (c CreateListingCommand) IdempotencyKey() string {
	if c.RequestKey == "" {
		return ""
	}
	return c.SellerID + ":" + c.RequestKey
}

func (CreateListingCommand) ResultPrototype() any { return &dto.Listing{} }

type CreateListingHandler struct{ *Deps }

func (h CreateListingHandler) Handle(ctx context.Context, cmd CreateListingCommand) (dto.Listing, error) {
	now := h.now()
	listing, err := domainlistings.NewListing(domainlistings.CreateParams{
		ID:          domainlistings.ListingID(h.newID()),
		Seller:      domainlistings.SellerID(cmd.SellerID),
		Kind:        domainlistings.Kind(cmd.Kind),
		Title:       cmd.Title,
		Description: cmd.Description,
		PriceCents:  cmd.PriceCents,
		Images:      cmd.Images,
		Campus:      cmd.Campus,
		Now:         now,
	})
	if err != nil {
		return dto.Listing{}, err
	}
	if cmd.Publish {
		if err := listing.Publish(now); err != nil {
			return dto.Listing{}, err
		}
	}
	if err := h.save(ctx, listing); err != nil {
		return dto.Listing{}, err
	}
	if h.Logger != nil {
		h.Logger.Info("listing created", "listing_id", listing.ID, "seller_id", cmd.SellerID, "status", listing.Status)
	}
	return dto.MapListing(listing), nil
}

type PublishListingCommand struct {
	SellerID  string `validate:"required"`
	ListingID string `validate:"required"`
}

func (PublishListingCommand) Key() string       { return publishListingKey }
func (c PublishListingCommand) ActorID() string { return c.SellerID }

type PublishListingHandler struct{ *Deps }

func (h PublishListingHandler) Handle(ctx context.Context, cmd PublishListingCommand) (dto.Listing, error) {
	listing, err := h.Listings.ByID(ctx, domainlistings.ListingID(cmd.ListingID))
	if err != nil {
		return dto.Listing{}, err
	}
	if listing.Seller != domainlistings.SellerID(cmd.SellerID) {
		return dto.Listing{}, domainlistings.ErrNotOwner
	}
	if err := listing.Publish(h.now()); err != nil {
		return dto.Listing{}, err
	}
	if err := h.save(ctx, listing); err != nil {
		return dto.Listing{}, err
	}
	return dto.MapListing(listing), nil
}

type MarkSoldCommand struct {
	SellerID  string `validate:"required"`
	ListingID string `validate:"required"`
}

func (MarkSoldCommand) Key() string       { return markSoldKey }
func (c MarkSoldCommand) ActorID() string { return c.SellerID }

type MarkSoldHandler struct{ *Deps }

func (h MarkSoldHandler) Handle(ctx context.Context, cmd MarkSoldCommand) (dto.Listing, error) {
	listing, err := h.Listings.ByID(ctx, domainlistings.ListingID(cmd.ListingID))
	if err != nil {
		return dto.Listing{}, err
	}
	if err := listing.MarkSold(domainlistings.SellerID(cmd.SellerID), h.now()); err != nil {
		return dto.Listing{}, err
	}
	if err := h.save(ctx, listing); err != nil {
		return dto.Listing{}, err
	}
	if h.Logger != nil {
		h.Logger.Info("listing sold", "listing_id", listing.ID)
	}
	return dto.MapListing(listing), nil
}

// SuspendListingCommand takes a listing off the catalog for moderation.
type SuspendListingCommand struct {
	ListingID string `validate:"required"`
	Reason    string `validate:"max=500"`
}

func (SuspendListingCommand) Key() string { return suspendListingKey }
func (SuspendListingCommand) AdminOnly()  {}

type SuspendListingHandler struct{ *Deps }

func (h SuspendListingHandler) Handle(ctx context.Context, cmd SuspendListingCommand) (dto.Listing, error) {
	listing, err := h.Listings.ByID(ctx, domainlistings.ListingID(cmd.ListingID))
	if err != nil {
		return dto.Listing{}, err
	}
	if err := listing.Suspend(cmd.Reason, h.now()); err != nil {
		return dto.Listing{}, err
	}
	if err := h.save(ctx, listing); err != nil {
		return dto.Listing{}, err
	}
	if h.Logger != nil {
		h.Logger.Warn("listing suspended", "listing_id", listing.ID, "reason", listing.SuspendReason)
	}
	return dto.MapListing(listing), nil
}

type ToggleFavoriteCommand struct {
	UserID    string `validate:"required"`
	ListingID string `validate:"required"`
}

func (ToggleFavoriteCommand) Key() string       { return toggleFavoriteKey }
func (c ToggleFavoriteCommand) ActorID() string { return c.UserID }

type ToggleFavoriteHandler struct{ *Deps }

func (h ToggleFavoriteHandler) Handle(ctx context.Context, cmd ToggleFavoriteCommand) (dto.FavoriteState, error) {
	if _, err := h.Listings.ByID(ctx, domainlistings.ListingID(cmd.ListingID)); err != nil {
		return dto.FavoriteState{}, err
	}
	fav, err := h.Favorites.Toggle(ctx, domainuser.ID(cmd.UserID), domainlistings.ListingID(cmd.ListingID))
	if err != nil {
		return dto.FavoriteState{}, err
	}
	return dto.FavoriteState{ListingID: cmd.ListingID, Favorite: fav}, nil
}

var _ commands.Handler[CreateListingCommand, dto.Listing] = CreateListingHandler{}
var _ commands.Handler[PublishListingCommand, dto.Listing] = PublishListingHandler{}
var _ commands.Handler[MarkSoldCommand, dto.Listing] = MarkSoldHandler{}
var _ commands.Handler[SuspendListingCommand, dto.Listing] = SuspendListingHandler{}
var _ commands.Handler[ToggleFavoriteCommand, dto.FavoriteState] = ToggleFavoriteHandler{}
