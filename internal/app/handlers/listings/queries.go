package listings

import (
	"context"

	"campusmarket/internal/app/dto"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	domainlistings "campusmarket/internal/domain/listings"
	domainuser "campusmarket/internal/domain/user"
)

const (
	searchCatalogKey  = "listings.catalog"
	getListingKey     = "listings.get"
	listFavoritesKey  = "favorites.list"
	adminListUsersKey = "admin.users.list"
)

// SearchCatalogQuery lists active listings. ViewerID, when set, marks favorites.
type SearchCatalogQuery struct {
	ViewerID string
	Kind     string `validate:"omitempty,oneof=marketplace housing services"`
	Query    string `validate:"max=200"`
	SellerID string
	Limit    int `validate:"gte=0,lte=100"`
	Offset   int `validate:"gte=0"`
}

func (SearchCatalogQuery) Key() string { return searchCatalogKey }

type SearchCatalogHandler struct{ *Deps }

func (h SearchCatalogHandler) Handle(ctx context.Context, q SearchCatalogQuery) (dto.ListingCatalog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultCatalogSize
	}
	params := domainlistings.SearchParams{
		Kind:   domainlistings.Kind(q.Kind),
		Query:  q.Query,
		Seller: domainlistings.SellerID(q.SellerID),
		Limit:  limit,
		Offset: q.Offset,
	}
	// sellers browsing their own shelf also see drafts and sold items
	if q.SellerID != "" && q.SellerID == q.ViewerID {
		params.IncludeInactive = true
	}
	items, total, err := h.Listings.Search(ctx, params)
	if err != nil {
		return dto.ListingCatalog{}, err
	}
	out := dto.MapCatalog(items, total, limit, q.Offset)
	favs, err := h.favoriteSet(ctx, q.ViewerID)
	if err != nil {
		return dto.ListingCatalog{}, err
	}
	for i := range out.Items {
		_, out.Items[i].Favorite = favs[domainlistings.ListingID(out.Items[i].ID)]
	}
	return out, nil
}

func (d *Deps) favoriteSet(ctx context.Context, userID string) (map[domainlistings.ListingID]struct{}, error) {
	if userID == "" || d.Favorites == nil {
		return nil, nil
	}
	ids, err := d.Favorites.List(ctx, domainuser.ID(userID))
	if err != nil {
		return nil, err
	}
	set := make(map[domainlistings.ListingID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// GetListingQuery loads one listing. Inactive listings are only shown to their seller and
// moderators.
type GetListingQuery struct {
	ViewerID  string
	ListingID string `validate:"required"`
}

func (GetListingQuery) Key() string { return getListingKey }

type GetListingHandler struct{ *Deps }

func (h GetListingHandler) Handle(ctx context.Context, q GetListingQuery) (dto.Listing, error) {
	listing, err := h.Listings.ByID(ctx, domainlistings.ListingID(q.ListingID))
	if err != nil {
		return dto.Listing{}, err
	}
	if listing.Status != domainlistings.StatusActive && string(listing.Seller) != q.ViewerID {
		p, ok := policies.PrincipalFrom(ctx)
		if !ok || !p.IsAdmin() {
			return dto.Listing{}, domainlistings.ErrNotFound
		}
	}
	out := dto.MapListing(listing)
	favs, err := h.favoriteSet(ctx, q.ViewerID)
	if err != nil {
		return dto.Listing{}, err
	}
	_, out.Favorite = favs[listing.ID]
	return out, nil
}

type ListFavoritesQuery struct {
	UserID string `validate:"required"`
}

func (ListFavoritesQuery) Key() string       { return listFavoritesKey }
func (c ListFavoritesQuery) ActorID() string { return c.UserID }

type ListFavoritesHandler struct{ *Deps }

func (h ListFavoritesHandler) Handle(ctx context.Context, q ListFavoritesQuery) ([]dto.Listing, error) {
	ids, err := h.Favorites.List(ctx, domainuser.ID(q.UserID))
	if err != nil {
		return nil, err
	}
	found, err := h.Listings.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]dto.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := found[id]; ok {
			item := dto.MapListing(l)
			item.Favorite = true
			out = append(out, item)
		}
	}
	return out, nil
}

type AdminListUsersQuery struct {
	Query  string `validate:"max=200"`
	Limit  int    `validate:"gte=0,lte=200"`
	Offset int    `validate:"gte=0"`
}

func (AdminListUsersQuery) Key() string { return adminListUsersKey }
func (AdminListUsersQuery) AdminOnly()  {}

type AdminListUsersHandler struct{ *Deps }

func (h AdminListUsersHandler) Handle(ctx context.Context, q AdminListUsersQuery) (dto.UserList, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	users, total, err := h.Users.List(ctx, domainuser.ListParams{Query: q.Query, Limit: limit, Offset: q.Offset})
	if err != nil {
		return dto.UserList{}, err
	}
	out := dto.UserList{Items: make([]dto.UserProfile, 0, len(users)), Total: total}
	for _, u := range users {
		out.Items = append(out.Items, dto.MapUserProfile(u))
	}
	return out, nil
}

var _ queries.Handler[SearchCatalogQuery, dto.ListingCatalog] = SearchCatalogHandler{}
var _ queries.Handler[GetListingQuery, dto.Listing] = GetListingHandler{}
var _ queries.Handler[ListFavoritesQuery, []dto.Listing] = ListFavoritesHandler{}
var _ queries.Handler[AdminListUsersQuery, dto.UserList] = AdminListUsersHandler{}
