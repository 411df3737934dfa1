package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlistings "campusmarket/internal/domain/listings"
	domainuser "campusmarket/internal/domain/user"
)

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	col := db.Collection("agg_listing")
	ensureIndexes(col,
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
	)
	return &ListingRepository{col: col}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlistings.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ListingRepository) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": raw}})
	if err != nil {
		return nil, err
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		l := doc.toAggregate()
		out[l.ID] = l
	}
	return out, nil
}

// Save upserts the listing state; recorded events are not persisted here.
func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil || strings.TrimSpace(string(listing.ID)) == "" {
		return domainlistings.ErrIDRequired
	}
	doc := newListingDocument(listing)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *ListingRepository) Search(ctx context.Context, params domainlistings.SearchParams) ([]*domainlistings.Listing, int, error) {
	filter := searchFilter(params)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(max(params.Offset, 0))).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*domainlistings.Listing, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, int(total), nil
}

func searchFilter(params domainlistings.SearchParams) bson.M {
	filter := bson.M{}
	if !params.IncludeInactive {
		filter["status"] = string(domainlistings.StatusActive)
	}
	if params.Kind != "" {
		filter["kind"] = string(params.Kind)
	}
	if params.Seller != "" {
		filter["seller_id"] = string(params.Seller)
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
		filter["$or"] = bson.A{bson.M{"title": pattern}, bson.M{"description": pattern}}
	}
	return filter
}

type listingDocument struct {
	ID            string    `bson:"_id"`
	SellerID      string    `bson:"seller_id"`
	Kind          string    `bson:"kind"`
	Title         string    `bson:"title"`
	Description   string    `bson:"description"`
	PriceCents    int64     `bson:"price_cents"`
	Images        []string  `bson:"images"`
	Campus        string    `bson:"campus,omitempty"`
	Status        string    `bson:"status"`
	SuspendReason string    `bson:"suspend_reason,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func newListingDocument(l *domainlistings.Listing) listingDocument {
	return listingDocument{
		ID:            string(l.ID),
		SellerID:      string(l.Seller),
		Kind:          string(l.Kind),
		Title:         l.Title,
		Description:   l.Description,
		PriceCents:    l.PriceCents,
		Images:        append([]string(nil), l.Images...),
		Campus:        l.Campus,
		Status:        string(l.Status),
		SuspendReason: l.SuspendReason,
		CreatedAt:     l.CreatedAt.UTC(),
		UpdatedAt:     l.UpdatedAt.UTC(),
	}
}

func (d listingDocument) toAggregate() *domainlistings.Listing {
	return &domainlistings.Listing{
		ID:            domainlistings.ListingID(d.ID),
		Seller:        domainlistings.SellerID(d.SellerID),
		Kind:          domainlistings.Kind(d.Kind),
		Title:         d.Title,
		Description:   d.Description,
		PriceCents:    d.PriceCents,
		Images:        append([]string(nil), d.Images...),
		Campus:        d.Campus,
		Status:        domainlistings.Status(d.Status),
		SuspendReason: d.SuspendReason,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

type FavoriteRepository struct {
	col *mongo.Collection
}

func NewFavoriteRepository(db *mongo.Database) *FavoriteRepository {
	col := db.Collection("app_favorites")
	ensureIndexes(col, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}})
	return &FavoriteRepository{col: col}
}

type favoriteDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ListingID string    `bson:"listing_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func favoriteKey(userID domainuser.ID, listingID domainlistings.ListingID) string {
	return string(userID) + "|" + string(listingID)
}

// Toggle removes an existing favorite or inserts a new one. A concurrent insert of the
// same pair counts as favorited.
func (r *FavoriteRepository) Toggle(ctx context.Context, userID domainuser.ID, listingID domainlistings.ListingID) (bool, error) {
	key := favoriteKey(userID, listingID)
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, err
	}
	if res.DeletedCount > 0 {
		return false, nil
	}
	_, err = r.col.InsertOne(ctx, favoriteDocument{
		ID:        key,
		UserID:    string(userID),
		ListingID: string(listingID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return false, err
	}
	return true, nil
}

func (r *FavoriteRepository) List(ctx context.Context, userID domainuser.ID) ([]domainlistings.ListingID, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"user_id": string(userID)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []favoriteDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainlistings.ListingID, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domainlistings.ListingID(doc.ListingID))
	}
	return out, nil
}

var _ domainlistings.Repository = (*ListingRepository)(nil)
var _ domainlistings.FavoriteRepository = (*FavoriteRepository)(nil)
