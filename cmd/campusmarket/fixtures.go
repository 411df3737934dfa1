package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	authsvc "campusmarket/internal/app/services/auth"
	domainlistings "campusmarket/internal/domain/listings"
	domainuser "campusmarket/internal/domain/user"
)

type listingFixture struct {
	ID          string        `json:"id"`
	Seller      sellerFixture `json:"seller"`
	Kind        string        `json:"kind"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	PriceCents  int64         `json:"price_cents"`
	Images      []string      `json:"images"`
	Campus      string        `json:"campus"`
	CreatedAt   string        `json:"created_at"`
}

type sellerFixture struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// loadListingFixtures seeds demo sellers and published listings. Fixtures that already
// exist are left alone so restarts against MongoDB are harmless.
func (a *application) loadListingFixtures(ctx context.Context, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("listing fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("listing fixtures file empty", "path", path)
		return nil
	}

	var fixtures []listingFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	for _, fx := range fixtures {
		if _, err := a.repos.listings.ByID(ctx, domainlistings.ListingID(fx.ID)); err == nil {
			continue
		}
		seller, err := a.ensureSeller(ctx, fx.Seller, fx.Campus)
		if err != nil {
			logger.Error("fixture seller unavailable", "listing_id", fx.ID, "email", fx.Seller.Email, "error", err)
			continue
		}
		kind, ok := domainlistings.ParseKind(fx.Kind)
		if !ok {
			kind = domainlistings.KindMarketplace
		}
		created := parseFixtureTime(fx.CreatedAt, now)
		listing, err := domainlistings.NewListing(domainlistings.CreateParams{
			ID:          domainlistings.ListingID(fx.ID),
			Seller:      domainlistings.SellerID(seller.ID),
			Kind:        kind,
			Title:       fx.Title,
			Description: fx.Description,
			PriceCents:  fx.PriceCents,
			Images:      append([]string(nil), fx.Images...),
			Campus:      fx.Campus,
			Now:         created,
		})
		if err != nil {
			logger.Error("fixture invalid", "listing_id", fx.ID, "error", err)
			continue
		}
		if err := listing.Publish(created); err != nil {
			logger.Error("fixture publish failed", "listing_id", fx.ID, "error", err)
			continue
		}
		if err := a.repos.listings.Save(ctx, listing); err != nil {
			logger.Error("cannot store fixture listing", "listing_id", fx.ID, "error", err)
			continue
		}
		logger.Info("listing fixture imported", "listing_id", listing.ID, "seller_id", seller.ID)
	}
	return nil
}

func (a *application) ensureSeller(ctx context.Context, fx sellerFixture, campus string) (*domainuser.User, error) {
	email := strings.ToLower(strings.TrimSpace(fx.Email))
	existing, err := a.repos.users.ByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domainuser.ErrNotFound) {
		return nil, err
	}
	res, err := a.auth.Register(ctx, authsvc.RegisterParams{
		Email:       email,
		DisplayName: fx.DisplayName,
		Password:    fx.Password,
		Campus:      campus,
	})
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

func parseFixtureTime(value string, fallback time.Time) time.Time {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return fallback
}

func defaultListingFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "listings.json"),
		filepath.Join("..", "..", "data", "listings.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}
