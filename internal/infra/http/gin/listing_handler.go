package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	listingsapp "campusmarket/internal/app/handlers/listings"
	"campusmarket/internal/app/queries"
)

type ListingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type createListingRequest struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	PriceCents  int64    `json:"price_cents"`
	Images      []string `json:"images"`
	Campus      string   `json:"campus"`
	Publish     bool     `json:"publish"`
}

func viewerID(c *gin.Context) string {
	if p, ok := currentPrincipal(c); ok {
		return p.ID
	}
	return ""
}

func (h ListingHandler) Catalog(c *gin.Context) {
	q := listingsapp.SearchCatalogQuery{
		ViewerID: viewerID(c),
		Kind:     strings.ToLower(strings.TrimSpace(c.Query("kind"))),
		Query:    c.Query("q"),
		SellerID: strings.TrimSpace(c.Query("seller_id")),
		Limit:    parseIntWithDefault(c.Query("limit"), 20),
		Offset:   parseIntWithDefault(c.Query("offset"), 0),
	}
	result, err := queries.Ask[listingsapp.SearchCatalogQuery, dto.ListingCatalog](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err, "search catalog")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) Get(c *gin.Context) {
	result, err := queries.Ask[listingsapp.GetListingQuery, dto.Listing](c.Request.Context(), h.Queries,
		listingsapp.GetListingQuery{ViewerID: viewerID(c), ListingID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "get listing", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) Create(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := commands.Dispatch[listingsapp.CreateListingCommand, dto.Listing](c.Request.Context(), h.Commands, listingsapp.CreateListingCommand{
		SellerID:    principal.ID,
		Kind:        strings.ToLower(strings.TrimSpace(req.Kind)),
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Images:      req.Images,
		Campus:      req.Campus,
		Publish:     req.Publish,
		RequestKey:  strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		respondError(c, h.Logger, err, "create listing", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h ListingHandler) Publish(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	result, err := commands.Dispatch[listingsapp.PublishListingCommand, dto.Listing](c.Request.Context(), h.Commands,
		listingsapp.PublishListingCommand{SellerID: principal.ID, ListingID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "publish listing", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) MarkSold(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	result, err := commands.Dispatch[listingsapp.MarkSoldCommand, dto.Listing](c.Request.Context(), h.Commands,
		listingsapp.MarkSoldCommand{SellerID: principal.ID, ListingID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "mark sold", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) ToggleFavorite(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	result, err := commands.Dispatch[listingsapp.ToggleFavoriteCommand, dto.FavoriteState](c.Request.Context(), h.Commands,
		listingsapp.ToggleFavoriteCommand{UserID: principal.ID, ListingID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "toggle favorite", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) Favorites(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	items, err := queries.Ask[listingsapp.ListFavoritesQuery, []dto.Listing](c.Request.Context(), h.Queries,
		listingsapp.ListFavoritesQuery{UserID: principal.ID})
	if err != nil {
		respondError(c, h.Logger, err, "list favorites", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

var _ ListingHTTP = (*ListingHandler)(nil)
