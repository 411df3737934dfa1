package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	chatapp "campusmarket/internal/app/handlers/chat"
	listingsapp "campusmarket/internal/app/handlers/listings"
	"campusmarket/internal/app/queries"
	domainuser "campusmarket/internal/domain/user"
)

// AdminHandler serves moderation endpoints. The buses enforce the admin role as well.
type AdminHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h AdminHandler) ListUsers(c *gin.Context) {
	if _, ok := requireRole(c, domainuser.RoleAdmin); !ok {
		return
	}
	list, err := queries.Ask[listingsapp.AdminListUsersQuery, dto.UserList](c.Request.Context(), h.Queries, listingsapp.AdminListUsersQuery{
		Query:  c.Query("query"),
		Limit:  parseIntWithDefault(c.Query("limit"), 50),
		Offset: parseIntWithDefault(c.Query("offset"), 0),
	})
	if err != nil {
		respondError(c, h.Logger, err, "list users")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h AdminHandler) ListConversations(c *gin.Context) {
	if _, ok := requireRole(c, domainuser.RoleAdmin); !ok {
		return
	}
	list, err := queries.Ask[chatapp.AdminListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries,
		chatapp.AdminListConversationsQuery{})
	if err != nil {
		respondError(c, h.Logger, err, "list all conversations")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h AdminHandler) SuspendListing(c *gin.Context) {
	principal, ok := requireRole(c, domainuser.RoleAdmin)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	listing, err := commands.Dispatch[listingsapp.SuspendListingCommand, dto.Listing](c.Request.Context(), h.Commands,
		listingsapp.SuspendListingCommand{ListingID: c.Param("id"), Reason: req.Reason})
	if err != nil {
		respondError(c, h.Logger, err, "suspend listing", "listing_id", c.Param("id"), "admin_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, listing)
}

var _ AdminHTTP = (*AdminHandler)(nil)
