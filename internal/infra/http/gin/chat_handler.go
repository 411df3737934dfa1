package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	chatapp "campusmarket/internal/app/handlers/chat"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
)

const (
	attachmentsField = "files"
	// maxUploadBody leaves room for multipart framing around three maximum-size images.
	maxUploadBody = messaging.MaxAttachments*messaging.MaxAttachmentBytes + 1<<20
)

// ChatHandler exposes conversations and messages over HTTP.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type sendMessageRequest struct {
	ClientID    string           `json:"client_id"`
	Text        string           `json:"text"`
	Attachments []dto.Attachment `json:"attachments"`
}

type likeRequest struct {
	Liked bool `json:"liked"`
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

type itemRequest struct {
	ListingID string `json:"listing_id"`
}

// ListConversations returns the caller's active threads, or the archived ones with ?archived=true.
func (h ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	list, err := queries.Ask[chatapp.ListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries,
		chatapp.ListConversationsQuery{UserID: principal.ID, Archived: parseBool(c.Query("archived"))})
	if err != nil {
		respondError(c, h.Logger, err, "list conversations", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, list)
}

// StartConversation is the "I'm interested" button on a listing.
func (h ChatHandler) StartConversation(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	conv, err := commands.Dispatch[chatapp.StartConversationCommand, dto.Conversation](c.Request.Context(), h.Commands,
		chatapp.StartConversationCommand{UserID: principal.ID, ListingID: listingID})
	if err != nil {
		respondError(c, h.Logger, err, "start conversation", "listing_id", listingID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	conv, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries,
		chatapp.GetConversationQuery{UserID: principal.ID, ConversationID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "get conversation", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	list, err := queries.Ask[chatapp.ListMessagesQuery, dto.MessageList](c.Request.Context(), h.Queries, chatapp.ListMessagesQuery{
		UserID:         principal.ID,
		ConversationID: c.Param("id"),
		Limit:          parseIntWithDefault(c.Query("limit"), 0),
		After:          strings.TrimSpace(c.Query("after")),
	})
	if err != nil {
		respondError(c, h.Logger, err, "list messages", "conversation_id", c.Param("id"), "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	msg, err := commands.Dispatch[chatapp.SendMessageCommand, dto.Message](c.Request.Context(), h.Commands, chatapp.SendMessageCommand{
		UserID:         principal.ID,
		ConversationID: c.Param("id"),
		ClientID:       clientID,
		Text:           req.Text,
		Attachments:    dto.DomainAttachments(req.Attachments),
	})
	if err != nil {
		respondError(c, h.Logger, err, "send message", "conversation_id", c.Param("id"), "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// SetLike puts the caller's like into the desired state. Repeating a request changes nothing.
func (h ChatHandler) SetLike(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := commands.Dispatch[chatapp.SetLikeCommand, dto.Message](c.Request.Context(), h.Commands, chatapp.SetLikeCommand{
		UserID:         principal.ID,
		ConversationID: c.Param("id"),
		MessageID:      c.Param("messageID"),
		Liked:          req.Liked,
	})
	if err != nil {
		respondError(c, h.Logger, err, "set like", "message_id", c.Param("messageID"))
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead flags the listed messages read; an empty body marks everything from the other party.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := commands.Dispatch[chatapp.MarkReadCommand, dto.ReadResult](c.Request.Context(), h.Commands, chatapp.MarkReadCommand{
		UserID:         principal.ID,
		ConversationID: c.Param("id"),
		MessageIDs:     req.MessageIDs,
	})
	if err != nil {
		respondError(c, h.Logger, err, "mark read", "conversation_id", c.Param("id"), "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) Archive(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}
	conv, err := commands.Dispatch[chatapp.ArchiveConversationCommand, dto.Conversation](c.Request.Context(), h.Commands,
		chatapp.ArchiveConversationCommand{UserID: principal.ID, ConversationID: c.Param("id"), Archived: archived})
	if err != nil {
		respondError(c, h.Logger, err, "archive conversation", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Delete hides the conversation for the caller only.
func (h ChatHandler) Delete(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	_, err := h.Commands.Dispatch(c.Request.Context(),
		chatapp.DeleteConversationCommand{UserID: principal.ID, ConversationID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "delete conversation", "conversation_id", c.Param("id"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListItems(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	refs, err := queries.Ask[chatapp.ListItemReferencesQuery, []dto.ItemReference](c.Request.Context(), h.Queries,
		chatapp.ListItemReferencesQuery{UserID: principal.ID, ConversationID: c.Param("id")})
	if err != nil {
		respondError(c, h.Logger, err, "list items", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": refs})
}

func (h ChatHandler) AddItem(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ref, err := commands.Dispatch[chatapp.AddItemReferenceCommand, dto.ItemReference](c.Request.Context(), h.Commands,
		chatapp.AddItemReferenceCommand{UserID: principal.ID, ConversationID: c.Param("id"), ListingID: strings.TrimSpace(req.ListingID)})
	if err != nil {
		respondError(c, h.Logger, err, "add item", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// UploadAttachments stores the multipart "files" field. The batch succeeds or fails as a whole.
func (h ChatHandler) UploadAttachments(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": messaging.ErrAttachmentSize.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
		return
	}
	headers := form.File[attachmentsField]
	if len(headers) > messaging.MaxAttachments {
		c.JSON(http.StatusBadRequest, gin.H{"error": messaging.ErrTooManyAttachments.Error()})
		return
	}
	files := make([]chatapp.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respondError(c, h.Logger, err, "open upload")
			return
		}
		defer f.Close()
		files = append(files, chatapp.UploadFile{
			Name:        fh.Filename,
			ContentType: contentTypeOf(fh),
			Size:        fh.Size,
			Body:        f,
		})
	}
	atts, err := commands.Dispatch[chatapp.UploadAttachmentsCommand, []dto.Attachment](c.Request.Context(), h.Commands,
		chatapp.UploadAttachmentsCommand{UserID: principal.ID, Files: files})
	if err != nil {
		respondError(c, h.Logger, err, "upload attachments", "user_id", principal.ID, "files", len(files))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"items": atts})
}

func contentTypeOf(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ ChatHTTP = (*ChatHandler)(nil)
