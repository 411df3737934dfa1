package chat

import (
	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
)

// Register wires every chat command and query handler onto the buses.
func Register(cmds *commands.InMemoryBus, qs *queries.InMemoryBus, deps *Deps) {
	commands.RegisterHandler(cmds, StartConversationCommand{}.Key(), StartConversationHandler{deps})
	commands.RegisterHandler(cmds, SendMessageCommand{}.Key(), SendMessageHandler{deps})
	commands.RegisterHandler(cmds, SetLikeCommand{}.Key(), SetLikeHandler{deps})
	commands.RegisterHandler(cmds, MarkReadCommand{}.Key(), MarkReadHandler{deps})
	commands.RegisterHandler(cmds, ArchiveConversationCommand{}.Key(), ArchiveConversationHandler{deps})
	commands.RegisterHandler(cmds, DeleteConversationCommand{}.Key(), DeleteConversationHandler{deps})
	commands.RegisterHandler(cmds, AddItemReferenceCommand{}.Key(), AddItemReferenceHandler{deps})
	commands.RegisterHandler(cmds, UploadAttachmentsCommand{}.Key(), UploadAttachmentsHandler{Deps: deps})

	queries.RegisterHandler(qs, ListConversationsQuery{}.Key(), ListConversationsHandler{deps})
	queries.RegisterHandler(qs, AdminListConversationsQuery{}.Key(), AdminListConversationsHandler{deps})
	queries.RegisterHandler(qs, GetConversationQuery{}.Key(), GetConversationHandler{deps})
	queries.RegisterHandler(qs, ListMessagesQuery{}.Key(), ListMessagesHandler{deps})
	queries.RegisterHandler(qs, ListItemReferencesQuery{}.Key(), ListItemReferencesHandler{deps})
}
