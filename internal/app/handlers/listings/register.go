package listings

import (
	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
)

// Register wires listing, favorite and user moderation handlers onto the buses.
func Register(cmds *commands.InMemoryBus, qs *queries.InMemoryBus, deps *Deps) {
	commands.RegisterHandler(cmds, CreateListingCommand{}.Key(), CreateListingHandler{deps})
	commands.RegisterHandler(cmds, PublishListingCommand{}.Key(), PublishListingHandler{deps})
	commands.RegisterHandler(cmds, MarkSoldCommand{}.Key(), MarkSoldHandler{deps})
	commands.RegisterHandler(cmds, SuspendListingCommand{}.Key(), SuspendListingHandler{deps})
	commands.RegisterHandler(cmds, ToggleFavoriteCommand{}.Key(), ToggleFavoriteHandler{deps})

	queries.RegisterHandler(qs, SearchCatalogQuery{}.Key(), SearchCatalogHandler{deps})
	queries.RegisterHandler(qs, GetListingQuery{}.Key(), GetListingHandler{deps})
	queries.RegisterHandler(qs, ListFavoritesQuery{}.Key(), ListFavoritesHandler{deps})
	queries.RegisterHandler(qs, AdminListUsersQuery{}.Key(), AdminListUsersHandler{deps})
}
