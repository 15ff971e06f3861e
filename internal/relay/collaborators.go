package relay

import "context"

// TokenIssuer validates a login token and returns the account's
// authoritative display name. Out of scope for this core; treated as a
// synchronous collaborator called under a short-lived context.
type TokenIssuer interface {
	Validate(ctx context.Context, accountID, userID int32, token string) (name string, err error)
}

// UserEntry is the metadata the central service returns for an account.
type UserEntry struct {
	Banned          bool
	BanReason       string
	ViolationExpiry int64 // 0 means "no stated expiry" (see SPEC_FULL §9 redesign note)
	Whitelisted     bool
	Roles           []string
}

// BootData is the configuration snapshot returned by a boot refresh.
type BootData struct {
	Maintenance         bool
	TPS                 uint32
	NoChat              bool
	StatusPrintInterval int64
}

// CentralClient is the central HTTP control-plane collaborator.
type CentralClient interface {
	GetUserData(ctx context.Context, accountID string) (UserEntry, error)
	BootRefresh(ctx context.Context) (BootData, error)
	IsWhitelist(ctx context.Context) (bool, error)
}

// RoomManager maintains room and level membership. Sessions call into it on
// login, level change, and cleanup; it is otherwise opaque to the core.
// Level-scoped broadcast resolution (who is in a level right now) is the
// registry's own concern — it filters the active table by each session's
// own LevelID directly rather than asking RoomManager, since the active
// table is already the authoritative, lock-consistent source for "active
// sessions in level X" (see Registry.ByLevel).
type RoomManager interface {
	CreatePlayer(accountID int32)
	RemovePlayer(accountID int32)
	RemoveFromLevel(levelID int32, accountID int32)
	MaybeRemoveRoom(roomID int32)
	GlobalRoomID() int32
}
