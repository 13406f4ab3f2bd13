package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

const (
	RoomPrefix = "room_"
	UserPrefix = "user_"
)

// Filter decides whether a chat may read or write history. The allow-lists
// are copied at construction and never change afterwards.
type Filter struct {
	rooms    map[string]struct{}
	contacts map[string]struct{}
	logger   *zap.Logger
}

// New builds a filter from room and contact names. Names are trimmed and
// empty entries ignored.
func New(rooms, contacts []string, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		rooms:    toSet(rooms),
		contacts: toSet(contacts),
		logger:   logger,
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// IsAllowed reports whether chatID is room_<name> with name in the room list
// or user_<name> with name in the contact list.
func (f *Filter) IsAllowed(chatID string) bool {
	if f == nil {
		return false
	}
	var (
		set  map[string]struct{}
		kind string
		name string
	)
	switch {
	case strings.HasPrefix(chatID, RoomPrefix):
		set, kind, name = f.rooms, "room", strings.TrimPrefix(chatID, RoomPrefix)
	case strings.HasPrefix(chatID, UserPrefix):
		set, kind, name = f.contacts, "user", strings.TrimPrefix(chatID, UserPrefix)
	default:
		f.logger.Debug("chat id has no room_ or user_ prefix", zap.String("chat_id", chatID))
		return false
	}
	_, ok := set[name]
	f.logger.Debug("whitelist check",
		zap.String("kind", kind),
		zap.String("name", name),
		zap.Bool("allowed", ok),
	)
	return ok
}

// Size returns the number of allowed rooms and contacts.
func (f *Filter) Size() (rooms, contacts int) {
	if f == nil {
		return 0, 0
	}
	return len(f.rooms), len(f.contacts)
}
