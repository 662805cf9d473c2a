package workspace

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

type rawDMWhitelist struct {
	DefaultWorkingDirectory string                `json:"default_working_directory"`
	AllowedUsers            map[string]rawDMEntry `json:"allowed_users"`
	AllowedUserIDs          map[string]rawDMEntry `json:"allowed_user_ids"`
}

type rawDMEntry struct {
	WorkingDirectory string `json:"working_directory"`
	Description      string `json:"description"`
}

// DMEntry is one whitelisted direct-message sender.
type DMEntry struct {
	Identifier       string // lower-cased username or numeric user id
	WorkingDirectory string // "" means the whitelist default
	Description      string
}

// DMWhitelist gates private chats. It is independent of workspaces: DM users
// are not chat-bound the way groups are.
type DMWhitelist struct {
	defaultDir string
	byUsername map[string]DMEntry
	byUserID   map[string]DMEntry
}

func newDMWhitelist(raw *rawDMWhitelist) *DMWhitelist {
	dm := &DMWhitelist{
		byUsername: make(map[string]DMEntry),
		byUserID:   make(map[string]DMEntry),
	}
	if raw != nil {
		dm.defaultDir = expandHome(strings.TrimSpace(raw.DefaultWorkingDirectory))
		fillDMEntries(dm.byUsername, raw.AllowedUsers, true)
		fillDMEntries(dm.byUserID, raw.AllowedUserIDs, false)
	}
	if dm.defaultDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dm.defaultDir = home
		}
	}
	return dm
}

// fillDMEntries inserts entries in sorted key order so that, when several keys
// fold to the same identifier, the outcome does not depend on map iteration.
func fillDMEntries(dst map[string]DMEntry, src map[string]rawDMEntry, fold bool) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		id := strings.TrimSpace(k)
		if fold {
			id = strings.ToLower(strings.TrimPrefix(id, "@"))
		}
		if id == "" {
			continue
		}
		if _, dup := dst[id]; dup {
			wlog().Warn("dm whitelist: duplicate identifier %q, keeping entry %q", id, k)
		}
		e := src[k]
		dst[id] = DMEntry{
			Identifier:       id,
			WorkingDirectory: expandHome(strings.TrimSpace(e.WorkingDirectory)),
			Description:      e.Description,
		}
	}
}

func (d *DMWhitelist) lookup(username string, chatID int64) (DMEntry, bool) {
	if d == nil {
		return DMEntry{}, false
	}
	username = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		e, ok := d.byUserID[strconv.FormatInt(chatID, 10)]
		return e, ok
	}
	e, ok := d.byUsername[strings.ToLower(username)]
	return e, ok
}

// IsAllowed reports whether a private-chat sender is whitelisted. Senders
// without a username are looked up by their numeric id, which equals the chat
// id of a private chat.
func (d *DMWhitelist) IsAllowed(username string, chatID int64) bool {
	_, ok := d.lookup(username, chatID)
	return ok
}

// WorkingDirectory returns the directory for username, or the default.
func (d *DMWhitelist) WorkingDirectory(username string) string {
	if strings.TrimSpace(username) == "" {
		return d.DefaultWorkingDirectory()
	}
	return d.WorkingDirectoryFor(username, 0)
}

// WorkingDirectoryFor is WorkingDirectory with the numeric-id fallback for
// senders without a username.
func (d *DMWhitelist) WorkingDirectoryFor(username string, chatID int64) string {
	if e, ok := d.lookup(username, chatID); ok && e.WorkingDirectory != "" {
		return e.WorkingDirectory
	}
	return d.DefaultWorkingDirectory()
}

// DefaultWorkingDirectory is the fallback directory for DM users.
func (d *DMWhitelist) DefaultWorkingDirectory() string {
	if d == nil {
		return ""
	}
	return d.defaultDir
}

// Entries returns all entries, usernames first, each group sorted.
func (d *DMWhitelist) Entries() []DMEntry {
	if d == nil {
		return nil
	}
	out := make([]DMEntry, 0, len(d.byUsername)+len(d.byUserID))
	for _, m := range []map[string]DMEntry{d.byUsername, d.byUserID} {
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, m[id])
		}
	}
	return out
}
