package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/yudame/valor/internal/logger"
)

type rawConfig struct {
	Workspaces  map[string]json.RawMessage `json:"workspaces"`
	DMWhitelist *rawDMWhitelist            `json:"dm_whitelist"`
}

type rawWorkspace struct {
	WorkingDirectory   string   `json:"working_directory"`
	AllowedDirectories []string `json:"allowed_directories"`
	NotionDBURL        string   `json:"notion_db_url"`
	TelegramChatID     chatID   `json:"telegram_chat_id"`
	Aliases            []string `json:"aliases"`
}

// chatID accepts both "-100123" and -100123 in the config file.
type chatID string

func (c *chatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = chatID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = chatID(n.String())
	return nil
}

// Registry is the immutable table of workspaces loaded from a config file.
type Registry struct {
	path            string
	workspaces      map[string]Workspace
	names           []string
	chatToWorkspace map[string]string
	aliases         map[string]string // lower-cased alias -> canonical name
	dm              *DMWhitelist
	fingerprint     uint64
}

func wlog() *logger.Logger {
	return logger.Global().WithPrefix("workspace")
}

// LoadRegistry reads and parses the workspace config at path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		msg := "cannot read file"
		if errors.Is(err, os.ErrNotExist) {
			msg = "file not found"
		}
		cerr := &ConfigurationError{Path: path, Msg: msg, Err: err}
		wlog().Error("%v", cerr)
		return nil, cerr
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	reg.path = path
	wlog().Info("loaded %d workspaces from %s", len(reg.names), path)
	return reg, nil
}

// ParseRegistry builds a registry from config bytes. Only malformed JSON is an
// error; individual entries that cannot be used are dropped and logged.
func ParseRegistry(data []byte) (*Registry, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		cerr := &ConfigurationError{Msg: "invalid JSON", Err: err}
		wlog().Error("%v", cerr)
		return nil, cerr
	}

	reg := &Registry{
		workspaces:      make(map[string]Workspace),
		chatToWorkspace: make(map[string]string),
		aliases:         make(map[string]string),
		fingerprint:     xxhash.Sum64(data),
	}

	names := make([]string, 0, len(raw.Workspaces))
	for name := range raw.Workspaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ws, ok := parseWorkspace(name, raw.Workspaces[name])
		if !ok {
			continue
		}
		reg.workspaces[name] = ws
		reg.names = append(reg.names, name)
	}

	reg.buildChatIndex()
	reg.buildAliasIndex()
	reg.dm = newDMWhitelist(raw.DMWhitelist)

	return reg, nil
}

func parseWorkspace(name string, data json.RawMessage) (Workspace, bool) {
	if strings.TrimSpace(name) == "" {
		wlog().Warn("skipping workspace with empty name")
		return Workspace{}, false
	}

	var rw rawWorkspace
	if err := json.Unmarshal(data, &rw); err != nil {
		wlog().Warn("skipping workspace %q: malformed entry: %v", name, err)
		return Workspace{}, false
	}

	dirs := rw.AllowedDirectories
	if len(dirs) == 0 && strings.TrimSpace(rw.WorkingDirectory) != "" {
		dirs = []string{rw.WorkingDirectory}
	}
	dirs = normalizeDirectories(name, dirs)
	if len(dirs) == 0 {
		wlog().Warn("skipping workspace %q: no usable absolute directory", name)
		return Workspace{}, false
	}

	wsType := ParseType(dirs[0])
	if wsType == TypeUnknown {
		// Fail closed: a workspace we cannot classify never grants access.
		wlog().Warn("skipping workspace %q: unrecognized directory %s", name, dirs[0])
		return Workspace{}, false
	}

	aliases := make([]string, 0, len(rw.Aliases))
	for _, a := range rw.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}

	dbID := ExtractNotionDatabaseID(rw.NotionDBURL)
	if rw.NotionDBURL != "" && dbID == "" {
		wlog().Warn("workspace %q: no database id found in notion_db_url", name)
	}

	return Workspace{
		Name:               name,
		Type:               wsType,
		NotionDatabaseID:   dbID,
		AllowedDirectories: dirs,
		ChatID:             string(rw.TelegramChatID),
		Aliases:            aliases,
	}, true
}

// normalizeDirectories expands "~", cleans, drops relative entries and
// duplicates, and keeps the configured order.
func normalizeDirectories(name string, dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		d = expandHome(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			wlog().Warn("workspace %q: ignoring relative directory %q", name, d)
			continue
		}
		d = filepath.Clean(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func (r *Registry) buildChatIndex() {
	claims := make(map[string][]string)
	for _, name := range r.names {
		if id := r.workspaces[name].ChatID; id != "" {
			claims[id] = append(claims[id], name)
		}
	}
	for id, owners := range claims {
		if len(owners) > 1 {
			wlog().Error("chat %s is bound to several workspaces %v; binding none", id, owners)
			continue
		}
		r.chatToWorkspace[id] = owners[0]
	}
}

func (r *Registry) buildAliasIndex() {
	canonical := make(map[string]string, len(r.names))
	for _, name := range r.names {
		canonical[strings.ToLower(name)] = name
	}

	owners := make(map[string]map[string]bool)
	for _, name := range r.names {
		for _, alias := range r.workspaces[name].Aliases {
			key := strings.ToLower(alias)
			if owners[key] == nil {
				owners[key] = make(map[string]bool)
			}
			owners[key][name] = true
		}
	}

	for key, set := range owners {
		if len(set) > 1 {
			wlog().Error("alias %q is claimed by several workspaces; ignoring it", key)
			continue
		}
		var owner string
		for name := range set {
			owner = name
		}
		// An alias shadowing another workspace's name would let a request for
		// that workspace resolve to the alias owner.
		if other, ok := canonical[key]; ok && other != owner {
			wlog().Error("alias %q of workspace %q collides with workspace %q; ignoring it", key, owner, other)
			continue
		}
		r.aliases[key] = owner
	}
}

// Path returns the file the registry was loaded from, if any.
func (r *Registry) Path() string { return r.path }

// Fingerprint is the xxhash of the config bytes.
func (r *Registry) Fingerprint() uint64 { return r.fingerprint }

// WorkspaceForChat returns the workspace bound to chatID. Matching is exact;
// callers must format chat ids consistently.
func (r *Registry) WorkspaceForChat(chatID string) (string, bool) {
	name, ok := r.chatToWorkspace[chatID]
	return name, ok
}

// ResolveAlias maps an alias (case-insensitive) to its workspace name and
// returns any other input unchanged.
func (r *Registry) ResolveAlias(name string) string {
	if canonical, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return canonical
	}
	return name
}

// Workspace returns a copy of the named workspace.
func (r *Registry) Workspace(name string) (Workspace, bool) {
	ws, ok := r.workspaces[name]
	if !ok {
		return Workspace{}, false
	}
	return ws.clone(), true
}

// Workspaces returns copies of all loaded workspaces sorted by name.
func (r *Registry) Workspaces() []Workspace {
	out := make([]Workspace, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.workspaces[name].clone())
	}
	return out
}

// Names returns the sorted workspace names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// AllDirectories returns every configured directory across all workspaces.
func (r *Registry) AllDirectories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range r.names {
		for _, d := range r.workspaces[name].AllowedDirectories {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// DMWhitelist returns the direct-message allow-list.
func (r *Registry) DMWhitelist() *DMWhitelist { return r.dm }
