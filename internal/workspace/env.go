package workspace

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Environment variables read by EnvironmentValidator.
const (
	EnvAllowedGroups = "TELEGRAM_ALLOWED_GROUPS"
	EnvAllowDMs      = "TELEGRAM_ALLOW_DMS"
)

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// Report statuses.
const (
	StatusValid  = "valid"
	StatusErrors = "errors"
	StatusFailed = "failed"
)

// DM statuses.
const (
	DMEnabled  = "enabled"
	DMDisabled = "disabled"
	DMInvalid  = "invalid"
)

// EnvironmentReport summarises the process-level whitelist settings.
type EnvironmentReport struct {
	Status           string   `json:"status" yaml:"status"`
	GroupsConfigured bool     `json:"groups_configured" yaml:"groups_configured"`
	GroupCount       int      `json:"group_count" yaml:"group_count"`
	GroupChatIDs     []string `json:"group_chat_ids,omitempty" yaml:"group_chat_ids,omitempty"`
	DMStatus         string   `json:"dm_status" yaml:"dm_status"`
	Warnings         []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// EnvironmentValidator checks TELEGRAM_ALLOWED_GROUPS and TELEGRAM_ALLOW_DMS
// against a registry. The environment is read on every call.
type EnvironmentValidator struct {
	registry *Registry
	lookup   LookupEnvFunc
}

// NewEnvironmentValidator returns a validator reading the environment through
// lookup, or os.LookupEnv when lookup is nil.
func NewEnvironmentValidator(reg *Registry, lookup LookupEnvFunc) *EnvironmentValidator {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvironmentValidator{registry: reg, lookup: lookup}
}

// ParseBoolish maps true/1/yes/on and false/0/no/off (any case) to a bool.
// Anything else yields (true, false): enabled, but not recognized.
func ParseBoolish(raw string) (value bool, recognized bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return true, false
	}
}

func (e *EnvironmentValidator) env(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// dmSetting returns whether DMs are enabled and how the value was read.
func (e *EnvironmentValidator) dmSetting() (bool, string, string) {
	raw, ok := e.env(EnvAllowDMs)
	if !ok {
		return true, DMEnabled, ""
	}
	enabled, recognized := ParseBoolish(raw)
	switch {
	case !recognized:
		return true, DMInvalid, fmt.Sprintf("%s=%q is not a boolean; DMs stay enabled", EnvAllowDMs, raw)
	case enabled:
		return true, DMEnabled, ""
	default:
		return false, DMDisabled, ""
	}
}

func splitGroups(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// groupChats resolves the configured group names. unknown lists names that are
// not workspaces; unbound lists workspaces without a chat binding.
func (e *EnvironmentValidator) groupChats(names []string) (ids map[string]string, unknown, unbound []string) {
	ids = make(map[string]string)
	bound := make(map[string]string)
	for _, ws := range e.registry.names {
		if id := e.registry.workspaces[ws].ChatID; id != "" {
			if owner, ok := e.registry.chatToWorkspace[id]; ok && owner == ws {
				bound[ws] = id
			}
		}
	}
	for _, n := range names {
		name := e.registry.ResolveAlias(n)
		if _, ok := e.registry.workspaces[name]; !ok {
			unknown = append(unknown, n)
			continue
		}
		id, ok := bound[name]
		if !ok {
			unbound = append(unbound, name)
			continue
		}
		ids[id] = name
	}
	return ids, unknown, unbound
}

// Validate reports on the current environment. It returns an error only for
// hard failures, together with a report whose Status is StatusFailed.
func (e *EnvironmentValidator) Validate() (EnvironmentReport, error) {
	report := EnvironmentReport{Status: StatusValid}

	_, dmStatus, warn := e.dmSetting()
	report.DMStatus = dmStatus
	if dmStatus == DMInvalid {
		wlog().Warn("%s", warn)
		report.Warnings = append(report.Warnings, warn)
	}

	raw, ok := e.env(EnvAllowedGroups)
	names := splitGroups(raw)
	if !ok || len(names) == 0 {
		msg := fmt.Sprintf("%s is not set; no group chats will be accepted", EnvAllowedGroups)
		wlog().Warn("%s", msg)
		report.Warnings = append(report.Warnings, msg)
		return report, nil
	}
	report.GroupsConfigured = true

	ids, unknown, unbound := e.groupChats(names)
	for id := range ids {
		report.GroupChatIDs = append(report.GroupChatIDs, id)
	}
	sort.Strings(report.GroupChatIDs)
	report.GroupCount = len(report.GroupChatIDs)

	for _, name := range unbound {
		msg := fmt.Sprintf("workspace %q has no telegram_chat_id", name)
		report.Errors = append(report.Errors, msg)
	}
	if len(report.Errors) > 0 {
		report.Status = StatusErrors
	}

	if len(unknown) > 0 {
		msg := fmt.Sprintf("%s names unknown workspaces: %s", EnvAllowedGroups, strings.Join(unknown, ", "))
		report.Errors = append(report.Errors, msg)
		report.Status = StatusFailed
		err := &ConfigurationError{Path: e.registry.path, Msg: msg}
		wlog().Error("%v", err)
		return report, err
	}

	for _, msg := range report.Errors {
		wlog().Error("environment: %s", msg)
	}
	return report, nil
}

// IsChatWhitelisted is the message-routing gate. It never panics; any failure
// is logged and counts as a denial.
func (e *EnvironmentValidator) IsChatWhitelisted(chatID int64, isPrivate bool, username string) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			wlog().Error("whitelist check for chat %d failed: %v", chatID, r)
			allowed = false
		}
	}()

	if isPrivate {
		enabled, _, _ := e.dmSetting()
		if !enabled {
			wlog().Debug("dm from chat %d rejected: DMs disabled", chatID)
			return false
		}
		return e.registry.DMWhitelist().IsAllowed(username, chatID)
	}

	raw, ok := e.env(EnvAllowedGroups)
	if !ok {
		return false
	}
	ids, unknown, _ := e.groupChats(splitGroups(raw))
	if len(unknown) > 0 {
		wlog().Warn("%s names unknown workspaces %v", EnvAllowedGroups, unknown)
	}
	_, allowed = ids[strconv.FormatInt(chatID, 10)]
	return allowed
}
