package workspace

import (
	"time"
)

// Validator is the enforcement point for workspace isolation. It is
// stateless beyond its immutable registry and safe for concurrent use.
type Validator struct {
	registry *Registry
	auditor  Auditor
}

// NewValidator returns a Validator over reg. auditor may be nil.
func NewValidator(reg *Registry, auditor Auditor) *Validator {
	return &Validator{registry: reg, auditor: auditor}
}

// Registry returns the registry the validator enforces.
func (v *Validator) Registry() *Registry { return v.registry }

// WorkspaceForChat returns the workspace bound to chatID.
func (v *Validator) WorkspaceForChat(chatID string) (string, bool) {
	return v.registry.WorkspaceForChat(chatID)
}

// ValidateNotionAccess permits chatID to query the Notion database of
// workspaceName only if, after alias resolution, it is exactly the chat's own
// workspace.
func (v *Validator) ValidateNotionAccess(chatID, workspaceName string) error {
	allowed, ok := v.registry.WorkspaceForChat(chatID)
	if !ok {
		return v.deny(chatID, OperationNotion, "", workspaceName, &UnmappedChatError{
			ChatID:    chatID,
			Operation: OperationNotion,
			Resource:  workspaceName,
		})
	}

	requested := v.registry.ResolveAlias(workspaceName)
	if requested != v.registry.ResolveAlias(allowed) {
		return v.deny(chatID, OperationNotion, allowed, workspaceName, &IsolationViolationError{
			ChatID:    chatID,
			Requested: requested,
			Allowed:   allowed,
		})
	}

	v.allow(chatID, OperationNotion, allowed, workspaceName)
	return nil
}

// ValidateDirectoryAccess permits chatID to touch filePath only if the
// canonical path lies under one of its workspace's directories (or that
// workspace's screenshot hand-off directory) and under no other workspace's
// directory.
func (v *Validator) ValidateDirectoryAccess(chatID, filePath string) error {
	name, ok := v.registry.WorkspaceForChat(chatID)
	if !ok {
		return v.deny(chatID, OperationDirectory, "", filePath, &UnmappedChatError{
			ChatID:    chatID,
			Operation: OperationDirectory,
			Resource:  filePath,
		})
	}
	ws := v.registry.workspaces[name]

	path, err := canonicalPath(filePath)
	if err != nil {
		return v.deny(chatID, OperationDirectory, name, filePath, &DirectoryIsolationViolationError{
			ChatID:             chatID,
			Workspace:          name,
			Path:               filePath,
			AllowedDirectories: append([]string(nil), ws.AllowedDirectories...),
		})
	}

	if !v.underOwnDirectory(ws, path) && !v.underScreenshotDirectory(ws, path) {
		return v.deny(chatID, OperationDirectory, name, filePath, &DirectoryIsolationViolationError{
			ChatID:             chatID,
			Workspace:          name,
			Path:               path,
			AllowedDirectories: append([]string(nil), ws.AllowedDirectories...),
		})
	}

	if other, dir, clash := v.otherWorkspaceOwning(ws, path); clash {
		return v.deny(chatID, OperationDirectory, name, filePath, &CrossWorkspaceViolationError{
			ChatID:         chatID,
			Workspace:      name,
			OtherWorkspace: other,
			Path:           path,
			OtherDirectory: dir,
		})
	}

	v.allow(chatID, OperationDirectory, name, path)
	return nil
}

func (v *Validator) underOwnDirectory(ws Workspace, path string) bool {
	for _, dir := range ws.AllowedDirectories {
		if withinAny(path, dir) {
			return true
		}
	}
	return false
}

// underScreenshotDirectory matches the hand-off directory of ws only. A
// hand-off directory that is a symlink leading out of the workspace grants
// nothing beyond its own literal location.
func (v *Validator) underScreenshotDirectory(ws Workspace, path string) bool {
	for _, dir := range ws.AllowedDirectories {
		for _, handOff := range handOffForms(dir) {
			if isWithin(path, handOff) {
				return true
			}
		}
	}
	return false
}

// otherWorkspaceOwning checks path against every directory configured for
// any workspace, minus the directories ws itself lists.
func (v *Validator) otherWorkspaceOwning(ws Workspace, path string) (string, string, bool) {
	own := make(map[string]bool, len(ws.AllowedDirectories))
	for _, dir := range ws.AllowedDirectories {
		own[dir] = true
	}
	for _, name := range v.registry.names {
		if name == ws.Name {
			continue
		}
		for _, dir := range v.registry.workspaces[name].AllowedDirectories {
			if own[dir] {
				continue
			}
			if withinAny(path, dir) {
				return name, dir, true
			}
		}
	}
	return "", "", false
}

// AllowedDirectories returns a copy of the chat's directories.
func (v *Validator) AllowedDirectories(chatID string) ([]string, error) {
	ws, err := v.workspaceFor(chatID, "directories")
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ws.AllowedDirectories...), nil
}

// AllowedNotionDatabase returns the chat's Notion database id ("" when the
// workspace has none).
func (v *Validator) AllowedNotionDatabase(chatID string) (string, error) {
	ws, err := v.workspaceFor(chatID, "notion database")
	if err != nil {
		return "", err
	}
	return ws.NotionDatabaseID, nil
}

// DefaultWorkingDirectory returns the first allowed directory of the chat's
// workspace.
func (v *Validator) DefaultWorkingDirectory(chatID string) (string, error) {
	ws, err := v.workspaceFor(chatID, "working directory")
	if err != nil {
		return "", err
	}
	return ws.WorkingDirectory(), nil
}

func (v *Validator) workspaceFor(chatID, what string) (Workspace, error) {
	name, ok := v.registry.WorkspaceForChat(chatID)
	if !ok {
		err := &UnmappedChatError{ChatID: chatID}
		wlog().Error("lookup of %s denied: %v", what, err)
		return Workspace{}, err
	}
	return v.registry.workspaces[name], nil
}

func (v *Validator) allow(chatID, op, workspace, resource string) {
	wlog().Info("access granted: chat=%s workspace=%q %s=%s", chatID, workspace, op, resource)
	v.record(Decision{
		Time:      time.Now().UTC(),
		ChatID:    chatID,
		Operation: op,
		Workspace: workspace,
		Resource:  resource,
		Allowed:   true,
	})
}

// deny logs and audits err before handing it back, so the trail exists even
// if the caller drops the error.
func (v *Validator) deny(chatID, op, workspace, resource string, err error) error {
	kind := Kind(err)
	wlog().Error("access denied (%s): %v", kind, err)
	v.record(Decision{
		Time:      time.Now().UTC(),
		ChatID:    chatID,
		Operation: op,
		Workspace: workspace,
		Resource:  resource,
		Kind:      kind,
		Message:   err.Error(),
	})
	return err
}

func (v *Validator) record(d Decision) {
	if v.auditor == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			wlog().Error("auditor panicked: %v", r)
		}
	}()
	v.auditor.Record(d)
}
