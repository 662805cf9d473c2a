package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"github.com/yudame/valor/internal/audit"
	"github.com/yudame/valor/internal/workspace"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

const defaultWidth = 80

type printer struct {
	w      io.Writer
	format outputFormat
	color  bool
	width  int
}

// newPrinter colours text output only when w is a terminal.
func newPrinter(w io.Writer, format outputFormat) *printer {
	p := &printer{w: w, format: format, width: defaultWidth}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.color = !color.NoColor
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			p.width = width
		}
	}
	return p
}

func (p *printer) paint(attr color.Attribute, s string) string {
	if !p.color {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// structured writes v as JSON or YAML and reports whether it did.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) wrap(s string, indent int) string {
	width := p.width - indent
	if width < 20 {
		width = 20
	}
	lines := strings.Split(wordwrap.String(s, width), "\n")
	pad := strings.Repeat(" ", indent)
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (p *printer) box(title, body string) string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
	if p.color {
		style = style.BorderForeground(lipgloss.Color("63"))
	}
	return style.Render(p.paint(color.Bold, title) + "\n" + body)
}

type workspaceView struct {
	Name             string   `json:"name" yaml:"name"`
	Type             string   `json:"type" yaml:"type"`
	ChatID           string   `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	NotionDatabaseID string   `json:"notion_database_id,omitempty" yaml:"notion_database_id,omitempty"`
	Directories      []string `json:"allowed_directories" yaml:"allowed_directories"`
	Aliases          []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

type dmEntryView struct {
	Identifier       string `json:"identifier" yaml:"identifier"`
	WorkingDirectory string `json:"working_directory" yaml:"working_directory"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
}

type listView struct {
	Workspaces  []workspaceView `json:"workspaces" yaml:"workspaces"`
	DMDefault   string          `json:"dm_default_working_directory" yaml:"dm_default_working_directory"`
	DMWhitelist []dmEntryView   `json:"dm_whitelist" yaml:"dm_whitelist"`
	ConfigPath  string          `json:"config_path,omitempty" yaml:"config_path,omitempty"`
}

func newListView(reg *workspace.Registry) listView {
	view := listView{ConfigPath: reg.Path()}
	for _, ws := range reg.Workspaces() {
		view.Workspaces = append(view.Workspaces, workspaceView{
			Name:             ws.Name,
			Type:             ws.Type.String(),
			ChatID:           ws.ChatID,
			NotionDatabaseID: ws.NotionDatabaseID,
			Directories:      ws.AllowedDirectories,
			Aliases:          ws.Aliases,
		})
	}
	if dm := reg.DMWhitelist(); dm != nil {
		view.DMDefault = dm.DefaultWorkingDirectory()
		for _, e := range dm.Entries() {
			dir := e.WorkingDirectory
			if dir == "" {
				dir = view.DMDefault
			}
			view.DMWhitelist = append(view.DMWhitelist, dmEntryView{
				Identifier:       e.Identifier,
				WorkingDirectory: dir,
				Description:      e.Description,
			})
		}
	}
	return view
}

func (p *printer) printList(view listView) error {
	if ok, err := p.structured(view); ok {
		return err
	}
	if len(view.Workspaces) == 0 {
		fmt.Fprintln(p.w, "No workspaces configured.")
	}
	for _, ws := range view.Workspaces {
		fmt.Fprintf(p.w, "%s (%s)\n", p.paint(color.FgCyan, ws.Name), ws.Type)
		chat := ws.ChatID
		if chat == "" {
			chat = p.paint(color.FgYellow, "none")
		}
		fmt.Fprintf(p.w, "  chat:        %s\n", chat)
		if ws.NotionDatabaseID != "" {
			fmt.Fprintf(p.w, "  notion:      %s\n", ws.NotionDatabaseID)
		}
		if len(ws.Aliases) > 0 {
			fmt.Fprintf(p.w, "  aliases:     %s\n", strings.Join(ws.Aliases, ", "))
		}
		for i, dir := range ws.Directories {
			label := "  directories:"
			if i > 0 {
				label = "              "
			}
			fmt.Fprintf(p.w, "%s %s\n", label, dir)
		}
	}
	if len(view.DMWhitelist) > 0 {
		fmt.Fprintf(p.w, "\n%s (default %s)\n", p.paint(color.FgCyan, "DM whitelist"), view.DMDefault)
		for _, e := range view.DMWhitelist {
			line := fmt.Sprintf("  %s -> %s", e.Identifier, e.WorkingDirectory)
			if e.Description != "" {
				line += "  # " + e.Description
			}
			fmt.Fprintln(p.w, line)
		}
	}
	return nil
}

// checkResult is the outcome of a single access check.
type checkResult struct {
	ChatID    string `json:"chat_id" yaml:"chat_id"`
	Operation string `json:"operation" yaml:"operation"`
	Resource  string `json:"resource" yaml:"resource"`
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Allowed   bool   `json:"allowed" yaml:"allowed"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func newCheckResult(chatID, op, resource, ws string, err error) checkResult {
	r := checkResult{ChatID: chatID, Operation: op, Resource: resource, Workspace: ws, Allowed: err == nil}
	if err != nil {
		r.Kind = workspace.Kind(err)
		r.Message = workspace.DenialMessage(err)
		r.Detail = err.Error()
	}
	return r
}

func (p *printer) printCheck(r checkResult) error {
	if ok, err := p.structured(r); ok {
		return err
	}
	verdict := p.paint(color.FgGreen, "ALLOWED")
	if !r.Allowed {
		verdict = p.paint(color.FgRed, "DENIED")
	}
	fmt.Fprintf(p.w, "%s  %s %s for chat %s", verdict, r.Operation, r.Resource, r.ChatID)
	if r.Workspace != "" {
		fmt.Fprintf(p.w, " (workspace %q)", r.Workspace)
	}
	fmt.Fprintln(p.w)
	if !r.Allowed {
		if r.Kind != "" {
			fmt.Fprintf(p.w, "  kind:   %s\n", r.Kind)
		}
		fmt.Fprintf(p.w, "  reply:  %s\n", p.wrap(r.Message, 10))
		if r.Detail != "" {
			fmt.Fprintf(p.w, "  detail: %s\n", p.wrap(r.Detail, 10))
		}
	}
	return nil
}

func (p *printer) printEnvironment(r workspace.EnvironmentReport) error {
	if ok, err := p.structured(r); ok {
		return err
	}
	status := r.Status
	switch r.Status {
	case workspace.StatusValid:
		status = p.paint(color.FgGreen, status)
	case workspace.StatusErrors:
		status = p.paint(color.FgYellow, status)
	default:
		status = p.paint(color.FgRed, status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Status:  %s\n", status)
	if r.GroupsConfigured {
		fmt.Fprintf(&b, "Groups:  %d", r.GroupCount)
		if len(r.GroupChatIDs) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(r.GroupChatIDs, ", "))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Groups:  not configured\n")
	}
	fmt.Fprintf(&b, "DMs:     %s", r.DMStatus)
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n%s %s", p.paint(color.FgYellow, "warning:"), p.wrap(w, 9))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n%s %s", p.paint(color.FgRed, "error:"), p.wrap(e, 7))
	}
	fmt.Fprintln(p.w, p.box("Telegram environment", b.String()))
	return nil
}

func (p *printer) printEntries(entries []audit.Entry) error {
	if entries == nil {
		entries = []audit.Entry{}
	}
	if ok, err := p.structured(entries); ok {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(p.w, "No decisions recorded.")
		return nil
	}
	for _, e := range entries {
		verdict := p.paint(color.FgGreen, "allow")
		if !e.Allowed {
			verdict = p.paint(color.FgRed, "deny ")
		}
		line := fmt.Sprintf("%s %s chat=%s %s=%s", e.RecordedAt.Local().Format(time.DateTime), verdict,
			e.ChatID, e.Operation, e.Resource)
		if e.Workspace != "" {
			line += fmt.Sprintf(" workspace=%q", e.Workspace)
		}
		if e.Kind != "" {
			line += " kind=" + e.Kind
		}
		fmt.Fprintln(p.w, line)
	}
	return nil
}

func (p *printer) printKindCounts(counts map[string]int) error {
	if ok, err := p.structured(counts); ok {
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(p.w, "No denials recorded.")
		return nil
	}
	for _, kind := range []string{
		workspace.KindConfiguration,
		workspace.KindUnmappedChat,
		workspace.KindIsolationViolation,
		workspace.KindDirectoryIsolation,
		workspace.KindCrossWorkspace,
	} {
		if n, ok := counts[kind]; ok {
			fmt.Fprintf(p.w, "%-30s %d\n", kind, n)
		}
	}
	return nil
}

type ruleView struct {
	Path   string `json:"path" yaml:"path"`
	Access string `json:"access" yaml:"access"`
}

type sandboxView struct {
	Workspace string     `json:"workspace" yaml:"workspace"`
	Enabled   bool       `json:"enabled" yaml:"enabled"`
	Rules     []ruleView `json:"rules" yaml:"rules"`
}

func (p *printer) printSandbox(view sandboxView) error {
	if ok, err := p.structured(view); ok {
		return err
	}
	state := p.paint(color.FgGreen, "enabled")
	if !view.Enabled {
		state = p.paint(color.FgYellow, "disabled")
	}
	fmt.Fprintf(p.w, "Landlock profile for %q (%s)\n", view.Workspace, state)
	for _, r := range view.Rules {
		access := r.Access
		if access == "rw" {
			access = p.paint(color.FgCyan, access)
		}
		fmt.Fprintf(p.w, "  %s  %s\n", access, r.Path)
	}
	return nil
}
