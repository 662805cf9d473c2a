package sandbox

import (
	"github.com/yudame/valor/internal/config"
	"github.com/yudame/valor/internal/workspace"
)

// FromConfig converts the application's sandbox settings.
func FromConfig(cfg *config.Config) *SandboxConfig {
	if cfg == nil {
		return nil
	}
	return &SandboxConfig{
		AdditionalReadOnlyPaths: append([]string(nil), cfg.Sandbox.AdditionalReadOnlyPaths...),
		DisableSandbox:          cfg.Sandbox.DisableSandbox,
		BestEffort:              cfg.Sandbox.BestEffort,
	}
}

// ForChat builds the profile for the workspace bound to chatID. An unmapped
// chat gets no profile and the validator's error.
func ForChat(v *workspace.Validator, chatID string, cfg *SandboxConfig) (*LandlockSandbox, error) {
	dirs, err := v.AllowedDirectories(chatID)
	if err != nil {
		return nil, err
	}
	name, _ := v.WorkspaceForChat(chatID)
	return NewWorkspaceSandbox(name, dirs, cfg), nil
}
