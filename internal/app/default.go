package app

import (
	"sync"

	"github.com/yudame/valor/internal/config"
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/workspace"
)

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
)

// Default returns the process-wide runtime, building it from the default
// config file and VALOR_* environment on first use. A failed build is not
// cached; the next call tries again.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime != nil {
		return defaultRuntime, nil
	}

	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(nil)

	rt, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	defaultRuntime = rt
	return rt, nil
}

// SetDefault installs rt as the process-wide runtime and returns a function
// restoring the previous one.
func SetDefault(rt *Runtime) (restore func()) {
	defaultMu.Lock()
	prev := defaultRuntime
	defaultRuntime = rt
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultRuntime = prev
		defaultMu.Unlock()
	}
}

// Validator returns the process-wide validator.
func Validator() (*workspace.Validator, error) {
	rt, err := Default()
	if err != nil {
		return nil, err
	}
	return rt.Validator(), nil
}

// ValidateTelegramEnvironment checks TELEGRAM_ALLOWED_GROUPS and
// TELEGRAM_ALLOW_DMS against the process-wide registry.
func ValidateTelegramEnvironment() (workspace.EnvironmentReport, error) {
	v, err := Validator()
	if err != nil {
		return workspace.EnvironmentReport{
			Status:   workspace.StatusFailed,
			DMStatus: workspace.DMEnabled,
			Errors:   []string{err.Error()},
		}, err
	}
	return workspace.NewEnvironmentValidator(v.Registry(), nil).Validate()
}

// ValidateChatWhitelistAccess is the message-routing gate. Any failure,
// including a missing config, denies.
func ValidateChatWhitelistAccess(chatID int64, isPrivate bool, username string) bool {
	v, err := Validator()
	if err != nil {
		logger.Error("whitelist check for chat %d denied: %v", chatID, err)
		return false
	}
	return workspace.NewEnvironmentValidator(v.Registry(), nil).IsChatWhitelisted(chatID, isPrivate, username)
}
