package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// screenshotSubdir is the hand-off directory shared between the coding
// subprocess and the agent, relative to a workspace directory.
var screenshotSubdir = filepath.Join("tmp", "ai_screenshots")

// absolutePath returns p as an absolute, cleaned path without touching
// symlinks.
func absolutePath(p string) (string, error) {
	p = expandHome(strings.TrimSpace(p))
	if p == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// maxSymlinks bounds link expansion in canonicalPath, as in Linux's
// path walk.
const maxSymlinks = 40

// canonicalPath resolves p like realpath(3) in non-strict mode. Components
// are walked one at a time and every symlink is followed, including one whose
// target does not exist yet. Components that do not exist are appended
// unchanged.
func canonicalPath(p string) (string, error) {
	abs, err := absolutePath(p)
	if err != nil {
		return "", err
	}

	root := filepath.VolumeName(abs) + string(filepath.Separator)
	resolved := root
	pending := splitPath(abs[len(root):])
	links := 0
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				resolved = next
				continue
			}
			return "", err
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		links++
		if links > maxSymlinks {
			return "", fmt.Errorf("too many symlinks resolving %s", abs)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = filepath.VolumeName(target) + string(filepath.Separator)
			target = target[len(filepath.VolumeName(target)):]
		}
		pending = append(splitPath(target), pending...)
	}
	return filepath.Clean(resolved), nil
}

func splitPath(p string) []string {
	return strings.Split(filepath.ToSlash(p), "/")
}

// isWithin reports whether path equals dir or lies below it, comparing whole
// segments so that /src/ai does not contain /src/ai2.
func isWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// directoryForms returns the cleaned and symlink-resolved forms of dir.
func directoryForms(dir string) []string {
	forms := []string{filepath.Clean(dir)}
	if resolved, err := canonicalPath(dir); err == nil && resolved != forms[0] {
		forms = append(forms, resolved)
	}
	return forms
}

// handOffForms returns the screenshot hand-off directory below each form of
// dir. The hand-off directory itself is never resolved, so a symlink placed
// there cannot point the carve-out elsewhere.
func handOffForms(dir string) []string {
	forms := directoryForms(dir)
	for i, form := range forms {
		forms[i] = filepath.Join(form, screenshotSubdir)
	}
	return forms
}

func withinAny(path string, dir string) bool {
	for _, form := range directoryForms(dir) {
		if isWithin(path, form) {
			return true
		}
	}
	return false
}
