package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideWorkDir = errors.New("path is outside the work directory")

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// ToolContext is handed to every tool execution. WorkDir is both the base for
// relative paths and the root no file tool may leave.
type ToolContext struct {
	WorkDir string
	Context context.Context
	Logger  Logger
}

// ResponseEnvelope wraps successful tool output. Failures are reported as
// plain-text error results instead.
type ResponseEnvelope struct {
	OK   bool           `json:"ok"`
	Data any            `json:"data,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Resolve maps a tool-supplied path to a cleaned absolute path and rejects it
// when, after following symlinks, it leaves WorkDir. Paths that do not exist
// yet are checked through their deepest existing ancestor.
func (ctx ToolContext) Resolve(pathValue string) (string, error) {
	workDir := strings.TrimSpace(ctx.WorkDir)
	if workDir == "" {
		return "", errors.New("tool context has no work directory")
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolve work directory: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve work directory: %w", err)
	}

	target := strings.TrimSpace(pathValue)
	if target == "" {
		target = "."
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	realTarget, err := followExisting(target)
	if err != nil {
		return "", err
	}
	if !within(realRoot, realTarget) {
		return "", ErrOutsideWorkDir
	}
	return target, nil
}

// followExisting resolves symlinks on the longest existing prefix of path and
// re-attaches the missing tail.
func followExisting(path string) (string, error) {
	existing, tail := path, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		tail = filepath.Join(filepath.Base(existing), tail)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(real, tail), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func BaseContext(ctx ToolContext) context.Context {
	if ctx.Context != nil {
		return ctx.Context
	}
	return context.Background()
}

func SuccessEnvelope(data any, meta map[string]any) string {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(ResponseEnvelope{OK: true, Data: data, Meta: meta}); err != nil {
		return `{"ok":true,"data":"tool output could not be encoded"}`
	}
	return strings.TrimRight(buffer.String(), "\n")
}
