package toolserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adriankopytko/toolchat/internal/tools"
)

// WriteTextTool saves text into the work directory, replacing any existing
// file of the same name.
type WriteTextTool struct{}

type writeTextArgs struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (WriteTextTool) Name() string {
	return "write_to_txt"
}

func (tool WriteTextTool) Descriptor() tools.Descriptor {
	return describe(tool.Name(), "Write the given text content to a local text file and save it.",
		properties{
			"filename": stringProperty(`File name, for example "output.txt"`),
			"content":  stringProperty("Text content to write"),
		}, "filename", "content")
}

func (WriteTextTool) Execute(ctx ToolContext, arguments string) (any, error) {
	var args writeTextArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("error parsing arguments: %w", err)
	}

	args.Filename = strings.TrimSpace(args.Filename)
	if args.Filename == "" {
		return "", fmt.Errorf("filename must be a non-empty string")
	}
	resolvedPath, err := ctx.Resolve(args.Filename)
	if err != nil {
		return "", fmt.Errorf("path policy violation: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolvedPath), 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}
	if err := os.WriteFile(resolvedPath, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return map[string]any{
		"filename":      args.Filename,
		"bytes_written": len(args.Content),
		"message":       fmt.Sprintf("wrote file %s", args.Filename),
	}, nil
}
