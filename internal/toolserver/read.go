package toolserver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/adriankopytko/toolchat/internal/tools"
)

const maxReadBytes = 1 << 20

type ReadFileTool struct{}

type readFileArgs struct {
	Filename string `json:"filename"`
}

func (ReadFileTool) Name() string {
	return "read_file"
}

func (tool ReadFileTool) Descriptor() tools.Descriptor {
	return describe(tool.Name(), "Read a text file from the work directory and return its contents.",
		properties{"filename": stringProperty("File name or path relative to the work directory")}, "filename")
}

func (ReadFileTool) Execute(ctx ToolContext, arguments string) (any, error) {
	var args readFileArgs
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

	info, err := os.Stat(resolvedPath)
	if err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", args.Filename)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is larger than %d bytes", args.Filename, maxReadBytes)
	}

	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	return string(content), nil
}
