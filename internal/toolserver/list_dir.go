package toolserver

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/adriankopytko/toolchat/internal/tools"
)

// ListDirTool lists one directory level. Entries come back in name order as
// os.ReadDir returns them.
type ListDirTool struct{}

type dirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

type dirListing struct {
	Path    string     `json:"path"`
	Entries []dirEntry `json:"entries"`
}

func (ListDirTool) Name() string {
	return "list_dir"
}

func (tool ListDirTool) Descriptor() tools.Descriptor {
	return describe(tool.Name(), "List the files and directories under a path in the work directory.",
		properties{"path": stringProperty("Directory to list, relative to the work directory; defaults to the work directory itself")})
}

func (ListDirTool) Execute(ctx ToolContext, arguments string) (any, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("error parsing arguments: %w", err)
	}

	dir, err := ctx.Resolve(args.Path)
	if err != nil {
		return nil, fmt.Errorf("path policy violation: %w", err)
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	listing := dirListing{Path: args.Path, Entries: make([]dirEntry, 0, len(items))}
	if listing.Path == "" {
		listing.Path = "."
	}
	for _, item := range items {
		switch {
		case item.IsDir():
			listing.Entries = append(listing.Entries, dirEntry{Name: item.Name(), Type: "dir"})
		case item.Type()&os.ModeSymlink != 0:
			listing.Entries = append(listing.Entries, dirEntry{Name: item.Name(), Type: "symlink"})
		default:
			entry := dirEntry{Name: item.Name(), Type: "file"}
			if info, err := item.Info(); err == nil {
				entry.Size = info.Size()
			}
			listing.Entries = append(listing.Entries, entry)
		}
	}
	return listing, nil
}
