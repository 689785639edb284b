package tool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/executive-assistant/ken/internal/storage"
)

// readFileArgs/writeFileArgs/listFilesArgs back the jsonschema.Reflect calls below; tags
// follow the teacher's pkg/tool/functiontool struct-tag convention.
type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path relative to the workspace files root"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path relative to the workspace files root"`
	Content string `json:"content" jsonschema:"required,description=File content to write"`
}

type listFilesArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Subdirectory relative to the workspace files root; defaults to the root"`
}

// RegisterFSTools wires read_file/write_file/list_files against sandbox
// (per-workspace files_root), grounded on the teacher's
// pkg/tools/read_file.go and file_writer.go allow-list handlers.
func RegisterFSTools(r *Registry, sandboxFor func(workspaceID string) (*storage.Sandbox, error)) error {
	readSchema, err := SchemaFor[readFileArgs]()
	if err != nil {
		return err
	}
	writeSchema, err := SchemaFor[writeFileArgs]()
	if err != nil {
		return err
	}
	listSchema, err := SchemaFor[listFilesArgs]()
	if err != nil {
		return err
	}

	if err := r.Register("read_file", Tool{
		Name:        "read_file",
		Description: "Read a text file from the current workspace's file store.",
		Schema:      readSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			sb, err := sandboxFor(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			path, _ := args["path"].(string)
			resolved, err := sb.Resolve(path)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("write_file", Tool{
		Name:        "write_file",
		Description: "Write a text file to the current workspace's file store, creating parent directories as needed.",
		Schema:      writeSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			sb, err := sandboxFor(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if err := sb.CheckSize(int64(len(content))); err != nil {
				return "", err
			}
			resolved, err := sb.Resolve(path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}); err != nil {
		return err
	}

	return r.Register("list_files", Tool{
		Name:        "list_files",
		Description: "List files under a directory in the current workspace's file store.",
		Schema:      listSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			sb, err := sandboxFor(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			sub, _ := args["path"].(string)
			resolved, err := sb.Resolve(sub)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					return "(empty)", nil
				}
				return "", fmt.Errorf("list_files: %w", err)
			}
			out := ""
			for _, e := range entries {
				if e.IsDir() {
					out += e.Name() + "/\n"
				} else {
					out += e.Name() + "\n"
				}
			}
			if out == "" {
				out = "(empty)"
			}
			return out, nil
		},
	})
}
