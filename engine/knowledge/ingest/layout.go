package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/fileindex"
)

const embeddingsDir = "embeddings"

// Layout resolves tenant material paths under the materials root:
// <root>/<tenant>/<files>, <root>/<tenant>/index.json, <root>/<tenant>/embeddings/.
type Layout struct {
	Root string
}

func (l Layout) TenantDir(tenant string) string {
	return filepath.Join(l.Root, tenant)
}

// FilePath maps a slash-separated file name relative to the tenant directory
// onto disk, rejecting names that escape it. It also returns the cleaned
// name that identifies the file in the index and the vector store.
func (l Layout) FilePath(tenant, file string) (path, name string, err error) {
	if err := knowledge.ValidateTenant(tenant); err != nil {
		return "", "", err
	}
	name, err = CleanFileName(file)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(l.TenantDir(tenant), filepath.FromSlash(name)), name, nil
}

// CleanFileName normalizes a material file name to its slash form.
func CleanFileName(file string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(file, "\\", "/"))
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", knowledge.ErrFileNotFound)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("knowledge: file %q must be relative to the tenant directory", file)
	}
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("knowledge: file %q escapes the tenant directory", file)
	}
	return cleaned, nil
}

// reserved reports whether a relative path belongs to the pipeline itself.
func reserved(rel string) bool {
	if rel == fileindex.FileName || strings.HasPrefix(rel, fileindex.FileName+".") || strings.HasPrefix(rel, ".") {
		return true
	}
	first, _, _ := strings.Cut(rel, "/")
	return first == embeddingsDir || strings.HasPrefix(first, ".")
}

// pathInside reports whether target resolves under root after following symlinks.
func pathInside(root, target string) (bool, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false, fmt.Errorf("knowledge: resolve root %q: %w", root, err)
	}
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s", knowledge.ErrFileNotFound, target)
		}
		return false, fmt.Errorf("knowledge: resolve target %q: %w", target, err)
	}
	rel, err := filepath.Rel(resolvedRoot, resolvedTarget)
	if err != nil {
		return false, fmt.Errorf("knowledge: compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}
