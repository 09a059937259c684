package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// confine resolves p against base and rejects anything that lands outside
// base. Relative paths are taken relative to base.
func confine(base, p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains null byte", ErrInvalidUpload)
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: path traversal in %s", ErrInvalidUpload, p)
		}
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload dir: %w", err)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(absBase, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absBase, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", fmt.Errorf("%w: %s is outside the upload dir", ErrInvalidUpload, p)
	}
	return target, nil
}
