// Package secureread implements the Secure File Reader: it reads source
// files under allow-listed absolute roots and rejects path traversal and
// system paths. Cross-workspace analysis — reading a sibling repository —
// is a first-class feature, so validation is an allow-list of roots plus a
// system-path deny-list, applied after normalization and symlink
// resolution, rather than a "must live under the project root" check.
package secureread

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathSecurityError reports that a path failed allow-list or deny-list
// validation. It is never retryable; the caller must choose another file.
type PathSecurityError struct {
	Path   string
	Reason string
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// deniedPrefixes lists well-known system paths that are never readable,
// regardless of the allow-listed roots.
var deniedPrefixes = []string{
	"/etc",
	"/proc",
	"/sys",
	"/dev",
	"/root/.ssh",
	`C:\Windows`,
	`C:\Program Files`,
}

// Reader validates and reads files under a configured set of allowed roots.
type Reader struct {
	roots []string // normalized, absolute, no trailing slash
}

// New builds a Reader from a workspace root and any extra allow-listed
// roots (e.g. the user's home directory, or operator-configured sibling
// checkouts). Roots are normalized at construction time.
func New(workspaceRoot string, extraRoots ...string) (*Reader, error) {
	r := &Reader{}
	roots := append([]string{workspaceRoot}, extraRoots...)
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", root, err)
		}
		r.roots = append(r.roots, filepath.Clean(abs))
	}
	if len(r.roots) == 0 {
		return nil, fmt.Errorf("secureread: at least one allowed root is required")
	}
	return r, nil
}

// Validate checks path against the allow-list and deny-list without
// touching the filesystem beyond a stat + symlink resolution, and returns
// the resolved absolute path on success.
func (r *Reader) Validate(path string) (string, error) {
	if strings.IndexByte(path, 0) >= 0 {
		return "", &PathSecurityError{Path: path, Reason: "contains a NUL byte"}
	}
	for _, c := range path {
		if c < 0x20 && c != '\t' {
			return "", &PathSecurityError{Path: path, Reason: "contains a control character"}
		}
	}

	abs := path
	if !filepath.IsAbs(abs) {
		// Project-relative paths resolve under the first (workspace) root.
		abs = filepath.Join(r.roots[0], path)
	}
	clean := filepath.Clean(abs)

	if err := r.checkDenied(clean); err != nil {
		return "", err
	}
	if !r.underAnyRoot(clean) {
		return "", &PathSecurityError{Path: path, Reason: "not under any allow-listed root"}
	}

	resolved, err := r.resolveSymlinks(clean)
	if err != nil {
		return "", err
	}
	if resolved != clean {
		if err := r.checkDenied(resolved); err != nil {
			return "", err
		}
		if !r.underAnyRoot(resolved) {
			return "", &PathSecurityError{Path: path, Reason: "symlink target escapes all allow-listed roots"}
		}
	}

	return resolved, nil
}

// resolveSymlinks resolves every symlink in the path with
// filepath.EvalSymlinks. When the path does not exist it is returned
// unresolved rather than as an error, so Exists/Read report "doesn't
// exist" rather than "not allowed"; symlinked ancestors of such a path
// are not resolved.
func (r *Reader) resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("resolve symlinks for %q: %w", path, err)
	}
	return filepath.Clean(resolved), nil
}

func (r *Reader) checkDenied(path string) error {
	for _, prefix := range deniedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return &PathSecurityError{Path: path, Reason: fmt.Sprintf("matches denied system prefix %q", prefix)}
		}
	}
	return nil
}

func (r *Reader) underAnyRoot(path string) bool {
	for _, root := range r.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Read validates path and returns its contents.
func (r *Reader) Read(path string) ([]byte, error) {
	resolved, err := r.Validate(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}

// Exists validates path and reports whether it refers to an existing file.
func (r *Reader) Exists(path string) bool {
	resolved, err := r.Validate(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// ValidateScope validates every file in a CodeScope's file list, returning
// the first PathSecurityError encountered. It is the gate every focusArea
// must pass before any file is opened (Invariant, spec §3).
func (r *Reader) ValidateScope(files []string) error {
	for _, f := range files {
		if _, err := r.Validate(f); err != nil {
			return err
		}
	}
	return nil
}
