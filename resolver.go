package imageserver

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/benpate/derp"
)

// maxPathLength bounds the relative paths accepted by the resolver.
const maxPathLength = 1024

// maxDecodeDepth is how many extra rounds of percent-decoding are inspected
// for hidden ".." segments.
const maxDecodeDepth = 3

// PathResolver validates request paths against a root directory.  It is used
// identically for serving and for upload destinations.
type PathResolver struct {
	root string // canonical (symlink-free) absolute root
}

// NewPathResolver returns a PathResolver for the provided root directory.
// The root must already exist.
func NewPathResolver(root string) (PathResolver, error) {

	const location = "imageserver.NewPathResolver"

	absolute, err := filepath.Abs(root)

	if err != nil {
		return PathResolver{}, derp.Wrap(err, location, "Unable to make root absolute", root)
	}

	canonical, err := filepath.EvalSymlinks(absolute)

	if err != nil {
		return PathResolver{}, derp.Wrap(err, location, "Unable to resolve root directory", root)
	}

	info, err := os.Stat(canonical)

	if err != nil {
		return PathResolver{}, derp.Wrap(err, location, "Unable to stat root directory", canonical)
	}

	if !info.IsDir() {
		return PathResolver{}, derp.Wrap(errors.New("not a directory"), location, "Root is not a directory", canonical)
	}

	return PathResolver{root: canonical}, nil
}

// Root returns the canonical root directory.
func (resolver PathResolver) Root() string {
	return resolver.root
}

// Resolve decodes the (URL-escaped) relative path once, rejects anything
// that could name a file outside of the root, and returns the canonical
// absolute path.  The file itself does not need to exist, but any part of the
// path that does exist has its symlinks resolved, and must stay inside the root.
func (resolver PathResolver) Resolve(relative string) (string, error) {

	const location = "imageserver.PathResolver.Resolve"

	relative = strings.TrimLeft(relative, "/")

	if relative == "" {
		return "", newError(KindPathTraversal, location, "Empty path", nil)
	}

	if len(relative) > maxPathLength {
		return "", newError(KindPathTraversal, location, "Path too long", nil)
	}

	decoded, err := url.PathUnescape(relative)

	if err != nil {
		return "", newError(KindPathTraversal, location, "Malformed escape sequence", derp.Wrap(err, location, "Unable to decode path", relative))
	}

	if strings.ContainsAny(decoded, "\x00\\") {
		return "", newError(KindPathTraversal, location, "Illegal character in path", nil)
	}

	if hasParentSegment(decoded) {
		return "", newError(KindPathTraversal, location, "Parent directory segment", nil)
	}

	cleaned := path.Clean("/" + decoded)[1:]

	if cleaned == "" {
		return "", newError(KindPathTraversal, location, "Path names the root directory", nil)
	}

	candidate := filepath.Join(resolver.root, filepath.FromSlash(cleaned))

	canonical, err := canonicalize(candidate)

	if err != nil {
		return "", newError(KindPathTraversal, location, "Unresolvable path", derp.Wrap(err, location, "Unable to resolve symlinks", candidate))
	}

	if !resolver.contains(canonical) {
		return "", newError(KindPathTraversal, location, "Path escapes root", derp.Wrap(errors.New("outside root"), location, "Resolved path is outside of root", canonical))
	}

	return canonical, nil
}

// Relative returns the slash-separated path of an absolute path (as returned by Resolve) relative to the root.
func (resolver PathResolver) Relative(absolute string) (string, error) {

	const location = "imageserver.PathResolver.Relative"

	if !resolver.contains(absolute) {
		return "", newError(KindPathTraversal, location, "Path escapes root", nil)
	}

	relative, err := filepath.Rel(resolver.root, absolute)

	if err != nil {
		return "", newError(KindPathTraversal, location, "Path escapes root", derp.Wrap(err, location, "Unable to relativize path", absolute))
	}

	return filepath.ToSlash(relative), nil
}

// contains returns TRUE if absolute is a strict descendant of the root.
func (resolver PathResolver) contains(absolute string) bool {

	relative, err := filepath.Rel(resolver.root, absolute)

	if err != nil {
		return false
	}

	if relative == "." || relative == ".." {
		return false
	}

	return !strings.HasPrefix(relative, ".."+string(filepath.Separator)) && !filepath.IsAbs(relative)
}

// hasParentSegment reports a ".." segment in the path, including one that
// only appears after further rounds of percent-decoding.
func hasParentSegment(value string) bool {

	for range maxDecodeDepth + 1 {

		for _, segment := range strings.Split(value, "/") {
			if segment == ".." {
				return true
			}
		}

		next, err := url.PathUnescape(value)

		if err != nil || next == value {
			return false
		}

		value = next
	}

	return false
}

// canonicalize resolves symlinks in the longest existing prefix of candidate,
// then re-appends the part that does not exist (yet).  A broken symlink
// anywhere in the existing prefix is an error.
func canonicalize(candidate string) (string, error) {

	existing := candidate
	missing := make([]string, 0)

	for {
		_, err := os.Lstat(existing)

		if err == nil {
			break
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(existing)

		if parent == existing {
			return "", err
		}

		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)

	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{resolved}, missing...)...), nil
}
