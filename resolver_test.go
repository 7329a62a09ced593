package imageserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (PathResolver, string) {

	root := t.TempDir()

	resolver, err := NewPathResolver(root)
	require.Nil(t, err)

	return resolver, resolver.Root()
}

func TestResolver_Valid(t *testing.T) {

	resolver, root := newTestResolver(t)
	writeFile(t, root, "photos/vacation.jpg", []byte("x"))

	for _, value := range []string{
		"photos/vacation.jpg",
		"/photos/vacation.jpg",
		"photos//vacation.jpg",
		"photos/./vacation.jpg",
		"photos/%76acation.jpg",
	} {
		result, err := resolver.Resolve(value)
		require.Nil(t, err, value)
		require.Equal(t, filepath.Join(root, "photos", "vacation.jpg"), result, value)

		relative, err := resolver.Relative(result)
		require.Nil(t, err)
		require.Equal(t, "photos/vacation.jpg", relative)
	}
}

func TestResolver_Missing(t *testing.T) {

	// Files that do not exist (yet) still resolve, so that the caller can decide what to do.
	resolver, root := newTestResolver(t)

	result, err := resolver.Resolve("new/folder/image.png")
	require.Nil(t, err)
	require.Equal(t, filepath.Join(root, "new", "folder", "image.png"), result)
}

func TestResolver_Traversal(t *testing.T) {

	resolver, _ := newTestResolver(t)

	for _, value := range []string{
		"",
		"/",
		".",
		"..",
		"../etc/passwd",
		"/../../etc/passwd",
		"photos/../../etc/passwd",
		"photos/../vacation.jpg",
		"../",
		"%2e%2e/",
		"%2e%2e%2f",
		"photos/../",
		"photos/..",
		"..%2F",
		"photos/%2e%2e//",
		"photos/.%2e/",
		"%2e%2e/%2e%2e/etc/passwd",
		"%2E%2E/etc/passwd",
		"%252e%252e/etc/passwd",
		"%25252e%25252e/etc/passwd",
		"..%2fetc%2fpasswd",
		"photos%2f..%2f..%2fetc%2fpasswd",
		"..\\etc\\passwd",
		"photos%5c..%5cetc",
		"photos/vacation.jpg%00.png",
		"photos/%zz.jpg",
		strings.Repeat("a/", 600) + "image.jpg",
	} {
		_, err := resolver.Resolve(value)
		require.ErrorIs(t, err, ErrPathTraversal, value)
	}
}

func TestResolver_SymlinkInsideRoot(t *testing.T) {

	resolver, root := newTestResolver(t)
	target := writeFile(t, root, "real/image.jpg", []byte("x"))

	require.Nil(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	result, err := resolver.Resolve("alias/image.jpg")
	require.Nil(t, err)
	require.Equal(t, target, result)
}

func TestResolver_SymlinkEscape(t *testing.T) {

	resolver, root := newTestResolver(t)
	outside := t.TempDir()
	writeFile(t, outside, "secret.jpg", []byte("x"))

	require.Nil(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.Nil(t, os.Symlink(filepath.Join(outside, "secret.jpg"), filepath.Join(root, "secret.jpg")))

	_, err := resolver.Resolve("escape/secret.jpg")
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = resolver.Resolve("secret.jpg")
	require.ErrorIs(t, err, ErrPathTraversal)

	// Uploads beneath an escaping directory are rejected, too
	_, err = resolver.Resolve("escape/new.jpg")
	require.ErrorIs(t, err, ErrPathTraversal)
}

func TestResolver_BrokenSymlink(t *testing.T) {

	resolver, root := newTestResolver(t)
	require.Nil(t, os.Symlink(filepath.Join(root, "nowhere.jpg"), filepath.Join(root, "broken.jpg")))

	_, err := resolver.Resolve("broken.jpg")
	require.ErrorIs(t, err, ErrPathTraversal)
}

func TestResolver_Relative(t *testing.T) {

	resolver, root := newTestResolver(t)

	_, err := resolver.Relative(root)
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = resolver.Relative(filepath.Dir(root))
	require.ErrorIs(t, err, ErrPathTraversal)
}

func TestResolver_InvalidRoot(t *testing.T) {

	_, err := NewPathResolver(filepath.Join(t.TempDir(), "missing"))
	require.NotNil(t, err)

	file := writeFile(t, t.TempDir(), "file.txt", []byte("x"))
	_, err = NewPathResolver(file)
	require.NotNil(t, err)
}
