package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveredSet map[string]bool

func (d deliveredSet) IsDelivered(name string) bool { return d[name] }

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func newScanner(t *testing.T, dir string) *Scanner {
	t.Helper()
	s, err := New(Config{Dir: dir, Prefix: DefaultPrefix})
	require.NoError(t, err)
	return s
}

func names(artifacts []*Artifact) []string {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.Name)
	}
	return out
}

func TestPending_OrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wedding_20240101_1200.jpg", "wedding_20240101_0900.jpg")

	result := newScanner(t, dir).Pending(nil)

	require.NoError(t, result.Err)
	assert.Equal(t, []string{"wedding_20240101_0900.jpg", "wedding_20240101_1200.jpg"}, names(result.Pending))
}

func TestPending_ExcludesDelivered(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wedding_A.jpg", "wedding_B.jpg", "wedding_C.jpg")

	result := newScanner(t, dir).Pending(deliveredSet{"wedding_A.jpg": true, "wedding_B.jpg": true})

	assert.Equal(t, []string{"wedding_C.jpg"}, names(result.Pending))
	assert.Equal(t, 2, result.Delivered)
}

func TestPending_FiltersByPrefixAndExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"random.txt",
		"other_photo.jpg",
		"wedding_notes.txt",
		"wedding_1.JPG",
		"wedding_2.jpeg",
		"wedding_3.PNG",
		"wedding_4.gif",
		".wedding_hidden.jpg",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "wedding_dir.jpg"), 0o755))

	result := newScanner(t, dir).Pending(nil)

	assert.Equal(t, []string{"wedding_1.JPG", "wedding_2.jpeg", "wedding_3.PNG"}, names(result.Pending))
	assert.Equal(t, 6, result.Ignored)
	for _, a := range result.Pending {
		assert.NotEqual(t, "random.txt", a.Name)
		assert.NotEqual(t, "other_photo.jpg", a.Name)
	}
}

func TestPending_PopulatesArtifact(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wedding_1.png")

	result := newScanner(t, dir).Pending(nil)
	require.Len(t, result.Pending, 1)

	a := result.Pending[0]
	assert.Equal(t, filepath.Join(dir, "wedding_1.png"), a.Path)
	assert.Equal(t, "image/png", a.MediaType)
	assert.EqualValues(t, len("wedding_1.png"), a.Size)
	assert.False(t, a.ModTime.IsZero())
}

func TestPending_MissingDirIsEmpty(t *testing.T) {
	result := newScanner(t, filepath.Join(t.TempDir(), "Pictures")).Pending(nil)

	assert.NoError(t, result.Err)
	assert.Empty(t, result.Pending)
}

func TestPending_DirIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "Pictures")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	result := newScanner(t, file).Pending(nil)

	assert.Error(t, result.Err)
	assert.Empty(t, result.Pending)
}

func TestPending_DanglingSymlinkIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wedding_2.jpg")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.jpg"), filepath.Join(dir, "wedding_1.jpg")))

	result := newScanner(t, dir).Pending(nil)

	assert.Equal(t, []string{"wedding_2.jpg"}, names(result.Pending))
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "wedding_1.jpg", result.Skipped[0].Name)
	assert.ErrorIs(t, result.Skipped[0], os.ErrNotExist)
}

func TestPending_SymlinkToPhotoIsPending(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()
	touch(t, dir, "wedding_20240101_1200.jpg")
	touch(t, src, "IMG_0001.jpg")
	require.NoError(t, os.Symlink(filepath.Join(src, "IMG_0001.jpg"), filepath.Join(dir, "wedding_20240101_0900.jpg")))

	result := newScanner(t, dir).Pending(nil)

	assert.Equal(t, []string{"wedding_20240101_0900.jpg", "wedding_20240101_1200.jpg"}, names(result.Pending))
	assert.Zero(t, result.Ignored)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, filepath.Join(dir, "wedding_20240101_0900.jpg"), result.Pending[0].Path)
}

func TestPending_ExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "wedding_1.jpg", "wedding_1_thumb.jpg", "wedding_test_2.png")

	s, err := New(Config{Dir: dir, Prefix: "wedding_", Exclude: []string{"*_thumb.*", "wedding_test_*"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"wedding_1.jpg"}, names(s.Pending(nil).Pending))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Dir: "/tmp", Exclude: []string{"[unterminated"}})
	assert.Error(t, err)

	s, err := New(Config{Dir: "/tmp", Prefix: "cam_", Extensions: []string{".HEIC", " jpg "}})
	require.NoError(t, err)
	assert.True(t, s.Eligible("cam_1.heic"))
	assert.True(t, s.Eligible("cam_1.JPG"))
	assert.False(t, s.Eligible("cam_1.png"))
	assert.False(t, s.Eligible("wedding_1.jpg"))
}
