package queue

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/rule"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o600))
}

func TestPathsExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.yaml"))
	writeFile(t, filepath.Join(dir, "a.yml"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
	writeFile(t, filepath.Join(dir, "nested", "c.yaml"))

	single := filepath.Join(t.TempDir(), "single.conf")
	writeFile(t, single)
	missing := filepath.Join(dir, "missing.yaml")

	got := slices.Collect(Paths([]string{dir, single, missing}))
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		single,
		missing,
	}, got)
}

func TestPathsIsLazy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"))
	writeFile(t, filepath.Join(dir, "b.yaml"))

	var seen []string
	for p := range Paths([]string{dir, "/does/not/matter"}) {
		seen = append(seen, p)
		break
	}
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml")}, seen)
}

func TestSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"))

	var origins []string
	for src := range Sources([]string{dir}) {
		origins = append(origins, src.Origin())
		r, err := src.Load()
		require.NoError(t, err)
		assert.Equal(t, "x", r.Name)
	}
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml")}, origins)
}

func TestStatic(t *testing.T) {
	rules := []*rule.Rule{rule.New("one", "", nil, nil, nil), rule.New("two", "", nil, nil, nil)}
	var names []string
	for src := range Static("gmailctl", rules) {
		r, err := src.Load()
		require.NoError(t, err)
		names = append(names, r.Name)
		assert.Equal(t, "gmailctl", src.Origin())
	}
	assert.Equal(t, []string{"one", "two"}, names)
}
