package msgcat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedDefaults(t *testing.T) {
	c := MustDefault()
	s, err := c.Render("errors.illegal_move", map[string]string{"Move": "e2e5", "Reason": "pawn cannot move there"})
	require.NoError(t, err)
	assert.Equal(t, "Illegal move e2e5: pawn cannot move there", s)

	s, err = c.Render("errors.malformed_move", map[string]string{"Move": "zz"})
	require.NoError(t, err)
	assert.Equal(t, `Could not read move "zz". Use UCI (e2e4) or SAN (Nf3).`, s)

	assert.Contains(t, c.Keys(), "errors.not_your_turn")
}

func TestMissingKeyAndField(t *testing.T) {
	c := MustDefault()
	_, err := c.Render("errors.nope", nil)
	assert.Error(t, err)
	_, err = c.Render("errors.game_full", map[string]string{})
	assert.Error(t, err)
	assert.Equal(t, "fallback", c.Text("errors.game_full", map[string]string{}, "fallback"))

	var nilCat *Catalog
	assert.Equal(t, "x", nilCat.Text("errors.game_full", nil, "x"))
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_your_turn: \"Wait for {{.Opponent}}.\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("errors: {}"), 0o644))

	c, err := New(dir)
	require.NoError(t, err)
	s, err := c.Render("errors.not_your_turn", map[string]string{"Opponent": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "Wait for bob.", s)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("errors:\n  not_your_turn: \"dup\"\n"), 0o644))
	_, err = New(dir)
	assert.ErrorContains(t, err, "duplicate override key")
}

func TestRejectsNonStringLeaves(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("errors:\n  count: 3\n"), 0o644))
	_, err := New(dir)
	assert.Error(t, err)
}
