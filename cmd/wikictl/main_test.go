package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger = zap.NewNop()
	os.Exit(m.Run())
}

// useTokenFile points the token file at a temp path for the test.
func useTokenFile(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	settings.Set("token-file", path)
	t.Cleanup(func() { settings.Set("token-file", "") })
	if token != "" {
		require.NoError(t, writeToken(path, token))
	}
	return path
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	tok, err := readToken(path)
	require.NoError(t, err)
	assert.Empty(t, tok, "missing file means signed out")

	require.NoError(t, writeToken(path, "abc.def"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err = readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	require.NoError(t, removeToken(path))
	require.NoError(t, removeToken(path), "removing twice is fine")
	tok, _ = readToken(path)
	assert.Empty(t, tok)
}

func TestDefaultTokenFileUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "wikictl", "token"), defaultTokenFile())
	assert.Equal(t, filepath.Join(dir, "wikictl", "token"), tokenPath())

	settings.Set("token-file", "/tmp/elsewhere")
	defer settings.Set("token-file", "")
	assert.Equal(t, "/tmp/elsewhere", tokenPath())
}

func TestFileTokensRereadsFile(t *testing.T) {
	path := useTokenFile(t, "")
	src := fileTokens{path: path}
	assert.Empty(t, src.Token())
	require.NoError(t, writeToken(path, "t1"))
	assert.Equal(t, "t1", src.Token())
}

func TestLookupResource(t *testing.T) {
	rc, err := lookupResource("relics")
	require.NoError(t, err)
	assert.Equal(t, "relicCode", rc.IDField)
	assert.Equal(t, "/admin/relics", routeFor(rc))

	_, err = lookupResource("decks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "champions")

	settings.Set("id-field", "deckId")
	defer settings.Set("id-field", "")
	rc, err = lookupResource("decks")
	require.NoError(t, err)
	assert.Equal(t, "deckId", rc.IDField)
}

func TestNewControllerDefaults(t *testing.T) {
	useTokenFile(t, "")
	rc, _ := lookupResource("guides")
	c, nav := newController(rc, &fakeAPI{}, "")
	assert.Equal(t, "/admin/guides", nav.Path())
	assert.Equal(t, "title", c.Config().NameField)

	c.OpenNew()
	sel := c.Selected()
	assert.True(t, sel.IsNew())
	assert.NotEmpty(t, sel.Key("guideId"))
	assert.Contains(t, sel, "content")
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=Vajra", "cost=3", "tags=[\"a\",\"b\"]", "flag=true", "note=x=y"})
	require.NoError(t, err)
	assert.Equal(t, entity.Entity{
		"name": "Vajra",
		"cost": float64(3),
		"tags": []any{"a", "b"},
		"flag": true,
		"note": "x=y",
	}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=v"})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "plain", formatValue("plain"))
	assert.Equal(t, "3", formatValue(float64(3)))
	assert.Equal(t, `["a"]`, formatValue([]any{"a"}))
	assert.Equal(t, "null", formatValue(nil))
}

func TestReadRecord(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "a.json")
	yamlPath := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"itemCode":"I1","name":"Sword"}`), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte("itemCode: I2\nstats:\n  atk: 4\n"), 0o600))

	rec, err := readRecord(jsonPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "I1", rec.Key("itemCode"))

	rec, err = readRecord(yamlPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "I2", rec.Key("itemCode"))
	assert.Equal(t, map[string]any{"atk": 4}, rec["stats"])

	rec, err = readRecord("-", strings.NewReader(`{"itemCode":"I3"}`))
	require.NoError(t, err)
	assert.Equal(t, "I3", rec.Key("itemCode"))

	_, err = readRecord("-", strings.NewReader(`null`))
	assert.Error(t, err)
	_, err = readRecord(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)
}

func TestParseSeed(t *testing.T) {
	batches, err := parseSeed([]byte(`
relics:
  - relicCode: RL1
    name: Anchor
items:
  - itemCode: I1
  - itemCode: I2
`))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "items", batches[0].Resource.Name)
	assert.Len(t, batches[0].Records, 2)
	assert.Equal(t, "relics", batches[1].Resource.Name)
	assert.Equal(t, "Anchor", batches[1].Records[0]["name"])
}

func TestParseSeedRejects(t *testing.T) {
	_, err := parseSeed([]byte("items:\n  - name: no id\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items[0]: itemCode is required")

	_, err = parseSeed([]byte("decks:\n  - deckId: D1\n"))
	assert.Error(t, err)

	_, err = parseSeed([]byte("items: [unclosed"))
	assert.Error(t, err)
}

func TestRenderList(t *testing.T) {
	c := crud.New(crud.Config{Endpoint: "items", IDField: "itemCode", RoutePath: "/admin/items", ItemsPerPage: 2},
		&fakeAPI{items: []entity.Entity{
			{"itemCode": "I1", "name": "Sword", "rarity": "RARE"},
			{"itemCode": "I2", "name": "Shield"},
			{"itemCode": "I3", "name": "Bow"},
		}}, crud.TokenFunc(func() string { return "" }), crud.NewHistoryNavigator("/admin/items"))
	require.NoError(t, c.Load(t.Context()))

	out := renderList(c.Snapshot(), c.Config())
	assert.Contains(t, out, "itemCode")
	assert.Contains(t, out, "Sword")
	assert.Contains(t, out, "Shield")
	assert.NotContains(t, out, "Bow")
	assert.Contains(t, out, "page 1/2, 3 items")

	c.SetSearch("bow")
	out = renderList(c.Snapshot(), c.Config())
	assert.Contains(t, out, "Bow")
	assert.Contains(t, out, "page 1/1, 1 of 3 items")
}

func TestRenderGuide(t *testing.T) {
	out, err := renderGuide(entity.Entity{
		"title":   "Act one",
		"content": []any{map[string]any{"type": "paragraph", "data": map[string]any{"text": "Rest before the boss."}}},
	}, 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Act one")
	assert.Contains(t, out, "Rest before the boss.")

	_, err = renderGuide(entity.Entity{"content": "not json"}, 60)
	assert.Error(t, err)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 20))
	assert.Equal(t, "untouched", clip("untouched", 0), "unknown width")

	got := clip("Épée de la Reine", 8)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, ansi.StringWidth(got), 8)
	assert.True(t, strings.HasPrefix(got, "Épée"))
	assert.True(t, strings.HasSuffix(got, "..."))
}
