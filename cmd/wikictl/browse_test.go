package main

import (
	"context"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kasuganosora/gamewiki/server/client"
	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory collection.
type fakeAPI struct {
	items   []entity.Entity
	upserts []entity.Entity
	deleted []string
}

func (f *fakeAPI) List(ctx context.Context, endpoint string) ([]entity.Entity, error) {
	out := make([]entity.Entity, len(f.items))
	for i, e := range f.items {
		out[i] = e.Clone()
	}
	return out, nil
}

func (f *fakeAPI) Upsert(ctx context.Context, endpoint, token string, e entity.Entity) (string, error) {
	f.upserts = append(f.upserts, e.Clone())
	id := e.Key("itemCode")
	for i, it := range f.items {
		if it.Key("itemCode") == id {
			f.items[i] = e.Clone()
			return endpoint + " " + id + " saved", nil
		}
	}
	f.items = append(f.items, e.Clone())
	return endpoint + " " + id + " saved", nil
}

func (f *fakeAPI) Delete(ctx context.Context, endpoint, id, token string) (string, error) {
	f.deleted = append(f.deleted, id)
	kept := f.items[:0]
	for _, it := range f.items {
		if it.Key("itemCode") != id {
			kept = append(kept, it)
		}
	}
	f.items = kept
	return endpoint + " " + id + " deleted", nil
}

func newTestBrowser(t *testing.T, api *fakeAPI) (browseModel, *crud.HistoryNavigator) {
	t.Helper()
	useTokenFile(t, "tok")
	rc, err := lookupResource("items")
	require.NoError(t, err)
	ctrl, nav := newController(rc, api, "", func(cfg *crud.Config) { cfg.ItemsPerPage = 2 })
	m := newBrowseModel(context.Background(), ctrl)
	m = update(t, m, m.Init()())
	return m, nav
}

func update(t *testing.T, m browseModel, msg tea.Msg) browseModel {
	t.Helper()
	next, _ := m.Update(msg)
	bm, ok := next.(browseModel)
	require.True(t, ok)
	return bm
}

// press sends keys and returns the model plus the last command.
func press(t *testing.T, m browseModel, keys ...string) (browseModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+s":
			msg = tea.KeyMsg{Type: tea.KeyCtrlS}
		case "ctrl+x":
			msg = tea.KeyMsg{Type: tea.KeyCtrlX}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(browseModel)
	}
	return m, cmd
}

func sampleItems() []entity.Entity {
	return []entity.Entity{
		{"itemCode": "I1", "name": "Sword", "rarity": "COMMON"},
		{"itemCode": "I2", "name": "Épée", "rarity": "RARE"},
		{"itemCode": "I3", "name": "Bow", "rarity": "COMMON"},
	}
}

func TestBrowseLoadsFirstPage(t *testing.T) {
	m, _ := newTestBrowser(t, &fakeAPI{items: sampleItems()})
	require.Len(t, m.pageItems, 2)
	assert.Equal(t, "I1", m.highlighted().Key("itemCode"))
	assert.Contains(t, m.View(), "page 1/2, 3 items")

	m, _ = press(t, m, "]")
	require.Len(t, m.pageItems, 1)
	assert.Equal(t, "I3", m.pageItems[0].Key("itemCode"))

	// Paging past the end stays on the last page.
	m, _ = press(t, m, "]")
	assert.Contains(t, m.View(), "page 2/2")
}

func TestBrowseSearch(t *testing.T) {
	m, _ := newTestBrowser(t, &fakeAPI{items: sampleItems()})
	m, _ = press(t, m, "/", "e", "p", "e", "e")
	assert.Equal(t, inputSearch, m.mode)
	require.Len(t, m.pageItems, 1)
	assert.Equal(t, "I2", m.pageItems[0].Key("itemCode"))

	m, _ = press(t, m, "enter")
	assert.Equal(t, inputNone, m.mode)
	assert.Len(t, m.pageItems, 1, "search stays applied")

	m, _ = press(t, m, "/", "esc")
	assert.Len(t, m.pageItems, 2, "esc clears the search")
}

func TestBrowseEditAndSave(t *testing.T) {
	api := &fakeAPI{items: sampleItems()}
	m, nav := newTestBrowser(t, api)

	m, _ = press(t, m, "enter")
	require.True(t, m.editing())
	assert.Equal(t, "/admin/items/I1", nav.Path())
	assert.Equal(t, []string{"itemCode", "name", "rarity"}, m.fields)

	m, _ = press(t, m, "a")
	m, _ = press(t, m, []string{"r", "a", "r", "i", "t", "y", "=", "E", "P", "I", "C"}...)
	m, _ = press(t, m, "enter")
	assert.True(t, m.tracker.Dirty())
	assert.Contains(t, m.View(), "(modified)")

	m, cmd := press(t, m, "ctrl+s")
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	assert.False(t, m.editing())
	assert.Equal(t, "/admin/items", nav.Path())
	require.Len(t, api.upserts, 1)
	assert.Equal(t, "EPIC", api.upserts[0]["rarity"])
	assert.Contains(t, m.status, "items I1 saved")
}

func TestBrowseEditFieldValue(t *testing.T) {
	api := &fakeAPI{items: sampleItems()}
	m, _ := newTestBrowser(t, api)
	m, _ = press(t, m, "enter", "j", "e")
	require.Equal(t, inputValue, m.mode)
	assert.Equal(t, "Sword", m.input.Value())

	m, _ = press(t, m, "!", "enter")
	assert.Equal(t, "Sword!", m.tracker.Current()["name"])

	// "-" drops the field under the cursor but never the id.
	m, _ = press(t, m, "-")
	assert.NotContains(t, m.tracker.Current(), "name")
	m, _ = press(t, m, "k", "-")
	assert.Contains(t, m.tracker.Current(), "itemCode")
}

func TestBrowseCloseGuard(t *testing.T) {
	m, nav := newTestBrowser(t, &fakeAPI{items: sampleItems()})

	// Clean form closes straight away.
	m, _ = press(t, m, "enter", "esc")
	assert.False(t, m.editing())
	assert.Equal(t, "/admin/items", nav.Path())

	// Dirty form asks first.
	m, _ = press(t, m, "enter", "a", "x", "=", "1", "enter", "esc")
	assert.True(t, m.editing())
	assert.True(t, m.ctrl.ConfirmOpen())
	assert.Contains(t, m.View(), "Discard unsaved changes?")

	m, _ = press(t, m, "n")
	assert.True(t, m.editing())
	assert.False(t, m.ctrl.ConfirmOpen())

	m, _ = press(t, m, "esc", "y")
	assert.False(t, m.editing())
	assert.Equal(t, "/admin/items", nav.Path())
}

func TestBrowseCreate(t *testing.T) {
	api := &fakeAPI{}
	m, nav := newTestBrowser(t, api)
	m, _ = press(t, m, "n")
	require.True(t, m.editing())
	assert.Equal(t, "/admin/items/new", nav.Path())
	assert.Contains(t, m.View(), "New item")
	assert.NotContains(t, m.fields, entity.NewMarker)

	m, cmd := press(t, m, "ctrl+s")
	m = update(t, m, cmd())
	require.Len(t, api.upserts, 1)
	assert.NotContains(t, api.upserts[0], entity.NewMarker)
	assert.Equal(t, "COMMON", api.upserts[0]["rarity"])
	assert.Len(t, m.pageItems, 1)
}

func TestBrowseDeleteFromList(t *testing.T) {
	api := &fakeAPI{items: sampleItems()}
	m, _ := newTestBrowser(t, api)

	m, cmd := press(t, m, "x", "n")
	assert.Nil(t, cmd)
	assert.Empty(t, api.deleted)

	m, _ = press(t, m, "x")
	assert.Contains(t, m.View(), "Delete I1? (y/n)")
	m, cmd = press(t, m, "y")
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Equal(t, []string{"I1"}, api.deleted)
	assert.Equal(t, "I2", m.pageItems[0].Key("itemCode"))
	assert.Contains(t, m.status, "items I1 deleted")
}

func TestBrowseLiveReload(t *testing.T) {
	api := &fakeAPI{items: sampleItems()}
	m, _ := newTestBrowser(t, api)

	_, cmd := m.Update(changeMsg{change: client.Change{Type: "saved", Resource: "relics", ID: "RL1"}})
	assert.Nil(t, cmd, "other collections are ignored")

	api.items = append(api.items, entity.Entity{"itemCode": "I0", "name": "Axe"})
	next, cmd := m.Update(changeMsg{change: client.Change{Type: "saved", Resource: "items", ID: "I0"}})
	require.NotNil(t, cmd)
	m = update(t, next.(browseModel), cmd())
	assert.Contains(t, m.View(), "page 1/2, 4 items")
}

func TestBrowseWarnsWhenEditedItemDeletedElsewhere(t *testing.T) {
	m, _ := newTestBrowser(t, &fakeAPI{items: sampleItems()})
	m, _ = press(t, m, "enter")
	m = update(t, m, changeMsg{change: client.Change{Type: "deleted", Resource: "items", ID: "I1"}})
	assert.Contains(t, m.status, "deleted by another editor")
	assert.True(t, m.editing(), "edits are kept")
}

func TestBrowseEditViewClipsLongValues(t *testing.T) {
	m, _ := newTestBrowser(t, &fakeAPI{items: []entity.Entity{
		{"itemCode": "I9", "name": "Épée éternelle de la Reine"},
	}})
	m = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 24})
	m, _ = press(t, m, "enter")
	require.True(t, m.editing())

	view := m.View()
	assert.True(t, utf8.ValidString(view))
	assert.Contains(t, view, "Épée ...")
	assert.NotContains(t, view, "Reine")
}
