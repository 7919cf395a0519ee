package crud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveViewState_List(t *testing.T) {
	vs := DeriveViewState("/admin/items", "/admin/items")
	assert.Equal(t, ViewState{Mode: ModeList}, vs)

	vs = DeriveViewState("/admin/items/", "/admin/items")
	assert.Equal(t, ModeList, vs.Mode, "trailing separator is still the list")
}

func TestDeriveViewState_New(t *testing.T) {
	vs := DeriveViewState("/admin/items/new", "/admin/items")
	assert.Equal(t, ViewState{Mode: ModeEdit, IsNew: true}, vs)
	assert.Empty(t, vs.SelectedID)
}

func TestDeriveViewState_Edit(t *testing.T) {
	vs := DeriveViewState("/admin/items/I007", "/admin/items")
	assert.Equal(t, ViewState{Mode: ModeEdit, SelectedID: "I007"}, vs)
}

func TestDeriveViewState_Pure(t *testing.T) {
	paths := []string{"/admin/items", "/admin/items/", "/admin/items/new", "/admin/items/X1", ""}
	for _, p := range paths {
		assert.Equal(t, DeriveViewState(p, "/admin/items"), DeriveViewState(p, "/admin/items"), p)
	}
}

func TestParseRoute_Kinds(t *testing.T) {
	assert.IsType(t, ListRoute{}, ParseRoute("/admin/runes", "/admin/runes/"))
	assert.IsType(t, NewRoute{}, ParseRoute("/admin/runes/new/", "/admin/runes"))
	assert.Equal(t, EditRoute{ID: "R1"}, ParseRoute("/admin/runes/R1", "/admin/runes"))
}

func TestItemPath(t *testing.T) {
	assert.Equal(t, "/admin/items/I1", ItemPath("/admin/items/", "I1"))
	assert.Equal(t, "/admin/items/new", NewPath("/admin/items"))
}
