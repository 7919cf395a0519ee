package content

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/hook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(blocks []Block) []string {
	var out []string
	_ = Walk(blocks, func(b *Block, _ int) error {
		out = append(out, b.ID)
		return nil
	})
	return out
}

func sample() []Block {
	return []Block{
		{ID: "h", Type: "heading", Data: map[string]any{"text": "Early game"}},
		{ID: "cols", Type: "columns", Children: []Block{
			{ID: "c1", Type: "column", Children: []Block{
				{ID: "p1", Type: "paragraph"},
			}},
			{ID: "c2", Type: "column"},
		}},
		{ID: "p2", Type: "paragraph"},
	}
}

func TestParse_Forms(t *testing.T) {
	fromJSON, err := Parse(`[{"id":"a","type":"paragraph","data":{"text":"hi"}}]`)
	require.NoError(t, err)
	require.Len(t, fromJSON, 1)
	assert.Equal(t, "hi", fromJSON[0].Data["text"])

	decoded := []any{map[string]any{"id": "a", "type": "paragraph", "children": []any{
		map[string]any{"type": "image"},
	}}}
	fromValue, err := Parse(decoded)
	require.NoError(t, err)
	require.Len(t, fromValue[0].Children, 1)

	none, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = Parse(42)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNormalize_AssignsIDs(t *testing.T) {
	in := []Block{{Type: "paragraph"}, {ID: "keep", Type: "image"}}
	out, err := Normalize(in)
	require.NoError(t, err)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, "keep", out[1].ID)
	assert.Empty(t, in[0].ID, "input is not modified")
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Normalize([]Block{{ID: "a", Type: "marquee"}})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Normalize([]Block{{ID: "a", Type: "paragraph"}, {ID: "a", Type: "paragraph"}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	deep := Block{ID: "5", Type: "paragraph"}
	for i := 4; i >= 1; i-- {
		deep = Block{ID: string(rune('0' + i)), Type: "columns", Children: []Block{deep}}
	}
	_, err = Normalize([]Block{deep})
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestFind(t *testing.T) {
	b, ok := Find(sample(), "p1")
	require.True(t, ok)
	assert.Equal(t, "paragraph", b.Type)

	_, ok = Find(sample(), "ghost")
	assert.False(t, ok)
}

func TestWalk_Depth(t *testing.T) {
	depths := map[string]int{}
	_ = Walk(sample(), func(b *Block, d int) error {
		depths[b.ID] = d
		return nil
	})
	assert.Equal(t, map[string]int{"h": 1, "cols": 1, "c1": 2, "p1": 3, "c2": 2, "p2": 1}, depths)
}

func TestMove_Reorder(t *testing.T) {
	in := sample()
	out, err := Move(in, "p2", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "h", "cols", "c1", "p1", "c2"}, ids(out))
	assert.Empty(t, cmp.Diff(sample(), in), "input is not modified")
}

func TestMove_IntoParent(t *testing.T) {
	out, err := Move(sample(), "h", "c2", 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"cols", "c1", "p1", "c2", "h", "p2"}, ids(out))

	out, err = Move(sample(), "p1", "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "p1", "cols", "c1", "c2", "p2"}, ids(out))
}

func TestMove_Errors(t *testing.T) {
	_, err := Move(sample(), "cols", "p1", 0)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = Move(sample(), "cols", "cols", 0)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = Move(sample(), "ghost", "", 0)
	assert.ErrorIs(t, err, ErrBlockNotFound)

	_, err = Move(sample(), "h", "ghost", 0)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestNormalizeHook(t *testing.T) {
	fn := NormalizeHook("guides")
	ctx := context.Background()

	ev := &hook.EntityEvent{Resource: "guides", Entity: entity.Entity{
		"guideId": "g1",
		Field:     []any{map[string]any{"type": "paragraph"}},
	}}
	require.NoError(t, fn(ctx, hook.BeforeEntitySave, ev))
	blocks := ev.Entity[Field].([]any)
	assert.NotEmpty(t, blocks[0].(map[string]any)["id"])

	bad := &hook.EntityEvent{Resource: "guides", Entity: entity.Entity{
		Field: []any{map[string]any{"type": "blink"}},
	}}
	assert.ErrorIs(t, fn(ctx, hook.BeforeEntitySave, bad), ErrUnknownType)

	other := &hook.EntityEvent{Resource: "items", Entity: entity.Entity{Field: "not blocks"}}
	assert.NoError(t, fn(ctx, hook.BeforeEntitySave, other))
}
