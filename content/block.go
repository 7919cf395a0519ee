// Package content models guide articles as a tree of typed blocks.
package content

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxDepth is the deepest nesting accepted; top-level blocks are depth 1.
const MaxDepth = 4

var (
	ErrUnknownType   = errors.New("content: unknown block type")
	ErrDuplicateID   = errors.New("content: duplicate block id")
	ErrTooDeep       = errors.New("content: blocks nested too deep")
	ErrBlockNotFound = errors.New("content: block not found")
	ErrCycle         = errors.New("content: cannot move a block into itself")
	ErrMalformed     = errors.New("content: malformed block content")
)

// KnownTypes lists the block types the wiki renders.
var KnownTypes = map[string]bool{
	"paragraph": true,
	"heading":   true,
	"list":      true,
	"image":     true,
	"quote":     true,
	"callout":   true,
	"table":     true,
	"divider":   true,
	"columns":   true,
	"column":    true,
	"card":      true, // inline champion/relic/item reference
}

type Block struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Children []Block        `json:"children,omitempty"`
}

// Parse decodes block content as stored on an entity: either the decoded
// JSON array or a JSON string holding it. nil yields no blocks.
func Parse(raw any) ([]Block, error) {
	var b []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		b = []byte(v)
	case []byte:
		b = v
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	var blocks []Block
	if err := json.Unmarshal(b, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return blocks, nil
}

// Value converts blocks back to the generic JSON form kept on an entity.
func Value(blocks []Block) ([]any, error) {
	b, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	out := []any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize returns a copy of blocks with ids assigned where missing. It
// rejects unknown types, duplicate ids and nesting beyond MaxDepth.
func Normalize(blocks []Block) ([]Block, error) {
	seen := make(map[string]bool)
	out := clone(blocks)
	var visit func(bs []Block, depth int) error
	visit = func(bs []Block, depth int) error {
		if depth > MaxDepth && len(bs) > 0 {
			return fmt.Errorf("%w: max %d", ErrTooDeep, MaxDepth)
		}
		for i := range bs {
			b := &bs[i]
			if !KnownTypes[b.Type] {
				return fmt.Errorf("%w: %q", ErrUnknownType, b.Type)
			}
			if b.ID == "" {
				b.ID = uuid.NewString()
			}
			if seen[b.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateID, b.ID)
			}
			seen[b.ID] = true
			if err := visit(b.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(out, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func clone(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Data != nil {
			out[i].Data = make(map[string]any, len(b.Data))
			for k, v := range b.Data {
				out[i].Data[k] = v
			}
		}
		out[i].Children = clone(b.Children)
	}
	return out
}

// Walk visits every block depth-first, top-level depth 1. Returning an error
// from fn stops the walk.
func Walk(blocks []Block, fn func(b *Block, depth int) error) error {
	var visit func(bs []Block, depth int) error
	visit = func(bs []Block, depth int) error {
		for i := range bs {
			if err := fn(&bs[i], depth); err != nil {
				return err
			}
			if err := visit(bs[i].Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(blocks, 1)
}

// Find returns the block with id.
func Find(blocks []Block, id string) (*Block, bool) {
	var found *Block
	errStop := errors.New("stop")
	_ = Walk(blocks, func(b *Block, _ int) error {
		if b.ID == id {
			found = b
			return errStop
		}
		return nil
	})
	return found, found != nil
}

// Move detaches block id and inserts it under parentID ("" for the top
// level) at index, which is clamped to the target's bounds. The input is not
// modified.
func Move(blocks []Block, id, parentID string, index int) ([]Block, error) {
	src, ok := Find(blocks, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	if parentID != "" {
		if parentID == id {
			return nil, ErrCycle
		}
		if _, inside := Find(src.Children, parentID); inside {
			return nil, ErrCycle
		}
		if _, ok := Find(blocks, parentID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, parentID)
		}
	}

	out := clone(blocks)
	var moved Block
	out = detach(out, id, &moved)

	if parentID == "" {
		return insert(out, moved, index), nil
	}
	parent, _ := Find(out, parentID)
	parent.Children = insert(parent.Children, moved, index)
	return out, nil
}

func detach(bs []Block, id string, moved *Block) []Block {
	for i := range bs {
		if bs[i].ID == id {
			*moved = bs[i]
			return append(bs[:i:i], bs[i+1:]...)
		}
		bs[i].Children = detach(bs[i].Children, id, moved)
	}
	return bs
}

func insert(bs []Block, b Block, index int) []Block {
	if index < 0 {
		index = 0
	}
	if index > len(bs) {
		index = len(bs)
	}
	out := make([]Block, 0, len(bs)+1)
	out = append(out, bs[:index]...)
	out = append(out, b)
	return append(out, bs[index:]...)
}
