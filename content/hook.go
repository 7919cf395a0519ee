package content

import (
	"context"

	"github.com/kasuganosora/gamewiki/server/hook"
)

// Field is the entity attribute holding a guide's blocks.
const Field = "content"

// NormalizeHook validates and normalises the block content of entities in
// resource before they are stored. Entities without content pass untouched.
func NormalizeHook(resource string) hook.HookFn {
	return func(_ context.Context, _ string, ev *hook.EntityEvent) error {
		if ev.Resource != resource || ev.Entity == nil {
			return nil
		}
		raw, ok := ev.Entity[Field]
		if !ok {
			return nil
		}
		blocks, err := Parse(raw)
		if err != nil {
			return err
		}
		blocks, err = Normalize(blocks)
		if err != nil {
			return err
		}
		v, err := Value(blocks)
		if err != nil {
			return err
		}
		ev.Entity[Field] = v
		return nil
	}
}
