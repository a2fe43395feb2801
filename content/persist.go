package content

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/armor"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/volume"
)

// contentWire is Content's on-disk shape.
type contentWire struct {
	ID   eid.ID
	Hash [32]byte
	Ents EntryList
}

// Save armor-saves a Content record under its own id. A Content is
// immutable once built (spec.md §3: "a new write always produces a new
// Content"), so this is always the record's first and only save, always
// landing on armor.InitialArm -> Left. Segment.Save, by contrast, toggles
// arms on every save.
func (c *Content) Save(ctx context.Context, vol *volume.Volume) error {
	wire := contentWire{ID: c.ID, Hash: c.Hash, Ents: c.Ents}
	plain, err := marshalMsgpack(wire)
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindCorrupted, "content.Content.Save", err)
	}
	_, _, err = armor.SaveItem(ctx, vol, armor.SlotAddress, c.ID, armor.InitialArm, 0, plain)
	return err
}

// LoadContent reads a previously-saved Content record.
func LoadContent(ctx context.Context, vol *volume.Volume, id eid.ID) (*Content, error) {
	data, _, _, err := armor.LoadItem(ctx, vol, armor.SlotAddress, id)
	if err != nil {
		return nil, err
	}
	var wire contentWire
	if err := unmarshalMsgpack(data, &wire); err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "content.LoadContent", err)
	}
	return &Content{ID: wire.ID, Hash: wire.Hash, Ents: wire.Ents}, nil
}

// DeleteContent removes a Content record's own arms. It does not touch
// the chunks its EntryList references; callers unlink those separately
// via Unlink before calling DeleteContent.
func DeleteContent(ctx context.Context, vol *volume.Volume, id eid.ID) error {
	return armor.RemoveAllArms(ctx, vol, armor.SlotAddress, id)
}
