package slots

import (
	"context"
	"time"
)

// Updater runs fn against the current document under the store lock and
// persists the result when fn returns nil.
type Updater interface {
	Update(ctx context.Context, fn func(doc *Document) error) error
}

// ActivateWorker fills a slot for a.IssueID in the project named by ref (slug or
// channel id). A nil a.Slot picks the first free slot.
func ActivateWorker(ctx context.Context, store Updater, ref, role, level string, max int, a Activation) (SlotRef, error) {
	var out SlotRef
	err := store.Update(ctx, func(doc *Document) error {
		p, err := doc.Resolve(ref)
		if err != nil {
			return err
		}
		if a.StartedAt.IsZero() {
			a.StartedAt = time.Now()
		}
		idx, err := p.Activate(role, level, max, a)
		if err != nil {
			return err
		}
		out = SlotRef{Role: role, Level: level, Index: idx, Slot: p.Workers[role].Levels[level][idx]}
		return nil
	})
	return out, err
}

// DeactivateWorker frees the slot holding issueID and returns it as it was.
func DeactivateWorker(ctx context.Context, store Updater, ref, role string, issueID int) (SlotRef, error) {
	var out SlotRef
	err := store.Update(ctx, func(doc *Document) error {
		p, err := doc.Resolve(ref)
		if err != nil {
			return err
		}
		out, err = p.Deactivate(role, issueID)
		return err
	})
	return out, err
}

// UpdateSlot writes an absolute new slot value computed by fn.
func UpdateSlot(ctx context.Context, store Updater, ref, role, level string, index int, fn func(SlotState) SlotState) (SlotState, error) {
	var out SlotState
	err := store.Update(ctx, func(doc *Document) error {
		p, err := doc.Resolve(ref)
		if err != nil {
			return err
		}
		out, err = p.Update(role, level, index, fn)
		return err
	})
	return out, err
}
