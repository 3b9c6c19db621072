package pack

import (
	"github.com/openvault/cartonbox/internal/catalog"
)

// Classify compares one package descriptor against the existing catalog.
//
// The matching entry is located by file id first, then content hash, then
// relative path; the first strategy that finds an entry wins. With no match
// the file is New. With a match the verdict comes from hash and modification
// time:
//
//	hash equal,  time equal  -> Same
//	package time later       -> NewerInPackage
//	package time earlier     -> OlderInPackage
//	time equal, hash differs -> Conflict
func Classify(store catalog.Store, desc *Descriptor) (ItemStatus, string, error) {
	entry, how, err := findMatch(store, desc)
	if err != nil {
		return "", "", err
	}
	if entry == nil {
		return ItemNew, "no matching catalog entry", nil
	}

	hashEqual := desc.ContentHash == entry.ContentHash
	timeEqual := desc.ModifiedAt.Equal(entry.ModifiedAt)

	switch {
	case hashEqual && timeEqual:
		return ItemSame, "matched by " + how, nil
	case desc.ModifiedAt.After(entry.ModifiedAt):
		return ItemNewerInPackage, "matched by " + how, nil
	case desc.ModifiedAt.Before(entry.ModifiedAt):
		return ItemOlderInPackage, "matched by " + how, nil
	default:
		// Equal timestamps, different content: ordering is ambiguous.
		return ItemConflict, "equal timestamps with different content (matched by " + how + ")", nil
	}
}

func findMatch(store catalog.Store, desc *Descriptor) (*catalog.Entry, string, error) {
	entry, err := store.GetByID(desc.FileID)
	if err != nil {
		return nil, "", err
	}
	if entry != nil {
		return entry, "id", nil
	}

	entry, err = store.GetByContentHash(desc.ContentHash)
	if err != nil {
		return nil, "", err
	}
	if entry != nil {
		return entry, "hash", nil
	}

	entry, err = store.GetByRelPath(desc.RelPath)
	if err != nil {
		return nil, "", err
	}
	if entry != nil {
		return entry, "path", nil
	}
	return nil, "", nil
}
