package models

// MergeChain is the ordered recipe for building one effective configuration:
// a single base profile plus override/script profiles applied in sequence.
type MergeChain struct {
	// Base is the profile ID of the remote/local profile the merge starts
	// from. Empty when no profile is selected.
	Base string

	// Entries are merge/script profile IDs applied in order after the base.
	Entries []string
}

// References reports whether the chain references the given profile, either
// as base or as an entry.
func (c *MergeChain) References(profileID string) bool {
	if c.Base == profileID {
		return true
	}
	for _, id := range c.Entries {
		if id == profileID {
			return true
		}
	}
	return false
}

// Prune removes every reference to profileID, clearing the base if it was the
// base. It returns true when anything was removed.
func (c *MergeChain) Prune(profileID string) bool {
	changed := false
	if c.Base == profileID {
		c.Base = ""
		changed = true
	}
	kept := c.Entries[:0]
	for _, id := range c.Entries {
		if id == profileID {
			changed = true
			continue
		}
		kept = append(kept, id)
	}
	c.Entries = kept
	return changed
}
