package tree

// Index maps folder ids to their records for parent-chain walks.
type Index map[string]FolderRecord

// NewIndex indexes folders by id. Later duplicates are ignored.
func NewIndex(folders []FolderRecord) Index {
	idx := make(Index, len(folders))
	for _, f := range folders {
		if f.ID == "" {
			continue
		}
		if _, ok := idx[f.ID]; !ok {
			idx[f.ID] = f
		}
	}
	return idx
}

// IsDescendant reports whether targetID lies in candidateID's subtree, walking
// the parent chain up from targetID. A folder counts as part of its own subtree.
// A dangling or cyclic chain ends the walk and counts as no match.
func (idx Index) IsDescendant(candidateID, targetID string) bool {
	seen := make(map[string]bool)
	cur := targetID
	for {
		if cur == candidateID {
			return true
		}
		if cur == RootID || cur == "" || seen[cur] {
			return false
		}
		seen[cur] = true

		f, ok := idx[cur]
		if !ok {
			return false
		}
		cur = f.ParentID
	}
}

// IsDescendant is the one-shot form of Index.IsDescendant.
func IsDescendant(folders []FolderRecord, candidateID, targetID string) bool {
	return NewIndex(folders).IsDescendant(candidateID, targetID)
}

// CanMove reports whether parentID is offered as a destination for the item
// in the picker. VMs may go to root or any known folder; folders additionally
// may not go into their own subtree.
func (idx Index) CanMove(itemID, itemType, parentID string) bool {
	if parentID != RootID {
		if _, ok := idx[parentID]; !ok {
			return false
		}
	}
	switch itemType {
	case ItemVM:
		return true
	case ItemFolder:
		return !idx.IsDescendant(itemID, parentID)
	default:
		return false
	}
}

// CanMove is the one-shot form of Index.CanMove.
func CanMove(folders []FolderRecord, itemID, itemType, parentID string) bool {
	return NewIndex(folders).CanMove(itemID, itemType, parentID)
}

// MoveTargets returns the folders the item may be moved into, in input order.
// Root is always allowed and is not part of the result.
func MoveTargets(folders []FolderRecord, itemID, itemType string) []FolderRecord {
	idx := NewIndex(folders)
	seen := make(map[string]bool, len(idx))
	var targets []FolderRecord
	for _, f := range folders {
		if f.ID == "" || seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		if idx.CanMove(itemID, itemType, f.ID) {
			targets = append(targets, f)
		}
	}
	return targets
}
