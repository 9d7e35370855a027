package can

import "can-controller/internal/models"

// FilterCapacity is the number of filter slots
const FilterCapacity = 32

// FilterTable is a fixed set of acceptance filters. Slot index is the
// filter's identity and its priority: lower indices win.
//
// FilterTable does no locking of its own; the Controller guards it.
type FilterTable struct {
	slots [FilterCapacity]models.Filter
}

// Set stores a filter at index, replacing whatever was there
func (t *FilterTable) Set(index int, id, mask uint32, extended bool, tag int) (int, error) {
	if index < 0 || index >= FilterCapacity {
		return -1, ErrOutOfRange
	}
	t.slots[index] = models.Filter{
		Configured: true,
		Extended:   extended,
		ID:         id & mask,
		Mask:       mask,
		Tag:        tag,
	}
	return index, nil
}

// Add stores a filter in the first unconfigured slot
func (t *FilterTable) Add(id, mask uint32, extended bool, tag int) (int, error) {
	for i := range t.slots {
		if !t.slots[i].Configured {
			return t.Set(i, id, mask, extended, tag)
		}
	}
	return -1, ErrTableFull
}

// Get returns a copy of the slot. Out-of-range and unconfigured slots read
// as the default filter.
func (t *FilterTable) Get(index int) models.Filter {
	if index < 0 || index >= FilterCapacity || !t.slots[index].Configured {
		return models.DefaultFilter()
	}
	return t.slots[index]
}

// Clear resets every slot
func (t *FilterTable) Clear() {
	for i := range t.slots {
		t.slots[i] = models.DefaultFilter()
	}
}

// Snapshot copies all slots in index order
func (t *FilterTable) Snapshot() []models.Filter {
	out := make([]models.Filter, FilterCapacity)
	for i := range t.slots {
		out[i] = t.Get(i)
	}
	return out
}

// Dispatch classifies a frame: the first configured slot in ascending index
// order whose mask and format match wins. Unmatched frames yield (-1, NoTag).
func (t *FilterTable) Dispatch(f *models.Frame) (index int, tag int) {
	for i := range t.slots {
		if t.slots[i].Matches(f) {
			return i, t.slots[i].Tag
		}
	}
	return -1, models.NoTag
}
