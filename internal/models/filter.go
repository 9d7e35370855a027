package models

// NoTag marks a filter without an explicit consumer tag
const NoTag = -1

// Filter is one slot of the controller's filter table.
// ID is stored pre-masked so matching reduces to (frame.ID & Mask) == ID.
type Filter struct {
	Configured bool   `json:"configured"`
	Extended   bool   `json:"extended"`
	ID         uint32 `json:"id"`
	Mask       uint32 `json:"mask"`
	Tag        int    `json:"tag"`
}

// DefaultFilter returns an unconfigured slot
func DefaultFilter() Filter {
	return Filter{Tag: NoTag}
}

// Matches reports whether a configured filter accepts the frame
func (f Filter) Matches(frame *Frame) bool {
	return f.Configured && frame.Extended == f.Extended && frame.ID&f.Mask == f.ID
}
