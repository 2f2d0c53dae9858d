package model

// FileEntry represents a file shown in the working set sidebar
type FileEntry struct {
	Path    string
	Tracked bool
}

// StatusIcon returns the icon for the file's membership
func (f FileEntry) StatusIcon() string {
	if f.Tracked {
		return "●"
	}
	return "○"
}
