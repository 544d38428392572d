package classroom

// Layout tells which of the two panes is in front.
type Layout uint8

const (
	MediaForward Layout = iota
	DocumentForward
)

func (l Layout) String() string {
	if l == DocumentForward {
		return "document"
	}
	return "media"
}

// ParseLayout reads the configured layout, media is the default.
func ParseLayout(s string) Layout {
	if s == "document" {
		return DocumentForward
	}
	return MediaForward
}

func (l Layout) toggle() Layout {
	if l == MediaForward {
		return DocumentForward
	}
	return MediaForward
}
