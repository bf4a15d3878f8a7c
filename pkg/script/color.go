package script

// Color is a CSS colour value used to tint a speaker's lines.
type Color string

// DefaultColor is used for any speaker without a palette entry.
const DefaultColor Color = "#6b7280"

var palette = map[string]Color{
	"A": "#2563eb",
	"B": "#16a34a",
	"C": "#9333ea",
	"D": "#ea580c",
}

// ColorOf returns the display colour for speaker. It never fails: unknown
// speakers get [DefaultColor].
func ColorOf(speaker string) Color {
	if c, ok := palette[speaker]; ok {
		return c
	}
	return DefaultColor
}
