package collab

import "unicode/utf16"

// palette holds the cursor colors handed out to collaborators.
var palette = []string{
	"#f44336", "#e91e63", "#9c27b0", "#673ab7", "#3f51b5",
	"#2196f3", "#009688", "#4caf50", "#ff9800", "#795548",
}

// User is the awareness field every mount publishes.
type User struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ColorForName maps a display name onto the palette. The same name always
// gets the same color.
//
// TECHNICAL DISCOVERY: The hash walks UTF-16 code units with 32-bit
// wraparound so a name outside the BMP lands on the same color the browser
// editor picks for it.
func ColorForName(name string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(name)) {
		h = int32(c) + (h << 5) - h
	}
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return palette[idx%int64(len(palette))]
}

// PresenceFor builds the awareness user field for name.
func PresenceFor(name string) User {
	return User{Name: name, Color: ColorForName(name)}
}
