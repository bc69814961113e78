// Package mapping translates fused controller states into OS pointer and
// keyboard input: mode handling, button bindings and a fixed-rate cursor
// interpolation loop on a dedicated OS thread.
package mapping

// Actuator abstracts OS-level input injection. The production
// implementation wraps robotgo; tests substitute a fake so the suite never
// moves the real cursor.
type Actuator interface {
	// MoveMouse places the cursor at absolute screen coordinates.
	MoveMouse(x, y int)
	// CursorLocation reports the current cursor position.
	CursorLocation() (x, y int)
	// DisplaySize reports the primary display dimensions in pixels.
	DisplaySize() (w, h int)

	KeyDown(key string) error
	KeyUp(key string) error
	MouseDown(button string) error
	MouseUp(button string) error
}
