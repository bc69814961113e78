package mapping

import (
	"strings"

	"github.com/go-vgo/robotgo"
)

// keyAliases maps the friendly names accepted in keymap config to the key
// tokens robotgo understands.
var keyAliases = map[string]string{
	"volume up":   "audio_vol_up",
	"volume down": "audio_vol_down",
	"volume_up":   "audio_vol_up",
	"volume_down": "audio_vol_down",
	"mute":        "audio_mute",
	"return":      "enter",
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[key]; ok {
		return alias
	}
	return key
}

// RobotgoActuator injects input through robotgo. All methods must be called
// from the mapper's dedicated OS thread.
type RobotgoActuator struct{}

func NewRobotgoActuator() *RobotgoActuator {
	return &RobotgoActuator{}
}

func (*RobotgoActuator) MoveMouse(x, y int) {
	robotgo.Move(x, y)
}

func (*RobotgoActuator) CursorLocation() (int, int) {
	return robotgo.Location()
}

func (*RobotgoActuator) DisplaySize() (int, int) {
	return robotgo.GetScreenSize()
}

func (*RobotgoActuator) KeyDown(key string) error {
	return robotgo.KeyToggle(normalizeKey(key), "down")
}

func (*RobotgoActuator) KeyUp(key string) error {
	return robotgo.KeyToggle(normalizeKey(key), "up")
}

func (*RobotgoActuator) MouseDown(button string) error {
	return robotgo.Toggle(button, "down")
}

func (*RobotgoActuator) MouseUp(button string) error {
	return robotgo.Toggle(button, "up")
}
