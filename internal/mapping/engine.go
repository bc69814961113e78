package mapping

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/num/quat"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// Mode selects how controller state drives the cursor.
type Mode int

const (
	// ModeAirMouse points the cursor where the controller points.
	ModeAirMouse Mode = iota
	// ModeTouchpad moves the cursor relatively, like a laptop touchpad.
	ModeTouchpad
)

func (m Mode) String() string {
	switch m {
	case ModeAirMouse:
		return "air-mouse"
	case ModeTouchpad:
		return "touchpad"
	default:
		return "unknown"
	}
}

// Config tunes the movement translation.
type Config struct {
	Mode Mode

	// Touchpad mode: base pixels per full touchpad swipe, acceleration
	// multiplier and the squared-speed floor below which no acceleration
	// applies.
	TouchpadSensitivity           float64
	TouchpadAcceleration          float64
	TouchpadAccelerationThreshold float64

	// Air-mouse mode: the horizontal angle in degrees mapped across the
	// display width, and the rotational speed in degrees per second below
	// which orientation changes are ignored as hold jitter.
	AirMouseFOV                 float64
	AirMouseActivationThreshold float64
}

// DefaultConfig mirrors the tuning the controller ships with.
func DefaultConfig() Config {
	return Config{
		Mode:                          ModeAirMouse,
		TouchpadSensitivity:           500,
		TouchpadAcceleration:          1.2,
		TouchpadAccelerationThreshold: 0.0002,
		AirMouseFOV:                   40,
		AirMouseActivationThreshold:   5.0,
	}
}

// Keymap binds controller buttons to actions. A binding is a mouse button
// token (left/right/middle), a key name, or a "+"-joined chord; empty means
// unbound.
type Keymap struct {
	Trigger    string
	Home       string
	Back       string
	Touchpad   string
	VolumeUp   string
	VolumeDown string
}

// DefaultKeymap mirrors the stock bindings: trigger clicks, the touchpad
// button right-clicks, back erases, the volume rocker does volume. Home is
// reserved for re-zeroing and mode toggling.
func DefaultKeymap() Keymap {
	return Keymap{
		Trigger:    MouseLeft,
		Back:       "backspace",
		Touchpad:   MouseRight,
		VolumeUp:   "volume up",
		VolumeDown: "volume down",
	}
}

const (
	// doublePressWindow is the home double-press window toggling the mode.
	doublePressWindow = 300 * time.Millisecond
	// lerpFactor is the per-tick fraction of remaining distance covered.
	lerpFactor = 0.3
	// snapDistance is the radius inside which the cursor jumps onto the
	// target instead of easing.
	snapDistance = 1.0
	// staleAfter suppresses interpolation once updates stop arriving, so a
	// dead link cannot keep dragging the cursor.
	staleAfter = 5 * time.Second
	// precisionFOVFactor widens the effective field of view in precision
	// mode, trading range for pointing resolution.
	precisionFOVFactor = 10.0
	// touchpadAccelGain converts excess squared speed into a multiplier.
	touchpadAccelGain = 500.0
)

// Engine converts controller states into a moving cursor target and button
// actions, and eases the OS cursor toward the target on a fixed tick. It is
// not safe for concurrent use; the Mapper confines it to one goroutine.
type Engine struct {
	act    Actuator
	cfg    Config
	keymap Keymap

	mode      Mode
	precision bool
	active    bool

	targetX, targetY float64
	remX, remY       float64

	last       fusion.ControllerState
	haveLast   bool
	lastUpdate time.Time

	homePressedAt time.Time
	haveHomePress bool

	anchorYaw, anchorPitch       float64
	anchorCursorX, anchorCursorY float64
}

// NewEngine returns an engine driving act.
func NewEngine(act Actuator, cfg Config, keymap Keymap) *Engine {
	return &Engine{act: act, cfg: cfg, keymap: keymap, mode: cfg.Mode}
}

// Mode reports the current movement mode.
func (e *Engine) Mode() Mode { return e.mode }

// SetConfig swaps the tuning; the mode follows the new config.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
	e.mode = cfg.Mode
}

// SetKeymap swaps the button bindings.
func (e *Engine) SetKeymap(km Keymap) {
	e.keymap = km
}

// Update processes one fused controller state at wall time now.
func (e *Engine) Update(state fusion.ControllerState, now time.Time) {
	buttons := state.Buttons
	var prev fusion.ControllerState
	if e.haveLast {
		prev = e.last
	}

	// Home double-press toggles the movement mode.
	if buttons.Home && !prev.Buttons.Home {
		if e.haveHomePress && now.Sub(e.homePressedAt) < doublePressWindow {
			e.toggleMode()
			e.haveHomePress = false
		} else {
			e.homePressedAt = now
			e.haveHomePress = true
		}
	}

	e.applyButtonEdges(prev.Buttons, buttons)

	switch e.mode {
	case ModeAirMouse:
		e.updateAirMouse(state)
	case ModeTouchpad:
		e.updateTouchpad(state)
	}

	e.clampTarget()
	e.last = state
	e.haveLast = true
	e.lastUpdate = now
}

func (e *Engine) toggleMode() {
	if e.mode == ModeAirMouse {
		e.mode = ModeTouchpad
	} else {
		e.mode = ModeAirMouse
	}
	e.precision = false
	e.active = false
	log.Infof("mapping: mode switched to %s", e.mode)
}

func (e *Engine) applyButtonEdges(prev, cur protocol.ButtonState) {
	edges := []struct {
		was, is bool
		binding string
	}{
		{prev.Trigger, cur.Trigger, e.keymap.Trigger},
		{prev.Home, cur.Home, e.keymap.Home},
		{prev.Back, cur.Back, e.keymap.Back},
		{prev.Touchpad, cur.Touchpad, e.keymap.Touchpad},
		{prev.VolumeUp, cur.VolumeUp, e.keymap.VolumeUp},
		{prev.VolumeDown, cur.VolumeDown, e.keymap.VolumeDown},
	}
	for _, edge := range edges {
		if edge.binding == "" || edge.was == edge.is {
			continue
		}
		if edge.is {
			pressBinding(e.act, edge.binding)
		} else {
			releaseBinding(e.act, edge.binding)
		}
	}
}

func (e *Engine) updateAirMouse(state fusion.ControllerState) {
	touched := state.Touchpad.Touched

	// Entering precision mode rebases motion on the current pose and
	// cursor so the pointer continues from where it already is.
	if touched && !e.precision {
		yaw, pitch := yawPitch(state.Orientation)
		e.anchorYaw, e.anchorPitch = yaw, pitch
		cx, cy := e.act.CursorLocation()
		e.anchorCursorX, e.anchorCursorY = float64(cx), float64(cy)
	}
	e.precision = touched

	speed := e.rotationalSpeed(state)
	e.active = e.precision || speed > e.cfg.AirMouseActivationThreshold
	if !e.active {
		return
	}

	w, h := e.act.DisplaySize()
	yaw, pitch := yawPitch(state.Orientation)

	// The vertical field of view is the horizontal one scaled by the display
	// aspect ratio, so yaw and pitch share a single pixels-per-radian scale.
	if e.precision {
		fov := e.cfg.AirMouseFOV * precisionFOVFactor * math.Pi / 180
		pxPerRad := float64(w) / fov
		e.targetX = e.anchorCursorX + (yaw-e.anchorYaw)*pxPerRad
		e.targetY = e.anchorCursorY - (pitch-e.anchorPitch)*pxPerRad
		return
	}

	fov := e.cfg.AirMouseFOV * math.Pi / 180
	pxPerRad := float64(w) / fov
	e.targetX = float64(w)*0.5 + yaw*pxPerRad
	e.targetY = float64(h)*0.5 - pitch*pxPerRad
}

// rotationalSpeed is the angle between the previous and current orientation
// divided by the elapsed time, in degrees per second.
func (e *Engine) rotationalSpeed(state fusion.ControllerState) float64 {
	if !e.haveLast {
		return 0
	}
	dt := state.Timestamp - e.last.Timestamp
	if dt <= 0 {
		return 0
	}
	diff := quat.Mul(quat.Inv(e.last.Orientation.Quat()), state.Orientation.Quat())
	w := math.Abs(diff.Real)
	if w > 1 {
		w = 1
	}
	angle := 2 * math.Acos(w)
	return angle * 180 / math.Pi / dt
}

func (e *Engine) updateTouchpad(state fusion.ControllerState) {
	cur := state.Touchpad
	prev := e.last.Touchpad

	// Move only when both frames are touches; the first contact would
	// otherwise register as a jump from (0, 0).
	if !e.haveLast || !cur.Touched || !prev.Touched {
		e.active = false
		e.remX, e.remY = 0, 0
		return
	}
	dt := state.Timestamp - e.last.Timestamp
	if dt <= 0 {
		return
	}
	e.active = true

	dx := cur.X - prev.X
	dy := cur.Y - prev.Y

	// The acceleration threshold and gain are tuned against millisecond
	// frame deltas; seconds would fire the gate on every ordinary swipe.
	speedSq := (dx*dx + dy*dy) / (dt * 1000)
	excess := speedSq - e.cfg.TouchpadAccelerationThreshold
	if excess < 0 {
		excess = 0
	}
	mult := 1 + excess*touchpadAccelGain*e.cfg.TouchpadAcceleration

	// Carry the sub-pixel remainder so slow swipes still add up.
	moveX := dx*e.cfg.TouchpadSensitivity*mult + e.remX
	moveY := dy*e.cfg.TouchpadSensitivity*mult + e.remY
	intX := math.Trunc(moveX)
	intY := math.Trunc(moveY)
	e.remX = moveX - intX
	e.remY = moveY - intY

	e.targetX += intX
	e.targetY += intY
}

func (e *Engine) clampTarget() {
	w, h := e.act.DisplaySize()
	e.targetX = clampF(e.targetX, 0, float64(w-1))
	e.targetY = clampF(e.targetY, 0, float64(h-1))
}

// Tick runs one interpolation step at wall time now.
func (e *Engine) Tick(now time.Time) {
	if !e.active {
		// Nothing is driving the cursor; track wherever the user left it
		// so the next activation starts from there.
		cx, cy := e.act.CursorLocation()
		e.targetX, e.targetY = float64(cx), float64(cy)
		return
	}
	if e.haveLast && now.Sub(e.lastUpdate) > staleAfter {
		return
	}

	cx, cy := e.act.CursorLocation()
	dx := e.targetX - float64(cx)
	dy := e.targetY - float64(cy)

	if math.Hypot(dx, dy) <= snapDistance {
		e.act.MoveMouse(int(math.Round(e.targetX)), int(math.Round(e.targetY)))
		return
	}
	e.act.MoveMouse(
		int(math.Round(float64(cx)+dx*lerpFactor)),
		int(math.Round(float64(cy)+dy*lerpFactor)),
	)
}

// yawPitch extracts heading and elevation from the fused orientation. The
// controller's body frame is remapped (w, y, x, -z) before the ZYX angle
// extraction so yaw turns with the wrist and pitch follows the controller
// nose.
func yawPitch(o fusion.Quaternion) (yaw, pitch float64) {
	q := fusion.Normalize(quat.Number{Real: o.W, Imag: o.Y, Jmag: o.X, Kmag: -o.Z})

	yaw = math.Atan2(
		2*(q.Real*q.Kmag+q.Imag*q.Jmag),
		1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag),
	)
	sinPitch := 2 * (q.Real*q.Jmag - q.Kmag*q.Imag)
	if sinPitch > 1 {
		sinPitch = 1
	} else if sinPitch < -1 {
		sinPitch = -1
	}
	pitch = math.Asin(sinPitch)
	return yaw, pitch
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
