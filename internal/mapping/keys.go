package mapping

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Mouse button tokens recognized in bindings; anything else is a key.
const (
	MouseLeft   = "left"
	MouseRight  = "right"
	MouseMiddle = "middle"
)

func isMouseToken(tok string) bool {
	switch tok {
	case MouseLeft, MouseRight, MouseMiddle:
		return true
	}
	return false
}

// parseBinding splits a "+"-joined chord into its tokens. Empty bindings
// and empty tokens yield nil, the no-op binding.
func parseBinding(binding string) []string {
	if strings.TrimSpace(binding) == "" {
		return nil
	}
	parts := strings.Split(binding, "+")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// pressBinding actuates a chord in token order.
func pressBinding(act Actuator, binding string) {
	for _, tok := range parseBinding(binding) {
		var err error
		if isMouseToken(tok) {
			err = act.MouseDown(tok)
		} else {
			err = act.KeyDown(tok)
		}
		if err != nil {
			log.Warnf("mapping: press %q: %v", tok, err)
		}
	}
}

// releaseBinding releases a chord in reverse token order, mirroring how a
// person lets go of a shortcut.
func releaseBinding(act Actuator, binding string) {
	tokens := parseBinding(binding)
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		var err error
		if isMouseToken(tok) {
			err = act.MouseUp(tok)
		} else {
			err = act.KeyUp(tok)
		}
		if err != nil {
			log.Warnf("mapping: release %q: %v", tok, err)
		}
	}
}
