// Package middleware provides the HTTP authorization guard and the
// rule policy it enforces. The rule matching itself is a pure function
// with no knowledge of any routing layer.
package middleware

// Mode selects how required rules combine.
type Mode int

const (
	// ModeAny grants access when the caller holds at least one of the
	// required rules.
	ModeAny Mode = iota
	// ModeAll requires every listed rule.
	ModeAll
)

// Policy is the access requirement for one route or operation.
type Policy struct {
	Required []string
	Mode     Mode
	// SuperRule, when non-empty, names a break-glass rule that grants
	// access regardless of the required set.
	SuperRule string
}

// Allows reports whether the held rules satisfy the policy. An empty
// Required set allows any authenticated caller.
func (p Policy) Allows(held []string) bool {
	if p.SuperRule != "" && contains(held, p.SuperRule) {
		return true
	}
	if len(p.Required) == 0 {
		return true
	}
	switch p.Mode {
	case ModeAll:
		for _, r := range p.Required {
			if !contains(held, r) {
				return false
			}
		}
		return true
	default:
		for _, r := range p.Required {
			if contains(held, r) {
				return true
			}
		}
		return false
	}
}

func contains(held []string, rule string) bool {
	for _, h := range held {
		if h == rule {
			return true
		}
	}
	return false
}
