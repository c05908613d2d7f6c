package offset

import (
	"strings"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// Positivity decides which magnitudes are legal for size and step offsets.
type Positivity uint8

const (
	// StrictPositive requires a magnitude > 0.
	StrictPositive Positivity = iota
	// NonNegative accepts a zero magnitude.
	NonNegative
)

// String returns the policy name.
func (p Positivity) String() string {
	if p == NonNegative {
		return "non-negative"
	}
	return "strict-positive"
}

// ParsePositivity parses a policy name. Unknown names fall back to StrictPositive.
func ParsePositivity(s string) Positivity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "non-negative", "nonnegative", "non_negative":
		return NonNegative
	default:
		return StrictPositive
	}
}

// Check validates a size or step offset under the policy.
func (p Positivity) Check(param string, o Offset) error {
	n, err := Magnitude(o)
	if err != nil {
		return err
	}
	if n < 0 || (n == 0 && p == StrictPositive) {
		return lferrors.NonPositiveOffset(param, o.String()).
			WithContext("policy", p.String())
	}
	return nil
}

// CheckBoundary validates a start or stop offset: negative distances are
// rejected, points are always accepted.
func CheckBoundary(param string, o Offset) error {
	if o == nil || o.Kind() == KindPoint {
		return nil
	}
	n, err := Magnitude(o)
	if err != nil {
		return err
	}
	if n < 0 {
		return lferrors.NonPositiveOffset(param, o.String())
	}
	return nil
}
