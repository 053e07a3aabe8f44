package nn

import "github.com/pkg/errors"

// Sentinel configuration errors. Constructors wrap them with context, so test
// with errors.Is.
var (
	// ErrUnsupportedPosEmb is returned for position-embedding tags other than
	// the supported rotary family.
	ErrUnsupportedPosEmb = errors.New("unsupported position embedding type")

	// ErrUnknownActivation is returned for activation tags outside the closed set.
	ErrUnknownActivation = errors.New("unknown activation")

	// ErrInvalidConfig marks any other rejected configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// invalidf wraps ErrInvalidConfig with a formatted message.
func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}
