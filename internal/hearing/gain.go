package hearing

import (
	"fmt"
	"strconv"
)

// TuningGain is the enhancement strength in percent.
type TuningGain int

const (
	MinGain     TuningGain = 50
	MaxGain     TuningGain = 85
	DefaultGain TuningGain = MinGain
)

var ErrInvalidGain = fmt.Errorf("%w: tuning gain outside %d-%d%%", ErrValidation, MinGain, MaxGain)

// Validate reports whether g lies within [MinGain, MaxGain].
func (g TuningGain) Validate() error {
	if g < MinGain || g > MaxGain {
		return fmt.Errorf("%w: %d%%", ErrInvalidGain, int(g))
	}
	return nil
}

// String is the header form of the gain.
func (g TuningGain) String() string {
	return strconv.Itoa(int(g))
}

// ParseGain parses a decimal percentage and validates it.
func ParseGain(s string) (TuningGain, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGain, s)
	}
	g := TuningGain(n)
	if err := g.Validate(); err != nil {
		return 0, err
	}
	return g, nil
}
