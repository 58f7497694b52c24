package hearing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Ear selects one side of the audiogram.
type Ear string

const (
	Left  Ear = "left"
	Right Ear = "right"
)

// Frequency is an audiometric test frequency in Hz.
type Frequency int

// Frequencies is the closed, ascending set of frequencies an audiogram holds.
var Frequencies = [...]Frequency{125, 250, 500, 1000, 2000, 4000, 8000}

const (
	MinLoss = 0  // dB HL
	MaxLoss = 80 // dB HL
)

var (
	// ErrValidation is wrapped by every rejected audiogram or gain value.
	ErrValidation = errors.New("validation failed")

	ErrInvalidFrequency = fmt.Errorf("%w: frequency not in audiogram set", ErrValidation)
	ErrInvalidRange     = fmt.Errorf("%w: hearing loss outside %d-%d dB", ErrValidation, MinLoss, MaxLoss)
	ErrInvalidEar       = fmt.Errorf("%w: unknown ear", ErrValidation)
)

// Audiogram holds one hearing-loss value per ear for every frequency in
// Frequencies. The zero value is a valid all-zero audiogram.
//
// Audiogram is a plain value: assigning it copies both ears, which is how
// callers take an immutable snapshot.
type Audiogram struct {
	left  [len(Frequencies)]int
	right [len(Frequencies)]int
}

// New returns an audiogram with every entry at 0 dB.
func New() Audiogram {
	return Audiogram{}
}

func frequencyIndex(f Frequency) (int, bool) {
	for i, v := range Frequencies {
		if v == f {
			return i, true
		}
	}
	return 0, false
}

func (a *Audiogram) ear(e Ear) (*[len(Frequencies)]int, error) {
	switch e {
	case Left:
		return &a.left, nil
	case Right:
		return &a.right, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEar, string(e))
	}
}

// SetLoss replaces the value at (ear, f). Nothing changes on error.
func (a *Audiogram) SetLoss(e Ear, f Frequency, db int) error {
	side, err := a.ear(e)
	if err != nil {
		return err
	}
	i, ok := frequencyIndex(f)
	if !ok {
		return fmt.Errorf("%w: %d Hz", ErrInvalidFrequency, f)
	}
	if db < MinLoss || db > MaxLoss {
		return fmt.Errorf("%w: %d dB", ErrInvalidRange, db)
	}
	side[i] = db
	return nil
}

// Loss returns the value at (ear, f).
func (a Audiogram) Loss(e Ear, f Frequency) (int, error) {
	side, err := a.ear(e)
	if err != nil {
		return 0, err
	}
	i, ok := frequencyIndex(f)
	if !ok {
		return 0, fmt.Errorf("%w: %d Hz", ErrInvalidFrequency, f)
	}
	return side[i], nil
}

// Ear returns a copy of one side keyed by frequency.
func (a Audiogram) Ear(e Ear) (map[Frequency]int, error) {
	side, err := a.ear(e)
	if err != nil {
		return nil, err
	}
	out := make(map[Frequency]int, len(Frequencies))
	for i, f := range Frequencies {
		out[f] = side[i]
	}
	return out, nil
}

// Serialize returns the canonical request form of the audiogram.
func (a Audiogram) Serialize() string {
	b, _ := a.MarshalJSON()
	return string(b)
}

// MarshalJSON writes {"left":{"125":v,...},"right":{...}} with ascending
// frequency keys and no whitespace, so equal audiograms encode identically.
func (a Audiogram) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"left":`)
	writeSide(&buf, &a.left)
	buf.WriteString(`,"right":`)
	writeSide(&buf, &a.right)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeSide(buf *bytes.Buffer, side *[len(Frequencies)]int) {
	buf.WriteByte('{')
	for i, f := range Frequencies {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.Itoa(int(f)))
		buf.WriteString(`":`)
		buf.WriteString(strconv.Itoa(side[i]))
	}
	buf.WriteByte('}')
}

// UnmarshalJSON accepts the canonical form. Both ears must be present and
// complete; every value is validated. On error the receiver is unchanged.
func (a *Audiogram) UnmarshalJSON(data []byte) error {
	var raw map[Ear]map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var next Audiogram
	for _, e := range []Ear{Left, Right} {
		values, ok := raw[e]
		if !ok {
			return fmt.Errorf("%w: missing %s ear", ErrValidation, e)
		}
		if len(values) != len(Frequencies) {
			return fmt.Errorf("%w: %s ear has %d entries, want %d", ErrValidation, e, len(values), len(Frequencies))
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var seen [len(Frequencies)]bool
		for _, k := range keys {
			hz, err := strconv.Atoi(k)
			if err != nil || strconv.Itoa(hz) != k {
				return fmt.Errorf("%w: %q", ErrInvalidFrequency, k)
			}
			i, ok := frequencyIndex(Frequency(hz))
			if !ok {
				return fmt.Errorf("%w: %d Hz", ErrInvalidFrequency, hz)
			}
			if seen[i] {
				return fmt.Errorf("%w: %s ear lists %d Hz twice", ErrValidation, e, hz)
			}
			seen[i] = true
			if err := next.SetLoss(e, Frequency(hz), values[k]); err != nil {
				return err
			}
		}
	}
	for e := range raw {
		if e != Left && e != Right {
			return fmt.Errorf("%w: %q", ErrInvalidEar, string(e))
		}
	}

	*a = next
	return nil
}

// ParseEar maps a user-supplied name onto an Ear.
func ParseEar(s string) (Ear, error) {
	switch Ear(s) {
	case Left, Right:
		return Ear(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEar, s)
}
