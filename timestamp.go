package scenebag

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/lherman-cs/scenebag/rosbag"
)

// TimeUnit is the scale of a source clock value, in nanoseconds.
type TimeUnit int64

const (
	Nanosecond  TimeUnit = 1
	Microsecond TimeUnit = 1000
	Millisecond TimeUnit = 1000 * Microsecond
	Second      TimeUnit = 1000 * Millisecond
)

// ParseTimeUnit accepts the short (ns, us, ms, s) and long names of a unit.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ns", "nanosecond", "nanoseconds":
		return Nanosecond, nil
	case "us", "µs", "microsecond", "microseconds":
		return Microsecond, nil
	case "ms", "millisecond", "milliseconds":
		return Millisecond, nil
	case "s", "second", "seconds":
		return Second, nil
	default:
		return 0, errors.Errorf("unknown time unit %q", s)
	}
}

// UnmarshalText lets config files name the unit.
func (unit *TimeUnit) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeUnit(string(text))
	if err != nil {
		return err
	}
	*unit = parsed
	return nil
}

// Valid reports whether unit is one of the named units.
func (unit TimeUnit) Valid() bool {
	switch unit {
	case Nanosecond, Microsecond, Millisecond, Second:
		return true
	default:
		return false
	}
}

func (unit TimeUnit) String() string {
	switch unit {
	case Nanosecond:
		return "ns"
	case Microsecond:
		return "us"
	case Millisecond:
		return "ms"
	case Second:
		return "s"
	default:
		return "invalid"
	}
}

// ToNanos converts a source clock value to nanoseconds.
func ToNanos(value int64, unit TimeUnit) (int64, error) {
	if value < 0 {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "negative clock value %d", value)
	}
	if !unit.Valid() {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "invalid unit %d", unit)
	}
	if value > math.MaxInt64/int64(unit) {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "%d%s overflows int64 nanoseconds", value, unit)
	}
	return value * int64(unit), nil
}

// Split breaks nanos into whole seconds and the nanosecond remainder.
func Split(nanos int64) (sec, nsec int64, err error) {
	if nanos < 0 {
		return 0, 0, errors.Wrapf(ErrInvalidTimestamp, "negative timestamp %d", nanos)
	}
	return nanos / 1e9, nanos % 1e9, nil
}

// StampOf converts nanos to a bag time, whose seconds are a uint32.
func StampOf(nanos int64) (rosbag.Time, error) {
	sec, nsec, err := Split(nanos)
	if err != nil {
		return rosbag.Time{}, err
	}
	if sec > math.MaxUint32 {
		return rosbag.Time{}, errors.Wrapf(ErrInvalidTimestamp, "%d seconds does not fit a stamp", sec)
	}
	return rosbag.Time{Sec: uint32(sec), Nsec: uint32(nsec)}, nil
}
