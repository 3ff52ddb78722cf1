package rosbag

import (
	"fmt"
	"time"
)

// Time is the ROS time primitive: whole seconds and the nanosecond remainder.
type Time struct {
	Sec  uint32
	Nsec uint32
}

// NanoToTime splits nsec into a ROS time. Seconds past 2106 wrap, callers that
// care must bound the input first.
func NanoToTime(nsec uint64) Time {
	sec := nsec / 1e9
	nsec -= sec * 1e9
	return Time{Sec: uint32(sec), Nsec: uint32(nsec)}
}

// UnixNano returns t as nanoseconds since the epoch.
func (t Time) UnixNano() uint64 {
	return uint64(t.Sec)*1e9 + uint64(t.Nsec)
}

// Before reports whether t happens before u.
func (t Time) Before(u Time) bool {
	return t.Sec < u.Sec || (t.Sec == u.Sec && t.Nsec < u.Nsec)
}

// Std converts t to a time.Time.
func (t Time) Std() time.Time {
	return time.Unix(int64(t.Sec), int64(t.Nsec))
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

func extractTime(raw []byte) Time {
	return Time{
		Sec:  endian.Uint32(raw),
		Nsec: endian.Uint32(raw[4:]),
	}
}

func extractDuration(raw []byte) time.Duration {
	sec := int32(endian.Uint32(raw))
	nsec := int32(endian.Uint32(raw[4:]))
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}
