package scenebag

import "github.com/pkg/errors"

var (
	// ErrInvalidTimestamp is returned for negative or out of range clock values.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrMalformedPose is returned when a translation, rotation or size array has the wrong length.
	ErrMalformedPose = errors.New("malformed pose")
	// ErrInvalidIntrinsics is returned when an intrinsic matrix is not 3x3.
	ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")
	// ErrCyclicFrameGraph is returned when a parent assignment would close a loop.
	ErrCyclicFrameGraph = errors.New("cyclic frame graph")
	// ErrUnresolvedFrame is returned when a frame is not anchored to the world frame.
	ErrUnresolvedFrame = errors.New("unresolved frame")
	// ErrMalformedRecord is returned when a source record lacks a field or has the wrong type.
	ErrMalformedRecord = errors.New("malformed source record")
	// ErrNonMonotonicLogTime is returned when a topic's log time would go backwards.
	ErrNonMonotonicLogTime = errors.New("log time went backwards")
)
