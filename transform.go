package scenebag

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/lherman-cs/scenebag/rosbag"
)

// rotationNormTolerance is how far a source rotation's norm may drift from 1 before it's
// reported.
const rotationNormTolerance = 1e-3

var frameTransformDefinition = composeDefinition(`time timestamp
string parent_frame_id
string child_frame_id
geometry_msgs/Vector3 translation
geometry_msgs/Quaternion rotation
`, vector3Def, quaternionDef)

// SourcePose is a pose as the dataset stores it: a clock value in the source unit, a
// translation and a rotation in [w, x, y, z] order.
type SourcePose struct {
	Timestamp   int64     `mapstructure:"timestamp"`
	Translation []float64 `mapstructure:"translation"`
	Rotation    []float64 `mapstructure:"rotation"`
}

// FrameTransform places ChildFrameID relative to ParentFrameID at Timestamp (nanoseconds).
type FrameTransform struct {
	Timestamp     int64
	ParentFrameID string
	ChildFrameID  string
	Translation   r3.Vector
	Rotation      Quaternion
}

func (tf *FrameTransform) SchemaName() string {
	return "foxglove_msgs/FrameTransform"
}

func (tf *FrameTransform) Definition() string {
	return frameTransformDefinition
}

func (tf *FrameTransform) MarshalROS(buf *rosbag.Buffer) error {
	if err := putStamp(buf, tf.Timestamp); err != nil {
		return err
	}
	buf.PutString(tf.ParentFrameID)
	buf.PutString(tf.ChildFrameID)
	putVector3(buf, tf.Translation)
	putQuaternion(buf, tf.Rotation)
	return nil
}

// sourceVector reads a 3 element array.
func sourceVector(v []float64) (r3.Vector, error) {
	if len(v) != 3 {
		return r3.Vector{}, errors.Wrapf(ErrMalformedPose, "expected 3 components, got %d", len(v))
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// sourceQuaternion reads a [w, x, y, z] rotation.
func sourceQuaternion(rotation []float64) (quat.Number, error) {
	if len(rotation) != 4 {
		return quat.Number{}, errors.Wrapf(ErrMalformedPose, "expected 4 rotation components, got %d", len(rotation))
	}
	return quat.Number{Real: rotation[0], Imag: rotation[1], Jmag: rotation[2], Kmag: rotation[3]}, nil
}

func quaternionFromNumber(q quat.Number) Quaternion {
	return Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

// ReorderWXYZ turns a source [w, x, y, z] rotation into x, y, z, w order.
func ReorderWXYZ(rotation []float64) (Quaternion, error) {
	q, err := sourceQuaternion(rotation)
	if err != nil {
		return Quaternion{}, err
	}
	return quaternionFromNumber(q), nil
}

// WXYZ is the inverse of ReorderWXYZ.
func (q Quaternion) WXYZ() []float64 {
	return []float64{q.W, q.X, q.Y, q.Z}
}

// TransformEmitter builds FrameTransforms from source poses and keeps the frame registry in
// sync with what it emits.
type TransformEmitter struct {
	registry *FrameRegistry
	world    string
	ego      string
	unit     TimeUnit
	logger   golog.Logger
}

// NewTransformEmitter returns an emitter using the frames and source unit of cfg.
func NewTransformEmitter(registry *FrameRegistry, cfg Config, logger golog.Logger) *TransformEmitter {
	return &TransformEmitter{
		registry: registry,
		world:    cfg.WorldFrame,
		ego:      cfg.EgoFrame,
		unit:     cfg.TimeUnit,
		logger:   logger,
	}
}

// Emit builds the transform of child relative to parent. An empty parent means the ego frame,
// or the world frame when child is the ego frame itself. The parent must already be anchored
// to the world frame.
func (emitter *TransformEmitter) Emit(child, parent string, pose SourcePose) (*FrameTransform, error) {
	if parent == "" {
		parent = emitter.ego
		if child == emitter.ego {
			parent = emitter.world
		}
	}

	translation, err := sourceVector(pose.Translation)
	if err != nil {
		return nil, errors.Wrapf(err, "translation of %s", child)
	}
	rotation, err := sourceQuaternion(pose.Rotation)
	if err != nil {
		return nil, errors.Wrapf(err, "rotation of %s", child)
	}
	timestamp, err := ToNanos(pose.Timestamp, emitter.unit)
	if err != nil {
		return nil, errors.Wrapf(err, "pose of %s", child)
	}

	if _, err := emitter.registry.ResolveRootPath(parent); err != nil {
		return nil, err
	}
	if err := emitter.registry.Register(child, parent); err != nil {
		return nil, err
	}

	if norm := quat.Abs(rotation); math.Abs(norm-1) > rotationNormTolerance {
		emitter.logger.Warnw("rotation is not a unit quaternion", "frame", child, "norm", norm)
	}

	return &FrameTransform{
		Timestamp:     timestamp,
		ParentFrameID: parent,
		ChildFrameID:  child,
		Translation:   translation,
		Rotation:      quaternionFromNumber(rotation),
	}, nil
}
