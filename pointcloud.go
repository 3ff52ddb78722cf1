package scenebag

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/lherman-cs/scenebag/rosbag"
)

// PointStride is the encoded size of a Point: x, y, z and intensity as little endian float32.
const PointStride = 16

// Packed element types of foxglove_msgs/PackedElementField.
const (
	PackedElementUint8   uint8 = 1
	PackedElementInt8    uint8 = 2
	PackedElementUint16  uint8 = 3
	PackedElementInt16   uint8 = 4
	PackedElementUint32  uint8 = 5
	PackedElementInt32   uint8 = 6
	PackedElementFloat32 uint8 = 7
	PackedElementFloat64 uint8 = 8
)

var pointCloudDefinition = composeDefinition(`time timestamp
string frame_id
geometry_msgs/Pose pose
uint32 point_stride
foxglove_msgs/PackedElementField[] fields
uint8[] data
`, poseDef, pointDef, quaternionDef, packedElementFieldDef)

// pointFields describes the Point layout.
var pointFields = []PackedElementField{
	{Name: "x", Offset: 0, Type: PackedElementFloat32},
	{Name: "y", Offset: 4, Type: PackedElementFloat32},
	{Name: "z", Offset: 8, Type: PackedElementFloat32},
	{Name: "intensity", Offset: 12, Type: PackedElementFloat32},
}

// Point is one record of a point cloud buffer.
type Point struct {
	X, Y, Z   float32
	Intensity float32
}

// PackedElementField names one field inside a point record.
type PackedElementField struct {
	Name   string
	Offset uint32
	Type   uint8
}

// PointCloud is a packed buffer of Points placed at Pose in FrameID.
type PointCloud struct {
	Timestamp   int64
	FrameID     string
	Pose        Pose
	PointStride uint32
	Fields      []PackedElementField
	Data        []byte
}

func (cloud *PointCloud) SchemaName() string {
	return "foxglove_msgs/PointCloud"
}

func (cloud *PointCloud) Definition() string {
	return pointCloudDefinition
}

func (cloud *PointCloud) MarshalROS(buf *rosbag.Buffer) error {
	if err := putStamp(buf, cloud.Timestamp); err != nil {
		return err
	}
	buf.PutString(cloud.FrameID)
	putPose(buf, cloud.Pose)
	buf.PutUint32(cloud.PointStride)
	buf.PutLength(len(cloud.Fields))
	for _, field := range cloud.Fields {
		buf.PutString(field.Name)
		buf.PutUint32(field.Offset)
		buf.PutUint8(field.Type)
	}
	buf.PutBytes(cloud.Data)
	return nil
}

func appendPoint(dst []byte, p Point) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.X))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Y))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Z))
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Intensity))
}

// EncodeCloud packs points into a fresh buffer.
func EncodeCloud(points []Point) []byte {
	b := make([]byte, 0, len(points)*PointStride)
	for _, p := range points {
		b = appendPoint(b, p)
	}
	return b
}

// DecodePoints unpacks a buffer produced by EncodeCloud or the track.
func DecodePoints(b []byte) ([]Point, error) {
	if len(b)%PointStride != 0 {
		return nil, errors.Errorf("buffer of %d bytes is not a multiple of the %d byte stride", len(b), PointStride)
	}
	points := make([]Point, len(b)/PointStride)
	for i := range points {
		raw := b[i*PointStride:]
		points[i] = Point{
			X:         math.Float32frombits(binary.LittleEndian.Uint32(raw)),
			Y:         math.Float32frombits(binary.LittleEndian.Uint32(raw[4:])),
			Z:         math.Float32frombits(binary.LittleEndian.Uint32(raw[8:])),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(raw[12:])),
		}
	}
	return points, nil
}

// PointCloudEncoder owns the ever growing track buffer of a run.
type PointCloudEncoder struct {
	mu        sync.Mutex
	track     []byte
	intensity float32
	frameID   string
}

// NewPointCloudEncoder returns an encoder whose track points carry cfg.TrackIntensity and
// live in the world frame.
func NewPointCloudEncoder(cfg Config) *PointCloudEncoder {
	return &PointCloudEncoder{
		intensity: cfg.TrackIntensity,
		frameID:   cfg.WorldFrame,
	}
}

// AppendTrackPoint appends p to the track and returns a copy of the whole track.
func (encoder *PointCloudEncoder) AppendTrackPoint(p r3.Vector) []byte {
	encoder.mu.Lock()
	defer encoder.mu.Unlock()

	encoder.track = appendPoint(encoder.track, Point{
		X:         float32(p.X),
		Y:         float32(p.Y),
		Z:         float32(p.Z),
		Intensity: encoder.intensity,
	})
	return append([]byte(nil), encoder.track...)
}

// EncodeCloud packs points without touching the track.
func (encoder *PointCloudEncoder) EncodeCloud(points []Point) []byte {
	return EncodeCloud(points)
}

// Len returns the number of points in the track.
func (encoder *PointCloudEncoder) Len() int {
	encoder.mu.Lock()
	defer encoder.mu.Unlock()
	return len(encoder.track) / PointStride
}

// Reset empties the track for another run.
func (encoder *PointCloudEncoder) Reset() {
	encoder.mu.Lock()
	defer encoder.mu.Unlock()
	encoder.track = nil
}

// TrackCloud appends p and wraps the resulting track into a PointCloud stamped at timestamp.
func (encoder *PointCloudEncoder) TrackCloud(timestamp int64, p r3.Vector) *PointCloud {
	return &PointCloud{
		Timestamp:   timestamp,
		FrameID:     encoder.frameID,
		Pose:        Pose{Orientation: IdentityQuaternion},
		PointStride: PointStride,
		Fields:      pointFields,
		Data:        encoder.AppendTrackPoint(p),
	}
}
