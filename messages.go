package scenebag

import (
	"strings"

	"github.com/golang/geo/r3"

	"github.com/lherman-cs/scenebag/rosbag"
)

// Message is a typed log payload that knows its schema and its ROS wire encoding.
type Message interface {
	SchemaName() string
	// Definition is the full message definition, dependencies included.
	Definition() string
	MarshalROS(buf *rosbag.Buffer) error
}

// Quaternion is a rotation in x, y, z, w order.
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// Pose is a position and an orientation.
type Pose struct {
	Position    r3.Vector
	Orientation Quaternion
}

type msgDef struct {
	name string
	body string
}

const definitionSeparator = "================================================================================\n"

var (
	vector3Def       = msgDef{"geometry_msgs/Vector3", "float64 x\nfloat64 y\nfloat64 z\n"}
	pointDef         = msgDef{"geometry_msgs/Point", "float64 x\nfloat64 y\nfloat64 z\n"}
	quaternionDef    = msgDef{"geometry_msgs/Quaternion", "float64 x\nfloat64 y\nfloat64 z\nfloat64 w\n"}
	poseDef          = msgDef{"geometry_msgs/Pose", "geometry_msgs/Point position\ngeometry_msgs/Quaternion orientation\n"}
	colorDef         = msgDef{"foxglove_msgs/Color", "float64 r\nfloat64 g\nfloat64 b\nfloat64 a\n"}
	cubePrimitiveDef = msgDef{"foxglove_msgs/CubePrimitive", "geometry_msgs/Pose pose\ngeometry_msgs/Vector3 size\nfoxglove_msgs/Color color\n"}

	packedElementFieldDef = msgDef{"foxglove_msgs/PackedElementField", `uint8 UNKNOWN=0
uint8 UINT8=1
uint8 INT8=2
uint8 UINT16=3
uint8 INT16=4
uint8 UINT32=5
uint8 INT32=6
uint8 FLOAT32=7
uint8 FLOAT64=8
string name
uint32 offset
uint8 type
`}

	sceneEntityDef = msgDef{"foxglove_msgs/SceneEntity", `time timestamp
string frame_id
string id
duration lifetime
bool frame_locked
foxglove_msgs/CubePrimitive[] cubes
`}

	sceneEntityDeletionDef = msgDef{"foxglove_msgs/SceneEntityDeletion", `uint8 MATCHING_ID=0
uint8 ALL=1
time timestamp
uint8 type
string id
`}
)

// composeDefinition appends every dependency as a MSG: section after the body.
func composeDefinition(body string, deps ...msgDef) string {
	var sb strings.Builder
	sb.WriteString(body)
	for _, dep := range deps {
		sb.WriteString(definitionSeparator)
		sb.WriteString("MSG: ")
		sb.WriteString(dep.name)
		sb.WriteByte('\n')
		sb.WriteString(dep.body)
	}
	return sb.String()
}

func putVector3(buf *rosbag.Buffer, v r3.Vector) {
	buf.PutFloat64(v.X)
	buf.PutFloat64(v.Y)
	buf.PutFloat64(v.Z)
}

func putQuaternion(buf *rosbag.Buffer, q Quaternion) {
	buf.PutFloat64(q.X)
	buf.PutFloat64(q.Y)
	buf.PutFloat64(q.Z)
	buf.PutFloat64(q.W)
}

func putPose(buf *rosbag.Buffer, pose Pose) {
	putVector3(buf, pose.Position)
	putQuaternion(buf, pose.Orientation)
}

// putStamp writes a nanosecond timestamp as a ROS time.
func putStamp(buf *rosbag.Buffer, nanos int64) error {
	stamp, err := StampOf(nanos)
	if err != nil {
		return err
	}
	buf.PutTime(stamp)
	return nil
}
