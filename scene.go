package scenebag

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/lherman-cs/scenebag/rosbag"
)

// Deletion types of foxglove_msgs/SceneEntityDeletion.
const (
	DeletionMatchingID uint8 = 0
	DeletionAll        uint8 = 1
)

var sceneUpdateDefinition = composeDefinition(`foxglove_msgs/SceneEntityDeletion[] deletions
foxglove_msgs/SceneEntity[] entities
`, sceneEntityDeletionDef, sceneEntityDef, cubePrimitiveDef, poseDef, pointDef, quaternionDef, vector3Def, colorDef)

// ColorLookup maps an annotation category to a normalized RGB color.
type ColorLookup interface {
	CategoryColor(category string) (r, g, b float64)
}

// Annotation is one 3D box as the dataset stores it. Rotation is [w, x, y, z] and Size is
// width, length, height.
type Annotation struct {
	InstanceToken string    `mapstructure:"instance_token"`
	Category      string    `mapstructure:"category_name"`
	Translation   []float64 `mapstructure:"translation"`
	Rotation      []float64 `mapstructure:"rotation"`
	Size          []float64 `mapstructure:"size"`
}

// Color is RGBA in [0, 1].
type Color struct {
	R, G, B, A float64
}

// CubePrimitive is an oriented box. Size is length, width, height.
type CubePrimitive struct {
	Pose  Pose
	Size  r3.Vector
	Color Color
}

// SceneEntity groups the primitives of one tracked object.
type SceneEntity struct {
	Timestamp   int64
	FrameID     string
	ID          string
	Lifetime    time.Duration
	FrameLocked bool
	Cubes       []CubePrimitive
}

// SceneEntityDeletion removes entities from the scene: all of them, or the one matching ID.
type SceneEntityDeletion struct {
	Timestamp int64
	Type      uint8
	ID        string
}

// SceneUpdate is the batch of one frame. Viewers apply Deletions before adding Entities.
type SceneUpdate struct {
	Deletions []SceneEntityDeletion
	Entities  []SceneEntity
}

func (update *SceneUpdate) SchemaName() string {
	return "foxglove_msgs/SceneUpdate"
}

func (update *SceneUpdate) Definition() string {
	return sceneUpdateDefinition
}

func (update *SceneUpdate) MarshalROS(buf *rosbag.Buffer) error {
	buf.PutLength(len(update.Deletions))
	for _, deletion := range update.Deletions {
		if err := putStamp(buf, deletion.Timestamp); err != nil {
			return err
		}
		buf.PutUint8(deletion.Type)
		buf.PutString(deletion.ID)
	}

	buf.PutLength(len(update.Entities))
	for _, entity := range update.Entities {
		if err := putStamp(buf, entity.Timestamp); err != nil {
			return err
		}
		buf.PutString(entity.FrameID)
		buf.PutString(entity.ID)
		buf.PutDuration(entity.Lifetime)
		buf.PutBool(entity.FrameLocked)
		buf.PutLength(len(entity.Cubes))
		for _, cube := range entity.Cubes {
			putPose(buf, cube.Pose)
			putVector3(buf, cube.Size)
			buf.PutFloat64(cube.Color.R)
			buf.PutFloat64(cube.Color.G)
			buf.PutFloat64(cube.Color.B)
			buf.PutFloat64(cube.Color.A)
		}
	}
	return nil
}

// AnnotationSceneBuilder turns the annotations of a frame into a SceneUpdate that replaces
// whatever the previous frame drew.
type AnnotationSceneBuilder struct {
	colors  ColorLookup
	frameID string
	alpha   float64
}

// NewAnnotationSceneBuilder returns a builder drawing boxes in cfg.AnnotationFrame.
func NewAnnotationSceneBuilder(colors ColorLookup, cfg Config) *AnnotationSceneBuilder {
	return &AnnotationSceneBuilder{
		colors:  colors,
		frameID: cfg.AnnotationFrame,
		alpha:   cfg.BoxAlpha,
	}
}

// Build makes one entity per annotation, in order, and a single clear-all deletion.
func (builder *AnnotationSceneBuilder) Build(timestamp int64, annotations []Annotation) (*SceneUpdate, error) {
	update := &SceneUpdate{
		Entities: make([]SceneEntity, 0, len(annotations)),
	}

	for _, annotation := range annotations {
		position, err := sourceVector(annotation.Translation)
		if err != nil {
			return nil, errors.Wrapf(err, "translation of %s", annotation.InstanceToken)
		}
		rotation, err := ReorderWXYZ(annotation.Rotation)
		if err != nil {
			return nil, errors.Wrapf(err, "rotation of %s", annotation.InstanceToken)
		}
		size, err := sourceVector(annotation.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "size of %s", annotation.InstanceToken)
		}
		r, g, b := builder.colors.CategoryColor(annotation.Category)

		update.Entities = append(update.Entities, SceneEntity{
			Timestamp: timestamp,
			FrameID:   builder.frameID,
			ID:        annotation.InstanceToken,
			Cubes: []CubePrimitive{{
				Pose:  Pose{Position: position, Orientation: rotation},
				Size:  r3.Vector{X: size.Y, Y: size.X, Z: size.Z},
				Color: Color{R: r, G: g, B: b, A: builder.alpha},
			}},
		})
	}

	update.Deletions = []SceneEntityDeletion{{
		Timestamp: timestamp,
		Type:      DeletionAll,
	}}
	return update, nil
}
