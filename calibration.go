package scenebag

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/lherman-cs/scenebag/rosbag"
)

// DistortionPlumbBob is the radial-tangential model; all five of its coefficients are zero
// for rectified images.
const DistortionPlumbBob = "plumb_bob"

const cameraCalibrationDefinition = `time timestamp
string frame_id
uint32 width
uint32 height
string distortion_model
float64[] D
float64[9] K
float64[9] R
float64[12] P
`

// CameraCalibration holds the intrinsics of a camera. K, R and P are row-major.
type CameraCalibration struct {
	Timestamp       int64
	FrameID         string
	Width           uint32
	Height          uint32
	DistortionModel string
	D               []float64
	K               [9]float64
	R               [9]float64
	P               [12]float64
}

func (calib *CameraCalibration) SchemaName() string {
	return "foxglove_msgs/CameraCalibration"
}

func (calib *CameraCalibration) Definition() string {
	return cameraCalibrationDefinition
}

func (calib *CameraCalibration) MarshalROS(buf *rosbag.Buffer) error {
	if err := putStamp(buf, calib.Timestamp); err != nil {
		return err
	}
	buf.PutString(calib.FrameID)
	buf.PutUint32(calib.Width)
	buf.PutUint32(calib.Height)
	buf.PutString(calib.DistortionModel)
	buf.PutFloat64Slice(calib.D)
	buf.PutFloat64Array(calib.K[:])
	buf.PutFloat64Array(calib.R[:])
	buf.PutFloat64Array(calib.P[:])
	return nil
}

// BuildCameraCalibration builds the calibration of an undistorted camera from its 3x3
// intrinsic matrix. R is the identity and P is K with a zero translation column.
func BuildCameraCalibration(frameID string, width, height int, intrinsic [][]float64, timestamp int64) (*CameraCalibration, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidIntrinsics, "image size %dx%d", width, height)
	}
	if len(intrinsic) != 3 {
		return nil, errors.Wrapf(ErrInvalidIntrinsics, "expected 3 rows, got %d", len(intrinsic))
	}

	k := mat.NewDense(3, 3, nil)
	for i, row := range intrinsic {
		if len(row) != 3 {
			return nil, errors.Wrapf(ErrInvalidIntrinsics, "row %d has %d columns", i, len(row))
		}
		k.SetRow(i, row)
	}

	p := mat.NewDense(3, 4, nil)
	p.Slice(0, 3, 0, 3).(*mat.Dense).Copy(k)

	calib := &CameraCalibration{
		Timestamp:       timestamp,
		FrameID:         frameID,
		Width:           uint32(width),
		Height:          uint32(height),
		DistortionModel: DistortionPlumbBob,
		D:               make([]float64, 5),
	}
	copy(calib.K[:], k.RawMatrix().Data)
	copy(calib.P[:], p.RawMatrix().Data)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			calib.R[i*3+j] = identity.At(i, j)
		}
	}
	return calib, nil
}
