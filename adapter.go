package scenebag

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Record is a loosely typed dataset row, as decoded from JSON.
type Record = map[string]interface{}

// CameraRecord is what a frame holds for one camera: its sample and the calibration of the
// sensor that took it.
type CameraRecord struct {
	Channel     string
	SampleData  Record
	Calibration Record
}

// SourceFrame is one timestep of the dataset. Timestamp is in the source unit.
type SourceFrame struct {
	Timestamp   int64
	EgoPose     Record
	Cameras     []CameraRecord
	Annotations []Record
}

// CameraSample is the typed form of a camera sample_data record.
type CameraSample struct {
	Timestamp int64  `mapstructure:"timestamp"`
	Filename  string `mapstructure:"filename"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
}

// SensorCalibration is the typed form of a calibrated_sensor record.
type SensorCalibration struct {
	Translation     []float64   `mapstructure:"translation"`
	Rotation        []float64   `mapstructure:"rotation"`
	CameraIntrinsic [][]float64 `mapstructure:"camera_intrinsic"`
}

// CameraFrame is a fully typed CameraRecord. Extrinsic places the camera in the ego frame and
// is stamped with the sample time.
type CameraFrame struct {
	Channel   string
	Sample    CameraSample
	Extrinsic SourcePose
	Intrinsic [][]float64
}

// decodeRecord maps rec onto out. Every field of out must be present in rec; extra keys are
// ignored.
func decodeRecord(kind string, rec Record, out interface{}) error {
	if rec == nil {
		return errors.Wrapf(ErrMalformedRecord, "missing %s record", kind)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnset: true,
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(rec); err != nil {
		return errors.Wrapf(ErrMalformedRecord, "%s: %v", kind, err)
	}
	return nil
}

// DecodePose reads an ego_pose record.
func DecodePose(rec Record) (SourcePose, error) {
	var pose SourcePose
	if err := decodeRecord("ego_pose", rec, &pose); err != nil {
		return SourcePose{}, err
	}
	return pose, nil
}

// DecodeCamera reads the sample and calibration records of one camera.
func DecodeCamera(camera CameraRecord) (CameraFrame, error) {
	if camera.Channel == "" {
		return CameraFrame{}, errors.Wrap(ErrMalformedRecord, "camera without a channel")
	}

	var sample CameraSample
	if err := decodeRecord("sample_data of "+camera.Channel, camera.SampleData, &sample); err != nil {
		return CameraFrame{}, err
	}
	var calibration SensorCalibration
	if err := decodeRecord("calibrated_sensor of "+camera.Channel, camera.Calibration, &calibration); err != nil {
		return CameraFrame{}, err
	}

	return CameraFrame{
		Channel: camera.Channel,
		Sample:  sample,
		Extrinsic: SourcePose{
			Timestamp:   sample.Timestamp,
			Translation: calibration.Translation,
			Rotation:    calibration.Rotation,
		},
		Intrinsic: calibration.CameraIntrinsic,
	}, nil
}

// DecodeAnnotation reads a sample_annotation record that carries its category_name.
func DecodeAnnotation(rec Record) (Annotation, error) {
	var annotation Annotation
	if err := decodeRecord("sample_annotation", rec, &annotation); err != nil {
		return Annotation{}, err
	}
	return annotation, nil
}

// DecodeAnnotations reads every annotation of a frame, keeping their order.
func DecodeAnnotations(recs []Record) ([]Annotation, error) {
	annotations := make([]Annotation, 0, len(recs))
	for i, rec := range recs {
		annotation, err := DecodeAnnotation(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "annotation %d", i)
		}
		annotations = append(annotations, annotation)
	}
	return annotations, nil
}
