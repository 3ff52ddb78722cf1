package scenebag

import (
	"io"
	"testing"

	"github.com/edaniels/golog"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeImages map[string][]byte

func (images fakeImages) ReadFile(name string) ([]byte, error) {
	data, ok := images[name]
	if !ok {
		return nil, errors.Errorf("%s: file does not exist", name)
	}
	return data, nil
}

type sliceIterator struct {
	frames []*SourceFrame
	err    error
}

func (it *sliceIterator) Next() (*SourceFrame, error) {
	if len(it.frames) == 0 {
		if it.err != nil {
			return nil, it.err
		}
		return nil, io.EOF
	}
	frame := it.frames[0]
	it.frames = it.frames[1:]
	return frame, nil
}

func testFrame(timestamp int64, x float64) *SourceFrame {
	return &SourceFrame{
		Timestamp: timestamp,
		EgoPose: Record{
			"timestamp":   timestamp,
			"translation": []interface{}{x, 2.0, 0.0},
			"rotation":    []interface{}{1.0, 0.0, 0.0, 0.0},
		},
		Cameras: []CameraRecord{{
			Channel: "CAM_FRONT",
			SampleData: Record{
				"timestamp": timestamp - 10,
				"filename":  "samples/CAM_FRONT/front.jpg",
				"width":     1600,
				"height":    900,
			},
			Calibration: Record{
				"translation": []interface{}{1.7, 0.0, 1.5},
				"rotation":    []interface{}{0.5, -0.5, 0.5, -0.5},
				"camera_intrinsic": []interface{}{
					[]interface{}{1266.4, 0.0, 816.2},
					[]interface{}{0.0, 1266.4, 491.5},
					[]interface{}{0.0, 0.0, 1.0},
				},
			},
		}},
		Annotations: []Record{{
			"instance_token": "car-1",
			"category_name":  "vehicle.car",
			"translation":    []interface{}{x + 10, 2.0, 1.0},
			"rotation":       []interface{}{1.0, 0.0, 0.0, 0.0},
			"size":           []interface{}{1.9, 4.6, 1.7},
		}},
	}
}

func newTestTranscoder(t *testing.T, sink LogSink, opts ...Option) *Transcoder {
	t.Helper()
	palette, err := NewPalette(nil)
	require.NoError(t, err)

	transcoder, err := NewTranscoder(sink, palette, NewConfig(opts...),
		WithImageReader(fakeImages{"samples/CAM_FRONT/front.jpg": {0xff, 0xd8}}),
		WithLogger(golog.NewTestLogger(t)))
	require.NoError(t, err)
	return transcoder
}

func TestTranscoderRun(t *testing.T) {
	sink := &recordingSink{}
	transcoder := newTestTranscoder(t, sink)

	n, err := transcoder.Run(&sliceIterator{frames: []*SourceFrame{
		testFrame(1_000_000, 0),
		testFrame(1_500_000, 1),
	}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	frameWrites := func(logTime int64) []sinkWrite {
		return []sinkWrite{
			{Topic: "/tf", Schema: "foxglove_msgs/FrameTransform", LogTime: logTime},
			{Topic: "/CAM_FRONT/camera_info", Schema: "foxglove_msgs/CameraCalibration", LogTime: logTime},
			{Topic: "/CAM_FRONT/image/compressed", Schema: "foxglove_msgs/CompressedImage", LogTime: logTime},
			{Topic: "/tf", Schema: "foxglove_msgs/FrameTransform", LogTime: logTime},
			{Topic: "/ego/trail", Schema: "foxglove_msgs/PointCloud", LogTime: logTime},
			{Topic: "/annotations", Schema: "foxglove_msgs/SceneUpdate", LogTime: logTime},
		}
	}
	want := append(frameWrites(1_000_000_000), frameWrites(1_500_000_000)...)
	if diff := cmp.Diff(want, sink.writes); diff != "" {
		t.Fatal(diff)
	}

	camera := sink.messages[0].(*FrameTransform)
	require.Equal(t, "ego_vehicle", camera.ParentFrameID)
	require.Equal(t, "CAM_FRONT", camera.ChildFrameID)
	require.EqualValues(t, 999_990_000, camera.Timestamp)

	calib := sink.messages[1].(*CameraCalibration)
	require.Equal(t, "CAM_FRONT", calib.FrameID)
	require.EqualValues(t, 1600, calib.Width)

	img := sink.messages[2].(*CompressedImage)
	require.Equal(t, "jpeg", img.Format)
	require.Equal(t, []byte{0xff, 0xd8}, img.Data)

	ego := sink.messages[3].(*FrameTransform)
	require.Equal(t, "world", ego.ParentFrameID)
	require.Equal(t, "ego_vehicle", ego.ChildFrameID)

	first, second := sink.messages[4].(*PointCloud), sink.messages[10].(*PointCloud)
	require.Len(t, first.Data, PointStride)
	require.Len(t, second.Data, 2*PointStride)
	points, err := DecodePoints(second.Data)
	require.NoError(t, err)
	require.Equal(t, []Point{{X: 0, Y: 2, Intensity: 0.5}, {X: 1, Y: 2, Intensity: 0.5}}, points)

	update := sink.messages[5].(*SceneUpdate)
	require.Len(t, update.Entities, 1)
	require.Equal(t, "car-1", update.Entities[0].ID)
	require.Len(t, update.Deletions, 1)
	require.Equal(t, uint8(DeletionAll), update.Deletions[0].Type)

	require.Equal(t, []string{"CAM_FRONT", "CAM_FRONT_LEFT", "CAM_FRONT_RIGHT", "CAM_BACK", "CAM_BACK_LEFT", "CAM_BACK_RIGHT"}, cfgCameras(transcoder))
}

// cfgCameras lists the configured cameras the registry anchored under the ego frame.
func cfgCameras(transcoder *Transcoder) []string {
	var cameras []string
	for _, camera := range transcoder.cfg.Cameras {
		if parent, ok := transcoder.Frames().Parent(camera); ok && parent == transcoder.cfg.EgoFrame {
			cameras = append(cameras, camera)
		}
	}
	return cameras
}

func TestTranscoderOptionalTopics(t *testing.T) {
	sink := &recordingSink{}
	transcoder := newTestTranscoder(t, sink, WithoutImages(), WithoutTrail())

	require.NoError(t, transcoder.WriteFrame(testFrame(1_000_000, 0)))
	require.Equal(t, []string{"/tf", "/CAM_FRONT/camera_info", "/tf", "/annotations"}, sink.topics())
}

func TestTranscoderEmptyFrame(t *testing.T) {
	sink := &recordingSink{}
	transcoder := newTestTranscoder(t, sink)

	frame := testFrame(1_000_000, 0)
	frame.Cameras = nil
	frame.Annotations = nil
	require.NoError(t, transcoder.WriteFrame(frame))
	require.Equal(t, []string{"/tf", "/ego/trail", "/annotations"}, sink.topics())

	update := sink.messages[2].(*SceneUpdate)
	require.Empty(t, update.Entities)
	require.Len(t, update.Deletions, 1)
}

func TestTranscoderErrors(t *testing.T) {
	t.Run("Backwards Frame", func(t *testing.T) {
		sink := &recordingSink{}
		transcoder := newTestTranscoder(t, sink)

		n, err := transcoder.Run(&sliceIterator{frames: []*SourceFrame{
			testFrame(2_000_000, 0),
			testFrame(1_000_000, 1),
		}})
		require.ErrorIs(t, err, ErrNonMonotonicLogTime)
		require.Equal(t, 1, n)
		require.Len(t, sink.writes, 6)
	})

	t.Run("Malformed Annotation", func(t *testing.T) {
		sink := &recordingSink{}
		transcoder := newTestTranscoder(t, sink)

		bad := testFrame(1_500_000, 1)
		bad.Annotations[0]["size"] = []interface{}{1.0, 2.0}
		n, err := transcoder.Run(&sliceIterator{frames: []*SourceFrame{
			testFrame(1_000_000, 0),
			bad,
		}})
		require.ErrorIs(t, err, ErrMalformedPose)
		require.Equal(t, 1, n)
		require.Len(t, sink.writes, 6, "only the first frame reaches the sink")
		require.Equal(t, 1, transcoder.points.Len())

		require.NoError(t, transcoder.WriteFrame(testFrame(1_500_000, 1)))
		require.Len(t, sink.writes, 12)
		require.Equal(t, 2, transcoder.points.Len())
	})

	t.Run("Backwards Frame Without Cameras", func(t *testing.T) {
		sink := &recordingSink{}
		transcoder := newTestTranscoder(t, sink)

		require.NoError(t, transcoder.WriteFrame(testFrame(2_000_000, 0)))
		frame := testFrame(1_000_000, 1)
		frame.Cameras = nil
		err := transcoder.WriteFrame(frame)
		require.ErrorIs(t, err, ErrNonMonotonicLogTime)
		require.Len(t, sink.writes, 6)
		require.Equal(t, 1, transcoder.points.Len())
	})

	t.Run("Malformed Pose", func(t *testing.T) {
		frame := testFrame(1_000_000, 0)
		frame.EgoPose["rotation"] = []interface{}{1.0, 0.0, 0.0}

		err := newTestTranscoder(t, &recordingSink{}).WriteFrame(frame)
		require.ErrorIs(t, err, ErrMalformedPose)
	})

	t.Run("Invalid Intrinsics", func(t *testing.T) {
		frame := testFrame(1_000_000, 0)
		frame.Cameras[0].Calibration["camera_intrinsic"] = []interface{}{[]interface{}{1.0, 0.0}}

		err := newTestTranscoder(t, &recordingSink{}).WriteFrame(frame)
		require.ErrorIs(t, err, ErrInvalidIntrinsics)
	})

	t.Run("Negative Timestamp", func(t *testing.T) {
		err := newTestTranscoder(t, &recordingSink{}).WriteFrame(testFrame(-1, 0))
		require.ErrorIs(t, err, ErrInvalidTimestamp)
	})

	t.Run("Missing Image", func(t *testing.T) {
		frame := testFrame(1_000_000, 0)
		frame.Cameras[0].SampleData["filename"] = "samples/CAM_FRONT/missing.jpg"

		err := newTestTranscoder(t, &recordingSink{}).WriteFrame(frame)
		require.Error(t, err)
	})

	t.Run("Sink Failure", func(t *testing.T) {
		failure := errors.New("disk full")
		sink := &recordingSink{err: failure}

		err := newTestTranscoder(t, sink).WriteFrame(testFrame(1_000_000, 0))
		require.Equal(t, failure, err)
	})

	t.Run("Iterator Failure", func(t *testing.T) {
		failure := errors.New("table missing")
		n, err := newTestTranscoder(t, &recordingSink{}).Run(&sliceIterator{
			frames: []*SourceFrame{testFrame(1_000_000, 0)},
			err:    failure,
		})
		require.Equal(t, failure, err)
		require.Equal(t, 1, n)
	})

	t.Run("Unanchored Annotation Frame", func(t *testing.T) {
		palette, err := NewPalette(nil)
		require.NoError(t, err)
		cfg := DefaultConfig()
		cfg.AnnotationFrame = "map"
		_, err = NewTranscoder(&recordingSink{}, palette, cfg)
		require.ErrorIs(t, err, ErrUnresolvedFrame)
	})
}

func TestTranscoderReset(t *testing.T) {
	sink := &recordingSink{}
	transcoder := newTestTranscoder(t, sink, WithoutImages())

	require.NoError(t, transcoder.WriteFrame(testFrame(1_000_000, 0)))
	transcoder.Reset()
	require.NoError(t, transcoder.WriteFrame(testFrame(2_000_000, 1)))

	var trails []*PointCloud
	for _, msg := range sink.messages {
		if cloud, ok := msg.(*PointCloud); ok {
			trails = append(trails, cloud)
		}
	}
	require.Len(t, trails, 2)
	require.Len(t, trails[1].Data, PointStride)
}

func TestTranscoderRunDoesNotLogReturnedErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	palette, err := NewPalette(nil)
	require.NoError(t, err)
	transcoder, err := NewTranscoder(&recordingSink{}, palette, NewConfig(WithoutImages()), WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)

	_, err = transcoder.Run(&sliceIterator{frames: []*SourceFrame{testFrame(-1, 0)}})
	require.ErrorIs(t, err, ErrInvalidTimestamp)
	require.Zero(t, logs.Len())
}
