package scenebag

import (
	"io"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// FrameIterator yields source frames in time order. Next returns io.EOF after the last one.
type FrameIterator interface {
	Next() (*SourceFrame, error)
}

// ImageReader returns the bytes of an image file referenced by a camera sample.
type ImageReader interface {
	ReadFile(name string) ([]byte, error)
}

// Transcoder writes source frames to a LogSink. Per frame it emits, in order: every camera's
// transform and calibration (and image), the ego transform (and trail), and one scene update.
type Transcoder struct {
	cfg        Config
	sink       *monotonicSink
	registry   *FrameRegistry
	transforms *TransformEmitter
	points     *PointCloudEncoder
	scenes     *AnnotationSceneBuilder
	images     ImageReader
	logger     golog.Logger
}

// TranscoderOption configures a Transcoder.
type TranscoderOption func(*Transcoder)

// WithImageReader enables the compressed image topics.
func WithImageReader(images ImageReader) TranscoderOption {
	return func(transcoder *Transcoder) {
		transcoder.images = images
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger golog.Logger) TranscoderOption {
	return func(transcoder *Transcoder) {
		transcoder.logger = logger
	}
}

// NewTranscoder validates cfg and anchors the ego frame and the configured cameras under the
// world frame.
func NewTranscoder(sink LogSink, colors ColorLookup, cfg Config, opts ...TranscoderOption) (*Transcoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transcoder := &Transcoder{
		cfg:      cfg,
		sink:     newMonotonicSink(sink),
		registry: NewFrameRegistry(cfg.WorldFrame),
		points:   NewPointCloudEncoder(cfg),
		scenes:   NewAnnotationSceneBuilder(colors, cfg),
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(transcoder)
	}
	transcoder.transforms = NewTransformEmitter(transcoder.registry, cfg, transcoder.logger)

	if err := transcoder.registry.Register(cfg.EgoFrame, cfg.WorldFrame); err != nil {
		return nil, err
	}
	for _, camera := range cfg.Cameras {
		if err := transcoder.registry.Register(camera, cfg.EgoFrame); err != nil {
			return nil, err
		}
	}
	if !transcoder.registry.Has(cfg.AnnotationFrame) {
		return nil, errors.Wrapf(ErrUnresolvedFrame, "annotation frame %s", cfg.AnnotationFrame)
	}
	if cfg.EmitImages && transcoder.images == nil {
		transcoder.logger.Debug("no image reader, compressed images are skipped")
	}
	return transcoder, nil
}

// Frames returns the frame registry shared by every transform the transcoder emits.
func (transcoder *Transcoder) Frames() *FrameRegistry {
	return transcoder.registry
}

// Reset empties the ego trail so the transcoder can start another scene.
func (transcoder *Transcoder) Reset() {
	transcoder.points.Reset()
}

// outgoing is a message of the frame being assembled.
type outgoing struct {
	topic string
	msg   Message
}

// WriteFrame emits every message of frame. Every message uses the frame time as its log time.
// The whole frame is decoded and built before the first write, so a malformed record leaves
// nothing of its frame in the sink.
func (transcoder *Transcoder) WriteFrame(frame *SourceFrame) error {
	logTime, err := ToNanos(frame.Timestamp, transcoder.cfg.TimeUnit)
	if err != nil {
		return errors.Wrap(err, "frame timestamp")
	}

	var msgs []outgoing
	for _, record := range frame.Cameras {
		cameraMsgs, err := transcoder.buildCamera(record)
		if err != nil {
			return err
		}
		msgs = append(msgs, cameraMsgs...)
	}

	pose, err := DecodePose(frame.EgoPose)
	if err != nil {
		return err
	}
	ego, err := transcoder.transforms.Emit(transcoder.cfg.EgoFrame, transcoder.cfg.WorldFrame, pose)
	if err != nil {
		return err
	}
	msgs = append(msgs, outgoing{topic: transcoder.cfg.Topics.Transforms, msg: ego})

	annotations, err := DecodeAnnotations(frame.Annotations)
	if err != nil {
		return err
	}
	update, err := transcoder.scenes.Build(logTime, annotations)
	if err != nil {
		return err
	}

	for _, out := range msgs {
		if err := transcoder.sink.check(out.topic, logTime); err != nil {
			return err
		}
	}
	for _, topic := range []string{transcoder.cfg.Topics.Trail, transcoder.cfg.Topics.Annotations} {
		if err := transcoder.sink.check(topic, logTime); err != nil {
			return err
		}
	}

	// the trail only grows once the frame is known to be writable
	if transcoder.cfg.EmitTrail {
		trail := transcoder.points.TrackCloud(ego.Timestamp, ego.Translation)
		msgs = append(msgs, outgoing{topic: transcoder.cfg.Topics.Trail, msg: trail})
	}
	msgs = append(msgs, outgoing{topic: transcoder.cfg.Topics.Annotations, msg: update})

	for _, out := range msgs {
		if err := transcoder.sink.Write(out.topic, out.msg, logTime); err != nil {
			return err
		}
	}
	return nil
}

// buildCamera returns the transform, calibration and image of one camera, in that order.
func (transcoder *Transcoder) buildCamera(record CameraRecord) ([]outgoing, error) {
	camera, err := DecodeCamera(record)
	if err != nil {
		return nil, err
	}

	tf, err := transcoder.transforms.Emit(camera.Channel, transcoder.cfg.EgoFrame, camera.Extrinsic)
	if err != nil {
		return nil, err
	}
	calib, err := BuildCameraCalibration(camera.Channel, camera.Sample.Width, camera.Sample.Height, camera.Intrinsic, tf.Timestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "calibration of %s", camera.Channel)
	}
	msgs := []outgoing{
		{topic: transcoder.cfg.Topics.Transforms, msg: tf},
		{topic: transcoder.cfg.Topics.CameraInfoTopic(camera.Channel), msg: calib},
	}

	if !transcoder.cfg.EmitImages || transcoder.images == nil {
		return msgs, nil
	}
	data, err := transcoder.images.ReadFile(camera.Sample.Filename)
	if err != nil {
		return nil, err
	}
	return append(msgs, outgoing{
		topic: transcoder.cfg.Topics.ImageTopic(camera.Channel),
		msg: &CompressedImage{
			Timestamp: tf.Timestamp,
			FrameID:   camera.Channel,
			Data:      data,
			Format:    ImageFormat(camera.Sample.Filename),
		},
	}), nil
}

// Run writes every frame of it and returns how many were fully written. It stops at the first
// error; io.EOF from the iterator is the normal end.
func (transcoder *Transcoder) Run(it FrameIterator) (int, error) {
	for n := 0; ; n++ {
		frame, err := it.Next()
		if err == io.EOF {
			transcoder.logger.Infow("transcoding done", "frames", n, "track_points", transcoder.points.Len())
			return n, nil
		}
		if err != nil {
			return n, err
		}

		if err := transcoder.WriteFrame(frame); err != nil {
			return n, err
		}
		transcoder.logger.Debugw("frame written", "frame", n, "timestamp", frame.Timestamp, "cameras", len(frame.Cameras), "annotations", len(frame.Annotations))
	}
}
