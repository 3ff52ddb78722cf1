package scenebag

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// ChannelPlaceholder is replaced by the camera channel in per-camera topic templates.
const ChannelPlaceholder = "{channel}"

// DefaultCameras are the six nuScenes camera channels.
var DefaultCameras = []string{
	"CAM_FRONT",
	"CAM_FRONT_LEFT",
	"CAM_FRONT_RIGHT",
	"CAM_BACK",
	"CAM_BACK_LEFT",
	"CAM_BACK_RIGHT",
}

// Topics names the log topics. CameraInfo and Image are templates containing ChannelPlaceholder.
type Topics struct {
	Transforms  string `mapstructure:"transforms"`
	CameraInfo  string `mapstructure:"camera_info"`
	Image       string `mapstructure:"image"`
	Trail       string `mapstructure:"trail"`
	Annotations string `mapstructure:"annotations"`
}

// CameraInfoTopic returns the calibration topic of channel.
func (topics Topics) CameraInfoTopic(channel string) string {
	return strings.ReplaceAll(topics.CameraInfo, ChannelPlaceholder, channel)
}

// ImageTopic returns the compressed image topic of channel.
func (topics Topics) ImageTopic(channel string) string {
	return strings.ReplaceAll(topics.Image, ChannelPlaceholder, channel)
}

// Config holds the conventions a transcoding run follows.
type Config struct {
	WorldFrame      string   `mapstructure:"world_frame"`
	EgoFrame        string   `mapstructure:"ego_frame"`
	AnnotationFrame string   `mapstructure:"annotation_frame"`
	TimeUnit        TimeUnit `mapstructure:"time_unit"`
	TrackIntensity  float32  `mapstructure:"track_intensity"`
	BoxAlpha        float64  `mapstructure:"box_alpha"`
	Cameras         []string `mapstructure:"cameras"`
	EmitTrail       bool     `mapstructure:"emit_trail"`
	EmitImages      bool     `mapstructure:"emit_images"`
	Topics          Topics   `mapstructure:"topics"`
}

// DefaultConfig returns the conventions of the nuScenes dataset.
func DefaultConfig() Config {
	return Config{
		WorldFrame:      "world",
		EgoFrame:        "ego_vehicle",
		AnnotationFrame: "world",
		TimeUnit:        Microsecond,
		TrackIntensity:  0.5,
		BoxAlpha:        0.5,
		Cameras:         append([]string(nil), DefaultCameras...),
		EmitTrail:       true,
		EmitImages:      true,
		Topics: Topics{
			Transforms:  "/tf",
			CameraInfo:  "/" + ChannelPlaceholder + "/camera_info",
			Image:       "/" + ChannelPlaceholder + "/image/compressed",
			Trail:       "/ego/trail",
			Annotations: "/annotations",
		},
	}
}

// Option changes one field of a Config.
type Option func(*Config)

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithFrames sets the world and ego frame ids. Annotations follow the world frame.
func WithFrames(world, ego string) Option {
	return func(cfg *Config) {
		cfg.WorldFrame = world
		cfg.EgoFrame = ego
		cfg.AnnotationFrame = world
	}
}

// WithTimeUnit sets the unit of source clock values.
func WithTimeUnit(unit TimeUnit) Option {
	return func(cfg *Config) {
		cfg.TimeUnit = unit
	}
}

// WithCameras sets the camera channels to transcode.
func WithCameras(channels ...string) Option {
	return func(cfg *Config) {
		cfg.Cameras = channels
	}
}

// WithTrackIntensity sets the intensity of every ego trail point.
func WithTrackIntensity(intensity float32) Option {
	return func(cfg *Config) {
		cfg.TrackIntensity = intensity
	}
}

// WithBoxAlpha sets the opacity of annotation boxes.
func WithBoxAlpha(alpha float64) Option {
	return func(cfg *Config) {
		cfg.BoxAlpha = alpha
	}
}

// WithoutTrail disables the ego trail topic.
func WithoutTrail() Option {
	return func(cfg *Config) {
		cfg.EmitTrail = false
	}
}

// WithoutImages disables the compressed image topics.
func WithoutImages() Option {
	return func(cfg *Config) {
		cfg.EmitImages = false
	}
}

// Validate reports the first inconsistent setting.
func (cfg Config) Validate() error {
	switch {
	case cfg.WorldFrame == "":
		return errors.New("world_frame is required")
	case cfg.EgoFrame == "":
		return errors.New("ego_frame is required")
	case cfg.WorldFrame == cfg.EgoFrame:
		return errors.Errorf("ego_frame and world_frame are both %q", cfg.WorldFrame)
	case cfg.AnnotationFrame == "":
		return errors.New("annotation_frame is required")
	case !cfg.TimeUnit.Valid():
		return errors.Errorf("invalid time_unit %d", cfg.TimeUnit)
	case cfg.BoxAlpha < 0 || cfg.BoxAlpha > 1:
		return errors.Errorf("box_alpha %v is outside [0, 1]", cfg.BoxAlpha)
	}

	for _, camera := range cfg.Cameras {
		if camera == "" || camera == cfg.WorldFrame || camera == cfg.EgoFrame {
			return errors.Errorf("invalid camera channel %q", camera)
		}
	}

	topics := map[string]string{
		"topics.transforms":  cfg.Topics.Transforms,
		"topics.camera_info": cfg.Topics.CameraInfo,
		"topics.image":       cfg.Topics.Image,
		"topics.trail":       cfg.Topics.Trail,
		"topics.annotations": cfg.Topics.Annotations,
	}
	for key, topic := range topics {
		if topic == "" {
			return errors.Errorf("%s is required", key)
		}
	}
	if len(cfg.Cameras) > 1 {
		if !strings.Contains(cfg.Topics.CameraInfo, ChannelPlaceholder) {
			return errors.Errorf("topics.camera_info must contain %s", ChannelPlaceholder)
		}
		if !strings.Contains(cfg.Topics.Image, ChannelPlaceholder) {
			return errors.Errorf("topics.image must contain %s", ChannelPlaceholder)
		}
	}
	return nil
}

// LoadConfig reads a config file (toml, yaml or json, by extension) from fs on top of the
// defaults. Env vars prefixed SCENEBAG_ override both. An empty path only applies env vars.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	defaults := DefaultConfig()

	v := viper.New()
	v.SetFs(fs)
	v.SetDefault("world_frame", defaults.WorldFrame)
	v.SetDefault("ego_frame", defaults.EgoFrame)
	v.SetDefault("annotation_frame", defaults.AnnotationFrame)
	v.SetDefault("time_unit", defaults.TimeUnit.String())
	v.SetDefault("track_intensity", defaults.TrackIntensity)
	v.SetDefault("box_alpha", defaults.BoxAlpha)
	v.SetDefault("cameras", defaults.Cameras)
	v.SetDefault("emit_trail", defaults.EmitTrail)
	v.SetDefault("emit_images", defaults.EmitImages)
	v.SetDefault("topics.transforms", defaults.Topics.Transforms)
	v.SetDefault("topics.camera_info", defaults.Topics.CameraInfo)
	v.SetDefault("topics.image", defaults.Topics.Image)
	v.SetDefault("topics.trail", defaults.Topics.Trail)
	v.SetDefault("topics.annotations", defaults.Topics.Annotations)

	v.SetEnvPrefix("SCENEBAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}
