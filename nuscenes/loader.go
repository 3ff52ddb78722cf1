// Package nuscenes reads the JSON tables of a nuScenes dataset and walks its scenes as
// scenebag source frames.
package nuscenes

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/lherman-cs/scenebag"
)

// Tables the loader reads from <root>/<version>.
const (
	TableScene            = "scene"
	TableSample           = "sample"
	TableSampleData       = "sample_data"
	TableEgoPose          = "ego_pose"
	TableCalibratedSensor = "calibrated_sensor"
	TableSensor           = "sensor"
	TableSampleAnnotation = "sample_annotation"
	TableInstance         = "instance"
	TableCategory         = "category"
)

var tables = []string{
	TableScene,
	TableSample,
	TableSampleData,
	TableEgoPose,
	TableCalibratedSensor,
	TableSensor,
	TableSampleAnnotation,
	TableInstance,
	TableCategory,
}

var (
	// ErrNotFound is returned when a token or name has no record.
	ErrNotFound = errors.New("record not found")
	// ErrMalformedTable is returned when a table row lacks a field the loader relies on.
	ErrMalformedTable = errors.New("malformed table")
)

// DB holds every table of one dataset version indexed by token.
type DB struct {
	version     string
	scenes      []scenebag.Record
	records     map[string]map[string]scenebag.Record
	sampleData  map[string][]scenebag.Record
	annotations map[string][]scenebag.Record
	logger      golog.Logger
}

// Load reads the tables of version under root.
func Load(fs afero.Fs, root, version string, logger golog.Logger) (*DB, error) {
	db := &DB{
		version: version,
		records: make(map[string]map[string]scenebag.Record, len(tables)),
		logger:  logger,
	}

	rows := make(map[string][]scenebag.Record, len(tables))
	for _, table := range tables {
		tableRows, err := readTable(fs, filepath.Join(root, version, table+".json"))
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", table)
		}
		if _, bad := lo.Find(tableRows, func(row scenebag.Record) bool {
			return stringField(row, "token") == ""
		}); bad {
			return nil, errors.Wrapf(ErrMalformedTable, "%s has a row without a token", table)
		}

		rows[table] = tableRows
		db.records[table] = lo.KeyBy(tableRows, func(row scenebag.Record) string {
			return stringField(row, "token")
		})
		logger.Debugw("table loaded", "table", table, "rows", len(tableRows))
	}

	db.scenes = rows[TableScene]
	keyFrames := lo.Filter(rows[TableSampleData], func(row scenebag.Record, _ int) bool {
		isKeyFrame, _ := row["is_key_frame"].(bool)
		return isKeyFrame
	})
	db.sampleData = lo.GroupBy(keyFrames, func(row scenebag.Record) string {
		return stringField(row, "sample_token")
	})
	db.annotations = lo.GroupBy(rows[TableSampleAnnotation], func(row scenebag.Record) string {
		return stringField(row, "sample_token")
	})

	logger.Infow("dataset loaded", "version", version, "scenes", len(db.scenes), "samples", len(rows[TableSample]))
	return db, nil
}

func readTable(fs afero.Fs, path string) ([]scenebag.Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// numbers stay json.Number so microsecond timestamps keep every digit
	decoder := json.NewDecoder(f)
	decoder.UseNumber()

	var rows []scenebag.Record
	if err := decoder.Decode(&rows); err != nil {
		return nil, errors.Wrapf(ErrMalformedTable, "%s: %v", path, err)
	}
	return rows, nil
}

// Version returns the dataset version the tables were read from.
func (db *DB) Version() string {
	return db.version
}

// Get returns the record of table with token.
func (db *DB) Get(table, token string) (scenebag.Record, error) {
	record, ok := db.records[table][token]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %q", table, token)
	}
	return record, nil
}

// Scenes returns the scene names in table order.
func (db *DB) Scenes() []string {
	return lo.Map(db.scenes, func(scene scenebag.Record, _ int) string {
		return stringField(scene, "name")
	})
}

// Scene returns the scene record called name.
func (db *DB) Scene(name string) (scenebag.Record, error) {
	scene, ok := lo.Find(db.scenes, func(scene scenebag.Record) bool {
		return stringField(scene, "name") == name
	})
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "scene %q", name)
	}
	return scene, nil
}

// Frames walks the samples of the named scene. Each frame carries the key frame of every
// channel in channels, the ego pose of the reference channel, and the sample annotations.
func (db *DB) Frames(sceneName string, channels []string, reference string) (*SceneFrames, error) {
	scene, err := db.Scene(sceneName)
	if err != nil {
		return nil, err
	}
	first := stringField(scene, "first_sample_token")
	if _, err := db.Get(TableSample, first); err != nil {
		return nil, err
	}
	return &SceneFrames{
		db:        db,
		channels:  channels,
		reference: reference,
		next:      first,
	}, nil
}

// SceneFrames is a scenebag.FrameIterator over the samples of one scene.
type SceneFrames struct {
	db        *DB
	channels  []string
	reference string
	next      string
}

// Next returns the frame of the next sample, or io.EOF after the last one.
func (frames *SceneFrames) Next() (*scenebag.SourceFrame, error) {
	if frames.next == "" {
		return nil, io.EOF
	}

	sample, err := frames.db.Get(TableSample, frames.next)
	if err != nil {
		return nil, err
	}
	frame, err := frames.db.frame(sample, frames.channels, frames.reference)
	if err != nil {
		return nil, errors.Wrapf(err, "sample %s", frames.next)
	}
	frames.next = stringField(sample, "next")
	return frame, nil
}

type channelData struct {
	sampleData  scenebag.Record
	calibration scenebag.Record
}

func (db *DB) frame(sample scenebag.Record, channels []string, reference string) (*scenebag.SourceFrame, error) {
	timestamp, err := int64Field(sample, "timestamp")
	if err != nil {
		return nil, err
	}
	sampleToken := stringField(sample, "token")

	byChannel := make(map[string]channelData)
	for _, sampleData := range db.sampleData[sampleToken] {
		calibration, err := db.Get(TableCalibratedSensor, stringField(sampleData, "calibrated_sensor_token"))
		if err != nil {
			return nil, err
		}
		sensor, err := db.Get(TableSensor, stringField(calibration, "sensor_token"))
		if err != nil {
			return nil, err
		}
		channel := stringField(sensor, "channel")
		byChannel[channel] = channelData{
			sampleData:  lo.Assign(sampleData, scenebag.Record{"channel": channel}),
			calibration: calibration,
		}
	}

	frame := &scenebag.SourceFrame{Timestamp: timestamp}
	for _, channel := range channels {
		data, ok := byChannel[channel]
		if !ok {
			db.logger.Warnw("sample has no key frame for channel", "sample", sampleToken, "channel", channel)
			continue
		}
		frame.Cameras = append(frame.Cameras, scenebag.CameraRecord{
			Channel:     channel,
			SampleData:  data.sampleData,
			Calibration: data.calibration,
		})
	}

	ref, ok := byChannel[reference]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "reference channel %s", reference)
	}
	frame.EgoPose, err = db.Get(TableEgoPose, stringField(ref.sampleData, "ego_pose_token"))
	if err != nil {
		return nil, err
	}

	for _, annotation := range db.annotations[sampleToken] {
		instance, err := db.Get(TableInstance, stringField(annotation, "instance_token"))
		if err != nil {
			return nil, err
		}
		category, err := db.Get(TableCategory, stringField(instance, "category_token"))
		if err != nil {
			return nil, err
		}
		frame.Annotations = append(frame.Annotations, lo.Assign(annotation, scenebag.Record{
			"category_name": stringField(category, "name"),
		}))
	}
	return frame, nil
}

func stringField(record scenebag.Record, key string) string {
	s, _ := record[key].(string)
	return s
}

func int64Field(record scenebag.Record, key string) (int64, error) {
	switch v := record[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrMalformedTable, "%s: %v", key, err)
		}
		return n, nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, errors.Wrapf(ErrMalformedTable, "%s is %T", key, record[key])
	}
}
