package scenebag

import (
	"github.com/pkg/errors"

	"github.com/lherman-cs/scenebag/rosbag"
)

// LogSink persists messages. logTime is in nanoseconds.
type LogSink interface {
	Write(topic string, msg Message, logTime int64) error
}

// MessageWriter is the part of rosbag.Encoder a bag sink needs.
type MessageWriter interface {
	WriteMessage(topic, msgType, definition string, t rosbag.Time, data []byte) error
}

type bagSink struct {
	w   MessageWriter
	buf *rosbag.Buffer
}

// NewBagSink returns a LogSink that serializes messages into a bag.
func NewBagSink(w MessageWriter) LogSink {
	return &bagSink{w: w, buf: rosbag.NewBuffer(4096)}
}

func (sink *bagSink) Write(topic string, msg Message, logTime int64) error {
	stamp, err := StampOf(logTime)
	if err != nil {
		return errors.Wrapf(err, "log time of %s", topic)
	}

	sink.buf.Reset()
	if err := msg.MarshalROS(sink.buf); err != nil {
		return errors.Wrapf(err, "marshal %s on %s", msg.SchemaName(), topic)
	}
	return sink.w.WriteMessage(topic, msg.SchemaName(), msg.Definition(), stamp, sink.buf.Bytes())
}

// monotonicSink refuses to let a topic's log time go backwards.
type monotonicSink struct {
	sink LogSink
	last map[string]int64
}

func newMonotonicSink(sink LogSink) *monotonicSink {
	return &monotonicSink{sink: sink, last: make(map[string]int64)}
}

// check reports whether logTime may be written to topic.
func (sink *monotonicSink) check(topic string, logTime int64) error {
	if last, ok := sink.last[topic]; ok && logTime < last {
		return errors.Wrapf(ErrNonMonotonicLogTime, "%s: %d after %d", topic, logTime, last)
	}
	return nil
}

func (sink *monotonicSink) Write(topic string, msg Message, logTime int64) error {
	if err := sink.check(topic, logTime); err != nil {
		return err
	}
	if err := sink.sink.Write(topic, msg, logTime); err != nil {
		return err
	}
	sink.last[topic] = logTime
	return nil
}
