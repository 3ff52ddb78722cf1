// Package rosbag reads and writes ROS bag v2.0 files.
//
// Reference: http://wiki.ros.org/Bags/Format/2.0
package rosbag

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

const (
	versionFormat = "#ROSBAG V%d.%d\n"
)

var (
	supportedVersion = Version{
		Major: 2,
		Minor: 0,
	}

	errInvalidOp          = errors.New("invalid op")
	errMissingField       = errors.New("missing header field")
	errInvalidHeader      = errors.New("invalid record header")
	errNotFoundConnection = errors.New("connection header not found")
)

type Op uint8

const (
	// OpInvalid is an extension from the standard. This Op marks an invalid Op.
	OpInvalid     Op = 0x00
	OpBagHeader   Op = 0x03
	OpChunk       Op = 0x05
	OpConnection  Op = 0x07
	OpMessageData Op = 0x02
	OpIndexData   Op = 0x04
	OpChunkInfo   Op = 0x06
)

func (op Op) String() string {
	switch op {
	case OpBagHeader:
		return "bag_header"
	case OpChunk:
		return "chunk"
	case OpConnection:
		return "connection"
	case OpMessageData:
		return "message_data"
	case OpIndexData:
		return "index_data"
	case OpChunkInfo:
		return "chunk_info"
	default:
		return "invalid"
	}
}

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionBZ2  Compression = "bz2"
	CompressionLZ4  Compression = "lz4"
)

type Version struct {
	Major uint
	Minor uint
}

func (version *Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Record is a single record of a bag: a header made of key=value fields and an opaque data part.
type Record interface {
	Op() Op
	Header() []byte
	Data() []byte
	String() string
}

type RecordBase struct {
	op     Op
	header []byte
	data   []byte
}

func (record *RecordBase) Op() Op {
	return record.op
}

func (record *RecordBase) Header() []byte {
	return record.header
}

func (record *RecordBase) Data() []byte {
	return record.data
}

func (record *RecordBase) String() string {
	return fmt.Sprintf(`
op         : %s
header_len : %d bytes
data_len   : %d bytes
`, record.op, len(record.header), len(record.data))
}

// field returns the raw value of a header field.
func (record *RecordBase) field(key string) ([]byte, error) {
	var found []byte
	err := iterateHeaderFields(record.header, func(k, v []byte) bool {
		if string(k) == key {
			found = v
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrapf(errMissingField, "%s record has no %q", record.op, key)
	}
	return found, nil
}

func (record *RecordBase) uint32Field(key string) (uint32, error) {
	v, err := record.field(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, errors.Wrapf(errInvalidHeader, "%s must be 4 bytes, got %d", key, len(v))
	}
	return endian.Uint32(v), nil
}

func (record *RecordBase) uint64Field(key string) (uint64, error) {
	v, err := record.field(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.Wrapf(errInvalidHeader, "%s must be 8 bytes, got %d", key, len(v))
	}
	return endian.Uint64(v), nil
}

func (record *RecordBase) timeField(key string) (Time, error) {
	v, err := record.field(key)
	if err != nil {
		return Time{}, err
	}
	if len(v) != 8 {
		return Time{}, errors.Wrapf(errInvalidHeader, "%s must be 8 bytes, got %d", key, len(v))
	}
	return extractTime(v), nil
}

// iterateHeaderFields walks <len><key>=<value> fields until fn returns false.
func iterateHeaderFields(header []byte, fn func(key, value []byte) bool) error {
	for len(header) > 0 {
		if len(header) < lenInBytes {
			return errInvalidHeader
		}
		fieldLen := int(endian.Uint32(header))
		header = header[lenInBytes:]
		if fieldLen > len(header) {
			return errInvalidHeader
		}

		field := header[:fieldLen]
		header = header[fieldLen:]

		idx := bytes.IndexByte(field, headerFieldDelimiter)
		if idx == -1 {
			return errInvalidHeader
		}

		if !fn(field[:idx], field[idx+1:]) {
			return nil
		}
	}
	return nil
}

func readOp(header []byte) (Op, error) {
	op := OpInvalid
	err := iterateHeaderFields(header, func(key, value []byte) bool {
		if string(key) == "op" && len(value) == 1 {
			op = Op(value[0])
			return false
		}
		return true
	})
	if err != nil {
		return OpInvalid, err
	}
	if op == OpInvalid {
		return OpInvalid, errInvalidOp
	}
	return op, nil
}

type RecordBagHeader struct {
	*RecordBase
	IndexPos   uint64
	ConnCount  uint32
	ChunkCount uint32
}

func (record *RecordBagHeader) String() string {
	return fmt.Sprintf(`
index_pos   : %d
conn_count  : %d
chunk_count : %d
`, record.IndexPos, record.ConnCount, record.ChunkCount)
}

func (record *RecordBagHeader) unmarshall() (err error) {
	if record.IndexPos, err = record.uint64Field("index_pos"); err != nil {
		return err
	}
	if record.ConnCount, err = record.uint32Field("conn_count"); err != nil {
		return err
	}
	record.ChunkCount, err = record.uint32Field("chunk_count")
	return err
}

type RecordChunk struct {
	*RecordBase
	Compression Compression
	Size        uint32
}

func (record *RecordChunk) String() string {
	return fmt.Sprintf(`
compression : %s
size        : %d bytes
`, record.Compression, record.Size)
}

func (record *RecordChunk) unmarshall() error {
	compression, err := record.field("compression")
	if err != nil {
		return err
	}
	record.Compression = Compression(compression)
	record.Size, err = record.uint32Field("size")
	return err
}

type RecordConnection struct {
	*RecordBase
	Conn  uint32
	Topic string
	// ConnectionHeader is parsed from the data part of the record.
	ConnectionHeader *ConnectionHeader
}

func (record *RecordConnection) String() string {
	return fmt.Sprintf(`
conn  : %d
topic : %s
type  : %s
`, record.Conn, record.Topic, record.ConnectionHeader.Type)
}

func (record *RecordConnection) unmarshall() (err error) {
	if record.Conn, err = record.uint32Field("conn"); err != nil {
		return err
	}
	topic, err := record.field("topic")
	if err != nil {
		return err
	}
	record.Topic = string(topic)

	record.ConnectionHeader = &ConnectionHeader{}
	return record.ConnectionHeader.unmarshall(record.data)
}

type RecordMessageData struct {
	*RecordBase
	Conn uint32
	Time Time

	connHdr *ConnectionHeader
}

func (record *RecordMessageData) String() string {
	topic := ""
	if record.connHdr != nil {
		topic = record.connHdr.Topic
	}
	return fmt.Sprintf(`
conn  : %d
topic : %s
time  : %s
`, record.Conn, topic, record.Time)
}

func (record *RecordMessageData) unmarshall() (err error) {
	if record.Conn, err = record.uint32Field("conn"); err != nil {
		return err
	}
	record.Time, err = record.timeField("time")
	return err
}

// ConnectionHeader returns the header of the connection this message was published on.
func (record *RecordMessageData) ConnectionHeader() *ConnectionHeader {
	return record.connHdr
}

// UnmarshallTo decodes the message payload into v using the connection's message definition.
func (record *RecordMessageData) UnmarshallTo(v map[string]interface{}) error {
	if record.connHdr == nil {
		return errNotFoundConnection
	}
	return record.connHdr.MessageDefinition.Unmarshall(record.data, v)
}

// IndexEntry locates one message inside the uncompressed data of a chunk.
type IndexEntry struct {
	Time   Time
	Offset uint32
}

type RecordIndexData struct {
	*RecordBase
	Ver     uint32
	Conn    uint32
	Count   uint32
	Entries []IndexEntry
}

func (record *RecordIndexData) String() string {
	return fmt.Sprintf(`
ver   : %d
conn  : %d
count : %d
`, record.Ver, record.Conn, record.Count)
}

func (record *RecordIndexData) unmarshall() (err error) {
	if record.Ver, err = record.uint32Field("ver"); err != nil {
		return err
	}
	if record.Conn, err = record.uint32Field("conn"); err != nil {
		return err
	}
	if record.Count, err = record.uint32Field("count"); err != nil {
		return err
	}

	const entrySize = 12
	if len(record.data) != int(record.Count)*entrySize {
		return errors.Wrapf(errInvalidFormat, "index data holds %d bytes for %d entries", len(record.data), record.Count)
	}
	record.Entries = make([]IndexEntry, record.Count)
	for i := range record.Entries {
		raw := record.data[i*entrySize:]
		record.Entries[i] = IndexEntry{
			Time:   extractTime(raw),
			Offset: endian.Uint32(raw[8:]),
		}
	}
	return nil
}

type RecordChunkInfo struct {
	*RecordBase
	Ver       uint32
	ChunkPos  uint64
	StartTime Time
	EndTime   Time
	Count     uint32
	// ConnCounts maps a connection id to the number of its messages in the chunk.
	ConnCounts map[uint32]uint32
}

func (record *RecordChunkInfo) String() string {
	return fmt.Sprintf(`
ver        : %d
chunk_pos  : %d
start_time : %s
end_time   : %s
count      : %d
`, record.Ver, record.ChunkPos, record.StartTime, record.EndTime, record.Count)
}

func (record *RecordChunkInfo) unmarshall() (err error) {
	if record.Ver, err = record.uint32Field("ver"); err != nil {
		return err
	}
	if record.ChunkPos, err = record.uint64Field("chunk_pos"); err != nil {
		return err
	}
	if record.StartTime, err = record.timeField("start_time"); err != nil {
		return err
	}
	if record.EndTime, err = record.timeField("end_time"); err != nil {
		return err
	}
	if record.Count, err = record.uint32Field("count"); err != nil {
		return err
	}

	if len(record.data) != int(record.Count)*8 {
		return errors.Wrapf(errInvalidFormat, "chunk info holds %d bytes for %d connections", len(record.data), record.Count)
	}
	record.ConnCounts = make(map[uint32]uint32, record.Count)
	for i := 0; i < int(record.Count); i++ {
		raw := record.data[i*8:]
		record.ConnCounts[endian.Uint32(raw)] = endian.Uint32(raw[4:])
	}
	return nil
}
