package rosbag

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// bagHeaderLen is the fixed on-disk size of the bag header record, padding included. It's
	// rewritten in place on Close, so it can never grow.
	bagHeaderLen = 4096
	// DefaultChunkSize is the uncompressed chunk size that triggers a flush.
	DefaultChunkSize = 768 * 1024
	indexVersion     = 1
)

var (
	errEncoderClosed      = errors.New("encoder is closed")
	errConnectionMismatch = errors.New("topic already carries a different message type")
)

type encoderConn struct {
	id         uint32
	topic      string
	msgType    string
	definition string
	md5sum     string
	// written is set once the connection record is stored in some chunk.
	written bool
}

type chunkInfo struct {
	pos        uint64
	start, end Time
	counts     map[uint32]uint32
}

// Encoder writes a ROS bag v2.0 file. Messages are grouped into chunks; the index (connection
// and chunk info records) is written and the bag header patched when the encoder is closed.
type Encoder struct {
	w           io.WriteSeeker
	pos         int64
	compression Compression
	chunkSize   int
	callerID    string
	logger      golog.Logger

	conns     map[string]*encoderConn
	connOrder []*encoderConn

	chunk        bytes.Buffer
	compressed   bytes.Buffer
	lz4w         *lz4.Writer
	chunkIndex   map[uint32][]IndexEntry
	chunkStart   Time
	chunkEnd     Time
	chunkHasData bool
	chunkInfos   []chunkInfo

	headerPos int64
	closed    bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithCompression selects the chunk compression. Only none and lz4 can be written.
func WithCompression(compression Compression) EncoderOption {
	return func(encoder *Encoder) {
		encoder.compression = compression
	}
}

// WithChunkSize sets the uncompressed size at which the open chunk gets flushed.
func WithChunkSize(n int) EncoderOption {
	return func(encoder *Encoder) {
		encoder.chunkSize = n
	}
}

// WithCallerID sets the callerid stored in every connection header.
func WithCallerID(id string) EncoderOption {
	return func(encoder *Encoder) {
		encoder.callerID = id
	}
}

// WithEncoderLogger sets the logger used for diagnostics.
func WithEncoderLogger(logger golog.Logger) EncoderOption {
	return func(encoder *Encoder) {
		encoder.logger = logger
	}
}

// NewEncoder writes the bag preamble to w and returns an Encoder ready to take messages.
func NewEncoder(w io.WriteSeeker, opts ...EncoderOption) (*Encoder, error) {
	encoder := &Encoder{
		w:           w,
		compression: CompressionNone,
		chunkSize:   DefaultChunkSize,
		callerID:    "/scenebag_" + uuid.NewString(),
		logger:      zap.NewNop().Sugar(),
		conns:       make(map[string]*encoderConn),
		chunkIndex:  make(map[uint32][]IndexEntry),
	}
	for _, opt := range opts {
		opt(encoder)
	}

	switch encoder.compression {
	case CompressionNone:
	case CompressionLZ4:
		encoder.lz4w = lz4.NewWriter(nil)
	default:
		return nil, errors.Wrapf(errUnsupportedCompression, "cannot write %q chunks", encoder.compression)
	}
	if encoder.chunkSize <= 0 {
		encoder.chunkSize = DefaultChunkSize
	}

	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	encoder.pos = pos

	if err := encoder.write([]byte(fmt.Sprintf(versionFormat, supportedVersion.Major, supportedVersion.Minor))); err != nil {
		return nil, err
	}
	encoder.headerPos = encoder.pos
	if err := encoder.write(encoder.bagHeader(0)); err != nil {
		return nil, err
	}
	return encoder, nil
}

// WriteMessage appends one serialized message to the open chunk. The connection for topic is
// created on first use; its md5sum is the digest of definition.
func (encoder *Encoder) WriteMessage(topic, msgType, definition string, t Time, data []byte) error {
	if encoder.closed {
		return errEncoderClosed
	}

	conn, ok := encoder.conns[topic]
	if !ok {
		sum := md5.Sum([]byte(definition))
		conn = &encoderConn{
			id:         uint32(len(encoder.connOrder)),
			topic:      topic,
			msgType:    msgType,
			definition: definition,
			md5sum:     hex.EncodeToString(sum[:]),
		}
		encoder.conns[topic] = conn
		encoder.connOrder = append(encoder.connOrder, conn)
		encoder.logger.Debugw("new connection", "conn", conn.id, "topic", topic, "type", msgType)
	} else if conn.msgType != msgType {
		return errors.Wrapf(errConnectionMismatch, "%s: %s != %s", topic, conn.msgType, msgType)
	}

	if !conn.written {
		encoder.chunk.Write(encoder.connectionRecord(conn))
		conn.written = true
	}

	if !encoder.chunkHasData || t.Before(encoder.chunkStart) {
		encoder.chunkStart = t
	}
	if !encoder.chunkHasData || encoder.chunkEnd.Before(t) {
		encoder.chunkEnd = t
	}
	encoder.chunkHasData = true

	encoder.chunkIndex[conn.id] = append(encoder.chunkIndex[conn.id], IndexEntry{
		Time:   t,
		Offset: uint32(encoder.chunk.Len()),
	})

	var header []byte
	header = appendField(header, "op", []byte{byte(OpMessageData)})
	header = appendField(header, "conn", uint32Bytes(conn.id))
	header = appendField(header, "time", timeBytes(t))
	encoder.chunk.Write(appendRecord(nil, header, data))

	if encoder.chunk.Len() >= encoder.chunkSize {
		return encoder.Flush()
	}
	return nil
}

// Flush writes the open chunk, if any, followed by its index data records.
func (encoder *Encoder) Flush() error {
	if !encoder.chunkHasData {
		return nil
	}

	payload := encoder.chunk.Bytes()
	if encoder.compression == CompressionLZ4 {
		encoder.compressed.Reset()
		encoder.lz4w.Reset(&encoder.compressed)
		if _, err := encoder.lz4w.Write(payload); err != nil {
			return err
		}
		if err := encoder.lz4w.Close(); err != nil {
			return err
		}
		payload = encoder.compressed.Bytes()
	}

	info := chunkInfo{
		pos:    uint64(encoder.pos),
		start:  encoder.chunkStart,
		end:    encoder.chunkEnd,
		counts: make(map[uint32]uint32, len(encoder.chunkIndex)),
	}

	var header []byte
	header = appendField(header, "op", []byte{byte(OpChunk)})
	header = appendField(header, "compression", []byte(encoder.compression))
	header = appendField(header, "size", uint32Bytes(uint32(encoder.chunk.Len())))
	if err := encoder.write(appendRecord(nil, header, payload)); err != nil {
		return err
	}

	for _, conn := range sortedConnIDs(encoder.chunkIndex) {
		entries := encoder.chunkIndex[conn]
		info.counts[conn] = uint32(len(entries))

		header = header[:0]
		header = appendField(header, "op", []byte{byte(OpIndexData)})
		header = appendField(header, "ver", uint32Bytes(indexVersion))
		header = appendField(header, "conn", uint32Bytes(conn))
		header = appendField(header, "count", uint32Bytes(uint32(len(entries))))

		data := make([]byte, 0, len(entries)*12)
		for _, entry := range entries {
			data = append(data, timeBytes(entry.Time)...)
			data = endian.AppendUint32(data, entry.Offset)
		}
		if err := encoder.write(appendRecord(nil, header, data)); err != nil {
			return err
		}
	}

	encoder.logger.Debugw("chunk flushed",
		"pos", info.pos,
		"size", encoder.chunk.Len(),
		"stored", len(payload),
		"start", info.start,
		"end", info.end)

	encoder.chunkInfos = append(encoder.chunkInfos, info)
	encoder.chunk.Reset()
	encoder.chunkIndex = make(map[uint32][]IndexEntry)
	encoder.chunkHasData = false
	return nil
}

// Close flushes the open chunk, writes the index section and patches the bag header. It does not
// close the underlying writer. Close is safe to call more than once.
func (encoder *Encoder) Close() (err error) {
	if encoder.closed {
		return nil
	}
	encoder.closed = true

	if err := encoder.Flush(); err != nil {
		return err
	}

	indexPos := encoder.pos
	for _, conn := range encoder.connOrder {
		err = multierr.Append(err, encoder.write(encoder.connectionRecord(conn)))
	}
	for _, info := range encoder.chunkInfos {
		err = multierr.Append(err, encoder.write(chunkInfoRecord(info)))
	}
	if err != nil {
		return err
	}

	end := encoder.pos
	if _, err := encoder.w.Seek(encoder.headerPos, io.SeekStart); err != nil {
		return err
	}
	encoder.pos = encoder.headerPos
	err = encoder.write(encoder.bagHeader(uint64(indexPos)))
	_, seekErr := encoder.w.Seek(end, io.SeekStart)
	encoder.pos = end
	return multierr.Combine(err, seekErr)
}

func (encoder *Encoder) write(b []byte) error {
	n, err := encoder.w.Write(b)
	encoder.pos += int64(n)
	return err
}

// bagHeader renders the bag header record padded to bagHeaderLen.
func (encoder *Encoder) bagHeader(indexPos uint64) []byte {
	var header []byte
	header = appendField(header, "op", []byte{byte(OpBagHeader)})
	header = appendField(header, "index_pos", uint64Bytes(indexPos))
	header = appendField(header, "conn_count", uint32Bytes(uint32(len(encoder.connOrder))))
	header = appendField(header, "chunk_count", uint32Bytes(uint32(len(encoder.chunkInfos))))

	padding := bytes.Repeat([]byte{' '}, bagHeaderLen-2*lenInBytes-len(header))
	return appendRecord(nil, header, padding)
}

func (encoder *Encoder) connectionRecord(conn *encoderConn) []byte {
	var header []byte
	header = appendField(header, "op", []byte{byte(OpConnection)})
	header = appendField(header, "conn", uint32Bytes(conn.id))
	header = appendField(header, "topic", []byte(conn.topic))

	var data []byte
	data = appendField(data, "topic", []byte(conn.topic))
	data = appendField(data, "type", []byte(conn.msgType))
	data = appendField(data, "md5sum", []byte(conn.md5sum))
	data = appendField(data, "message_definition", []byte(conn.definition))
	data = appendField(data, "callerid", []byte(encoder.callerID))
	return appendRecord(nil, header, data)
}

func chunkInfoRecord(info chunkInfo) []byte {
	var header []byte
	header = appendField(header, "op", []byte{byte(OpChunkInfo)})
	header = appendField(header, "ver", uint32Bytes(indexVersion))
	header = appendField(header, "chunk_pos", uint64Bytes(info.pos))
	header = appendField(header, "start_time", timeBytes(info.start))
	header = appendField(header, "end_time", timeBytes(info.end))
	header = appendField(header, "count", uint32Bytes(uint32(len(info.counts))))

	data := make([]byte, 0, len(info.counts)*8)
	for _, conn := range sortedConnIDs(info.counts) {
		data = endian.AppendUint32(data, conn)
		data = endian.AppendUint32(data, info.counts[conn])
	}
	return appendRecord(nil, header, data)
}

func sortedConnIDs[V any](m map[uint32]V) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// appendField appends one <len><key>=<value> header field.
func appendField(dst []byte, key string, value []byte) []byte {
	dst = endian.AppendUint32(dst, uint32(len(key)+1+len(value)))
	dst = append(dst, key...)
	dst = append(dst, headerFieldDelimiter)
	return append(dst, value...)
}

func appendRecord(dst, header, data []byte) []byte {
	dst = endian.AppendUint32(dst, uint32(len(header)))
	dst = append(dst, header...)
	dst = endian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

func uint32Bytes(v uint32) []byte {
	return endian.AppendUint32(nil, v)
}

func uint64Bytes(v uint64) []byte {
	return endian.AppendUint64(nil, v)
}

func timeBytes(t Time) []byte {
	return endian.AppendUint32(endian.AppendUint32(nil, t.Sec), t.Nsec)
}
