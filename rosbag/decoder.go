package rosbag

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/edaniels/golog"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	lenInBytes           = 4
	headerFieldDelimiter = '='
	// maxRecordPart guards against allocating absurd buffers on corrupted lengths.
	maxRecordPart = 1 << 30
)

var (
	errUnsupportedCompression = errors.New("unsupported compression algorithm. Available algortihms: [none, bz2, lz4]")
)

type Decoder struct {
	reader         io.Reader
	chunkReader    io.Reader
	chunkLimit     *io.LimitedReader
	checkedVersion bool
	conns          map[uint32]*ConnectionHeader
	logger         golog.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger used for diagnostics.
func WithDecoderLogger(logger golog.Logger) DecoderOption {
	return func(decoder *Decoder) {
		decoder.logger = logger
	}
}

func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	decoder := &Decoder{
		reader: bufio.NewReader(r),
		conns:  make(map[uint32]*ConnectionHeader),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(decoder)
	}
	return decoder
}

// Read returns the next record in the rosbag. Records stored inside a chunk are returned right
// after the chunk record itself. When it reaches EOF, Read returns io.EOF error.
func (decoder *Decoder) Read() (Record, error) {
	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			return nil, err
		}

		decoder.checkedVersion = true
	}

	if decoder.chunkReader != nil {
		record, err := decoder.decodeRecord(decoder.chunkReader)
		switch err {
		case nil:
			return record, nil
		case io.EOF:
			/* explicit ignore */
		default:
			return nil, err
		}

		// at this point, the error must be EOF, need to reset chunkReader and read from the source
		// again. Whatever the decompressor left behind belongs to the chunk.
		if _, err := io.Copy(io.Discard, decoder.chunkLimit); err != nil {
			return nil, err
		}
		decoder.chunkReader = nil
		decoder.chunkLimit = nil
	}

	return decoder.decodeRecord(decoder.reader)
}

// Connections returns every connection header seen so far, keyed by connection id.
func (decoder *Decoder) Connections() map[uint32]*ConnectionHeader {
	return decoder.conns
}

func (decoder *Decoder) handleChunk(record *RecordBase, dataLen uint32) (Record, error) {
	chunkRecord := &RecordChunk{
		RecordBase: record,
	}
	if err := chunkRecord.unmarshall(); err != nil {
		return nil, err
	}

	decoder.chunkLimit = &io.LimitedReader{R: decoder.reader, N: int64(dataLen)}

	switch chunkRecord.Compression {
	case CompressionNone:
		decoder.chunkReader = decoder.chunkLimit
	case CompressionBZ2:
		decoder.chunkReader = bzip2.NewReader(decoder.chunkLimit)
	case CompressionLZ4:
		decoder.chunkReader = lz4.NewReader(decoder.chunkLimit)
	default:
		return nil, errUnsupportedCompression
	}

	return chunkRecord, nil
}

func (decoder *Decoder) handleConnection(record *RecordBase) (Record, error) {
	connRecord := &RecordConnection{
		RecordBase: record,
	}
	if err := connRecord.unmarshall(); err != nil {
		return nil, err
	}

	if connRecord.ConnectionHeader.Topic == "" {
		connRecord.ConnectionHeader.Topic = connRecord.Topic
	}
	decoder.conns[connRecord.Conn] = connRecord.ConnectionHeader
	return connRecord, nil
}

func (decoder *Decoder) handleMessageData(record *RecordBase) (Record, error) {
	msgRecord := &RecordMessageData{
		RecordBase: record,
	}
	if err := msgRecord.unmarshall(); err != nil {
		return nil, err
	}

	connHdr, ok := decoder.conns[msgRecord.Conn]
	if !ok {
		return nil, errors.Wrapf(errNotFoundConnection, "conn %d", msgRecord.Conn)
	}

	msgRecord.connHdr = connHdr
	return msgRecord, nil
}

func (decoder *Decoder) checkVersion() error {
	var version Version

	_, err := fmt.Fscanf(decoder.reader, versionFormat, &version.Major, &version.Minor)
	if err != nil {
		return err
	}

	if version.Major != supportedVersion.Major || version.Minor != supportedVersion.Minor {
		return fmt.Errorf("%s is not supported. %s is the current supported version", &version, &supportedVersion)
	}

	return nil
}

func (decoder *Decoder) readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [lenInBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := endian.Uint32(lenBuf[:])
	if n > maxRecordPart {
		return nil, errors.Wrapf(errInvalidFormat, "record part of %d bytes", n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, noEOF(err)
	}
	return b, nil
}

func (decoder *Decoder) decodeRecord(r io.Reader) (Record, error) {
	header, err := decoder.readLenPrefixed(r)
	if err != nil {
		return nil, err
	}

	op, err := readOp(header)
	if err != nil {
		return nil, err
	}
	record := &RecordBase{op: op, header: header}

	// Since RecordChunk contains a lot of messages and connections, we don't read
	// the data part. We'll let the next iteration parse it.
	if op == OpChunk {
		var lenBuf [lenInBytes]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, noEOF(err)
		}
		return decoder.handleChunk(record, endian.Uint32(lenBuf[:]))
	}

	record.data, err = decoder.readLenPrefixed(r)
	if err != nil {
		return nil, noEOF(err)
	}

	switch op {
	case OpBagHeader:
		bagHeader := &RecordBagHeader{RecordBase: record}
		return bagHeader, bagHeader.unmarshall()
	case OpConnection:
		return decoder.handleConnection(record)
	case OpMessageData:
		return decoder.handleMessageData(record)
	case OpIndexData:
		indexData := &RecordIndexData{RecordBase: record}
		return indexData, indexData.unmarshall()
	case OpChunkInfo:
		chunkInfo := &RecordChunkInfo{RecordBase: record}
		return chunkInfo, chunkInfo.unmarshall()
	default:
		decoder.logger.Debugw("unknown op. Ignoring...", "op", uint8(op))
		return record, nil
	}
}

// noEOF turns an EOF in the middle of a record into an unexpected EOF.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
