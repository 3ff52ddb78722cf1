package rosbag

import (
	"math"
	"time"
)

// fieldSizes holds the wire size of every fixed-size builtin.
var fieldSizes = map[MessageFieldType]int{
	MessageFieldTypeBool:     1,
	MessageFieldTypeInt8:     1,
	MessageFieldTypeUint8:    1,
	MessageFieldTypeInt16:    2,
	MessageFieldTypeUint16:   2,
	MessageFieldTypeInt32:    4,
	MessageFieldTypeUint32:   4,
	MessageFieldTypeInt64:    8,
	MessageFieldTypeUint64:   8,
	MessageFieldTypeFloat32:  4,
	MessageFieldTypeFloat64:  8,
	MessageFieldTypeTime:     8,
	MessageFieldTypeDuration: 8,
}

// fieldDecodeLength returns the element count of an array field. Fixed-size arrays carry no
// length prefix on the wire.
func fieldDecodeLength(raw []byte, fixedLength int) (length int, off int, ok bool) {
	if fixedLength >= 0 {
		return fixedLength, 0, true
	}

	if len(raw) < lenInBytes {
		return
	}

	return int(endian.Uint32(raw)), lenInBytes, true
}

func decodeFieldBasic(field *MessageFieldDefinition, raw []byte) (interface{}, []byte, error) {
	if !field.IsArray {
		v, off, ok := fieldDecodeScalar(field.Type, raw)
		if !ok {
			return nil, raw, errInvalidFormat
		}
		return v, raw[off:], nil
	}

	length, off, ok := fieldDecodeLength(raw, field.ArraySize)
	if !ok {
		return nil, raw, errInvalidFormat
	}
	raw = raw[off:]

	// uint8[] is the bulk payload type (images, point buffers), keep it as bytes
	if field.Type == MessageFieldTypeUint8 {
		if len(raw) < length {
			return nil, raw, errInvalidFormat
		}
		b := make([]byte, length)
		copy(b, raw)
		return b, raw[length:], nil
	}

	if size, fixed := fieldSizes[field.Type]; fixed && len(raw) < length*size {
		return nil, raw, errInvalidFormat
	}

	vs := make([]interface{}, length)
	for i := range vs {
		v, n, ok := fieldDecodeScalar(field.Type, raw)
		if !ok {
			return nil, raw, errInvalidFormat
		}
		vs[i] = v
		raw = raw[n:]
	}
	return typedSlice(field.Type, vs), raw, nil
}

// fieldDecodeScalar decodes one builtin value and returns the number of bytes consumed.
func fieldDecodeScalar(fieldType MessageFieldType, raw []byte) (v interface{}, off int, ok bool) {
	if fieldType == MessageFieldTypeString {
		return fieldDecodeString(raw)
	}

	size, fixed := fieldSizes[fieldType]
	if !fixed || len(raw) < size {
		return
	}

	switch fieldType {
	case MessageFieldTypeBool:
		v = raw[0] != 0
	case MessageFieldTypeInt8:
		v = int8(raw[0])
	case MessageFieldTypeUint8:
		v = raw[0]
	case MessageFieldTypeInt16:
		v = int16(endian.Uint16(raw))
	case MessageFieldTypeUint16:
		v = endian.Uint16(raw)
	case MessageFieldTypeInt32:
		v = int32(endian.Uint32(raw))
	case MessageFieldTypeUint32:
		v = endian.Uint32(raw)
	case MessageFieldTypeInt64:
		v = int64(endian.Uint64(raw))
	case MessageFieldTypeUint64:
		v = endian.Uint64(raw)
	case MessageFieldTypeFloat32:
		v = math.Float32frombits(endian.Uint32(raw))
	case MessageFieldTypeFloat64:
		v = math.Float64frombits(endian.Uint64(raw))
	case MessageFieldTypeTime:
		v = extractTime(raw)
	case MessageFieldTypeDuration:
		v = extractDuration(raw)
	}
	return v, size, true
}

func fieldDecodeString(raw []byte) (v interface{}, off int, ok bool) {
	if len(raw) < lenInBytes {
		return
	}

	length := int(endian.Uint32(raw))
	raw = raw[lenInBytes:]
	if len(raw) < length {
		return
	}

	return string(raw[:length]), lenInBytes + length, true
}

// typedSlice narrows decoded array elements to a concrete slice type.
func typedSlice(fieldType MessageFieldType, vs []interface{}) interface{} {
	switch fieldType {
	case MessageFieldTypeBool:
		return convertSlice[bool](vs)
	case MessageFieldTypeInt8:
		return convertSlice[int8](vs)
	case MessageFieldTypeInt16:
		return convertSlice[int16](vs)
	case MessageFieldTypeUint16:
		return convertSlice[uint16](vs)
	case MessageFieldTypeInt32:
		return convertSlice[int32](vs)
	case MessageFieldTypeUint32:
		return convertSlice[uint32](vs)
	case MessageFieldTypeInt64:
		return convertSlice[int64](vs)
	case MessageFieldTypeUint64:
		return convertSlice[uint64](vs)
	case MessageFieldTypeFloat32:
		return convertSlice[float32](vs)
	case MessageFieldTypeFloat64:
		return convertSlice[float64](vs)
	case MessageFieldTypeString:
		return convertSlice[string](vs)
	case MessageFieldTypeTime:
		return convertSlice[Time](vs)
	case MessageFieldTypeDuration:
		return convertSlice[time.Duration](vs)
	default:
		return vs
	}
}

func convertSlice[T any](vs []interface{}) []T {
	out := make([]T, len(vs))
	for i, v := range vs {
		out[i] = v.(T)
	}
	return out
}
