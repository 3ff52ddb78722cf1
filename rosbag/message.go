package rosbag

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	errInvalidFormat     = errors.New("invalid message format")
	errUnresolvedMsgType = errors.New("failed to resolve a complex message type")
	errInvalidConstType  = errors.New("invalid const type")
)

type MessageFieldType uint8

const (
	MessageFieldTypeBool MessageFieldType = iota + 1
	MessageFieldTypeInt8
	MessageFieldTypeUint8
	MessageFieldTypeInt16
	MessageFieldTypeUint16
	MessageFieldTypeInt32
	MessageFieldTypeUint32
	MessageFieldTypeInt64
	MessageFieldTypeUint64
	MessageFieldTypeFloat32
	MessageFieldTypeFloat64
	MessageFieldTypeString
	MessageFieldTypeTime
	MessageFieldTypeDuration
	MessageFieldTypeComplex
)

var (
	messageFieldTypeMap = map[string]MessageFieldType{
		"bool":     MessageFieldTypeBool,
		"int8":     MessageFieldTypeInt8,
		"byte":     MessageFieldTypeInt8,
		"uint8":    MessageFieldTypeUint8,
		"char":     MessageFieldTypeUint8,
		"int16":    MessageFieldTypeInt16,
		"uint16":   MessageFieldTypeUint16,
		"int32":    MessageFieldTypeInt32,
		"uint32":   MessageFieldTypeUint32,
		"int64":    MessageFieldTypeInt64,
		"uint64":   MessageFieldTypeUint64,
		"float32":  MessageFieldTypeFloat32,
		"float64":  MessageFieldTypeFloat64,
		"string":   MessageFieldTypeString,
		"time":     MessageFieldTypeTime,
		"duration": MessageFieldTypeDuration,
	}
)

// ConnectionHeader is stored in the data part of a connection record.
type ConnectionHeader struct {
	Topic             string
	Type              string
	MD5Sum            string
	CallerID          string
	Latching          bool
	MessageDefinition MessageDefinition
}

func (hdr *ConnectionHeader) unmarshall(raw []byte) error {
	var definition []byte
	err := iterateHeaderFields(raw, func(key, value []byte) bool {
		switch string(key) {
		case "topic":
			hdr.Topic = string(value)
		case "type":
			hdr.Type = string(value)
		case "md5sum":
			hdr.MD5Sum = string(value)
		case "callerid":
			hdr.CallerID = string(value)
		case "latching":
			hdr.Latching = string(value) == "1"
		case "message_definition":
			definition = value
		}
		return true
	})
	if err != nil {
		return err
	}

	hdr.MessageDefinition.Type = hdr.Type
	return hdr.MessageDefinition.unmarshall(definition)
}

// MessageDefinition is defined here, http://wiki.ros.org/msg
type MessageDefinition struct {
	Type   string
	Fields []*MessageFieldDefinition
}

// ParseMessageDefinition parses a full message definition, dependencies included, as stored in
// a connection header.
func ParseMessageDefinition(msgType string, raw []byte) (*MessageDefinition, error) {
	def := &MessageDefinition{Type: msgType}
	if err := def.unmarshall(raw); err != nil {
		return nil, err
	}
	return def, nil
}

// decodeConstValue decodes raw to concrete type. Raw is expected to be in ASCII.
// Constant types can be any builtin types except Time and Duration.
// Reference: http://wiki.ros.org/msg#Constants
func decodeConstValue(fieldType MessageFieldType, raw []byte) (interface{}, error) {
	rawStr := string(raw)

	switch fieldType {
	case MessageFieldTypeBool:
		v, err := strconv.ParseBool(rawStr)
		return v, err
	case MessageFieldTypeInt8:
		v, err := strconv.ParseInt(rawStr, 10, 8)
		return int8(v), err
	case MessageFieldTypeUint8:
		v, err := strconv.ParseUint(rawStr, 10, 8)
		return uint8(v), err
	case MessageFieldTypeInt16:
		v, err := strconv.ParseInt(rawStr, 10, 16)
		return int16(v), err
	case MessageFieldTypeUint16:
		v, err := strconv.ParseUint(rawStr, 10, 16)
		return uint16(v), err
	case MessageFieldTypeInt32:
		v, err := strconv.ParseInt(rawStr, 10, 32)
		return int32(v), err
	case MessageFieldTypeUint32:
		v, err := strconv.ParseUint(rawStr, 10, 32)
		return uint32(v), err
	case MessageFieldTypeInt64:
		return strconv.ParseInt(rawStr, 10, 64)
	case MessageFieldTypeUint64:
		return strconv.ParseUint(rawStr, 10, 64)
	case MessageFieldTypeFloat32:
		v, err := strconv.ParseFloat(rawStr, 32)
		return float32(v), err
	case MessageFieldTypeFloat64:
		return strconv.ParseFloat(rawStr, 64)
	case MessageFieldTypeString:
		return rawStr, nil
	default:
		return nil, errInvalidConstType
	}
}

func (def *MessageDefinition) unmarshall(b []byte) error {
	var err error
	lines := bytes.Split(b, []byte("\n"))
	unresolvedFields := make(map[*MessageFieldDefinition]string)
	complexMsgs := []*MessageDefinition{def}

	for _, line := range lines {
		// string constants keep everything after '=', comments included
		isStringConst := bytes.HasPrefix(bytes.TrimSpace(line), []byte("string ")) && bytes.IndexByte(line, '=') != -1

		if !isStringConst {
			if idx := bytes.IndexByte(line, '#'); idx != -1 {
				line = line[:idx]
			}
		}
		line = bytes.TrimSpace(line)

		// these are usually comment lines, ignore
		if len(line) == 0 {
			continue
		}

		// at this point, if there's a '=', it just means a separator, ignore
		if line[0] == '=' {
			continue
		}

		if bytes.HasPrefix(line, []byte("MSG:")) {
			msgType := bytes.TrimSpace(line[len("MSG:"):])
			complexMsgs = append(complexMsgs, &MessageDefinition{Type: string(msgType)})
			continue
		}

		idx := bytes.IndexAny(line, " \t")
		if idx == -1 {
			return errors.Wrapf(errInvalidFormat, "field %q has no name", line)
		}
		fieldType := line[:idx]
		fieldName := bytes.TrimSpace(line[idx+1:])

		var isArray bool
		var arraySize = -1
		if idx = bytes.IndexByte(fieldType, '['); idx != -1 {
			off := bytes.IndexByte(fieldType[idx:], ']')
			if off == -1 {
				return errors.Wrapf(errInvalidFormat, "unterminated array type %q", fieldType)
			}
			if off > 1 {
				arraySize, err = strconv.Atoi(string(fieldType[idx+1 : idx+off]))
				if err != nil {
					return err
				}
			}

			fieldType = fieldType[:idx]
			isArray = true
		}

		msgFieldType, ok := messageFieldTypeMap[string(fieldType)]
		if !ok {
			msgFieldType = MessageFieldTypeComplex
		}

		// detect constant
		var constantValue interface{}
		if idx = bytes.IndexByte(fieldName, '='); idx != -1 {
			constantValue, err = decodeConstValue(msgFieldType, bytes.TrimSpace(fieldName[idx+1:]))
			if err != nil {
				return err
			}
			fieldName = bytes.TrimSpace(fieldName[:idx])
		}

		complexMsg := complexMsgs[len(complexMsgs)-1]
		fieldDef := &MessageFieldDefinition{
			Type:      msgFieldType,
			Name:      string(fieldName),
			IsArray:   isArray,
			ArraySize: arraySize,
			Value:     constantValue,
		}

		if fieldDef.Type == MessageFieldTypeComplex {
			unresolvedFields[fieldDef] = string(fieldType)
		}
		complexMsg.Fields = append(complexMsg.Fields, fieldDef)
	}

	for field, msgType := range unresolvedFields {
		msgDef := findComplexMsg(complexMsgs[1:], msgType)
		if msgDef == nil {
			return errors.Wrapf(errUnresolvedMsgType, "%s", msgType)
		}

		field.MsgType = msgDef
	}

	return nil
}

// Unmarshall decodes a serialized message of this type into v. The whole of raw must be
// consumed.
func (def *MessageDefinition) Unmarshall(raw []byte, v map[string]interface{}) error {
	rest, err := decodeMessageData(def, raw, v)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errors.Wrapf(errInvalidFormat, "%d trailing bytes", len(rest))
	}
	return nil
}

type MessageFieldDefinition struct {
	Type    MessageFieldType
	Name    string
	IsArray bool
	// ArraySize is only used when the field is a fixed-size array. If it's a slice, ArraySize is -1
	ArraySize int
	// Value is an optional field. It's only being used for constants
	Value interface{}
	// MsgType is only being used when type is complex. This defines the custom
	// message type.
	MsgType *MessageDefinition
}

// findComplexMsg iterates complexMsgs, and find for msgType. msgType can have an optional
// package name as prefix.
func findComplexMsg(complexMsgs []*MessageDefinition, msgType string) *MessageDefinition {
	for _, cur := range complexMsgs {
		if cur.Type == msgType || strings.HasSuffix(cur.Type, "/"+msgType) {
			return cur
		}
	}
	return nil
}

// decodeMessageData decodes raw into data following def and returns the unread remainder.
func decodeMessageData(def *MessageDefinition, raw []byte, data map[string]interface{}) ([]byte, error) {
	var err error
	var v interface{}

	for _, field := range def.Fields {
		// Const value, no need to parse, simply fill in the data
		if field.Value != nil {
			data[field.Name] = field.Value
			continue
		}

		switch {
		case field.Type != MessageFieldTypeComplex:
			v, raw, err = decodeFieldBasic(field, raw)
		case field.IsArray:
			v, raw, err = decodeFieldComplexSlice(field, raw)
		default:
			m := make(map[string]interface{})
			raw, err = decodeMessageData(field.MsgType, raw, m)
			v = m
		}

		if err != nil {
			return nil, errors.Wrapf(err, "field %s", field.Name)
		}
		data[field.Name] = v
	}

	return raw, nil
}

func decodeFieldComplexSlice(field *MessageFieldDefinition, raw []byte) (interface{}, []byte, error) {
	length, off, ok := fieldDecodeLength(raw, field.ArraySize)
	if !ok {
		return nil, raw, errInvalidFormat
	}
	raw = raw[off:]

	var err error
	vs := make([]map[string]interface{}, length)
	for i := range vs {
		vs[i] = make(map[string]interface{})
		raw, err = decodeMessageData(field.MsgType, raw, vs[i])
		if err != nil {
			return nil, raw, err
		}
	}

	return vs, raw, nil
}
