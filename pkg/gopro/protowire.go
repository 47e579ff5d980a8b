package gopro

import (
	"errors"
	"fmt"
)

// Minimal protobuf wire codec: only the primitives the camera API needs.
// There are no message schemas; responses are decoded into flat
// field-number -> value maps and interpreted by convention.

// Wire types used by the camera firmware.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

var (
	// ErrVarintTruncated is returned when input ends before a terminating byte.
	ErrVarintTruncated = errors.New("truncated varint")

	// ErrVarintTooLarge is returned when a varint does not terminate within
	// 9 bytes, the 64-bit bound. Both varint errors abort decode of the
	// current message only; they must never tear down the BLE session.
	ErrVarintTooLarge = errors.New("varint exceeds 64-bit bound")
)

// AppendVarint appends the base-128 encoding of v.
func AppendVarint(b []byte, v uint64) []byte {
	for v > 0x7F {
		b = append(b, byte(v&0x7F)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// EncodeVarint encodes v as a varint.
func EncodeVarint(v uint64) []byte {
	return AppendVarint(nil, v)
}

// DecodeVarint decodes a varint starting at offset and returns the value and
// the offset just past it.
func DecodeVarint(data []byte, offset int) (uint64, int, error) {
	var v uint64
	shift := uint(0)
	for offset < len(data) {
		b := data[offset]
		v |= uint64(b&0x7F) << shift
		offset++
		if b&0x80 == 0 {
			return v, offset, nil
		}
		shift += 7
		if shift > 63 {
			return 0, offset, fmt.Errorf("%w at offset %d", ErrVarintTooLarge, offset)
		}
	}
	return 0, offset, fmt.Errorf("%w at offset %d", ErrVarintTruncated, offset)
}

// EncodeStringField encodes a length-delimited string field.
func EncodeStringField(fieldNum int, value string) []byte {
	return EncodeBytesField(fieldNum, []byte(value))
}

// EncodeBytesField encodes a length-delimited bytes field.
func EncodeBytesField(fieldNum int, value []byte) []byte {
	b := AppendVarint(nil, uint64(fieldNum)<<3|wireBytes)
	b = AppendVarint(b, uint64(len(value)))
	return append(b, value...)
}

// EncodeBoolField encodes a bool as a varint field.
func EncodeBoolField(fieldNum int, value bool) []byte {
	v := uint64(0)
	if value {
		v = 1
	}
	return EncodeIntField(fieldNum, v)
}

// EncodeIntField encodes an integer/enum as a varint field.
func EncodeIntField(fieldNum int, value uint64) []byte {
	b := AppendVarint(nil, uint64(fieldNum)<<3|wireVarint)
	return AppendVarint(b, value)
}

// Field is one decoded protobuf field. Varint fields populate Uint;
// length-delimited and fixed-width fields populate Raw.
type Field struct {
	Wire int
	Uint uint64
	Raw  []byte
}

// Fields maps field numbers to decoded values.
type Fields map[int]Field

// Uint returns a varint field value.
func (f Fields) Uint(num int) (uint64, bool) {
	v, ok := f[num]
	if !ok || v.Wire != wireVarint {
		return 0, false
	}
	return v.Uint, true
}

// Bytes returns a length-delimited field value.
func (f Fields) Bytes(num int) ([]byte, bool) {
	v, ok := f[num]
	if !ok || v.Wire != wireBytes {
		return nil, false
	}
	return v.Raw, true
}

// String returns a length-delimited field decoded as UTF-8.
func (f Fields) String(num int) (string, bool) {
	b, ok := f.Bytes(num)
	if !ok {
		return "", false
	}
	return string(b), true
}

// DecodeFields walks the buffer reading tag/value pairs into a field map.
// An unknown wire type stops decoding and returns the fields parsed so far:
// camera responses may carry field types beyond what this system interprets,
// and a partial decode is still useful. Malformed varints abort with an error.
func DecodeFields(data []byte) (Fields, error) {
	fields := make(Fields)
	offset := 0
	for offset < len(data) {
		tag, next, err := DecodeVarint(data, offset)
		if err != nil {
			return fields, err
		}
		offset = next
		fieldNum := int(tag >> 3)
		wire := int(tag & 0x07)

		switch wire {
		case wireVarint:
			v, next, err := DecodeVarint(data, offset)
			if err != nil {
				return fields, err
			}
			fields[fieldNum] = Field{Wire: wireVarint, Uint: v}
			offset = next

		case wireBytes:
			n, next, err := DecodeVarint(data, offset)
			if err != nil {
				return fields, err
			}
			offset = next
			if offset+int(n) > len(data) {
				return fields, fmt.Errorf("field %d: length %d past end of buffer", fieldNum, n)
			}
			fields[fieldNum] = Field{Wire: wireBytes, Raw: data[offset : offset+int(n)]}
			offset += int(n)

		case wireFixed64:
			if offset+8 > len(data) {
				return fields, fmt.Errorf("field %d: truncated fixed64", fieldNum)
			}
			fields[fieldNum] = Field{Wire: wireFixed64, Raw: data[offset : offset+8]}
			offset += 8

		case wireFixed32:
			if offset+4 > len(data) {
				return fields, fmt.Errorf("field %d: truncated fixed32", fieldNum)
			}
			fields[fieldNum] = Field{Wire: wireFixed32, Raw: data[offset : offset+4]}
			offset += 4

		default:
			// Unknown wire type: stop here, keep what decoded cleanly.
			return fields, nil
		}
	}
	return fields, nil
}
