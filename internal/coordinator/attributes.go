package coordinator

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Wire data type codes for attribute values, following ZCL conventions.
const (
	TypeBool   byte = 0x10
	TypeUint8  byte = 0x20
	TypeUint16 byte = 0x21
	TypeUint32 byte = 0x23
	TypeInt8   byte = 0x28
	TypeInt16  byte = 0x29
)

// AttributeSpec describes one entry in the attribute catalogue: how a
// numbered wire attribute maps to a named, typed value.
//
// Scale converts raw wire integers to engineering units (e.g. a
// temperature report of 2150 with scale 0.01 is 21.50 degrees). A zero
// scale means the raw integer is used as-is.
type AttributeSpec struct {
	ID       uint16
	Name     string
	DataType byte
	Scale    float64
	Unit     string
	Writable bool
}

// Attribute catalogue.
//
// IDs follow the cluster numbering devices actually report. Unknown
// IDs are not dropped: they decode generically under a hex name so no
// reported data is lost (see DecodeAttribute).
var attributeCatalogue = []AttributeSpec{
	{ID: 0x0001, Name: "battery", DataType: TypeUint8, Unit: "%"},
	{ID: 0x0006, Name: "state", DataType: TypeBool, Writable: true},
	{ID: 0x0008, Name: "brightness", DataType: TypeUint8, Writable: true},
	{ID: 0x0201, Name: "color_temp", DataType: TypeUint16, Unit: "mired", Writable: true},
	{ID: 0x0400, Name: "illuminance", DataType: TypeUint16, Unit: "lx"},
	{ID: 0x0402, Name: "temperature", DataType: TypeInt16, Scale: 0.01, Unit: "°C"},
	{ID: 0x0405, Name: "humidity", DataType: TypeUint16, Scale: 0.01, Unit: "%"},
	{ID: 0x0406, Name: "occupancy", DataType: TypeBool},
	{ID: 0x0500, Name: "contact", DataType: TypeBool},
	{ID: 0x0B04, Name: "power", DataType: TypeInt16, Scale: 0.1, Unit: "W"},
}

var (
	attributesByID   = make(map[uint16]AttributeSpec, len(attributeCatalogue))
	attributesByName = make(map[string]AttributeSpec, len(attributeCatalogue))
)

func init() {
	for _, spec := range attributeCatalogue {
		attributesByID[spec.ID] = spec
		attributesByName[spec.Name] = spec
	}
}

// LookupAttribute returns the catalogue entry for a wire attribute ID.
func LookupAttribute(id uint16) (AttributeSpec, bool) {
	spec, ok := attributesByID[id]
	return spec, ok
}

// AttributeByName returns the catalogue entry for a named attribute.
func AttributeByName(name string) (AttributeSpec, bool) {
	spec, ok := attributesByName[name]
	return spec, ok
}

// valueSize returns the wire size of a data type, or 0 if unknown.
func valueSize(dataType byte) int {
	switch dataType {
	case TypeBool, TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32:
		return 4
	default:
		return 0
	}
}

// DecodeAttribute decodes a reported attribute value into its named,
// scaled form.
//
// Unknown attribute IDs decode under a synthetic "attr_0x%04X" name
// with the raw value preserved. Dropping unknown reports would lose
// data from devices newer than the catalogue.
//
// Parameters:
//   - id: Wire attribute ID
//   - dataType: Reported data type code
//   - data: Raw value bytes
//
// Returns:
//   - string: Attribute name
//   - any: Decoded value (bool, int64, or float64 when scaled)
//   - error: ErrDecodingFailed if the value bytes are malformed
func DecodeAttribute(id uint16, dataType byte, data []byte) (string, any, error) {
	raw, err := decodeRaw(dataType, data)
	if err != nil {
		return "", nil, err
	}

	spec, known := attributesByID[id]
	if !known {
		return fmt.Sprintf("attr_0x%04X", id), raw, nil
	}

	if b, isBool := raw.(bool); isBool {
		return spec.Name, b, nil
	}
	if spec.Scale != 0 {
		n, _ := raw.(int64)
		return spec.Name, float64(n) * spec.Scale, nil
	}
	return spec.Name, raw, nil
}

// decodeRaw decodes raw value bytes by their wire data type.
func decodeRaw(dataType byte, data []byte) (any, error) {
	size := valueSize(dataType)
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown data type 0x%02X", ErrDecodingFailed, dataType)
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: type 0x%02X needs %d bytes, got %d",
			ErrDecodingFailed, dataType, size, len(data))
	}

	switch dataType {
	case TypeBool:
		return data[0] != 0, nil
	case TypeUint8:
		return int64(data[0]), nil
	case TypeInt8:
		return int64(int8(data[0])), nil
	case TypeUint16:
		return int64(binary.BigEndian.Uint16(data)), nil
	case TypeInt16:
		return int64(int16(binary.BigEndian.Uint16(data))), nil
	case TypeUint32:
		return int64(binary.BigEndian.Uint32(data)), nil
	}
	return nil, fmt.Errorf("%w: unknown data type 0x%02X", ErrDecodingFailed, dataType)
}

// EncodeAttribute encodes a named attribute value for a device command.
//
// Values arrive from JSON payloads, so numbers are float64 and
// booleans may appear as bool or as the strings "on"/"off"/"true"/
// "false" (external tooling sends both forms).
//
// Returns:
//   - AttributeSpec: The catalogue entry used
//   - []byte: Wire value bytes
//   - error: ErrUnknownAttribute for uncatalogued or read-only names,
//     ErrEncodingFailed for values out of range
func EncodeAttribute(name string, value any) (AttributeSpec, []byte, error) {
	spec, ok := attributesByName[name]
	if !ok {
		return AttributeSpec{}, nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	if !spec.Writable {
		return AttributeSpec{}, nil, fmt.Errorf("%w: %q is read-only", ErrUnknownAttribute, name)
	}

	if spec.DataType == TypeBool {
		b, err := coerceBool(value)
		if err != nil {
			return AttributeSpec{}, nil, err
		}
		if b {
			return spec, []byte{0x01}, nil
		}
		return spec, []byte{0x00}, nil
	}

	n, err := coerceNumber(value)
	if err != nil {
		return AttributeSpec{}, nil, err
	}
	if spec.Scale != 0 {
		n = n / spec.Scale
	}

	raw := int64(math.Round(n))
	data, err := encodeRaw(spec.DataType, raw)
	if err != nil {
		return AttributeSpec{}, nil, err
	}
	return spec, data, nil
}

// encodeRaw encodes an integer value by its wire data type, rejecting
// out-of-range values rather than truncating them.
func encodeRaw(dataType byte, raw int64) ([]byte, error) {
	switch dataType {
	case TypeUint8:
		if raw < 0 || raw > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d out of range for uint8", ErrEncodingFailed, raw)
		}
		return []byte{byte(raw)}, nil
	case TypeInt8:
		if raw < math.MinInt8 || raw > math.MaxInt8 {
			return nil, fmt.Errorf("%w: %d out of range for int8", ErrEncodingFailed, raw)
		}
		return []byte{byte(int8(raw))}, nil
	case TypeUint16:
		if raw < 0 || raw > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d out of range for uint16", ErrEncodingFailed, raw)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(raw)), nil
	case TypeInt16:
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d out of range for int16", ErrEncodingFailed, raw)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(int16(raw))), nil
	case TypeUint32:
		if raw < 0 || raw > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d out of range for uint32", ErrEncodingFailed, raw)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(raw)), nil
	}
	return nil, fmt.Errorf("%w: unknown data type 0x%02X", ErrEncodingFailed, dataType)
}

// coerceBool accepts the boolean forms seen in set payloads.
func coerceBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean value", ErrEncodingFailed, v)
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("%w: %T is not a boolean value", ErrEncodingFailed, value)
}

// coerceNumber accepts the numeric forms seen in set payloads.
func coerceNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: %T is not a numeric value", ErrEncodingFailed, value)
}
