package coordinator

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestDecodeAttribute(t *testing.T) {
	tests := []struct {
		name     string
		id       uint16
		dataType byte
		data     []byte
		wantName string
		want     any
		wantErr  bool
	}{
		{
			name:     "temperature scaled",
			id:       0x0402,
			dataType: TypeInt16,
			data:     []byte{0x08, 0x66}, // 2150
			wantName: "temperature",
			want:     21.5,
		},
		{
			name:     "negative temperature",
			id:       0x0402,
			dataType: TypeInt16,
			data:     []byte{0xFF, 0x38}, // -200
			wantName: "temperature",
			want:     -2.0,
		},
		{
			name:     "battery percent",
			id:       0x0001,
			dataType: TypeUint8,
			data:     []byte{0x64},
			wantName: "battery",
			want:     int64(100),
		},
		{
			name:     "state on",
			id:       0x0006,
			dataType: TypeBool,
			data:     []byte{0x01},
			wantName: "state",
			want:     true,
		},
		{
			name:     "contact open",
			id:       0x0500,
			dataType: TypeBool,
			data:     []byte{0x00},
			wantName: "contact",
			want:     false,
		},
		{
			name:     "humidity scaled",
			id:       0x0405,
			dataType: TypeUint16,
			data:     []byte{0x12, 0xDB}, // 4827
			wantName: "humidity",
			want:     48.27,
		},
		{
			name:     "unknown id preserved",
			id:       0xCAFE,
			dataType: TypeUint8,
			data:     []byte{0x2A},
			wantName: "attr_0xCAFE",
			want:     int64(42),
		},
		{
			name:     "truncated value",
			id:       0x0402,
			dataType: TypeInt16,
			data:     []byte{0x08},
			wantErr:  true,
		},
		{
			name:     "unknown data type",
			id:       0x0001,
			dataType: 0x42,
			data:     []byte{0x01},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, value, err := DecodeAttribute(tt.id, tt.dataType, tt.data)

			if tt.wantErr {
				if !errors.Is(err, ErrDecodingFailed) {
					t.Errorf("DecodeAttribute() error = %v, want ErrDecodingFailed", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("DecodeAttribute() unexpected error: %v", err)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if want, isFloat := tt.want.(float64); isFloat {
				got, ok := value.(float64)
				if !ok || math.Abs(got-want) > 1e-9 {
					t.Errorf("value = %v (%T), want %v", value, value, want)
				}
			} else if value != tt.want {
				t.Errorf("value = %v (%T), want %v (%T)", value, value, tt.want, tt.want)
			}
		})
	}
}

func TestEncodeAttribute(t *testing.T) {
	tests := []struct {
		name      string
		attribute string
		value     any
		wantData  []byte
		wantErr   error
	}{
		{attribute: "state", name: "bool true", value: true, wantData: []byte{0x01}},
		{attribute: "state", name: "bool false", value: false, wantData: []byte{0x00}},
		{attribute: "state", name: "string on", value: "on", wantData: []byte{0x01}},
		{attribute: "state", name: "string OFF", value: "OFF", wantData: []byte{0x00}},
		{attribute: "brightness", name: "json number", value: float64(200), wantData: []byte{0xC8}},
		{attribute: "color_temp", name: "uint16", value: float64(370), wantData: []byte{0x01, 0x72}},
		{attribute: "brightness", name: "out of range", value: float64(300), wantErr: ErrEncodingFailed},
		{attribute: "brightness", name: "negative", value: float64(-1), wantErr: ErrEncodingFailed},
		{attribute: "state", name: "unparseable string", value: "maybe", wantErr: ErrEncodingFailed},
		{attribute: "brightness", name: "non-numeric value", value: "bright", wantErr: ErrEncodingFailed},
		{attribute: "battery", name: "read-only attribute", value: float64(50), wantErr: ErrUnknownAttribute},
		{attribute: "bogus", name: "uncatalogued attribute", value: float64(1), wantErr: ErrUnknownAttribute},
	}

	for _, tt := range tests {
		t.Run(tt.attribute+" "+tt.name, func(t *testing.T) {
			spec, data, err := EncodeAttribute(tt.attribute, tt.value)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("EncodeAttribute() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("EncodeAttribute() unexpected error: %v", err)
			}
			if spec.Name != tt.attribute {
				t.Errorf("spec.Name = %q, want %q", spec.Name, tt.attribute)
			}
			if !bytes.Equal(data, tt.wantData) {
				t.Errorf("data = %X, want %X", data, tt.wantData)
			}
		})
	}
}

func TestAttributeCatalogueLookups(t *testing.T) {
	spec, ok := LookupAttribute(0x0402)
	if !ok || spec.Name != "temperature" {
		t.Errorf("LookupAttribute(0x0402) = %+v, %v", spec, ok)
	}

	spec, ok = AttributeByName("temperature")
	if !ok || spec.ID != 0x0402 {
		t.Errorf("AttributeByName(temperature) = %+v, %v", spec, ok)
	}

	if _, ok := LookupAttribute(0xFFFF); ok {
		t.Error("LookupAttribute(0xFFFF) should not resolve")
	}
	if _, ok := AttributeByName("nope"); ok {
		t.Error("AttributeByName(nope) should not resolve")
	}
}
