package reading

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{in: "electricity", want: TypeElectricity},
		{in: " Gas ", want: TypeGas},
		{in: "WATER", want: TypeWater},
		{in: "", want: TypeGeneral},
		{in: "steam", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultUnit(t *testing.T) {
	assert.Equal(t, "kWh", DefaultUnit(TypeElectricity))
	assert.Equal(t, "m³", DefaultUnit(TypeGas))
	assert.Equal(t, "L", DefaultUnit(TypeWater))
	assert.Empty(t, DefaultUnit(TypeGeneral))
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("012475", 1)
	require.NoError(t, err)
	assert.InDelta(t, 1247.5, v, 1e-9)

	v, err = ParseValue("0042", 0)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, v, 1e-9)

	_, err = ParseValue("", 0)
	assert.ErrorIs(t, err, ErrEmptyValue)
	_, err = ParseValue("12a", 0)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = ParseValue("-12", 0)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = ParseValue("12", -1)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	r, err := New("4562", Options{
		Type:       TypeGas,
		Decimals:   1,
		Confidence: 1.4,
		ImageURI:   "file:///tmp/meter.jpg",
		Now:        func() time.Time { return fixed },
	})
	require.NoError(t, err)

	_, err = uuid.FromString(r.ID)
	require.NoError(t, err)
	assert.InDelta(t, 456.2, r.Value, 1e-9)
	assert.Equal(t, "m³", r.Unit)
	assert.InDelta(t, 1.0, r.Confidence, 1e-9, "confidence is clamped")
	assert.Equal(t, fixed.UTC(), r.Timestamp)
	assert.Equal(t, "456.2 m³", r.String())

	other, err := New("4562", Options{})
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, other.ID)
	assert.Equal(t, TypeGeneral, other.Type)
	assert.Equal(t, "4562", other.String())

	_, err = New("4562", Options{Type: "steam"})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestMeterReadingJSON(t *testing.T) {
	r, err := New("7894", Options{Type: TypeWater, Decimals: 1, Unit: "m³"})
	require.NoError(t, err)
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, k := range []string{"id", "value", "unit", "confidence", "imageUri", "timestamp", "type"} {
		assert.Contains(t, fields, k)
	}
	assert.Equal(t, "water", fields["type"])
	assert.Equal(t, "m³", fields["unit"])
}
