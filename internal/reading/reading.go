// Package reading builds the meter reading record a user confirms after
// choosing one of the candidate digit strings.
package reading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Type is the kind of meter.
type Type string

const (
	TypeElectricity Type = "electricity"
	TypeGas         Type = "gas"
	TypeWater       Type = "water"
	TypeGeneral     Type = "general"
)

var (
	ErrEmptyValue   = errors.New("reading value is empty")
	ErrInvalidType  = errors.New("unknown meter type")
	ErrInvalidValue = errors.New("reading value is not a digit string")
)

// ParseType accepts a meter type name case-insensitively. Empty means general.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeElectricity, TypeGas, TypeWater, TypeGeneral:
		return t, nil
	case "":
		return TypeGeneral, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// DefaultUnit returns the display unit of a meter type.
func DefaultUnit(t Type) string {
	switch t {
	case TypeElectricity:
		return "kWh"
	case TypeGas:
		return "m³"
	case TypeWater:
		return "L"
	default:
		return ""
	}
}

// MeterReading is one confirmed reading.
type MeterReading struct {
	ID         string    `json:"id"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Confidence float64   `json:"confidence"`
	ImageURI   string    `json:"imageUri"`
	Timestamp  time.Time `json:"timestamp"`
	Type       Type      `json:"type"`
}

// Options describes how a digit string becomes a value.
type Options struct {
	Type       Type
	Unit       string // overrides DefaultUnit(Type) when set
	Decimals   int    // trailing digits after the decimal point
	Confidence float64
	ImageURI   string
	Now        func() time.Time
}

// ParseValue interprets digits as a fixed-point number with the given
// number of decimals. "012475" with 1 decimal is 1247.5.
func ParseValue(digits string, decimals int) (float64, error) {
	if digits == "" {
		return 0, ErrEmptyValue
	}
	if decimals < 0 {
		return 0, fmt.Errorf("decimals must be non-negative, got %d", decimals)
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, digits)
	}
	return float64(n) / math.Pow10(decimals), nil
}

// New builds a MeterReading with a fresh random ID.
func New(digits string, opt Options) (MeterReading, error) {
	value, err := ParseValue(digits, opt.Decimals)
	if err != nil {
		return MeterReading{}, err
	}
	typ := opt.Type
	if typ == "" {
		typ = TypeGeneral
	}
	if _, err := ParseType(string(typ)); err != nil {
		return MeterReading{}, err
	}
	unit := opt.Unit
	if unit == "" {
		unit = DefaultUnit(typ)
	}
	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}

	id, err := uuid.NewV4()
	if err != nil {
		return MeterReading{}, fmt.Errorf("generate reading id: %w", err)
	}

	return MeterReading{
		ID:         id.String(),
		Value:      value,
		Unit:       unit,
		Confidence: math.Max(0, math.Min(1, opt.Confidence)),
		ImageURI:   opt.ImageURI,
		Timestamp:  now().UTC(),
		Type:       typ,
	}, nil
}

// String renders the value with its unit, e.g. "1247.5 kWh".
func (r MeterReading) String() string {
	v := strconv.FormatFloat(r.Value, 'f', -1, 64)
	if r.Unit == "" {
		return v
	}
	return v + " " + r.Unit
}
