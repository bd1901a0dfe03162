package metadata

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// HeaderVersion is written as the trailing V= pair of every encoded header.
const HeaderVersion = 1

const (
	keyCapturedAt  = "CapturedAt"
	keyTemperature = "Temperature"
	keyPressure    = "Pressure"
	keyHumidity    = "Humidity"
	keyVersion     = "V"

	pairSeparator = "|"
)

// Environment holds optional sensor readings. A nil field means the
// reading was not taken, which is different from a reading of zero.
type Environment struct {
	Temperature *float64 `json:"temperature"`
	Pressure    *float64 `json:"pressure"`
	Humidity    *float64 `json:"humidity"`
}

// Empty reports whether no reading is present.
func (e Environment) Empty() bool {
	return e.Temperature == nil && e.Pressure == nil && e.Humidity == nil
}

// Header is the key-value record stored in the image description field.
type Header struct {
	CapturedAt *time.Time
	Environment
}

// Encode renders the header as pipe-delimited Key=Value pairs, e.g.
//
//	CapturedAt=2024-05-01 10:00:00|Temperature=21.5|V=1
func (h Header) Encode() string {
	pairs := make([]string, 0, 5)
	if h.CapturedAt != nil {
		pairs = append(pairs, keyCapturedAt+"="+h.CapturedAt.Format(TimestampLayout))
	}
	for _, f := range []struct {
		key   string
		value *float64
	}{
		{keyTemperature, h.Temperature},
		{keyPressure, h.Pressure},
		{keyHumidity, h.Humidity},
	} {
		if f.value == nil {
			continue
		}
		pairs = append(pairs, f.key+"="+strconv.FormatFloat(*f.value, 'f', -1, 64))
	}
	pairs = append(pairs, keyVersion+"="+strconv.Itoa(HeaderVersion))
	return strings.Join(pairs, pairSeparator)
}

// ParseHeader decodes a description string. Unknown keys, malformed pairs
// and unparsable values are skipped, so the result is never an error: a
// field is simply absent when it cannot be read.
func ParseHeader(description string) Header {
	var h Header
	for _, pair := range strings.Split(description, pairSeparator) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case keyCapturedAt:
			if t, ok := parseTimestamp(value); ok {
				h.CapturedAt = &t
			}
		case keyTemperature:
			h.Temperature = parseFloat(value)
		case keyPressure:
			h.Pressure = parseFloat(value)
		case keyHumidity:
			h.Humidity = parseFloat(value)
		}
	}
	return h
}

func parseFloat(v string) *float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseTimestamp accepts the header layout and the EXIF colon layout.
func parseTimestamp(v string) (time.Time, bool) {
	for _, layout := range []string{TimestampLayout, exifTimestampLayout} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
