package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jis "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// headLimit bounds how much of a file ExtractReader reads. The EXIF APP1
// segment is at most 64 KiB and sits right after the SOI marker.
const headLimit = 256 << 10

// ErrNotJPEG is returned by Tag for payloads without a JPEG SOI marker.
var ErrNotJPEG = errors.New("payload is not a JPEG image")

var jpegHeader = []byte{0xFF, 0xD8}

// Tag returns a copy of payload whose EXIF header carries h and, when pos
// is non-nil, a GPS position. Only the APP1 segment is rewritten; the
// compressed image data is copied unchanged.
func Tag(payload []byte, h Header, pos *Position) (tagged []byte, err error) {
	if !bytes.HasPrefix(payload, jpegHeader) {
		return nil, ErrNotJPEG
	}
	defer func() {
		if r := recover(); r != nil {
			tagged, err = nil, fmt.Errorf("write exif: %v", r)
		}
	}()

	parsed, err := jis.NewJpegMediaParser().ParseBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	sl, ok := parsed.(*jis.SegmentList)
	if !ok {
		return nil, errors.New("parse jpeg: unexpected media context")
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		// No EXIF yet (or unreadable): start from an empty IFD0.
		if rootIb, err = newRootBuilder(); err != nil {
			return nil, err
		}
	}

	ifd0, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return nil, fmt.Errorf("ifd0 builder: %w", err)
	}
	if err := ifd0.SetStandardWithName("ImageDescription", h.Encode()); err != nil {
		return nil, fmt.Errorf("set description: %w", err)
	}

	if h.CapturedAt != nil {
		exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
		if err != nil {
			return nil, fmt.Errorf("exif builder: %w", err)
		}
		if err := exifIb.SetStandardWithName("DateTimeOriginal", h.CapturedAt.Format(exifTimestampLayout)); err != nil {
			return nil, fmt.Errorf("set original time: %w", err)
		}
	}

	if pos != nil {
		if err := setPosition(rootIb, *pos); err != nil {
			return nil, err
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("set exif: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(payload) + 1024)
	if err := sl.Write(&out); err != nil {
		return nil, fmt.Errorf("write jpeg: %w", err)
	}
	return out.Bytes(), nil
}

func newRootBuilder() (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("ifd mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	if err := exif.LoadStandardTags(ti); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	return exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder), nil
}

func setPosition(rootIb *exif.IfdBuilder, pos Position) error {
	gps, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
	if err != nil {
		return fmt.Errorf("gps builder: %w", err)
	}

	latRef, lonRef := "N", "E"
	if pos.Latitude < 0 {
		latRef = "S"
	}
	if pos.Longitude < 0 {
		lonRef = "W"
	}

	for _, f := range []struct {
		name  string
		value any
	}{
		{"GPSLatitudeRef", latRef},
		{"GPSLatitude", toDMS(pos.Latitude)},
		{"GPSLongitudeRef", lonRef},
		{"GPSLongitude", toDMS(pos.Longitude)},
	} {
		if err := gps.SetStandardWithName(f.name, f.value); err != nil {
			return fmt.Errorf("set %s: %w", f.name, err)
		}
	}
	return nil
}

// Extract recovers the capture metadata from a JPEG payload. It never
// fails: an unreadable or missing header yields absent fields.
func Extract(payload []byte) (md Metadata) {
	defer func() {
		if r := recover(); r != nil {
			md = Metadata{}
		}
	}()

	rawExif, err := exif.SearchAndExtractExif(payload)
	if err != nil {
		return Metadata{}
	}
	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return Metadata{}
	}

	var (
		description, original string
		latRef, lonRef        string
		lat, lon              []exifcommon.Rational
	)
	for _, tag := range tags {
		switch tag.TagName {
		case "ImageDescription":
			if description == "" {
				description = asciiValue(tag.Value)
			}
		case "DateTimeOriginal":
			original = asciiValue(tag.Value)
		case "GPSLatitudeRef":
			latRef = asciiValue(tag.Value)
		case "GPSLongitudeRef":
			lonRef = asciiValue(tag.Value)
		case "GPSLatitude":
			lat, _ = tag.Value.([]exifcommon.Rational)
		case "GPSLongitude":
			lon, _ = tag.Value.([]exifcommon.Rational)
		}
	}

	h := ParseHeader(description)
	if h.CapturedAt == nil {
		if t, ok := parseTimestamp(original); ok {
			h.CapturedAt = &t
		}
	}
	if h.CapturedAt != nil {
		s := h.CapturedAt.Format(TimestampLayout)
		md.CapturedAt = &s
	}
	md.Environment = h.Environment

	if v, ok := fromDMS(lat, latRef, "S"); ok {
		md.Latitude = &v
	}
	if v, ok := fromDMS(lon, lonRef, "W"); ok {
		md.Longitude = &v
	}
	return md
}

// ExtractReader reads the head of r and extracts its metadata.
func ExtractReader(r io.Reader) Metadata {
	head, err := io.ReadAll(io.LimitReader(r, headLimit))
	if err != nil && len(head) == 0 {
		return Metadata{}
	}
	return Extract(head)
}

// ExtractFile extracts metadata from the file at path.
func ExtractFile(path string) Metadata {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}
	}
	defer f.Close()
	return ExtractReader(f)
}

func asciiValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// dmsScale is the seconds denominator: 1/10000 of an arc second.
const dmsScale = 10000

// toDMS converts decimal degrees to degree/minute/second rationals.
func toDMS(v float64) []exifcommon.Rational {
	total := uint64(math.Round(math.Abs(v) * 3600 * dmsScale))
	deg := total / (3600 * dmsScale)
	rem := total % (3600 * dmsScale)
	min := rem / (60 * dmsScale)
	sec := rem % (60 * dmsScale)
	return []exifcommon.Rational{
		{Numerator: uint32(deg), Denominator: 1},
		{Numerator: uint32(min), Denominator: 1},
		{Numerator: uint32(sec), Denominator: dmsScale},
	}
}

// fromDMS converts degree/minute/second rationals back to decimal degrees,
// negating when ref equals negativeRef.
func fromDMS(r []exifcommon.Rational, ref, negativeRef string) (float64, bool) {
	if len(r) != 3 {
		return 0, false
	}
	var parts [3]float64
	for i, q := range r {
		if q.Denominator == 0 {
			return 0, false
		}
		parts[i] = float64(q.Numerator) / float64(q.Denominator)
	}
	v := parts[0] + parts[1]/60 + parts[2]/3600
	if strings.EqualFold(ref, negativeRef) {
		v = -v
	}
	return v, true
}
