package geo

import (
	"math"
	"strings"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

const (
	// KeyPrecision is the number of geohash characters stored per shop.
	KeyPrecision = 10

	bitsPerChar = 5
	maxKeyBits  = KeyPrecision * bitsPerChar

	// spanPadding widens computed spans so points sitting exactly on the
	// search circle survive float rounding at cell edges.
	spanPadding = 1e-6
)

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// fullRange matches every key the encoder can produce.
var fullRange = Range{Low: base32[:1], High: "~"}

// Range is a closed interval [Low, High] over geohash keys, compared byte-wise.
type Range struct {
	Low  string
	High string
}

// Contains reports whether key falls inside r.
func (r Range) Contains(key string) bool {
	return key >= r.Low && key <= r.High
}

// Encode returns the geohash key stored for (lat, lng).
func Encode(lat, lng float64) (string, error) {
	if err := Validate(lat, lng); err != nil {
		return "", err
	}
	return geohash.EncodeWithPrecision(lat, lng, KeyPrecision), nil
}

// QueryBounds returns key ranges that together contain the key of every point
// within radiusMeters of center. Ranges may admit points outside the circle;
// callers must filter candidates with Distance.
//
// All ranges sit on the same bit level, so two ranges are either identical or
// disjoint. Duplicates are removed.
func QueryBounds(center Point, radiusMeters float64) ([]Range, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateRadius(radiusMeters); err != nil {
		return nil, err
	}

	latSpan, lngSpan, full := capSpans(center, radiusMeters)
	if full {
		return []Range{fullRange}, nil
	}

	bits := queryBits(latSpan, lngSpan)
	if bits <= 0 {
		return []Range{fullRange}, nil
	}
	precision := (bits + bitsPerChar - 1) / bitsPerChar

	south := math.Max(-90, center.Lat-latSpan)
	north := math.Min(90, center.Lat+latSpan)
	west := wrapLongitude(center.Lng - lngSpan)
	east := wrapLongitude(center.Lng + lngSpan)

	samples := [...]Point{
		{center.Lat, center.Lng},
		{center.Lat, west},
		{center.Lat, east},
		{north, center.Lng},
		{north, west},
		{north, east},
		{south, center.Lng},
		{south, west},
		{south, east},
	}

	ranges := make([]Range, 0, len(samples))
	seen := make(map[Range]struct{}, len(samples))
	for _, p := range samples {
		r := cellRange(geohash.EncodeWithPrecision(p.Lat, p.Lng, precision), bits)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// capSpans returns the half-height and half-width in degrees of the box
// bounding the spherical cap of radius meters around c. full is set when the
// cap reaches a pole or wraps all longitudes.
func capSpans(c Point, meters float64) (latSpan, lngSpan float64, full bool) {
	delta := meters / EarthRadiusMeters
	latSpan = toDegrees(delta) * (1 + spanPadding)
	if c.Lat+latSpan >= 90 || c.Lat-latSpan <= -90 {
		return latSpan, 180, true
	}

	ratio := math.Sin(delta) / math.Cos(toRadians(c.Lat))
	if ratio >= 1 {
		return latSpan, 180, true
	}
	lngSpan = toDegrees(math.Asin(ratio)) * (1 + spanPadding)
	return latSpan, lngSpan, false
}

// queryBits picks the deepest geohash level whose cells are at least as tall
// as latSpan and as wide as lngSpan, capped at the stored key length.
// Geohash interleaves longitude first, so b bits hold ceil(b/2) longitude
// bits and floor(b/2) latitude bits.
func queryBits(latSpan, lngSpan float64) int {
	latBits := math.Floor(math.Log2(180 / latSpan))
	lngBits := math.Floor(math.Log2(360 / lngSpan))
	bits := math.Min(math.Min(2*lngBits, 2*latBits+1), maxKeyBits)
	if bits < 1 {
		return 0
	}
	return int(bits)
}

// cellRange converts a geohash into the range of keys sharing its first bits.
func cellRange(hash string, bits int) Range {
	precision := (bits + bitsPerChar - 1) / bitsPerChar
	if len(hash) < precision {
		return Range{Low: hash, High: hash + "~"}
	}
	hash = hash[:precision]
	base := hash[:len(hash)-1]
	last := strings.IndexByte(base32, hash[len(hash)-1])

	significant := bits - len(base)*bitsPerChar
	unused := bitsPerChar - significant
	start := (last >> unused) << unused
	end := start + (1 << unused)
	if end > len(base32)-1 {
		return Range{Low: base + string(base32[start]), High: base + "~"}
	}
	return Range{Low: base + string(base32[start]), High: base + string(base32[end])}
}
