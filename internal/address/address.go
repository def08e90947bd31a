package address

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"regexp"
	"strings"
)

var (
	// ErrEmptyAddress is returned when nothing is left after normalization.
	ErrEmptyAddress = errors.New("address is empty after normalization")

	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	separatorPattern  = regexp.MustCompile(`[,.#;]+`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// Normalize canonicalises a free-text or standardized address so trivially different
// spellings ("123 Main St." vs "123  main st") hash to the same key.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ToLower(s)
	s = separatorPattern.ReplaceAllString(s, " ")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Hasher produces the one-way registration key for an address.
// With a pepper it is HMAC-SHA256, otherwise plain SHA-256.
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper string) Hasher {
	if pepper == "" {
		return Hasher{}
	}
	return Hasher{pepper: []byte(pepper)}
}

// Hash normalizes then hashes the address. The plaintext never leaves this call.
func (h Hasher) Hash(addr string) (string, error) {
	normalized := Normalize(addr)
	if normalized == "" {
		return "", ErrEmptyAddress
	}
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(normalized))
		return hex.EncodeToString(sum[:]), nil
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Coarsen rounds a coordinate to precision decimal places before it is persisted.
func Coarsen(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

// ValidCoordinate reports whether lat/lng are finite and in range.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ZipRoute builds the aggregation key for a carrier route. Route codes repeat across
// ZIP codes, so the five-digit ZIP is part of the key: "62704" + "C045" -> "62704C045".
func ZipRoute(zip, carrierRoute string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}
	return zip + strings.ToUpper(strings.TrimSpace(carrierRoute))
}

var zipRoutePattern = regexp.MustCompile(`^(\d{5})([A-Za-z]\d{3})$`)

// SplitZipRoute reverses ZipRoute.
func SplitZipRoute(zipRoute string) (zip, carrierRoute string, ok bool) {
	m := zipRoutePattern.FindStringSubmatch(strings.TrimSpace(zipRoute))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.ToUpper(m[2]), true
}
