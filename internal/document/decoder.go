package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Document holds the identity fields decoded from one barcode scan. It lives
// for the duration of a single request and is never persisted.
type Document struct {
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
	Age            *int
	DocumentNumber string
	IssuingRegion  string
	Sex            string
}

// FullName renders "First Last" with whichever parts decoded.
func (d Document) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
}

// AAMVA element ids. DAC/DCS/DAQ/DBB/DAJ/DBC are the primary set; DCT and
// DAB appear on older issuers, and a handful of jurisdictions pack the whole
// name into DAA as "LAST,FIRST MIDDLE".
const (
	codeFirstName     = "DAC"
	codeFirstNameAlt  = "DCT"
	codeLastName      = "DCS"
	codeLastNameAlt   = "DAB"
	codeFullName      = "DAA"
	codeDocNumber     = "DAQ"
	codeDateOfBirth   = "DBB"
	codeIssuingRegion = "DAJ"
	codeSex           = "DBC"
)

// Decode parses a raw scanned barcode payload. It never fails: malformed
// input degrades to partial fields with a nil Age, which downstream callers
// must treat as "manual review required", never as age zero.
func Decode(raw string) Document {
	return DecodeAt(raw, time.Now().UTC())
}

// DecodeAt is Decode with an explicit reference date for age computation.
func DecodeAt(raw string, now time.Time) Document {
	lines := splitElements(raw)

	doc := Document{
		FirstName:      firstValue(lines, codeFirstName, codeFirstNameAlt),
		LastName:       firstValue(lines, codeLastName, codeLastNameAlt),
		DocumentNumber: firstValue(lines, codeDocNumber),
		IssuingRegion:  firstValue(lines, codeIssuingRegion),
		Sex:            decodeSex(firstValue(lines, codeSex)),
	}

	if doc.FirstName == "" && doc.LastName == "" {
		doc.LastName, doc.FirstName = splitFullName(firstValue(lines, codeFullName))
	}

	if dob, ok := parseDateOfBirth(firstValue(lines, codeDateOfBirth)); ok {
		doc.DateOfBirth = &dob
		age := yearsBetween(dob, now)
		doc.Age = &age
	}

	if doc.DocumentNumber == "" {
		doc.DocumentNumber = placeholderNumber(raw)
	}

	return doc
}

// splitElements normalizes the payload into one element per line. Scanner
// firmwares disagree on separators: some emit \r, some the AAMVA data
// element separator 0x1e, some keyboard-wedge substitutes like $, ~ or ^.
func splitElements(raw string) []string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch r {
		case '\r', '$', '~', '^', 0x1c, 0x1d, 0x1e, 0x1f:
			b.WriteByte('\n')
		default:
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// firstValue returns the value of the first element matching any of the
// given codes, in code preference order.
func firstValue(lines []string, codes ...string) string {
	for _, code := range codes {
		for _, line := range lines {
			if len(line) > len(code) && strings.HasPrefix(line, code) {
				value := strings.TrimSpace(line[len(code):])
				if value != "" && !strings.EqualFold(value, "NONE") {
					return value
				}
			}
		}
	}
	return ""
}

// splitFullName splits a combined "LAST,FIRST MIDDLE" value on its first
// comma. Without a comma the whole value is treated as a last name.
func splitFullName(full string) (last, first string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	idx := strings.Index(full, ",")
	if idx < 0 {
		return full, ""
	}
	last = strings.TrimSpace(full[:idx])
	rest := strings.TrimSpace(full[idx+1:])
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		rest = rest[:sp]
	}
	return last, rest
}

func decodeSex(value string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "1", "M":
		return "M"
	case "2", "F":
		return "F"
	default:
		return ""
	}
}

// parseDateOfBirth handles the four DOB layouts seen in the field: an
// 8-digit run as either YYYYMMDD or MMDDYYYY, plus MM/DD/YYYY and
// YYYY-MM-DD. The 8-digit case is disambiguated by which end holds a
// plausible calendar year.
func parseDateOfBirth(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if len(value) == 8 && isDigits(value) {
		if head, _ := strconv.Atoi(value[:4]); plausibleYear(head) {
			return parseDateParts(value[:4], value[4:6], value[6:8])
		}
		if tail, _ := strconv.Atoi(value[4:8]); plausibleYear(tail) {
			return parseDateParts(value[4:8], value[:2], value[2:4])
		}
		return time.Time{}, false
	}

	for _, layout := range []string{"01/02/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDateParts(year, month, day string) (time.Time, bool) {
	t, err := time.Parse("20060102", year+month+day)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func plausibleYear(y int) bool {
	return y >= 1900 && y <= 2099
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func yearsBetween(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years
}

// placeholderNumber derives a stable stand-in document number from the raw
// payload so deny-list checks and audit rows keep a usable key even when DAQ
// never decoded.
func placeholderNumber(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "SCAN-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
