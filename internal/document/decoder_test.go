package document

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestDecodePrimaryFields(t *testing.T) {
	raw := "@\n\x1e\rANSI 636014080002DL\nDCSDOE\nDACJANE\nDAQD1234567\nDBB19950214\nDAJCA\nDBC2\n"
	doc := DecodeAt(raw, testNow)

	if doc.FirstName != "JANE" {
		t.Fatalf("expected first name JANE, got %q", doc.FirstName)
	}
	if doc.LastName != "DOE" {
		t.Fatalf("expected last name DOE, got %q", doc.LastName)
	}
	if doc.DocumentNumber != "D1234567" {
		t.Fatalf("expected document number D1234567, got %q", doc.DocumentNumber)
	}
	if doc.IssuingRegion != "CA" {
		t.Fatalf("expected region CA, got %q", doc.IssuingRegion)
	}
	if doc.Sex != "F" {
		t.Fatalf("expected sex F, got %q", doc.Sex)
	}
	if doc.DateOfBirth == nil || !doc.DateOfBirth.Equal(time.Date(1995, 2, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected DOB 1995-02-14, got %v", doc.DateOfBirth)
	}
	if doc.Age == nil || *doc.Age != 30 {
		t.Fatalf("expected age 30, got %v", doc.Age)
	}
}

func TestDecodeSeparatorVariants(t *testing.T) {
	for _, sep := range []string{"\r", "$", "~", "^", "\x1e"} {
		raw := strings.Join([]string{"DCSSMITH", "DACBOB", "DAQX99", "DBB19800101"}, sep)
		doc := DecodeAt(raw, testNow)
		if doc.LastName != "SMITH" || doc.FirstName != "BOB" || doc.DocumentNumber != "X99" {
			t.Fatalf("separator %q: got %+v", sep, doc)
		}
		if doc.Age == nil {
			t.Fatalf("separator %q: expected parsed DOB", sep)
		}
	}
}

func TestDecodeAlternateNameCodes(t *testing.T) {
	doc := DecodeAt("DABJONES\rDCTMARY\rDAQZ1\r", testNow)
	if doc.LastName != "JONES" || doc.FirstName != "MARY" {
		t.Fatalf("expected JONES/MARY, got %q/%q", doc.LastName, doc.FirstName)
	}
}

func TestDecodeFullNameFallback(t *testing.T) {
	doc := DecodeAt("DAAJOHNSON,ROBERT LEE\rDAQQ7\r", testNow)
	if doc.LastName != "JOHNSON" {
		t.Fatalf("expected last JOHNSON, got %q", doc.LastName)
	}
	if doc.FirstName != "ROBERT" {
		t.Fatalf("expected first ROBERT, got %q", doc.FirstName)
	}
}

func TestDecodeFullNameWithoutComma(t *testing.T) {
	doc := DecodeAt("DAAJOHNSON\r", testNow)
	if doc.LastName != "JOHNSON" || doc.FirstName != "" {
		t.Fatalf("got %q/%q", doc.LastName, doc.FirstName)
	}
}

func TestDateOfBirthLayouts(t *testing.T) {
	want := time.Date(1995, 2, 14, 0, 0, 0, 0, time.UTC)
	cases := []string{
		"19950214", // YYYYMMDD: leading 4 digits are a plausible year
		"02141995", // MMDDYYYY: only the trailing 4 digits are
		"02/14/1995",
		"1995-02-14",
	}
	for _, value := range cases {
		got, ok := parseDateOfBirth(value)
		if !ok {
			t.Fatalf("%s: expected parse", value)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", value, want, got)
		}
	}
}

func TestDateOfBirthUnparsable(t *testing.T) {
	for _, value := range []string{"", "garbage", "00000000", "13459999", "1234"} {
		if _, ok := parseDateOfBirth(value); ok {
			t.Fatalf("%q: expected parse failure", value)
		}
	}
}

func TestDecodeMissingDOBYieldsNilAge(t *testing.T) {
	doc := DecodeAt("DCSDOE\rDACJOHN\rDAQA1\rDBBXXXXXX\r", testNow)
	if doc.Age != nil {
		t.Fatalf("expected nil age for unparsable DOB, got %d", *doc.Age)
	}
	if doc.DateOfBirth != nil {
		t.Fatalf("expected nil DOB, got %v", doc.DateOfBirth)
	}
}

func TestDecodeNeverFails(t *testing.T) {
	for _, raw := range []string{"", "!!!", "\x00\x01\x02", strings.Repeat("A", 4096)} {
		doc := Decode(raw)
		if doc.DocumentNumber == "" {
			t.Fatalf("expected placeholder document number for %q", raw)
		}
	}
}

func TestPlaceholderNumberIsStable(t *testing.T) {
	a := DecodeAt("junk payload", testNow)
	b := DecodeAt("junk payload", testNow)
	if a.DocumentNumber != b.DocumentNumber {
		t.Fatalf("placeholder not stable: %q vs %q", a.DocumentNumber, b.DocumentNumber)
	}
	if !strings.HasPrefix(a.DocumentNumber, "SCAN-") {
		t.Fatalf("unexpected placeholder format %q", a.DocumentNumber)
	}
}

func TestAgeBeforeBirthday(t *testing.T) {
	doc := DecodeAt("DBB19950714\rDAQA\r", testNow) // birthday one month out
	if doc.Age == nil || *doc.Age != 29 {
		t.Fatalf("expected age 29, got %v", doc.Age)
	}
}
