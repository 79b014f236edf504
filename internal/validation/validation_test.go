package validation

import (
	"testing"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+2348012345678", "+2348012345678", false},
		{"+234 801 234 5678", "+2348012345678", false},
		{"2348012345678", "+2348012345678", false},
		{"+1 (555) 010-9999", "+15550109999", false},
		{"12345", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalPhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalPhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestName(t *testing.T) {
	if got, err := Name("  Ada   Obi  "); err != nil || got != "Ada Obi" {
		t.Errorf("Name() = %q, %v", got, err)
	}
	if got, err := Name("Mary-Jane O'Neil Jr."); err != nil || got != "Mary-Jane O'Neil Jr." {
		t.Errorf("Name() = %q, %v", got, err)
	}
	for _, bad := range []string{"Ada", "A", "R2 D2", "Ada_Obi Smith"} {
		if _, err := Name(bad); err == nil {
			t.Errorf("Name(%q) should fail", bad)
		} else if ReasonOf(err) == "" {
			t.Errorf("Name(%q) error should carry a reason", bad)
		}
	}
}

func TestBloodTypeChoice(t *testing.T) {
	tests := map[string]models.BloodType{
		"A": models.BloodTypeAPos, "b": models.BloodTypeANeg, "C": models.BloodTypeBPos,
		"D": models.BloodTypeBNeg, "e": models.BloodTypeOPos, "F": models.BloodTypeONeg,
		"G": models.BloodTypeABPos, "H": models.BloodTypeABNeg, "ab+": models.BloodTypeABPos,
	}
	for in, want := range tests {
		got, err := BloodTypeChoice(in)
		if err != nil || got != want {
			t.Errorf("BloodTypeChoice(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := BloodTypeChoice("Z"); err == nil {
		t.Error("Z must be rejected")
	}
}

func TestGenotypeChoice(t *testing.T) {
	tests := map[string]models.Genotype{"A": models.GenotypeAA, "b": models.GenotypeAS, "C": models.GenotypeAC, "D": models.GenotypeSS, "sc": models.GenotypeSC}
	for in, want := range tests {
		got, err := GenotypeChoice(in)
		if err != nil || got != want {
			t.Errorf("GenotypeChoice(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := GenotypeChoice("E"); err == nil {
		t.Error("E is not a genotype option")
	}
}

func TestScreening(t *testing.T) {
	for in, want := range map[string]ScreeningAnswer{"no": ScreeningAnswerNo, "Y": ScreeningAnswerYes, "unsure": ScreeningAnswerUnsure, "unknown": ScreeningAnswerUnsure} {
		got, err := Screening(in)
		if err != nil || got != want {
			t.Errorf("Screening(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := Screening("maybe"); err == nil {
		t.Error("maybe must be rejected")
	}
	if s := ScreeningFor(ScreeningAnswerNo); s.HIV != models.ScreeningNegative || s.HepatitisC != models.ScreeningNegative {
		t.Errorf("no should be all negative: %+v", s)
	}
	if s := ScreeningFor(ScreeningAnswerUnsure); s.HepatitisB != models.ScreeningUnknown {
		t.Errorf("unsure should be all unknown: %+v", s)
	}
}

func TestScreeningDetail(t *testing.T) {
	s, err := ScreeningDetail("1, 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HIV != models.ScreeningPositive || s.HepatitisB != models.ScreeningNegative || s.HepatitisC != models.ScreeningPositive {
		t.Errorf("unexpected screening %+v", s)
	}
	s, err = ScreeningDetail("Hepatitis B")
	if err != nil || s.HepatitisB != models.ScreeningPositive || s.HIV != models.ScreeningNegative {
		t.Errorf("hepatitis b parse = %+v, %v", s, err)
	}
	s, err = ScreeningDetail("other chronic condition")
	if err != nil || !s.HasChronicIllness {
		t.Errorf("chronic illness parse = %+v, %v", s, err)
	}
	if _, err := ScreeningDetail("banana"); err == nil {
		t.Error("unrecognised detail must be rejected")
	}
}

func TestLocation(t *testing.T) {
	loc, err := Location("Ikeja,  Lagos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.City != "Ikeja" || loc.State != "Lagos" || loc.Country != "Nigeria" {
		t.Errorf("unexpected location %+v", loc)
	}
	loc, err = Location("Abuja")
	if err != nil || loc.State != "Unknown" {
		t.Errorf("state should default to Unknown: %+v, %v", loc, err)
	}
	for _, bad := range []string{"X", "Lagos #1", ""} {
		if _, err := Location(bad); err == nil {
			t.Errorf("Location(%q) should fail", bad)
		}
	}
}

func TestBankDetails(t *testing.T) {
	labelled := "Bank name: GTBank\nAccount number: 0123456789\nAccount name: Ada Obi"
	b, err := BankDetails(labelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.BankName != "GTBANK" || b.AccountNumber != "0123456789" || b.AccountName != "ADA OBI" {
		t.Errorf("unexpected bank details %+v", b)
	}

	b, err = BankDetails("Access Bank, 9876543210, Chinedu Okafor")
	if err != nil || b.BankName != "ACCESS BANK" || b.AccountName != "CHINEDU OKAFOR" {
		t.Errorf("free text parse = %+v, %v", b, err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"short account number", "Bank name: UBA\nAccount number: 12345\nAccount name: Ada Obi"},
		{"unsupported bank", "Bank name: Bank of Mars\nAccount number: 0123456789\nAccount name: Ada Obi"},
		{"missing fields", "0123456789"},
	}
	for _, tt := range tests {
		if _, err := BankDetails(tt.input); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestDocumentURL(t *testing.T) {
	if _, err := DocumentURL("https://api.twilio.com/media/ME123"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"ftp://x/y", "not a url", "https://"} {
		if _, err := DocumentURL(bad); err == nil {
			t.Errorf("DocumentURL(%q) should fail", bad)
		}
	}
}

func TestNIN(t *testing.T) {
	if got, err := NIN("123 4567 8901"); err != nil || got != "12345678901" {
		t.Errorf("NIN() = %q, %v", got, err)
	}
	for _, bad := range []string{"1234567890", "123456789012", "1234567890a"} {
		if _, err := NIN(bad); err == nil {
			t.Errorf("NIN(%q) should fail", bad)
		}
	}
}

func TestCompanyRecord(t *testing.T) {
	rc, name, err := CompanyRecord("rc 1234567,  St. Mary Hospital Ltd")
	if err != nil || rc != "RC1234567" || name != "St. Mary Hospital Ltd" {
		t.Errorf("CompanyRecord() = %q, %q, %v", rc, name, err)
	}
	if _, _, err := CompanyRecord("RC1234567"); err == nil {
		t.Error("missing name must fail")
	}
	if _, _, err := CompanyRecord("ABC, Some Hospital"); err == nil {
		t.Error("malformed RC number must fail")
	}
}

func TestPictureURLs(t *testing.T) {
	urls, err := PictureURLs("https://a.example/1.jpg, https://a.example/2.jpg")
	if err != nil || len(urls) != 2 {
		t.Errorf("PictureURLs() = %v, %v", urls, err)
	}
	if _, err := PictureURLs("https://a.example/1.jpg, nope"); err == nil {
		t.Error("invalid link must fail")
	}
	if _, err := PictureURLs(" , "); err == nil {
		t.Error("empty list must fail")
	}
}

func TestContact(t *testing.T) {
	if got, err := Contact("Info@StMary.NG"); err != nil || got != "info@stmary.ng" {
		t.Errorf("Contact(email) = %q, %v", got, err)
	}
	if got, err := Contact("+234 801 234 5678"); err != nil || got != "+2348012345678" {
		t.Errorf("Contact(phone) = %q, %v", got, err)
	}
	if _, err := Contact("call me"); err == nil {
		t.Error("free text contact must fail")
	}
}

func TestIntInRangeAndMenuIndex(t *testing.T) {
	if n, err := IntInRange("units", "15", 1, 15); err != nil || n != 15 {
		t.Errorf("IntInRange upper bound = %d, %v", n, err)
	}
	if _, err := IntInRange("units", "16", 1, 15); err == nil {
		t.Error("16 must be out of range")
	}
	if _, err := IntInRange("units", "two", 1, 15); err == nil {
		t.Error("non-numeric must fail")
	}
	if idx, err := MenuIndex("3", 3); err != nil || idx != 2 {
		t.Errorf("MenuIndex = %d, %v", idx, err)
	}
	if _, err := MenuIndex("1", 0); err == nil {
		t.Error("empty menu must fail")
	}
}

func TestUrgencyChoice(t *testing.T) {
	for in, want := range map[string]models.Urgency{"1": models.UrgencyLow, "4": models.UrgencyEmergency, "High": models.UrgencyHigh} {
		if got, err := UrgencyChoice(in); err != nil || got != want {
			t.Errorf("UrgencyChoice(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := UrgencyChoice("5"); err == nil {
		t.Error("5 must be rejected")
	}
}

func TestDeadline(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	dl, err := Deadline("2026-05-11", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 5, 11, 23, 59, 59, 0, time.UTC); !dl.Equal(want) {
		t.Errorf("deadline = %v, want %v", dl, want)
	}
	if _, err := Deadline("2026-05-10", now); err == nil {
		t.Error("today must be rejected")
	}
	if _, err := Deadline("11/05/2026", now); err == nil {
		t.Error("wrong format must be rejected")
	}
}

func TestConfirmation(t *testing.T) {
	if ok, err := Confirmation("confirm"); err != nil || !ok {
		t.Errorf("confirm = %v, %v", ok, err)
	}
	if ok, err := Confirmation(" Cancel "); err != nil || ok {
		t.Errorf("cancel = %v, %v", ok, err)
	}
	if _, err := Confirmation("yes"); err == nil {
		t.Error("yes is not a confirmation token")
	}
}
