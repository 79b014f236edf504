// Package validation checks and normalizes raw chat input against the shape
// each conversation step expects. All functions are pure: they never touch
// storage or the network.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/BloodLink/internal/models"
)

// Error is a user-correctable validation failure. Reason is safe to show in chat.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &Error{Field: field, Reason: reason}
}

// ReasonOf extracts the user-facing reason from a validation error, or
// returns "" when err is not one.
func ReasonOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

var (
	phoneDigitsRe = regexp.MustCompile(`\D`)
	e164Re        = regexp.MustCompile(`^\+\d{10,15}$`)
	nameRe        = regexp.MustCompile(`^[a-zA-Z\s\-'.]+$`)
	locationRe    = regexp.MustCompile(`^[a-zA-Z\s,\-']+$`)
	spacesRe      = regexp.MustCompile(`\s+`)
	accountNoRe   = regexp.MustCompile(`^\d{10}$`)
	anyAccountRe  = regexp.MustCompile(`\b\d{10}\b`)
	ninRe         = regexp.MustCompile(`^\d{11}$`)
	rcNumberRe    = regexp.MustCompile(`^(?i)(?:RC)?\s*-?\s*(\d{4,8})$`)
	licenseRe     = regexp.MustCompile(`^[A-Za-z0-9/\-]{4,30}$`)
	emailRe       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// CanonicalPhone strips a "whatsapp:" prefix and any formatting, returning
// an E.164 string such as +2348012345678.
func CanonicalPhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	digits := phoneDigitsRe.ReplaceAllString(s, "")
	phone := "+" + digits
	if !e164Re.MatchString(phone) {
		return "", invalid("phone", "Phone number must be in international format, e.g. +2348012345678.")
	}
	return phone, nil
}

// Name validates a full name: 2-100 characters, letters and .-' only, at
// least two words. Internal whitespace is collapsed.
func Name(input string) (string, error) {
	name := spacesRe.ReplaceAllString(strings.TrimSpace(input), " ")
	if len(name) < 2 || len(name) > 100 {
		return "", invalid("name", "Name must be between 2 and 100 characters.")
	}
	if !nameRe.MatchString(name) {
		return "", invalid("name", "Name can only contain letters, spaces, hyphens, apostrophes and periods.")
	}
	if len(strings.Fields(name)) < 2 {
		return "", invalid("name", "Please provide your full name (first and last name).")
	}
	return name, nil
}

var bloodTypeLetters = map[string]models.BloodType{
	"A": models.BloodTypeAPos,
	"B": models.BloodTypeANeg,
	"C": models.BloodTypeBPos,
	"D": models.BloodTypeBNeg,
	"E": models.BloodTypeOPos,
	"F": models.BloodTypeONeg,
	"G": models.BloodTypeABPos,
	"H": models.BloodTypeABNeg,
}

// BloodTypeChoice maps a menu letter (A-H) or a literal type to a BloodType.
func BloodTypeChoice(input string) (models.BloodType, error) {
	choice := strings.ToUpper(strings.TrimSpace(input))
	if bt, ok := bloodTypeLetters[choice]; ok {
		return bt, nil
	}
	if bt, ok := models.ParseBloodType(choice); ok {
		return bt, nil
	}
	return "", invalid("blood type", "Please select a valid option (A-H).")
}

var genotypeLetters = map[string]models.Genotype{
	"A": models.GenotypeAA,
	"B": models.GenotypeAS,
	"C": models.GenotypeAC,
	"D": models.GenotypeSS,
}

// GenotypeChoice maps a menu letter (A-D) or a literal genotype.
func GenotypeChoice(input string) (models.Genotype, error) {
	choice := strings.ToUpper(strings.TrimSpace(input))
	if g, ok := genotypeLetters[choice]; ok {
		return g, nil
	}
	if g, ok := models.ParseGenotype(choice); ok {
		return g, nil
	}
	return "", invalid("genotype", "Please select a valid option (A-D).")
}

// ScreeningAnswer is the donor's top-level medical screening reply.
type ScreeningAnswer int

const (
	ScreeningAnswerNo ScreeningAnswer = iota + 1
	ScreeningAnswerYes
	ScreeningAnswerUnsure
)

// Screening parses yes/no/unsure to the medical screening question.
func Screening(input string) (ScreeningAnswer, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "no", "n":
		return ScreeningAnswerNo, nil
	case "yes", "y":
		return ScreeningAnswerYes, nil
	case "unsure", "unknown", "not sure":
		return ScreeningAnswerUnsure, nil
	}
	return 0, invalid("screening", "Please reply YES, NO or UNSURE.")
}

// ScreeningFor expands a no/unsure answer into a full screening record.
func ScreeningFor(answer ScreeningAnswer) models.MedicalScreening {
	status := models.ScreeningNegative
	if answer == ScreeningAnswerUnsure {
		status = models.ScreeningUnknown
	}
	return models.MedicalScreening{HIV: status, HepatitisB: status, HepatitisC: status}
}

// ScreeningDetail parses the follow-up listing which conditions apply.
// "1"/"hiv", "2"/"hepatitis b", "3"/"hepatitis c" mark that condition
// positive, "4"/"other" records a chronic illness; unnamed conditions are
// negative. "none" clears everything.
func ScreeningDetail(input string) (models.MedicalScreening, error) {
	answer := strings.ToLower(strings.TrimSpace(input))
	result := models.MedicalScreening{
		HIV:        models.ScreeningNegative,
		HepatitisB: models.ScreeningNegative,
		HepatitisC: models.ScreeningNegative,
	}
	if answer == "none" || answer == "0" {
		return result, nil
	}
	matched := false
	if strings.Contains(answer, "1") || strings.Contains(answer, "hiv") {
		result.HIV = models.ScreeningPositive
		matched = true
	}
	if strings.Contains(answer, "2") || strings.Contains(answer, "hepatitis b") || strings.Contains(answer, "hep b") {
		result.HepatitisB = models.ScreeningPositive
		matched = true
	}
	if strings.Contains(answer, "3") || strings.Contains(answer, "hepatitis c") || strings.Contains(answer, "hep c") {
		result.HepatitisC = models.ScreeningPositive
		matched = true
	}
	if strings.Contains(answer, "4") || strings.Contains(answer, "other") || strings.Contains(answer, "chronic") {
		result.HasChronicIllness = true
		matched = true
	}
	if !matched {
		return models.MedicalScreening{}, invalid("screening", "Please reply with the numbers that apply (e.g. 1,3) or NONE.")
	}
	return result, nil
}

// Location validates "City, State" text. State defaults to Unknown and the
// country to Nigeria.
func Location(input string) (models.Location, error) {
	text := spacesRe.ReplaceAllString(strings.TrimSpace(input), " ")
	if len(text) < 2 || len(text) > 200 {
		return models.Location{}, invalid("location", "Location must be between 2 and 200 characters.")
	}
	if !locationRe.MatchString(text) {
		return models.Location{}, invalid("location", "Location can only contain letters, spaces, commas, hyphens and apostrophes.")
	}
	parts := strings.Split(text, ",")
	city := strings.TrimSpace(parts[0])
	if len(city) < 2 {
		return models.Location{}, invalid("location", "Please include your city, e.g. Ikeja, Lagos.")
	}
	state := "Unknown"
	if len(parts) > 1 {
		if s := strings.TrimSpace(strings.Join(parts[1:], ",")); s != "" {
			state = s
		}
	}
	return models.Location{City: city, State: state, Country: "Nigeria"}, nil
}

// SupportedBanks lists banks accepted for donor payouts.
var SupportedBanks = []string{
	"ACCESS BANK", "GTBANK", "ZENITH BANK", "UBA", "FIRST BANK", "FIDELITY BANK",
	"UNION BANK", "STANBIC IBTC", "ECOBANK", "STERLING BANK", "WEMA BANK",
	"POLARIS BANK", "FCMB", "HERITAGE BANK", "JAIZ BANK", "KUDA", "RUBIES", "MONIEPOINT",
}

func matchBank(name string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, bank := range SupportedBanks {
		if upper == bank || strings.Contains(upper, bank) {
			return bank, true
		}
	}
	return "", false
}

// BankDetails parses labelled lines ("Bank name:", "Account number:",
// "Account name:") or, failing that, free text with the three values in
// order separated by newlines or commas.
func BankDetails(input string) (models.BankDetails, error) {
	var bankName, accountNumber, accountName string
	for _, line := range strings.Split(input, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "bank name", "bank":
			bankName = value
		case "account number", "account no", "acct no":
			accountNumber = value
		case "account name":
			accountName = value
		}
	}
	if bankName == "" && accountNumber == "" && accountName == "" {
		fields := strings.FieldsFunc(input, func(r rune) bool { return r == '\n' || r == ',' })
		if len(fields) >= 3 {
			bankName = strings.TrimSpace(fields[0])
			accountNumber = strings.TrimSpace(fields[1])
			accountName = strings.TrimSpace(strings.Join(fields[2:], " "))
		} else if m := anyAccountRe.FindString(input); m != "" {
			accountNumber = m
		}
	}

	accountNumber = strings.ReplaceAll(accountNumber, " ", "")
	if bankName == "" || accountNumber == "" || accountName == "" {
		return models.BankDetails{}, invalid("bank details", "Please provide bank name, account number and account name.")
	}
	if !accountNoRe.MatchString(accountNumber) {
		return models.BankDetails{}, invalid("bank details", "Account number must be exactly 10 digits.")
	}
	bank, ok := matchBank(bankName)
	if !ok {
		return models.BankDetails{}, invalid("bank details", "Bank not supported. Please use a major Nigerian bank.")
	}
	name := spacesRe.ReplaceAllString(strings.TrimSpace(accountName), " ")
	if len(name) < 2 {
		return models.BankDetails{}, invalid("bank details", "Account name is too short.")
	}
	return models.BankDetails{BankName: bank, AccountNumber: accountNumber, AccountName: strings.ToUpper(name)}, nil
}

// DocumentURL validates a reference to an uploaded document.
func DocumentURL(input string) (string, error) {
	raw := strings.TrimSpace(input)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalid("document", "Please upload a clear photo of your ID document.")
	}
	return raw, nil
}

// NIN validates an 11-digit National Identification Number, ignoring spaces.
func NIN(input string) (string, error) {
	nin := strings.Join(strings.Fields(input), "")
	if !ninRe.MatchString(nin) {
		return "", invalid("NIN", "NIN must be exactly 11 digits.")
	}
	return nin, nil
}

// CompanyRecord parses "RC1234567, Hospital Name Ltd" into a normalized RC
// number and the company name.
func CompanyRecord(input string) (rcNumber, companyName string, err error) {
	rc, name, ok := strings.Cut(input, ",")
	name = spacesRe.ReplaceAllString(strings.TrimSpace(name), " ")
	if !ok || name == "" {
		return "", "", invalid("CAC details", "Please provide both RC Number and Hospital Name.")
	}
	m := rcNumberRe.FindStringSubmatch(strings.TrimSpace(rc))
	if m == nil {
		return "", "", invalid("CAC details", "RC Number should look like RC1234567.")
	}
	if len(name) < 3 {
		return "", "", invalid("CAC details", "Hospital name is too short.")
	}
	return "RC" + m[1], name, nil
}

// FreeText validates a bounded free-text answer such as a hospital name.
func FreeText(field, input string, minLen, maxLen int) (string, error) {
	text := spacesRe.ReplaceAllString(strings.TrimSpace(input), " ")
	if len(text) < minLen || len(text) > maxLen {
		return "", invalid(field, fmt.Sprintf("%s must be between %d and %d characters.", capitalize(field), minLen, maxLen))
	}
	return text, nil
}

// LicenseNumber validates a hospital license number and upper-cases it.
func LicenseNumber(input string) (string, error) {
	lic := strings.ToUpper(strings.TrimSpace(input))
	if !licenseRe.MatchString(lic) {
		return "", invalid("license number", "License number should be 4-30 letters, digits, '/' or '-'.")
	}
	return lic, nil
}

// Contact accepts an email address or a phone number.
func Contact(input string) (string, error) {
	text := strings.TrimSpace(input)
	if emailRe.MatchString(text) {
		return strings.ToLower(text), nil
	}
	if phone, err := CanonicalPhone(text); err == nil {
		return phone, nil
	}
	return "", invalid("contact", "Please provide a valid phone number or email address.")
}

// PictureURLs parses a comma-separated list of 1-5 http(s) URLs.
func PictureURLs(input string) ([]string, error) {
	var urls []string
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := DocumentURL(part)
		if err != nil {
			return nil, invalid("pictures", "Each picture must be a valid link (http or https).")
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 || len(urls) > 5 {
		return nil, invalid("pictures", "Please send between 1 and 5 picture links separated by commas.")
	}
	return urls, nil
}

// IntInRange parses an integer bounded by [min, max].
func IntInRange(field, input string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < min || n > max {
		return 0, invalid(field, fmt.Sprintf("Please enter a number between %d and %d.", min, max))
	}
	return n, nil
}

// MenuIndex parses a 1-based selection into a 0-based index.
func MenuIndex(input string, count int) (int, error) {
	if count <= 0 {
		return 0, invalid("selection", "There is nothing to select.")
	}
	n, err := IntInRange("selection", input, 1, count)
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

var urgencyChoices = map[string]models.Urgency{
	"1": models.UrgencyLow, "low": models.UrgencyLow,
	"2": models.UrgencyMedium, "medium": models.UrgencyMedium,
	"3": models.UrgencyHigh, "high": models.UrgencyHigh,
	"4": models.UrgencyEmergency, "emergency": models.UrgencyEmergency,
}

// UrgencyChoice maps 1-4 or the urgency word to an Urgency.
func UrgencyChoice(input string) (models.Urgency, error) {
	if u, ok := urgencyChoices[strings.ToLower(strings.TrimSpace(input))]; ok {
		return u, nil
	}
	return "", invalid("urgency", "Please reply 1 (Low), 2 (Medium), 3 (High) or 4 (Emergency).")
}

// Deadline parses a YYYY-MM-DD date that must fall after today. The
// returned deadline is the last second of that day in UTC.
func Deadline(input string, now time.Time) (time.Time, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(input))
	if err != nil {
		return time.Time{}, invalid("deadline", "Please use the format YYYY-MM-DD.")
	}
	if !day.After(now.UTC()) {
		return time.Time{}, invalid("deadline", "Deadline must be a future date.")
	}
	return day.Add(24*time.Hour - time.Second), nil
}

// Confirmation parses the CONFIRM/CANCEL terminal tokens. ok is true for
// CONFIRM and false for CANCEL.
func Confirmation(input string) (ok bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "CONFIRM":
		return true, nil
	case "CANCEL":
		return false, nil
	}
	return false, invalid("confirmation", "Please reply CONFIRM or CANCEL.")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
