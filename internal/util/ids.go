package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DonorID builds a donor identifier of the form DON-<CITY3>-<SEQ3>-<RAND3>.
// Cities shorter than three letters are padded with X.
func DonorID(city string, sequence int, src IntSource) string {
	if sequence < 0 {
		sequence = 0
	}
	return fmt.Sprintf("DON-%s-%03d-%s", cityCode(city), sequence%1000, GenerateRandomDigits(src, 3))
}

func cityCode(city string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(city) {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
			if b.Len() == 3 {
				break
			}
		}
	}
	code := b.String()
	for len(code) < 3 {
		code += "X"
	}
	return code
}

// HospitalReference builds a hospital reference of the form HOS-<rand4>-LG.
func HospitalReference(src IntSource) string {
	return "HOS-" + GenerateRandomDigits(src, 4) + "-LG"
}

// RequestID builds a request identifier from a base36 millisecond timestamp
// and a random suffix, e.g. REQ-M1X2Y3Z4-8QK2F.
func RequestID(now time.Time, src IntSource) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return "REQ-" + ts + "-" + GenerateRandomAlphaNumeric(src, 5)
}
