package flow

import (
	"fmt"
	"strings"
)

// Menu formatting constants
const (
	// MenuOptionFormat is the format string for a numbered menu line
	MenuOptionFormat = "\n%d. %s"
	// LetterOptionFormat is the format string for a lettered menu line
	LetterOptionFormat = "\n%c. %s"
)

// NumberedMenu returns the body followed by options numbered from 1.
func NumberedMenu(body string, options ...string) string {
	var sb strings.Builder
	sb.WriteString(body)
	for i, opt := range options {
		fmt.Fprintf(&sb, MenuOptionFormat, i+1, opt)
	}
	return sb.String()
}

// LetteredMenu returns the body followed by options lettered from A.
func LetteredMenu(body string, options ...string) string {
	var sb strings.Builder
	sb.WriteString(body)
	for i, opt := range options {
		fmt.Fprintf(&sb, LetterOptionFormat, 'A'+rune(i), opt)
	}
	return sb.String()
}
