package flow

import "testing"

func TestNumberedMenu(t *testing.T) {
	got := NumberedMenu("Pick one:", "Donor", "Hospital")
	want := "Pick one:\n1. Donor\n2. Hospital"
	if got != want {
		t.Errorf("NumberedMenu = %q, want %q", got, want)
	}
}

func TestLetteredMenu(t *testing.T) {
	got := LetteredMenu("Blood type?", "A+", "A-", "B+")
	want := "Blood type?\nA. A+\nB. A-\nC. B+"
	if got != want {
		t.Errorf("LetteredMenu = %q, want %q", got, want)
	}
}

func TestNumberedMenuWithoutOptions(t *testing.T) {
	if got := NumberedMenu("Nothing"); got != "Nothing" {
		t.Errorf("NumberedMenu = %q", got)
	}
}
