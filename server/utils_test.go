package main

import (
	"testing"
)

func TestParseVersion(t *testing.T) {
	cases := []struct {
		vers     string
		expected int
	}{
		{"0.1", 1},
		{"1.2", 0x0102},
		{"3", 0x0300},
		{"12.34", 0x0c22},
		{"1.2-rc1", 0x0102},
		{"", 0},
		{"garbage", 0},
		{"-1.2", 0},
		{"300.1", 0},
	}

	for _, tc := range cases {
		if got := parseVersion(tc.vers); got != tc.expected {
			t.Errorf("parseVersion(%q): expected 0x%x, got 0x%x", tc.vers, tc.expected, got)
		}
	}
}

func TestVersionToString(t *testing.T) {
	if got := versionToString(0x0102); got != "1.2" {
		t.Errorf("versionToString: expected '1.2', got '%s'", got)
	}
	if got := versionToString(parseVersion("0.1")); got != "0.1" {
		t.Errorf("versionToString roundtrip: expected '0.1', got '%s'", got)
	}
}

func TestBase10Version(t *testing.T) {
	if got := base10Version(parseVersion("1.2")); got != 102 {
		t.Errorf("base10Version: expected 102, got %d", got)
	}
	if got := base10Version(parseVersion("0.1")); got != 1 {
		t.Errorf("base10Version: expected 1, got %d", got)
	}
}
