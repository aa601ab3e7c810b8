package logger

import "testing"

func TestMaskEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"jane.doe@example.com", "jan***@example.com"},
		{"jd@example.com", "jd***@example.com"},
		{"not-an-email", "***"},
		{"trailing@", "***"},
	}
	for _, tc := range cases {
		if got := MaskEmail(tc.in); got != tc.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"203.0.113.44", "203.0.113.*"},
		{"2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8:85a3:8d3:*"},
		{"2001:db8::1", "2001:db8::1:*"},
		{"localhost", "***"},
	}
	for _, tc := range cases {
		if got := MaskOrigin(tc.in); got != tc.want {
			t.Errorf("MaskOrigin(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskRecordID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"rec", "***"},
		{"rec-7f3a9c12", "rec-***"},
	}
	for _, tc := range cases {
		if got := MaskRecordID(tc.in); got != tc.want {
			t.Errorf("MaskRecordID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskSessionRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"a1b2c3d4e5f6a7b8", "a1b2c3d4..."},
	}
	for _, tc := range cases {
		if got := MaskSessionRef(tc.in); got != tc.want {
			t.Errorf("MaskSessionRef(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFieldHelpersMask(t *testing.T) {
	if f := Origin("203.0.113.44"); f.Key != "origin" || f.String != "203.0.113.*" {
		t.Errorf("Origin field = %q=%q, want origin=203.0.113.*", f.Key, f.String)
	}
	if f := Record("rec-7f3a9c12"); f.Key != "record_id" || f.String != "rec-***" {
		t.Errorf("Record field = %q=%q, want record_id=rec-***", f.Key, f.String)
	}
	if f := SessionRef("a1b2c3d4e5f6"); f.Key != "session_ref" || f.String != "a1b2c3d4..." {
		t.Errorf("SessionRef field = %q=%q, want session_ref=a1b2c3d4...", f.Key, f.String)
	}
	if f := Email("jane.doe@example.com"); f.Key != "email" || f.String != "jan***@example.com" {
		t.Errorf("Email field = %q=%q, want email=jan***@example.com", f.Key, f.String)
	}
}
