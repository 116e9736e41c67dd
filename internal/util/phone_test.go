package util

import "testing"

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"9876543210", "9876543210", true},
		{"919876543210", "9876543210", true},
		{"+919876543210", "9876543210", true},
		{"09876543210", "9876543210", true},
		{"98765 43210", "9876543210", true},
		{"98765-43210", "9876543210", true},
		{"(987) 654-3210", "9876543210", true},
		{" +91 98765 43210 ", "9876543210", true},
		{"", "", false},
		{"12345", "", false},
		{"98765432101", "", false},
		{"98765abcde", "", false},
		{"+929876543210", "", false},
	}

	for _, tc := range cases {
		got, err := CanonicalizePhone(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("CanonicalizePhone(%q) unexpected error: %v", tc.in, err)
				continue
			}
			if got != tc.want {
				t.Errorf("CanonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("CanonicalizePhone(%q) = %q, want error", tc.in, got)
		}
	}
}

func TestPhoneCandidates(t *testing.T) {
	got := PhoneCandidates("9876543210")
	want := []string{"9876543210", "919876543210", "+919876543210"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPhoneE164(t *testing.T) {
	if got := PhoneE164("9876543210"); got != "+919876543210" {
		t.Errorf("PhoneE164 = %q", got)
	}
}
