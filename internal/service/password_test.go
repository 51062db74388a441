package service

import (
	"strings"
	"testing"
)

func TestGenerateTempPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		pw, err := GenerateTempPassword(TempPasswordLength)
		if err != nil {
			t.Fatalf("GenerateTempPassword: %v", err)
		}
		if len(pw) != TempPasswordLength {
			t.Fatalf("length = %d", len(pw))
		}
		for name, set := range map[string]string{
			"upper": upperChars, "lower": lowerChars, "digit": digitChars, "symbol": symbolChars,
		} {
			if !strings.ContainsAny(pw, set) {
				t.Fatalf("%q has no %s character", pw, name)
			}
		}
		for _, r := range pw {
			if !strings.ContainsRune(lowerChars+upperChars+digitChars+symbolChars, r) {
				t.Fatalf("%q contains %q outside the alphabet", pw, r)
			}
		}
		seen[pw] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct passwords out of 200", len(seen))
	}
}

func TestGenerateTempPassword_Longer(t *testing.T) {
	pw, err := GenerateTempPassword(20)
	if err != nil {
		t.Fatal(err)
	}
	if len(pw) != 20 {
		t.Errorf("length = %d", len(pw))
	}
}

func TestGenerateTempPassword_TooShort(t *testing.T) {
	if _, err := GenerateTempPassword(8); err == nil {
		t.Fatal("expected error for length below 12")
	}
}

func TestCleanText(t *testing.T) {
	tests := map[string]string{
		"  plain  ":                          "plain",
		"<b>bold</b> text":                   "bold text",
		"<script>alert(1)</script>Reason":    "Reason",
		"Smith & Sons":                       "Smith & Sons",
		"":                                   "",
	}
	for in, want := range tests {
		if got := cleanText(in); got != want {
			t.Errorf("cleanText(%q) = %q, want %q", in, got, want)
		}
	}
}
