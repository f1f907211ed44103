package session

import "testing"

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "hi-IN", want: LanguageHindi, ok: true},
		{in: "hi", want: LanguageHindi, ok: true},
		{in: "hi_IN.UTF-8", want: LanguageHindi, ok: true},
		{in: "en-US", want: LanguageEnglish, ok: true},
		{in: "en_IN", want: LanguageEnglish, ok: true},
		{in: "C", ok: false},
		{in: "", ok: false},
		{in: "not a tag!", ok: false},
	}
	for _, tt := range tests {
		got, ok := MatchLanguage(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("MatchLanguage(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveLanguage(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "hi_IN.UTF-8")
	if got := ResolveLanguage(""); got != LanguageHindi {
		t.Fatalf("ResolveLanguage(\"\") = %q, want %q", got, LanguageHindi)
	}
	if got := ResolveLanguage("en-IN"); got != LanguageEnglish {
		t.Fatalf("ResolveLanguage(en-IN) = %q, want %q", got, LanguageEnglish)
	}

	t.Setenv("LANG", "C")
	if got := ResolveLanguage(""); got != LanguageEnglish {
		t.Fatalf("ResolveLanguage with C locale = %q, want %q", got, LanguageEnglish)
	}
}
