package judge

import "testing"

func TestLookupLanguage(t *testing.T) {
	cases := []struct {
		in      string
		runtime string
		version string
		ok      bool
	}{
		{"", "python", "3.10.0", true},
		{"Python", "python", "3.10.0", true},
		{"c++", "cpp", "10.2.0", true},
		{"java", "java", "15.0.2", true},
		{"c", "c", "10.2.0", true},
		{"js", "javascript", "18.15.0", true},
		{"go", "go", "1.16.2", false},
		{"brainfuck", "", "", false},
	}
	for _, tc := range cases {
		l, ok := LookupLanguage(tc.in)
		if ok != tc.ok { t.Fatalf("LookupLanguage(%q) ok=%v want %v", tc.in, ok, tc.ok) }
		if l.Runtime != tc.runtime || l.Version != tc.version {
			t.Fatalf("LookupLanguage(%q)=%+v", tc.in, l)
		}
	}
	if n := len(Languages()); n != 6 { t.Fatalf("expected 6 languages, got %d", n) }
}
