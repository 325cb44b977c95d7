package swversion

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"10.1.2", Version{10, 1, 2, 0}},
		{"10.1.2-h3", Version{10, 1, 2, 3}},
		{"10.1.2-c4", Version{10, 1, 2, 4}},
		{"10.1.2-b1", Version{10, 1, 2, 1}},
		{"10.1.2.xfr", Version{10, 1, 2, 0}},
		{"10.1.6-h3.xfr", Version{10, 1, 6, 3}},
		{"10.1", Version{10, 1, 0, 0}},
		{"11.0.0", Version{11, 0, 0, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParse_invalid(t *testing.T) {
	for _, in := range []string{
		"10",
		"10.1.2.3.4",
		"10.1.2hx",
		"10.1.2h3",
		"10.1.2c",
		"",
		"a.b",
		"10.-1",
		"10.1.2-h",
		"10.1.2-hx",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, ErrFormat) {
				t.Errorf("Parse(%q) error = %v, want ErrFormat", in, err)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"10.1.2", "10.1.2", 0},
		{"10.1.2", "10.1.3", -1},
		{"10.1.2-h3", "10.1.2", 1},
		{"10.1.2-h3", "10.1.10", -1},
		{"10.2", "10.1.9-h9", 1},
		{"9.1.16", "10.0.0", -1},
		{"11.0", "10.9.9-h9", 1},
	}

	for _, tc := range tests {
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			a, b := MustParse(tc.a), MustParse(tc.b)
			if got := a.Compare(b); got != tc.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := b.Compare(a); got != -tc.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
			if a.Less(b) != (tc.want < 0) {
				t.Errorf("Less(%s, %s) = %v", tc.a, tc.b, a.Less(b))
			}
		})
	}
}

func TestBaseAndString(t *testing.T) {
	tests := []struct {
		in, base, str string
	}{
		{"11.1.3", "11.1.0", "11.1.3"},
		{"10.2.0", "10.2.0", "10.2.0"},
		{"10.1.6-h3", "10.1.0", "10.1.6-h3"},
		{"10.1", "10.1.0", "10.1.0"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			v := MustParse(tc.in)
			if got := v.Base().String(); got != tc.base {
				t.Errorf("Base() = %s, want %s", got, tc.base)
			}
			if got := v.String(); got != tc.str {
				t.Errorf("String() = %s, want %s", got, tc.str)
			}
		})
	}
}
