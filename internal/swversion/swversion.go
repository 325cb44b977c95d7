// Package swversion parses and orders PAN-OS software version strings.
//
// Accepted forms are major.minor[.maintenance[-h|-c|-b hotfix]][.xfr]:
//
//	10.1         -> 10.1.0.0
//	10.1.2       -> 10.1.2.0
//	10.1.2-h3    -> 10.1.2.3
//	10.1.2-c4    -> 10.1.2.4
//	10.1.2.xfr   -> 10.1.2.0
package swversion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFormat is returned for strings that are not a valid version.
var ErrFormat = errors.New("invalid software version format")

var markers = []string{"-h", "-c", "-b"}

// Version is an immutable (major, minor, maintenance, hotfix) tuple.
type Version struct {
	Major       int
	Minor       int
	Maintenance int
	Hotfix      int
}

// Parse converts s into a Version. Malformed input is an error; there are
// no defaults beyond the optional maintenance and hotfix parts.
func Parse(s string) (Version, error) {
	raw := strings.TrimSuffix(strings.TrimSpace(s), ".xfr")

	parts := strings.Split(raw, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("%w: %q has %d segments, want 2 or 3", ErrFormat, s, len(parts))
	}

	var v Version
	var err error
	if v.Major, err = component(s, parts[0]); err != nil {
		return Version{}, err
	}
	if v.Minor, err = component(s, parts[1]); err != nil {
		return Version{}, err
	}
	if len(parts) == 2 {
		return v, nil
	}

	third := parts[2]
	for _, m := range markers {
		if i := strings.Index(third, m); i >= 0 {
			if v.Maintenance, err = component(s, third[:i]); err != nil {
				return Version{}, err
			}
			if v.Hotfix, err = component(s, third[i+len(m):]); err != nil {
				return Version{}, err
			}
			return v, nil
		}
	}
	if strings.ContainsAny(third, "hc") {
		return Version{}, fmt.Errorf("%w: %q has a hotfix marker without a leading dash", ErrFormat, s)
	}
	if v.Maintenance, err = component(s, third); err != nil {
		return Version{}, err
	}
	return v, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func component(full, part string) (int, error) {
	n, err := strconv.ParseUint(part, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: component %q is not a non-negative integer", ErrFormat, full, part)
	}
	return int(n), nil
}

// Compare returns -1, 0 or +1 as v is less than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	for _, d := range [...]int{
		v.Major - o.Major,
		v.Minor - o.Minor,
		v.Maintenance - o.Maintenance,
		v.Hotfix - o.Hotfix,
	} {
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
	}
	return 0
}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Base returns the .0 maintenance release of v's major.minor line.
func (v Version) Base() Version {
	return Version{Major: v.Major, Minor: v.Minor}
}

// String renders the catalog key for v. Hotfix releases use the -h form.
func (v Version) String() string {
	if v.Hotfix > 0 {
		return fmt.Sprintf("%d.%d.%d-h%d", v.Major, v.Minor, v.Maintenance, v.Hotfix)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Maintenance)
}
