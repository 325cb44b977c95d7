package upgrade

import (
	"fmt"

	"github.com/HerbHall/panupgrade/internal/swversion"
)

// IncompatibleReason names why a target is not a safe HA upgrade path.
type IncompatibleReason string

const (
	ReasonMajorJump    IncompatibleReason = "major version jump greater than one"
	ReasonMinorJump    IncompatibleReason = "minor version jump greater than one"
	ReasonMajorNonZero IncompatibleReason = "crossing a major version must land on minor 0"
)

// IsUpgradeRequired reports whether current is strictly older than target.
// Equal versions and downgrades both return false.
func IsUpgradeRequired(current, target swversion.Version) bool {
	return current.Less(target)
}

// IsHACompatible reports whether an HA member may move from current to
// target while its peer stays on current. The reason is empty when the path
// is compatible.
func IsHACompatible(current, target swversion.Version) (bool, IncompatibleReason) {
	majorDiff := target.Major - current.Major
	minorDiff := target.Minor - current.Minor
	switch {
	case majorDiff > 1:
		return false, ReasonMajorJump
	case majorDiff == 0 && minorDiff > 1:
		return false, ReasonMinorJump
	case majorDiff == 1 && target.Minor > 0:
		return false, ReasonMajorNonZero
	}
	return true, ""
}

// versionCheck is the outcome of comparing the running version with the
// requested one.
type versionCheck int

const (
	versionUpgrade versionCheck = iota
	versionEqual
	versionDowngrade
)

func checkVersions(current, target swversion.Version) versionCheck {
	switch c := current.Compare(target); {
	case c < 0:
		return versionUpgrade
	case c == 0:
		return versionEqual
	default:
		return versionDowngrade
	}
}

func (c versionCheck) String() string {
	switch c {
	case versionUpgrade:
		return "upgrade"
	case versionEqual:
		return "equal"
	case versionDowngrade:
		return "downgrade"
	}
	return fmt.Sprintf("versionCheck(%d)", int(c))
}
