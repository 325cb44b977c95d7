package upgrade

import "github.com/HerbHall/panupgrade/pkg/models"

// Role is the part a device plays in the upgrade sequence.
type Role string

const (
	RoleStandalone Role = "standalone"
	RolePrimary    Role = "primary"
	RoleSecondary  Role = "secondary"
)

// Classification is the role of a device and, in an HA pair, of its peer.
type Classification struct {
	Role      Role
	PeerRole  Role
	Suspended bool
}

// Classify assigns workflow roles from a live HA status. Anything that is
// not active or active-primary sequences as secondary; a suspended member
// on either side is flagged separately.
func Classify(ha *models.HAStatus) Classification {
	if ha == nil || !ha.Enabled() {
		return Classification{Role: RoleStandalone}
	}
	return Classification{
		Role:      roleOf(ha.LocalState),
		PeerRole:  roleOf(ha.PeerState),
		Suspended: ha.AnySuspended(),
	}
}

func roleOf(s models.HAState) Role {
	if s.IsActive() {
		return RolePrimary
	}
	return RoleSecondary
}
