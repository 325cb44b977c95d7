package upgrade

import (
	"testing"

	"github.com/HerbHall/panupgrade/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ha   *models.HAStatus
		want Classification
	}{
		{"nil", nil, Classification{Role: RoleStandalone}},
		{"disabled", &models.HAStatus{DeploymentType: "disabled"}, Classification{Role: RoleStandalone}},
		{
			"active",
			&models.HAStatus{DeploymentType: "Active-Passive", LocalState: models.HAStateActive, PeerState: models.HAStatePassive},
			Classification{Role: RolePrimary, PeerRole: RoleSecondary},
		},
		{
			"active-primary",
			&models.HAStatus{DeploymentType: "Active-Active", LocalState: models.HAStateActivePrimary, PeerState: models.HAStateActiveSecondary},
			Classification{Role: RolePrimary, PeerRole: RoleSecondary},
		},
		{
			"passive",
			&models.HAStatus{DeploymentType: "Active-Passive", LocalState: models.HAStatePassive, PeerState: models.HAStateActive},
			Classification{Role: RoleSecondary, PeerRole: RolePrimary},
		},
		{
			"initial",
			&models.HAStatus{DeploymentType: "Active-Passive", LocalState: models.HAStateInitial, PeerState: models.HAStateActive},
			Classification{Role: RoleSecondary, PeerRole: RolePrimary},
		},
		{
			"suspended peer",
			&models.HAStatus{DeploymentType: "Active-Passive", LocalState: models.HAStatePassive, PeerState: models.HAStateSuspended},
			Classification{Role: RoleSecondary, PeerRole: RoleSecondary, Suspended: true},
		},
		{
			"suspended local",
			&models.HAStatus{DeploymentType: "Active-Passive", LocalState: models.HAStateSuspended, PeerState: models.HAStateActive},
			Classification{Role: RoleSecondary, PeerRole: RolePrimary, Suspended: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ha); got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
