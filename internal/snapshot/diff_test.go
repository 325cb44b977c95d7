package snapshot

import (
	"testing"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestCompare_Identical(t *testing.T) {
	pre, post := fullData(), fullData()
	d := Compare(&pre, &post)
	assert.True(t, d.Empty())
	assert.Equal(t, "no differences", d.Summary())
}

func TestCompare_Changes(t *testing.T) {
	pre, post := fullData(), fullData()
	post.ContentVersion = "8800-8512"
	post.Interfaces[1].Status = "up"
	post.Routes = nil
	post.ARPEntries = append(post.ARPEntries, models.ARPEntry{Interface: "ethernet1/2", IP: "10.1.0.1", MAC: "aa"})
	post.IPSecTunnels[0].State = "init"
	post.SessionStats = &models.SessionStats{NumActive: 3}

	d := Compare(&pre, &post)

	assert.Equal(t, &Change{Before: "8799-8509", After: "8800-8512"}, d.ContentVersion)
	assert.Equal(t, []string{"ethernet1/2"}, d.Interfaces.Changed)
	assert.Empty(t, d.Routes.Added)
	assert.Equal(t, []string{"default 0.0.0.0/0 via 10.0.0.254"}, d.Routes.Removed)
	assert.Equal(t, []string{"ethernet1/2 10.1.0.1"}, d.ARPEntries.Added)
	assert.Equal(t, []string{"to-branch"}, d.IPSecTunnels.Changed)
	assert.True(t, d.Licenses.Empty())
	assert.Equal(t, &Change{Before: "1200", After: "3"}, d.ActiveSessions)
	assert.Equal(t,
		"content 8799-8509 -> 8800-8512, interfaces +0 -0 ~1, routes +0 -1 ~0, arp +1 -0 ~0, ipsec +0 -0 ~1, sessions 1200 -> 3",
		d.Summary())
}

func TestCompare_MissingCategorySkipsValueChecks(t *testing.T) {
	pre := models.SnapshotData{ContentVersion: "1"}
	post := models.SnapshotData{}
	d := Compare(&pre, &post)
	assert.Nil(t, d.ContentVersion)
	assert.Nil(t, d.ActiveSessions)
}
