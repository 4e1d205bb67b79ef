package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPlayers(t *testing.T) {
	candidates := []queueMember{
		{UserID: 1, IP: "10.0.0.1", BalanceSnapshot: 1000},
		{UserID: 2, IP: "10.0.0.2", BalanceSnapshot: 1000},
		{UserID: 3, IP: "10.0.1.9", BalanceSnapshot: 50},
		{UserID: 4, IP: "192.168.1.4", BalanceSnapshot: 500},
	}

	selected := selectPlayers(100, 2, candidates)
	assert.Len(t, selected, 2)
	assert.Equal(t, int64(1), selected[0].UserID)
	assert.Equal(t, int64(4), selected[1].UserID, "same subnet and short balance are skipped")

	assert.Len(t, selectPlayers(1000, 2, candidates), 1)
	assert.Empty(t, selectPlayers(100, 2, nil))
}

func TestPassesNetworkRejectsSameUser(t *testing.T) {
	selected := []queueMember{{UserID: 1, IP: "10.0.0.1"}}
	assert.False(t, passesNetwork(selected, queueMember{UserID: 1, IP: "172.16.0.1"}))
	assert.True(t, passesNetwork(selected, queueMember{UserID: 2}))
}
