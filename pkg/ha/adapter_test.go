package ha

import (
	"testing"

	"plannedoutage/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAdapter(t *testing.T) {
	mock := ha.NewMockClient()
	c := WrapClient(mock)
	assert.Same(t, mock, UnwrapClient(c))

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())

	var seen []*State
	sub, err := c.SubscribeStateChanges("input_button.refresh_planned_outages", func(entityID string, oldState, newState *State) {
		seen = append(seen, newState)
	})
	require.NoError(t, err)

	mock.SetState("input_button.refresh_planned_outages", "2024-04-30T12:00:00Z", nil)
	require.Len(t, seen, 1)
	assert.Equal(t, "2024-04-30T12:00:00Z", seen[0].State)

	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, c.SetEntityState("sensor.planned_power_outage_start_time", "2024-05-01 09:00", map[string]interface{}{"reason": "Maintenance"}))
	st, err := c.GetState("sensor.planned_power_outage_start_time")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 09:00", st.State)
	assert.Equal(t, "Maintenance", st.Attributes["reason"])

	all, err := c.GetAllStates()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, c.CallService("persistent_notification", "create", map[string]interface{}{"message": "hi"}))
	assert.Len(t, mock.GetServiceCalls(), 1)

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
}

func TestInternalToState_Nil(t *testing.T) {
	assert.Nil(t, internalToState(nil))
}
