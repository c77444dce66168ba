package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingTotality(t *testing.T) {
	types := Types()
	require.NotEmpty(t, types)

	seen := make(map[string]EventType, len(types))
	for _, et := range types {
		route, err := et.Route()
		require.NoError(t, err, "event type %q must have a routing projection", et)

		assert.NotEmpty(t, route.Key, "routing key for %q", et)
		assert.NotEmpty(t, route.Entity, "entity label for %q", et)
		assert.Equal(t, strings.ToLower(route.Key), route.Key,
			"routing keys are lowercase: %q", route.Key)
		assert.Contains(t, route.Key, ".",
			"routing keys are dot-segmented: %q", route.Key)

		if prev, dup := seen[route.Key]; dup {
			t.Errorf("routing key %q shared by %q and %q", route.Key, prev, et)
		}
		seen[route.Key] = et
	}
}

func TestRouteUnknownEventType(t *testing.T) {
	_, err := EventType("EmployeePromotedToCEO").Route()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRouteExamples(t *testing.T) {
	route, err := EventEmployeeUpdated.Route()
	require.NoError(t, err)
	assert.Equal(t, "employee.updated", route.Key)
	assert.Equal(t, EntityEmployee, route.Entity)

	route, err = EventProjectMemberAdded.Route()
	require.NoError(t, err)
	assert.Equal(t, "project.member.added", route.Key)
	assert.Equal(t, EntityProject, route.Entity)
}
