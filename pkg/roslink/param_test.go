package roslink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamGet(t *testing.T) {
	t.Run("value string is decoded", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan any, 1)
		require.NoError(t, ros.Param("/max_speed").Get(func(value any, err error) {
			require.NoError(t, err)
			got <- value
		}))

		envs := conn.waitForWrites(t, 1)
		assert.Equal(t, OpCallService, envs[0].Op)
		assert.Equal(t, "/rosapi/get_param", envs[0].Service)

		conn.deliver(`{"op": "service_response", "id": "` + envs[0].ID + `", "result": true, "values": {"value": "2.5"}}`)
		select {
		case value := <-got:
			assert.Equal(t, 2.5, value)
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	})

	t.Run("undecodable value is an error", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan error, 1)
		require.NoError(t, ros.Param("/broken").Get(func(value any, err error) { got <- err }))

		envs := conn.waitForWrites(t, 1)
		conn.deliver(`{"op": "service_response", "id": "` + envs[0].ID + `", "result": true, "values": {"value": "not json"}}`)

		select {
		case err := <-got:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	})

	t.Run("get with timeout", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan error, 1)
		require.NoError(t, ros.Param("/slow").GetWithTimeout(20*time.Millisecond, func(value any, err error) {
			got <- err
		}))
		conn.waitForWrites(t, 1)

		select {
		case err := <-got:
			assert.ErrorIs(t, err, ErrCallTimeout)
		case <-time.After(time.Second):
			t.Fatal("timeout never fired")
		}
	})
}

func TestParamSet(t *testing.T) {
	ros, conn := newTestRos(t)

	require.NoError(t, ros.Param("/robot_name").Set("r2d2"))

	envs := conn.waitForWrites(t, 1)
	assert.Equal(t, "/rosapi/set_param", envs[0].Service)
	// Name first, then the JSON-encoded value.
	assert.Equal(t, "/robot_name", envs[0].Args[0])
	assert.Equal(t, `"r2d2"`, envs[0].Args[1])
}

func TestRosapiIntrospection(t *testing.T) {
	t.Run("topics", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan []string, 1)
		require.NoError(t, ros.Topics(func(topics []string, err error) {
			require.NoError(t, err)
			got <- topics
		}))

		envs := conn.waitForWrites(t, 1)
		assert.Equal(t, "/rosapi/topics", envs[0].Service)

		conn.deliver(`{"op": "service_response", "id": "` + envs[0].ID + `", "result": true, "values": {"topics": ["/chatter", "/rosout"]}}`)
		select {
		case topics := <-got:
			assert.Equal(t, []string{"/chatter", "/rosout"}, topics)
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	})

	t.Run("services", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan []string, 1)
		require.NoError(t, ros.Services(func(services []string, err error) {
			require.NoError(t, err)
			got <- services
		}))

		envs := conn.waitForWrites(t, 1)
		conn.deliver(`{"op": "service_response", "id": "` + envs[0].ID + `", "result": true, "values": {"services": ["/rosapi/topics"]}}`)
		select {
		case services := <-got:
			assert.Equal(t, []string{"/rosapi/topics"}, services)
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	})

	t.Run("param names", func(t *testing.T) {
		ros, conn := newTestRos(t)

		got := make(chan []string, 1)
		require.NoError(t, ros.ParamNames(func(names []string, err error) {
			require.NoError(t, err)
			got <- names
		}))

		envs := conn.waitForWrites(t, 1)
		assert.Equal(t, "/rosapi/get_param_names", envs[0].Service)

		conn.deliver(`{"op": "service_response", "id": "` + envs[0].ID + `", "result": true, "values": {"names": ["/max_speed"]}}`)
		select {
		case names := <-got:
			assert.Equal(t, []string{"/max_speed"}, names)
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	})
}
