package roslink

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActionClient(t *testing.T) (*ActionClient, *fakeConn) {
	t.Helper()
	ros, conn := newTestRos(t)

	ac, err := ros.ActionClient("/fibonacci", "actionlib_tutorials/Fibonacci").Build()
	require.NoError(t, err)

	// advertise goal+cancel, subscribe status+feedback+result
	conn.waitForWrites(t, 5)
	return ac, conn
}

func TestActionClientBuild(t *testing.T) {
	t.Run("wires the five channels", func(t *testing.T) {
		_, conn := newTestActionClient(t)

		envs := conn.sentEnvelopes(t)
		byTopic := make(map[string]*Envelope)
		for _, env := range envs {
			byTopic[env.Topic] = env
		}

		require.Contains(t, byTopic, "/fibonacci/goal")
		assert.Equal(t, OpAdvertise, byTopic["/fibonacci/goal"].Op)
		assert.Equal(t, "actionlib_tutorials/FibonacciGoal", byTopic["/fibonacci/goal"].Type)

		require.Contains(t, byTopic, "/fibonacci/cancel")
		assert.Equal(t, OpAdvertise, byTopic["/fibonacci/cancel"].Op)
		assert.Equal(t, "actionlib_msgs/GoalID", byTopic["/fibonacci/cancel"].Type)

		require.Contains(t, byTopic, "/fibonacci/status")
		assert.Equal(t, OpSubscribe, byTopic["/fibonacci/status"].Op)
		assert.Equal(t, "actionlib_msgs/GoalStatusArray", byTopic["/fibonacci/status"].Type)

		require.Contains(t, byTopic, "/fibonacci/feedback")
		assert.Equal(t, OpSubscribe, byTopic["/fibonacci/feedback"].Op)
		assert.Equal(t, "actionlib_tutorials/FibonacciFeedback", byTopic["/fibonacci/feedback"].Type)

		require.Contains(t, byTopic, "/fibonacci/result")
		assert.Equal(t, OpSubscribe, byTopic["/fibonacci/result"].Op)
		assert.Equal(t, "actionlib_tutorials/FibonacciResult", byTopic["/fibonacci/result"].Type)
	})

	t.Run("requires server and action names", func(t *testing.T) {
		ros, _ := newTestRos(t)
		_, err := ros.ActionClient("", "").Build()
		assert.Error(t, err)
	})
}

func TestGoalLifecycle(t *testing.T) {
	t.Run("send publishes goal id and message", func(t *testing.T) {
		ac, conn := newTestActionClient(t)

		goal := ac.NewGoal(map[string]any{"order": 5})
		assert.True(t, strings.HasPrefix(goal.ID(), "goal_"))
		require.NoError(t, goal.Send())

		envs := conn.waitForWrites(t, 6)
		sent := envs[5]
		assert.Equal(t, OpPublish, sent.Op)
		assert.Equal(t, "/fibonacci/goal", sent.Topic)

		var msg goalMessage
		require.NoError(t, json.Unmarshal(sent.Msg, &msg))
		assert.Equal(t, goal.ID(), msg.GoalID.ID)
		assert.NotZero(t, msg.GoalID.Stamp.Secs)
	})

	t.Run("goal ids are unique", func(t *testing.T) {
		ac, _ := newTestActionClient(t)
		a := ac.NewGoal(nil)
		b := ac.NewGoal(nil)
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("status updates route by goal id", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		statuses := make(chan GoalStatus, 1)
		goal.OnStatus(func(s GoalStatus) { statuses <- s })

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/status", "msg": {"status_list": [
			{"goal_id": {"id": "` + goal.ID() + `"}, "status": 1, "text": "active"},
			{"goal_id": {"id": "someone_elses_goal"}, "status": 3, "text": ""}
		]}}`)

		select {
		case s := <-statuses:
			assert.Equal(t, GoalStatusActive, s.Status)
			assert.Equal(t, "active", s.Text)
		case <-time.After(time.Second):
			t.Fatal("status handler never fired")
		}

		require.Eventually(t, func() bool {
			return goal.Status() != nil
		}, time.Second, time.Millisecond)
		assert.Equal(t, GoalStatusActive, goal.Status().Status)
	})

	t.Run("feedback re-emits the enclosing status first", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		var order []string
		done := make(chan struct{})
		goal.OnStatus(func(GoalStatus) { order = append(order, "status") })
		goal.OnFeedback(func(json.RawMessage) {
			order = append(order, "feedback")
			close(done)
		})

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/feedback", "msg": {
			"status": {"goal_id": {"id": "` + goal.ID() + `"}, "status": 1, "text": ""},
			"feedback": {"sequence": [0, 1, 1]}
		}}`)

		select {
		case <-done:
			assert.Equal(t, []string{"status", "feedback"}, order)
			assert.JSONEq(t, `{"sequence": [0, 1, 1]}`, string(goal.Feedback()))
		case <-time.After(time.Second):
			t.Fatal("feedback handler never fired")
		}
	})

	t.Run("result finishes the goal", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)
		assert.False(t, goal.IsFinished())

		results := make(chan json.RawMessage, 1)
		goal.OnResult(func(r json.RawMessage) { results <- r })

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/result", "msg": {
			"status": {"goal_id": {"id": "` + goal.ID() + `"}, "status": 3, "text": "done"},
			"result": {"sequence": [0, 1, 1, 2, 3, 5]}
		}}`)

		select {
		case r := <-results:
			assert.JSONEq(t, `{"sequence": [0, 1, 1, 2, 3, 5]}`, string(r))
		case <-time.After(time.Second):
			t.Fatal("result handler never fired")
		}
		assert.True(t, goal.IsFinished())
		assert.Equal(t, GoalStatusSucceeded, goal.Status().Status)

		// Finished goals stay in the table by default.
		_, ok := ac.Goal(goal.ID())
		assert.True(t, ok)
	})

	t.Run("events for unknown goal ids are ignored", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/result", "msg": {
			"status": {"goal_id": {"id": "not_ours"}, "status": 3, "text": ""},
			"result": {}
		}}`)

		time.Sleep(50 * time.Millisecond)
		assert.False(t, goal.IsFinished())
	})

	t.Run("cancel publishes the goal id", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		require.NoError(t, goal.Cancel())

		envs := conn.waitForWrites(t, 6)
		sent := envs[5]
		assert.Equal(t, OpPublish, sent.Op)
		assert.Equal(t, "/fibonacci/cancel", sent.Topic)

		var id GoalID
		require.NoError(t, json.Unmarshal(sent.Msg, &id))
		assert.Equal(t, goal.ID(), id.ID)
	})

	t.Run("cancel all publishes an empty goal id", func(t *testing.T) {
		ac, conn := newTestActionClient(t)

		require.NoError(t, ac.CancelAll())

		envs := conn.waitForWrites(t, 6)
		sent := envs[5]
		assert.Equal(t, "/fibonacci/cancel", sent.Topic)

		var id GoalID
		require.NoError(t, json.Unmarshal(sent.Msg, &id))
		assert.Empty(t, id.ID)
	})
}

func TestGoalTimeout(t *testing.T) {
	t.Run("timeout fires when no result arrives", func(t *testing.T) {
		ac, _ := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		timedOut := make(chan struct{})
		goal.OnTimeout(func() { close(timedOut) })

		require.NoError(t, goal.SendWithTimeout(20*time.Millisecond))

		select {
		case <-timedOut:
		case <-time.After(time.Second):
			t.Fatal("timeout never fired")
		}
		// The timer is advisory only.
		assert.False(t, goal.IsFinished())
		_, ok := ac.Goal(goal.ID())
		assert.True(t, ok)
	})

	t.Run("timeout is suppressed once finished", func(t *testing.T) {
		ac, conn := newTestActionClient(t)
		goal := ac.NewGoal(nil)

		timedOut := make(chan struct{}, 1)
		goal.OnTimeout(func() { timedOut <- struct{}{} })

		require.NoError(t, goal.SendWithTimeout(100*time.Millisecond))

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/result", "msg": {
			"status": {"goal_id": {"id": "` + goal.ID() + `"}, "status": 3, "text": ""},
			"result": {}
		}}`)
		require.Eventually(t, goal.IsFinished, time.Second, time.Millisecond)

		select {
		case <-timedOut:
			t.Fatal("timeout fired after result")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestActionClientOptions(t *testing.T) {
	t.Run("purged goals leave the table after the result", func(t *testing.T) {
		ros, conn := newTestRos(t)

		ac, err := ros.ActionClient("/fibonacci", "actionlib_tutorials/Fibonacci").
			WithGoalsPurged(true).
			Build()
		require.NoError(t, err)
		conn.waitForWrites(t, 5)

		goal := ac.NewGoal(nil)
		conn.deliver(`{"op": "publish", "topic": "/fibonacci/result", "msg": {
			"status": {"goal_id": {"id": "` + goal.ID() + `"}, "status": 3, "text": ""},
			"result": {}
		}}`)

		require.Eventually(t, func() bool {
			_, ok := ac.Goal(goal.ID())
			return !ok
		}, time.Second, time.Millisecond)
		assert.True(t, goal.IsFinished())
	})

	t.Run("server timeout fires without status traffic", func(t *testing.T) {
		ros, conn := newTestRos(t)

		ac, err := ros.ActionClient("/fibonacci", "actionlib_tutorials/Fibonacci").
			WithServerTimeout(20 * time.Millisecond).
			Build()
		require.NoError(t, err)
		conn.waitForWrites(t, 5)

		timedOut := make(chan struct{})
		ac.OnTimeout(func() { close(timedOut) })

		select {
		case <-timedOut:
		case <-time.After(time.Second):
			t.Fatal("server timeout never fired")
		}
	})

	t.Run("status traffic suppresses the server timeout", func(t *testing.T) {
		ros, conn := newTestRos(t)

		ac, err := ros.ActionClient("/fibonacci", "actionlib_tutorials/Fibonacci").
			WithServerTimeout(100 * time.Millisecond).
			Build()
		require.NoError(t, err)
		conn.waitForWrites(t, 5)

		timedOut := make(chan struct{}, 1)
		ac.OnTimeout(func() { timedOut <- struct{}{} })

		conn.deliver(`{"op": "publish", "topic": "/fibonacci/status", "msg": {"status_list": []}}`)

		select {
		case <-timedOut:
			t.Fatal("server timeout fired despite status traffic")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestActionClientDispose(t *testing.T) {
	ac, conn := newTestActionClient(t)

	require.NoError(t, ac.Dispose())

	// unadvertise goal+cancel, unsubscribe status+feedback+result
	envs := conn.waitForWrites(t, 10)

	ops := make(map[string]int)
	for _, env := range envs[5:] {
		ops[env.Op]++
	}
	assert.Equal(t, 2, ops[OpUnadvertise])
	assert.Equal(t, 3, ops[OpUnsubscribe])
}
