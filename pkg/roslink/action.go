package roslink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Goal status values from actionlib_msgs/GoalStatus.
const (
	GoalStatusPending    = 0
	GoalStatusActive     = 1
	GoalStatusPreempted  = 2
	GoalStatusSucceeded  = 3
	GoalStatusAborted    = 4
	GoalStatusRejected   = 5
	GoalStatusPreempting = 6
	GoalStatusRecalling  = 7
	GoalStatusRecalled   = 8
	GoalStatusLost       = 9
)

// TimeStamp is a ROS time value.
type TimeStamp struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// GoalID identifies one action goal. An empty ID in a cancel message
// cancels every goal on the server.
type GoalID struct {
	Stamp TimeStamp `json:"stamp"`
	ID    string    `json:"id"`
}

// GoalStatus is one entry of an actionlib_msgs/GoalStatusArray.
type GoalStatus struct {
	GoalID GoalID `json:"goal_id"`
	Status int    `json:"status"`
	Text   string `json:"text"`
}

type goalStatusArray struct {
	StatusList []GoalStatus `json:"status_list"`
}

type actionFeedbackMessage struct {
	Status   GoalStatus      `json:"status"`
	Feedback json.RawMessage `json:"feedback"`
}

type actionResultMessage struct {
	Status GoalStatus      `json:"status"`
	Result json.RawMessage `json:"result"`
}

// ActionClientBuilder configures an ActionClient before its topic wiring
// is established.
type ActionClientBuilder struct {
	ros           *Ros
	serverName    string
	actionName    string
	serverTimeout time.Duration
	purgeFinished bool
}

// ActionClient creates a builder for an action client bound to the given
// action server and action type.
func (r *Ros) ActionClient(serverName, actionName string) *ActionClientBuilder {
	return &ActionClientBuilder{
		ros:        r,
		serverName: serverName,
		actionName: actionName,
	}
}

// WithServerTimeout arms a server-presence check: if no status message
// arrives on the shared status topic within the timeout, the client fires
// its timeout handlers. Zero disables the check.
func (b *ActionClientBuilder) WithServerTimeout(timeout time.Duration) *ActionClientBuilder {
	if timeout > 0 {
		b.serverTimeout = timeout
	}
	return b
}

// WithGoalsPurged removes a goal's table entry once its result arrives.
// The default keeps every goal for the life of the client, matching the
// historical protocol behavior at the cost of unbounded table growth in
// long-running processes.
func (b *ActionClientBuilder) WithGoalsPurged(purge bool) *ActionClientBuilder {
	b.purgeFinished = purge
	return b
}

// Build wires the action protocol: advertises the goal and cancel topics
// and subscribes to status, feedback and result, all scoped to the server
// name.
func (b *ActionClientBuilder) Build() (*ActionClient, error) {
	if b.serverName == "" || b.actionName == "" {
		return nil, fmt.Errorf("server name and action name are required")
	}

	ac := &ActionClient{
		ros:           b.ros,
		serverName:    b.serverName,
		actionName:    b.actionName,
		purgeFinished: b.purgeFinished,
		goals:         make(map[string]*Goal),

		goalTopic:     b.ros.Topic(b.serverName+"/goal", b.actionName+"Goal"),
		cancelTopic:   b.ros.Topic(b.serverName+"/cancel", "actionlib_msgs/GoalID"),
		statusTopic:   b.ros.Topic(b.serverName+"/status", "actionlib_msgs/GoalStatusArray"),
		feedbackTopic: b.ros.Topic(b.serverName+"/feedback", b.actionName+"Feedback"),
		resultTopic:   b.ros.Topic(b.serverName+"/result", b.actionName+"Result"),
	}

	if err := ac.goalTopic.Advertise(); err != nil {
		return nil, err
	}
	if err := ac.cancelTopic.Advertise(); err != nil {
		return nil, err
	}
	if err := ac.statusTopic.Subscribe(ac.handleStatus); err != nil {
		return nil, err
	}
	if err := ac.feedbackTopic.Subscribe(ac.handleFeedback); err != nil {
		return nil, err
	}
	if err := ac.resultTopic.Subscribe(ac.handleResult); err != nil {
		return nil, err
	}

	if b.serverTimeout > 0 {
		ac.serverTimer = time.AfterFunc(b.serverTimeout, ac.serverTimedOut)
	}

	return ac, nil
}

// ActionClient drives the four-channel action protocol for one action
// server: goals and cancels out, status, feedback and results in, with a
// per-goal state machine keyed by client-generated goal IDs.
type ActionClient struct {
	ros           *Ros
	serverName    string
	actionName    string
	purgeFinished bool

	goalTopic     *Topic
	cancelTopic   *Topic
	statusTopic   *Topic
	feedbackTopic *Topic
	resultTopic   *Topic

	mu              sync.Mutex
	goals           map[string]*Goal
	statusReceived  bool
	serverTimer     *time.Timer
	timeoutHandlers []func()
}

// OnTimeout registers a handler for the server-presence timeout.
func (ac *ActionClient) OnTimeout(fn func()) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.timeoutHandlers = append(ac.timeoutHandlers, fn)
}

// CancelAll publishes a cancel with an empty goal ID, which the server
// interprets as "cancel every goal".
func (ac *ActionClient) CancelAll() error {
	return ac.cancelTopic.Publish(GoalID{})
}

// Goal returns the tracked goal with the given ID, if any.
func (ac *ActionClient) Goal(id string) (*Goal, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	g, ok := ac.goals[id]
	return g, ok
}

// Dispose tears down the action client's topic wiring.
func (ac *ActionClient) Dispose() error {
	ac.mu.Lock()
	if ac.serverTimer != nil {
		ac.serverTimer.Stop()
	}
	ac.mu.Unlock()

	if err := ac.goalTopic.Unadvertise(); err != nil {
		return err
	}
	if err := ac.cancelTopic.Unadvertise(); err != nil {
		return err
	}
	if err := ac.statusTopic.Unsubscribe(); err != nil {
		return err
	}
	if err := ac.feedbackTopic.Unsubscribe(); err != nil {
		return err
	}
	return ac.resultTopic.Unsubscribe()
}

func (ac *ActionClient) serverTimedOut() {
	ac.mu.Lock()
	if ac.statusReceived {
		ac.mu.Unlock()
		return
	}
	handlers := append(([]func())(nil), ac.timeoutHandlers...)
	ac.mu.Unlock()

	ac.ros.logger.Warn("action server not responding", zap.String("server", ac.serverName))
	for _, fn := range handlers {
		fn()
	}
}

func (ac *ActionClient) handleStatus(msg json.RawMessage) {
	var statuses goalStatusArray
	if err := json.Unmarshal(msg, &statuses); err != nil {
		ac.ros.logger.Warn("bad status message", zap.String("server", ac.serverName), zap.Error(err))
		return
	}

	ac.mu.Lock()
	ac.statusReceived = true
	if ac.serverTimer != nil {
		ac.serverTimer.Stop()
		ac.serverTimer = nil
	}
	ac.mu.Unlock()

	// The status array may reference goals other clients created; those
	// entries are ignored.
	for _, status := range statuses.StatusList {
		if goal, ok := ac.Goal(status.GoalID.ID); ok {
			goal.updateStatus(status)
		}
	}
}

func (ac *ActionClient) handleFeedback(msg json.RawMessage) {
	var feedback actionFeedbackMessage
	if err := json.Unmarshal(msg, &feedback); err != nil {
		ac.ros.logger.Warn("bad feedback message", zap.String("server", ac.serverName), zap.Error(err))
		return
	}

	goal, ok := ac.Goal(feedback.Status.GoalID.ID)
	if !ok {
		return
	}
	// Re-emit the enclosing status first so a listener observing only
	// feedback still sees consistent state.
	goal.updateStatus(feedback.Status)
	goal.emitFeedback(feedback.Feedback)
}

func (ac *ActionClient) handleResult(msg json.RawMessage) {
	var result actionResultMessage
	if err := json.Unmarshal(msg, &result); err != nil {
		ac.ros.logger.Warn("bad result message", zap.String("server", ac.serverName), zap.Error(err))
		return
	}

	goal, ok := ac.Goal(result.Status.GoalID.ID)
	if !ok {
		return
	}
	goal.updateStatus(result.Status)
	goal.finish(result.Result)

	if ac.purgeFinished {
		ac.mu.Lock()
		delete(ac.goals, goal.id)
		ac.mu.Unlock()
	}
}

// Goal is one action invocation, identified by a client-generated unique
// ID. It tracks the last known status and feedback and, once terminal, the
// result. Goals stay in the client's table unless WithGoalsPurged was set.
type Goal struct {
	client  *ActionClient
	id      string
	message any

	mu       sync.Mutex
	status   *GoalStatus
	feedback json.RawMessage
	result   json.RawMessage
	finished bool

	statusHandlers   []func(GoalStatus)
	feedbackHandlers []func(json.RawMessage)
	resultHandlers   []func(json.RawMessage)
	timeoutHandlers  []func()
}

// NewGoal creates a goal carrying the given goal message and registers it
// in the client's goal table.
func (ac *ActionClient) NewGoal(message any) *Goal {
	g := &Goal{
		client:  ac,
		id:      fmt.Sprintf("goal_%s_%d", uuid.NewString(), time.Now().UnixNano()),
		message: message,
	}

	ac.mu.Lock()
	ac.goals[g.id] = g
	ac.mu.Unlock()

	return g
}

// ID returns the goal's client-generated identifier.
func (g *Goal) ID() string { return g.id }

// Status returns the last known status, or nil before the first status
// event.
func (g *Goal) Status() *GoalStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Feedback returns the most recent feedback payload, or nil.
func (g *Goal) Feedback() json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.feedback
}

// Result returns the result payload once the goal is finished, or nil.
func (g *Goal) Result() json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}

// IsFinished reports whether a result has arrived.
func (g *Goal) IsFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

// OnStatus registers a handler for status updates.
func (g *Goal) OnStatus(fn func(GoalStatus)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusHandlers = append(g.statusHandlers, fn)
}

// OnFeedback registers a handler for feedback messages.
func (g *Goal) OnFeedback(fn func(json.RawMessage)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feedbackHandlers = append(g.feedbackHandlers, fn)
}

// OnResult registers a handler for the terminal result.
func (g *Goal) OnResult(fn func(json.RawMessage)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resultHandlers = append(g.resultHandlers, fn)
}

// OnTimeout registers a handler for the goal-level send timeout.
func (g *Goal) OnTimeout(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeoutHandlers = append(g.timeoutHandlers, fn)
}

type goalMessage struct {
	GoalID GoalID `json:"goal_id"`
	Goal   any    `json:"goal"`
}

// Send publishes the goal on the goal topic.
func (g *Goal) Send() error {
	return g.publish()
}

// SendWithTimeout publishes the goal and arms a one-shot local timer that
// fires the goal's timeout handlers if no result has arrived when it
// elapses. The timer is advisory: it does not cancel the goal or change
// server state.
func (g *Goal) SendWithTimeout(timeout time.Duration) error {
	if err := g.publish(); err != nil {
		return err
	}

	time.AfterFunc(timeout, func() {
		g.mu.Lock()
		if g.finished {
			g.mu.Unlock()
			return
		}
		handlers := append(([]func())(nil), g.timeoutHandlers...)
		g.mu.Unlock()

		for _, fn := range handlers {
			fn()
		}
	})
	return nil
}

func (g *Goal) publish() error {
	now := time.Now()
	return g.client.goalTopic.Publish(goalMessage{
		GoalID: GoalID{
			Stamp: TimeStamp{Secs: now.Unix(), Nsecs: int64(now.Nanosecond())},
			ID:    g.id,
		},
		Goal: g.message,
	})
}

// Cancel publishes a cancel for this goal. The goal's table entry is kept;
// terminal state still arrives through the result topic.
func (g *Goal) Cancel() error {
	return g.client.cancelTopic.Publish(GoalID{ID: g.id})
}

func (g *Goal) updateStatus(status GoalStatus) {
	g.mu.Lock()
	g.status = &status
	handlers := append(([]func(GoalStatus))(nil), g.statusHandlers...)
	g.mu.Unlock()

	for _, fn := range handlers {
		fn(status)
	}
}

func (g *Goal) emitFeedback(feedback json.RawMessage) {
	g.mu.Lock()
	g.feedback = feedback
	handlers := append(([]func(json.RawMessage))(nil), g.feedbackHandlers...)
	g.mu.Unlock()

	for _, fn := range handlers {
		fn(feedback)
	}
}

func (g *Goal) finish(result json.RawMessage) {
	g.mu.Lock()
	g.result = result
	g.finished = true
	handlers := append(([]func(json.RawMessage))(nil), g.resultHandlers...)
	g.mu.Unlock()

	for _, fn := range handlers {
		fn(result)
	}
}
