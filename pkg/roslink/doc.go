// Package roslink is a client for the rosbridge protocol: a JSON envelope
// protocol over a single WebSocket connection that exposes topics,
// services, parameters and actions.
//
// A Ros client owns the connection, an ID generator for request
// correlation, and a router that demultiplexes inbound envelopes to topic
// subscriptions and pending service calls. Handles created from a Ros
// share all of that state:
//
//	ros, err := roslink.NewRos().
//		WithURL("ws://localhost:9090").
//		WithLogger(logger).
//		Build()
//	if err != nil {
//		return err
//	}
//
//	topic := ros.Topic("/chatter", "std_msgs/String")
//	topic.Subscribe(func(msg json.RawMessage) {
//		fmt.Println(string(msg))
//	})
//
//	if err := ros.Connect(ctx); err != nil {
//		return err
//	}
//
// Operations issued before Connect are queued and flushed in order once
// the socket opens, so wiring can be set up ahead of connectivity.
package roslink
