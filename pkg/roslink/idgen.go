package roslink

import (
	"fmt"
	"sync/atomic"
)

// idGenerator produces call IDs unique for the lifetime of one connection.
// Each Ros owns exactly one generator and injects it into the topic, service
// and action layers; there is no process-global counter.
type idGenerator struct {
	counter atomic.Int64
}

// next returns an ID of the form "<op>:<name>:<n>", where n increases
// monotonically per connection. Two outstanding calls never share an ID.
func (g *idGenerator) next(op, name string) string {
	return fmt.Sprintf("%s:%s:%d", op, name, g.counter.Add(1))
}
