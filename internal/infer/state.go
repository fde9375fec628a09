package infer

import (
	"fmt"
	"sync"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

// State is the lifecycle position of a backend.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// lifecycle guards the Uninitialized -> Ready -> Running -> Ready|Failed
// transitions. Only Init leaves Failed.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// begin moves Ready to Running.
func (l *lifecycle) begin(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Ready {
		return status.New(status.Failed, op, "cannot run in state %s", l.state)
	}
	l.state = Running
	return nil
}

// end leaves Running for Ready, or Failed when err is set.
func (l *lifecycle) end(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = Failed
		return
	}
	l.state = Ready
}
