package runner

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/molsim/suite-runner/types"
)

// The dispatcher and its worker processes speak newline-delimited JSON.
// Tasks flow to the worker on stdin, results come back on stdout. The task
// stream ends with exactly one sentinel per worker, after which the worker
// exits without producing a result for the sentinel itself.

// taskMessage is one entry on the task queue.
type taskMessage struct {
	Test        string `json:"test,omitempty"`
	NoMoreTests bool   `json:"noMoreTests,omitempty"`
}

// sentinel is the end-of-tasks marker.
func sentinel() taskMessage {
	return taskMessage{NoMoreTests: true}
}

// taskWriter feeds tasks to one worker.
type taskWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newTaskWriter(w io.Writer) *taskWriter {
	return &taskWriter{enc: json.NewEncoder(w)}
}

func (tw *taskWriter) send(msg taskMessage) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(msg)
}

// resultWriter emits results from a worker. Encoding is serialized so an
// ABORT written from a recovery path cannot interleave with a result.
type resultWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newResultWriter(w io.Writer) *resultWriter {
	return &resultWriter{enc: json.NewEncoder(w)}
}

func (rw *resultWriter) send(res *types.Result) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.enc.Encode(res)
}
