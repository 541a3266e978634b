package mock

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Model replays a fixed output tensor. It can block or fail on demand.
type Model struct {
	mu      sync.Mutex
	output  []float32
	err     error
	gate    chan struct{}
	entered chan struct{}

	calls     atomic.Int64
	lastInput atomic.Int64
}

// NewModel returns a model that always produces output.
func NewModel(output []float32) *Model {
	return &Model{output: output}
}

// SetOutput replaces the replayed tensor.
func (m *Model) SetOutput(output []float32) {
	m.mu.Lock()
	m.output = output
	m.mu.Unlock()
}

// SetError makes subsequent runs fail with err (nil clears it).
func (m *Model) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Block makes subsequent runs wait until Release is called. Entered receives
// one value each time a run starts waiting.
func (m *Model) Block() {
	m.mu.Lock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 16)
	m.mu.Unlock()
}

// Entered signals runs that are waiting on the gate.
func (m *Model) Entered() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

// Release unblocks waiting and future runs.
func (m *Model) Release() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

// Calls returns how many times Run was invoked.
func (m *Model) Calls() int {
	return int(m.calls.Load())
}

// LastInputLen returns the input length of the latest run.
func (m *Model) LastInputLen() int {
	return int(m.lastInput.Load())
}

// Run implements the model contract.
func (m *Model) Run(input []float32) ([]float32, error) {
	m.calls.Add(1)
	m.lastInput.Store(int64(len(input)))

	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.output == nil {
		return nil, errors.New("mock model has no output")
	}
	out := make([]float32, len(m.output))
	copy(out, m.output)
	return out, nil
}
