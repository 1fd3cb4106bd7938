package procutil

import (
	"context"
	"fmt"
	"sync"

	"pop-core/internal/coreerr"
)

// FakeCall records one invocation seen by a FakeRunner.
type FakeCall struct {
	Name string
	Args []string
}

// FakeResult configures how a FakeRunner responds to a matching call.
type FakeResult struct {
	Output []byte
	Err    error
}

// FakeRunner is a Runner test double, grounded on go-synth/environment/
// mock.go's MockEnvironment (records calls, returns configured results).
// Results are keyed by command name; the default for an unconfigured name
// is success with empty output, so tests only need to stub commands whose
// return value matters.
type FakeRunner struct {
	mu      sync.Mutex
	Calls   []FakeCall
	Results map[string]FakeResult
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Results: map[string]FakeResult{}}
}

// Stub configures the result returned for invocations of name.
func (f *FakeRunner) Stub(name string, result FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results[name] = result
}

// StubOutput is shorthand for Stub(name, FakeResult{Output: []byte(output)}).
func (f *FakeRunner) StubOutput(name, output string) {
	f.Stub(name, FakeResult{Output: []byte(output)})
}

// StubError is shorthand for a command that exits nonzero.
func (f *FakeRunner) StubError(name string, err error) {
	f.Stub(name, FakeResult{Err: err})
}

// Run records the call and returns the configured FakeResult for name.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, FakeCall{Name: name, Args: append([]string(nil), args...)})

	result, ok := f.Results[name]
	if !ok {
		return nil, nil
	}
	if result.Err != nil {
		if _, isErr := result.Err.(*coreerr.Error); isErr {
			return nil, result.Err
		}
		return nil, coreerr.Wrap(coreerr.Other, result.Err, "%s failed", name)
	}
	return result.Output, nil
}

// CallNames returns the sequence of command names invoked, for
// order-sensitive assertions.
func (f *FakeRunner) CallNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		names[i] = c.Name
	}
	return names
}

// String implements fmt.Stringer for test failure messages.
func (f *FakeRunner) String() string {
	return fmt.Sprintf("FakeRunner{calls=%v}", f.CallNames())
}
