// Package components holds the pipeline steps that move stream.Record values
// between the bronze, silver and gold layers.  Each component launches a
// goroutine and returns its output channel plus a control channel that accepts
// shutdown requests.
package components

type PanicHandlerFunc func()

type Action uint32

const (
	Shutdown Action = iota + 1
	Pause
	Resume
)

// ControlAction is used to communicate with components.
type ControlAction struct {
	Action       Action
	ResponseChan chan error // channel to receive the component's response on.
}

// ComponentStep is a generic holder for one step's config inside a pipe definition.
type ComponentStep struct {
	Type string            `json:"type" errorTxt:"step type" mandatory:"yes"`
	Data map[string]string `json:"data" errorTxt:"step data" mandatory:"yes"`
}
