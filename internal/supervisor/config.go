package supervisor

import "encoding/json"

// DynamicPort is a tri-state dynamic-port policy: disabled (DynamicPortOff),
// enabled with unlimited probing attempts (DynamicPortOn), or enabled with a
// bounded attempt count (DynamicPortAttempts).
type DynamicPort struct {
	enabled  bool
	attempts int // 0 means unlimited when enabled
}

// DynamicPortOff disables ephemeral-port fallback on bind failure.
var DynamicPortOff = DynamicPort{}

// DynamicPortOn enables ephemeral-port fallback with no attempt limit.
func DynamicPortOn() DynamicPort { return DynamicPort{enabled: true} }

// DynamicPortAttempts enables ephemeral-port fallback bounded to n attempts.
func DynamicPortAttempts(n int) DynamicPort { return DynamicPort{enabled: true, attempts: n} }

func (d DynamicPort) Enabled() bool { return d.enabled }

// Attempts returns the bound on probing attempts, or 0 for unlimited.
func (d DynamicPort) Attempts() int { return d.attempts }

type dynamicPortWire struct {
	Enabled  bool `json:"enabled"`
	Attempts int  `json:"attempts,omitempty"`
}

func (d DynamicPort) MarshalJSON() ([]byte, error) {
	return json.Marshal(dynamicPortWire{Enabled: d.enabled, Attempts: d.attempts})
}

func (d *DynamicPort) UnmarshalJSON(data []byte) error {
	var wire dynamicPortWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.enabled = wire.Enabled
	d.attempts = wire.Attempts
	return nil
}

// WorkerConfig is the bootstrap record a supervisor forks a worker with and
// sends over the IPC channel as the payload of a "start" message.
type WorkerConfig struct {
	ID          string            `json:"id"`
	URLPrefix   string            `json:"urlPrefix"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	DynamicPort DynamicPort       `json:"dynamicPort"`
	Storage     string            `json:"storage"`
	Env         map[string]string `json:"env,omitempty"`
}
