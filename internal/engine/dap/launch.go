package dap

// LaunchArguments are Delve's launch attributes. The protocol leaves launch
// arguments adapter-defined, so go-dap carries them as raw JSON.
type LaunchArguments struct {
	Mode        string   `json:"mode"` // "debug", "exec", "test"
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	BuildFlags  string   `json:"buildFlags,omitempty"`
	StopOnEntry bool     `json:"stopOnEntry,omitempty"`

	ShowGlobalVariables bool `json:"showGlobalVariables,omitempty"`
}
