package model

type TaskAction string

const ACTION_COMPLETE TaskAction = "complete"
const ACTION_HOLD TaskAction = "hold"
const ACTION_CANCEL TaskAction = "cancel"
const ACTION_RESUME TaskAction = "resume"
const ACTION_SAVE TaskAction = "" // save parameters only

// TaskCompletionRequest is the stage-completion surface consumed from the
// transport layer.
type TaskCompletionRequest struct {
	TaskID     string         `json:"taskId,omitempty"`
	TaskKey    string         `json:"taskKey,omitempty"`
	Status     TaskAction     `json:"status"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Connector  *Connector     `json:"connector,omitempty"`
	Assignee   string         `json:"assignee,omitempty"`
}

type StartInstanceRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

type RunInstanceRequest struct {
	Key        string         `json:"key"`
	Version    int            `json:"version,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
