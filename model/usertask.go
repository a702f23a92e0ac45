package model

type UserTaskStatus string

const USER_TASK_TODO UserTaskStatus = "todo"
const USER_TASK_DONE UserTaskStatus = "done"
const USER_TASK_CANCELLED UserTaskStatus = "cancelled"

// UserTask is the work-queue record of one interactive stage: it is opened
// when the stage activates, reopened when the stage is revisited, and
// closed when the stage completes or the flow is cancelled.
type UserTask struct {
	ID                    string         `json:"id"`
	ProcessDefinitionID   string         `json:"processDefinitionId"`
	ProcessDefinitionKey  string         `json:"processDefinitionKey"`
	RootProcessInstanceID string         `json:"rootProcessInstanceId"`
	ProcessInstanceID     string         `json:"processInstanceId"`
	StageID               string         `json:"taskId"`
	StageKey              string         `json:"key"`
	Summary               string         `json:"summary"`
	Description           string         `json:"description,omitempty"`
	Assignee              string         `json:"assignee,omitempty"`
	Watchers              []string       `json:"watchers,omitempty"`
	Parameters            map[string]any `json:"parameters,omitempty"`
	Status                UserTaskStatus `json:"status"`
	TimeCreated           int64          `json:"timeCreated"`
	TimeCompleted         int64          `json:"timeCompleted,omitempty"`
}
