package model

import "encoding/json"

type InstanceStatus string

const INSTANCE_ACTIVE InstanceStatus = "active"
const INSTANCE_COMPLETED InstanceStatus = "completed"
const INSTANCE_ON_HOLD InstanceStatus = "on-hold"
const INSTANCE_CANCELLED InstanceStatus = "cancelled"

type StageStatus string

const STAGE_WAITING StageStatus = "waiting"
const STAGE_ACTIVE StageStatus = "active"
const STAGE_STARTED StageStatus = "started"
const STAGE_COMPLETED StageStatus = "completed"
const STAGE_ERROR StageStatus = "error"
const STAGE_ON_HOLD StageStatus = "on-hold"
const STAGE_CANCELLED StageStatus = "cancelled"
const STAGE_RUNNING StageStatus = "running"

// Flags are derived aggregate booleans, recomputed from stage statuses and
// never hand-edited.
type Flags struct {
	Error                  bool `json:"_error"`
	AllCompleted           bool `json:"_allCompleted"`
	AnyCompleted           bool `json:"_anyCompleted"`
	AllActivitiesCompleted bool `json:"_allActivitiesCompleted"`
	AnyActivitiesCompleted bool `json:"_anyActivitiesCompleted"`
	AllSuccess             bool `json:"_allSuccess"`
	AnySuccess             bool `json:"_anySuccess"`
	MandatoryCompleted     bool `json:"_mandatoryCompleted"`
}

// HistoryEntry snapshots a stage run before the stage is re-opened.
type HistoryEntry struct {
	Status        StageStatus    `json:"status"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	TimeActivated int64          `json:"timeActivated"`
	TimeStarted   int64          `json:"timeStarted"`
	TimeCompleted int64          `json:"timeCompleted"`
	Flags         Flags          `json:"_flags"`
	Err           any            `json:"_error,omitempty"`
	Data          any            `json:"_data,omitempty"`
}

// StageInstance is a runtime stage: the template fields plus working state.
type StageInstance struct {
	StageDef

	ID                string         `json:"stageId"`
	Status            StageStatus    `json:"status"`
	TimeActivated     int64          `json:"timeActivated"`
	TimeStarted       int64          `json:"timeStarted"`
	TimeCompleted     int64          `json:"timeCompleted"`
	ExpToCompleteAt   int64          `json:"expToCompleteAt,omitempty"` // timers only
	Parameters        map[string]any `json:"parameters,omitempty"`
	Data              any            `json:"_data,omitempty"`
	Err               any            `json:"_error,omitempty"`
	Flags             Flags          `json:"_flags"`
	History           []HistoryEntry `json:"history,omitempty"`
	ProcessInstanceID string         `json:"processInstanceId,omitempty"` // child instance for compound stages
}

// ProcessInstance is a running, mutable execution of a definition. It is
// created only by the compiler and mutated only by the engine until it
// reaches a terminal status.
type ProcessInstance struct {
	ID                      string         `json:"id"`
	ProcessDefinitionID     string         `json:"processDefinitionId"`
	ProcessDefinitionKey    string         `json:"processDefinitionKey"`
	Version                 int            `json:"version"`
	Name                    string         `json:"name"`
	Description             string         `json:"description,omitempty"`
	RootProcessInstanceID   string         `json:"rootProcessInstanceId"`
	ParentProcessInstanceID string         `json:"parentProcessInstanceId,omitempty"`
	ParentTaskID            string         `json:"parentTaskId,omitempty"`
	IsParallel              bool           `json:"isParallel"`
	Criteria                *Criteria      `json:"criteria,omitempty"`
	Properties              []Property     `json:"properties,omitempty"`
	Parameters              map[string]any `json:"parameters,omitempty"`
	Stages                  []*StageInstance `json:"stages"`
	StageIndex              map[string]int `json:"stageIndex"`
	StartIndex              int            `json:"startIndex"`
	EndIndex                int            `json:"endIndex"`
	Flags                   Flags          `json:"_flags"`
	Status                  InstanceStatus `json:"status"`
	TimeActivated           int64          `json:"timeActivated"`
	TimeStarted             int64          `json:"timeStarted"`
	TimeCompleted           int64          `json:"timeCompleted"`
	TimeOnHold              int64          `json:"timeOnhold"`
	TimeCancelled           int64          `json:"timeCancelled"`
	TimeResumed             int64          `json:"timeResumed"`
}

// StageByID finds a stage by its identity, nil when absent.
func (p *ProcessInstance) StageByID(id string) *StageInstance {
	for _, s := range p.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StageByKey finds a stage through the stage index, nil when absent.
func (p *ProcessInstance) StageByKey(key string) *StageInstance {
	idx, ok := p.StageIndex[key]
	if !ok || idx < 0 || idx >= len(p.Stages) {
		return nil
	}
	return p.Stages[idx]
}

// Clone deep-copies the instance through its serialized form.
func (p *ProcessInstance) Clone() *ProcessInstance {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out ProcessInstance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}
