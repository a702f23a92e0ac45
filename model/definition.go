package model

type StageType string

const STAGE_TYPE_EVENT StageType = "event"
const STAGE_TYPE_ACTIVITY StageType = "activity"
const STAGE_TYPE_GATEWAY StageType = "gateway"

type StageSubType string

const SUB_TYPE_START StageSubType = "start"
const SUB_TYPE_END StageSubType = "end"
const SUB_TYPE_TIMER StageSubType = "timer"
const SUB_TYPE_TASK StageSubType = "task"
const SUB_TYPE_USER_TASK StageSubType = "user-task"
const SUB_TYPE_SYSTEM_TASK StageSubType = "system-task"
const SUB_TYPE_COMPOUND_TASK StageSubType = "compound-task"
const SUB_TYPE_SEND_TASK StageSubType = "send-task"
const SUB_TYPE_RECEIVE_TASK StageSubType = "receive-task"
const SUB_TYPE_MANUAL_TASK StageSubType = "manual-task"
const SUB_TYPE_BUSINESS_RULE_TASK StageSubType = "business-rule-task"
const SUB_TYPE_SERVICE_TASK StageSubType = "service-task"
const SUB_TYPE_SCRIPT_TASK StageSubType = "script-task"
const SUB_TYPE_CALL_ACTIVITY StageSubType = "call-activity"
const SUB_TYPE_SUB_PROCESS StageSubType = "sub-process"
const SUB_TYPE_EXCLUSIVE StageSubType = "exclusive"
const SUB_TYPE_INCLUSIVE StageSubType = "inclusive"
const SUB_TYPE_PARALLEL StageSubType = "parallel"
const SUB_TYPE_EVENT_BASED StageSubType = "event-based"
const SUB_TYPE_DEPENDENCY StageSubType = "dependency"
const SUB_TYPE_IF_ELSE StageSubType = "if-else"
const SUB_TYPE_SWITCH_CASE StageSubType = "switch-case"

type ConnectorType string

const CONNECTOR_TYPE_REST ConnectorType = "rest"
const CONNECTOR_TYPE_RPC ConnectorType = "rpc"
const CONNECTOR_TYPE_QUEUE ConnectorType = "message-queue"
const CONNECTOR_TYPE_AI ConnectorType = "ai-completion"

// ProcessDefinition is the versioned, immutable template a process instance
// is compiled from. Authoring creates a new version instead of mutating a
// published one.
type ProcessDefinition struct {
	ID          string      `json:"id"`
	Key         string      `json:"key"`
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	IsParallel  bool        `json:"isParallel"`
	Criteria    *Criteria   `json:"criteria,omitempty"`
	Properties  []Property  `json:"properties,omitempty"`
	Stages      []StageDef  `json:"stages"`
}

// StageDef is one node template of the stage graph.
type StageDef struct {
	Key                   string        `json:"key"`
	Name                  string        `json:"name"`
	Description           string        `json:"description,omitempty"`
	Type                  StageType     `json:"type"`
	SubType               StageSubType  `json:"subType"`
	Auto                  bool          `json:"auto"`
	Mandatory             bool          `json:"mandatory"`
	NextStages            []string      `json:"nextStages"`
	Properties            []Property    `json:"properties,omitempty"`
	Conditions            []Condition   `json:"conditions,omitempty"`
	Dependencies          []Dependency  `json:"dependencies,omitempty"`
	Criteria              *Criteria     `json:"criteria,omitempty"`
	Connector             *Connector    `json:"connector,omitempty"`
	Assignee              string        `json:"assignee,omitempty"`
	Watchers              []string      `json:"watchers,omitempty"`
	EstimatedTimeDuration int64         `json:"estimatedTimeDuration,omitempty"` // milliseconds
	ProcessDefinitionKey  string        `json:"processDefinitionKey,omitempty"`  // child definition for compound stages
	ProcessDefinitionID   string        `json:"processDefinitionId,omitempty"`
}

// Property declares one typed input parameter of a definition or a stage.
// Type is one of string, number, boolean, object, array; object and
// array-of-object carry a nested schema in Properties.
type Property struct {
	Key     string         `json:"key"`
	Section string         `json:"section,omitempty"`
	Value   PropertySchema `json:"value"`
}

type PropertySchema struct {
	Type       string     `json:"type"`
	ArrayOf    string     `json:"arrayOf,omitempty"`
	Default    any        `json:"default,omitempty"`
	Required   bool       `json:"required"`
	Enum       []any      `json:"enum,omitempty"`
	Properties []Property `json:"properties,omitempty"`
}

// Condition is one gateway branch: an ordered list of comparison
// expressions combined with and/or, routing to OnTrueNextStage when valid.
type Condition struct {
	Name             string       `json:"name"`
	Combinator       string       `json:"combinator,omitempty"` // "and" (default) or "or"
	Expressions      []Expression `json:"expressions"`
	OnTrueNextStage  string       `json:"onTrueNextStage,omitempty"`
	OnFalseNextStage string       `json:"onFalseNextStage,omitempty"`
	AllValid         bool         `json:"allValid"`
	AnyValid         bool         `json:"anyValid"`
}

// Expression compares two operands, each either a literal or a $[...]
// value reference. LhsValue/RhsValue/Valid are filled by evaluation.
type Expression struct {
	Lhs      any    `json:"lhs"`
	Op       string `json:"op"`
	Rhs      any    `json:"rhs"`
	LhsValue any    `json:"lhsValue,omitempty"`
	RhsValue any    `json:"rhsValue,omitempty"`
	Valid    bool   `json:"valid"`
}

// Dependency is one obligation of a dependency gateway: a stage of another
// definition's instance within the same instance tree must complete.
type Dependency struct {
	ProcessDefinitionKey string `json:"processDefinitionKey"`
	StageKey             string `json:"stageKey"`
}

// Criteria is a completion policy evaluated against aggregate flags.
// Fields are tri-state: nil means the clause is not part of the policy.
type Criteria struct {
	AllCompleted           *bool `json:"allCompleted,omitempty"`
	AnyCompleted           *bool `json:"anyCompleted,omitempty"`
	AllActivitiesCompleted *bool `json:"allActivitiesCompleted,omitempty"`
	AnyActivitiesCompleted *bool `json:"anyActivitiesCompleted,omitempty"`
	AllSuccess             *bool `json:"allSuccess,omitempty"`
	AnySuccess             *bool `json:"anySuccess,omitempty"`
	MandatoryCompleted     *bool `json:"mandatoryCompleted,omitempty"`
	OnErrorComplete        *bool `json:"onErrorComplete,omitempty"`
	ShowError              *bool `json:"showError,omitempty"`
}

// Connector specifies an external side-effecting call attached to a stage,
// with a fixed-delay retry policy.
type Connector struct {
	Type            ConnectorType  `json:"type"`
	Config          map[string]any `json:"config"`
	Retry           bool           `json:"retry,omitempty"`
	Retries         int            `json:"retries,omitempty"`
	RetryIntervalMs int64          `json:"retryIntervalMs,omitempty"`
}

func Bool(v bool) *bool { return &v }
