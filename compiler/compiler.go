package compiler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stagecraft/stagecraft/model"
)

// Options direct where a compiled instance sits in an instance tree. Zero
// options produce a root instance.
type Options struct {
	RootProcessInstanceID   string
	ParentProcessInstanceID string
	ParentTaskID            string
	Parameters              map[string]any
}

// Compile turns a definition template into a fresh runnable instance. The
// template is deep-copied and never mutated. The start stage is seeded
// active, every other stage waiting; the result is not persisted.
func Compile(definition *model.ProcessDefinition, opts Options) (*model.ProcessInstance, error) {
	def, err := cloneDefinition(definition)
	if err != nil {
		return nil, model.DefinitionInvalidError{Message: "definition not serializable: " + err.Error()}
	}
	if len(def.Stages) == 0 {
		return nil, model.DefinitionInvalidError{Message: "definition " + def.Key + " has no stages"}
	}

	id := uuid.NewString()
	rootId := opts.RootProcessInstanceID
	if rootId == "" {
		rootId = id
	}
	now := time.Now().UnixMilli()

	instance := &model.ProcessInstance{
		ID:                      id,
		ProcessDefinitionID:     def.ID,
		ProcessDefinitionKey:    def.Key,
		Version:                 def.Version,
		Name:                    def.Name,
		Description:             def.Description,
		RootProcessInstanceID:   rootId,
		ParentProcessInstanceID: opts.ParentProcessInstanceID,
		ParentTaskID:            opts.ParentTaskID,
		IsParallel:              def.IsParallel,
		Criteria:                def.Criteria,
		Properties:              def.Properties,
		Parameters:              opts.Parameters,
		StageIndex:              make(map[string]int, len(def.Stages)),
		StartIndex:              -1,
		EndIndex:                -1,
		Status:                  model.INSTANCE_ACTIVE,
		TimeActivated:           now,
	}

	for i, tmpl := range def.Stages {
		if _, exists := instance.StageIndex[tmpl.Key]; exists {
			return nil, model.DefinitionInvalidError{Message: "duplicate stage key " + tmpl.Key + " in definition " + def.Key}
		}
		stage := &model.StageInstance{
			StageDef: tmpl,
			ID:       uuid.NewString(),
			Status:   model.STAGE_WAITING,
		}
		if tmpl.SubType == model.SUB_TYPE_START {
			if instance.StartIndex >= 0 {
				return nil, model.DefinitionInvalidError{Message: "multiple start stages in definition " + def.Key}
			}
			instance.StartIndex = i
			stage.Status = model.STAGE_ACTIVE
			stage.TimeActivated = now
		}
		if tmpl.SubType == model.SUB_TYPE_END {
			instance.EndIndex = i
		}
		instance.StageIndex[tmpl.Key] = i
		instance.Stages = append(instance.Stages, stage)
	}
	if instance.StartIndex < 0 {
		return nil, model.DefinitionInvalidError{Message: "definition " + def.Key + " has no start stage"}
	}
	return instance, nil
}

func cloneDefinition(def *model.ProcessDefinition) (*model.ProcessDefinition, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var out model.ProcessDefinition
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
