package compiler

import (
	"testing"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, def *model.ProcessDefinition,
	){
		"test compile seeds start stage":     testCompileSeedsStart,
		"test compile assigns identities":    testCompileIdentities,
		"test compile keeps template intact": testCompileTemplateIntact,
		"test compile child options":         testCompileChildOptions,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, orderDefinition())
		})
	}
}

func orderDefinition() *model.ProcessDefinition {
	return &model.ProcessDefinition{
		ID:      "def-1",
		Key:     "order-fulfilment",
		Version: 3,
		Name:    "Order Fulfilment",
		Stages: []model.StageDef{
			{Key: "start", Type: model.STAGE_TYPE_EVENT, SubType: model.SUB_TYPE_START, NextStages: []string{"pack"}},
			{Key: "pack", Type: model.STAGE_TYPE_ACTIVITY, SubType: model.SUB_TYPE_TASK, Auto: true, NextStages: []string{"end"}},
			{Key: "end", Type: model.STAGE_TYPE_EVENT, SubType: model.SUB_TYPE_END},
		},
	}
}

func testCompileSeedsStart(t *testing.T, def *model.ProcessDefinition) {
	instance, err := Compile(def, Options{})
	require.NoError(t, err)

	require.Equal(t, model.INSTANCE_ACTIVE, instance.Status)
	require.Equal(t, 0, instance.StartIndex)
	require.Equal(t, 2, instance.EndIndex)
	require.Equal(t, model.STAGE_ACTIVE, instance.Stages[0].Status)
	require.NotZero(t, instance.Stages[0].TimeActivated)
	require.Equal(t, model.STAGE_WAITING, instance.Stages[1].Status)
	require.Equal(t, model.STAGE_WAITING, instance.Stages[2].Status)
}

func testCompileIdentities(t *testing.T, def *model.ProcessDefinition) {
	first, err := Compile(def, Options{})
	require.NoError(t, err)
	second, err := Compile(def, Options{})
	require.NoError(t, err)

	require.NotEmpty(t, first.ID)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.ID, first.RootProcessInstanceID)

	seen := map[string]bool{}
	for _, stage := range append(first.Stages, second.Stages...) {
		require.NotEmpty(t, stage.ID)
		require.False(t, seen[stage.ID])
		seen[stage.ID] = true
	}
}

func testCompileTemplateIntact(t *testing.T, def *model.ProcessDefinition) {
	instance, err := Compile(def, Options{})
	require.NoError(t, err)

	instance.Stages[0].Status = model.STAGE_COMPLETED
	instance.Stages[0].NextStages[0] = "mutated"
	require.Equal(t, "pack", def.Stages[0].NextStages[0])
}

func testCompileChildOptions(t *testing.T, def *model.ProcessDefinition) {
	instance, err := Compile(def, Options{
		RootProcessInstanceID:   "root-1",
		ParentProcessInstanceID: "parent-1",
		ParentTaskID:            "task-1",
		Parameters:              map[string]any{"orderId": "o-42"},
	})
	require.NoError(t, err)

	require.Equal(t, "root-1", instance.RootProcessInstanceID)
	require.Equal(t, "parent-1", instance.ParentProcessInstanceID)
	require.Equal(t, "task-1", instance.ParentTaskID)
	require.Equal(t, "o-42", instance.Parameters["orderId"])
}

func TestCompileInvalidDefinitions(t *testing.T) {
	for scenario, def := range map[string]*model.ProcessDefinition{
		"no stages": {Key: "empty"},
		"no start stage": {Key: "no-start", Stages: []model.StageDef{
			{Key: "only", SubType: model.SUB_TYPE_TASK},
		}},
		"duplicate stage key": {Key: "dup", Stages: []model.StageDef{
			{Key: "start", SubType: model.SUB_TYPE_START},
			{Key: "start", SubType: model.SUB_TYPE_TASK},
		}},
		"multiple start stages": {Key: "two-starts", Stages: []model.StageDef{
			{Key: "a", SubType: model.SUB_TYPE_START},
			{Key: "b", SubType: model.SUB_TYPE_START},
		}},
	} {
		t.Run(scenario, func(t *testing.T) {
			_, err := Compile(def, Options{})
			require.Error(t, err)
			_, ok := err.(model.DefinitionInvalidError)
			require.True(t, ok)
		})
	}
}
