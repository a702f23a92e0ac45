package engine

import (
	"testing"

	"github.com/stagecraft/stagecraft/model"
	"github.com/stretchr/testify/require"
)

func TestValidateCriteria(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"nil criteria completes": func(t *testing.T) {
			valid, status := validateCriteria(nil, model.Flags{Error: true})
			require.True(t, valid)
			require.Equal(t, model.STAGE_COMPLETED, status)
		},
		"error blocks only with onErrorComplete false": func(t *testing.T) {
			criteria := &model.Criteria{OnErrorComplete: model.Bool(false)}
			valid, _ := validateCriteria(criteria, model.Flags{Error: true})
			require.False(t, valid)

			valid, _ = validateCriteria(criteria, model.Flags{})
			require.True(t, valid)

			criteria = &model.Criteria{OnErrorComplete: model.Bool(true)}
			valid, _ = validateCriteria(criteria, model.Flags{Error: true})
			require.True(t, valid)
		},
		"showError maps error to status": func(t *testing.T) {
			criteria := &model.Criteria{ShowError: model.Bool(true)}
			valid, status := validateCriteria(criteria, model.Flags{Error: true})
			require.True(t, valid)
			require.Equal(t, model.STAGE_ERROR, status)

			_, status = validateCriteria(criteria, model.Flags{})
			require.Equal(t, model.STAGE_COMPLETED, status)
		},
		"mandatory completed clause": func(t *testing.T) {
			criteria := &model.Criteria{MandatoryCompleted: model.Bool(true)}
			valid, status := validateCriteria(criteria, model.Flags{MandatoryCompleted: true})
			require.True(t, valid)
			require.Equal(t, model.STAGE_COMPLETED, status)
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestComputeFlags(t *testing.T) {
	activity := func(key string, status model.StageStatus, mandatory bool, errored bool) *model.StageInstance {
		return &model.StageInstance{
			StageDef: model.StageDef{Key: key, Type: model.STAGE_TYPE_ACTIVITY, Mandatory: mandatory},
			ID:       "stage-" + key,
			Status:   status,
			Flags:    model.Flags{Error: errored},
		}
	}

	instance := &model.ProcessInstance{
		Stages: []*model.StageInstance{
			{StageDef: model.StageDef{Key: "start", Type: model.STAGE_TYPE_EVENT, SubType: model.SUB_TYPE_START}, Status: model.STAGE_COMPLETED},
			activity("pack", model.STAGE_COMPLETED, true, false),
			activity("bill", model.STAGE_ACTIVE, true, false),
			activity("notify", model.STAGE_COMPLETED, false, true),
		},
	}

	flags := computeFlags(instance)
	require.False(t, flags.AllCompleted)
	require.True(t, flags.AnyCompleted)
	require.False(t, flags.AllActivitiesCompleted)
	require.True(t, flags.AnyActivitiesCompleted)
	require.True(t, flags.AnySuccess)
	require.False(t, flags.AllSuccess)
	require.True(t, flags.Error)
	// one mandatory activity still active, one completed
	require.True(t, flags.MandatoryCompleted)

	instance.Stages[2].Status = model.STAGE_COMPLETED
	instance.Stages[3].Flags.Error = false
	flags = computeFlags(instance)
	require.False(t, flags.Error)
	require.True(t, flags.AllActivitiesCompleted)
	require.True(t, flags.AllSuccess)
}
