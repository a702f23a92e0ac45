package engine

import "github.com/stagecraft/stagecraft/model"

// computeFlags derives the aggregate booleans from current stage statuses.
// Mandatory completion compares completed mandatory activities against the
// ones still active, so a flow with no open mandatory work reports done.
func computeFlags(instance *model.ProcessInstance) model.Flags {
	flags := model.Flags{}
	var all, completed int
	var activities, completedActivities, successActivities int
	var activeMandatory, completedMandatory int

	for _, stage := range instance.Stages {
		all++
		if stage.Type == model.STAGE_TYPE_ACTIVITY {
			activities++
			if stage.Status == model.STAGE_ACTIVE && stage.Mandatory {
				activeMandatory++
			}
			if stage.Status == model.STAGE_COMPLETED {
				completedActivities++
				flags.AnyActivitiesCompleted = true
				if stage.Mandatory {
					completedMandatory++
				}
				if !stage.Flags.Error {
					flags.AnySuccess = true
					successActivities++
				}
			}
		}
		if stage.Status == model.STAGE_COMPLETED {
			completed++
			flags.AnyCompleted = true
		}
		if stage.Flags.Error || stage.Status == model.STAGE_ERROR {
			flags.Error = true
		}
	}

	flags.AllCompleted = all == completed
	flags.AllActivitiesCompleted = activities == completedActivities
	flags.AllSuccess = activities == successActivities
	flags.MandatoryCompleted = activeMandatory == completedMandatory
	return flags
}
