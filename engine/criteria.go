package engine

import "github.com/stagecraft/stagecraft/model"

// validateCriteria checks a completion policy against the current flags.
// It returns whether completion may proceed and the status the stage should
// take: showError surfaces a connector failure as status error instead of
// completed, onErrorComplete=false is the only clause that blocks
// completion outright.
func validateCriteria(criteria *model.Criteria, flags model.Flags) (bool, model.StageStatus) {
	if criteria == nil {
		return true, model.STAGE_COMPLETED
	}
	valid := true
	status := model.STAGE_COMPLETED

	if criteria.ShowError != nil {
		if *criteria.ShowError && flags.Error {
			status = model.STAGE_ERROR
		} else {
			status = model.STAGE_COMPLETED
		}
	}
	if criteria.OnErrorComplete != nil {
		if !*criteria.OnErrorComplete && flags.Error {
			valid = false
		}
		return valid, status
	}
	if criteria.AllCompleted != nil && *criteria.AllCompleted && flags.AllCompleted {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.AnyCompleted != nil && *criteria.AnyCompleted && flags.AnyCompleted {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.AllActivitiesCompleted != nil && *criteria.AllActivitiesCompleted && flags.AllActivitiesCompleted {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.AnyActivitiesCompleted != nil && *criteria.AnyActivitiesCompleted && flags.AnyActivitiesCompleted {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.AllSuccess != nil && *criteria.AllSuccess && flags.AllSuccess {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.AnySuccess != nil && *criteria.AnySuccess && flags.AnySuccess {
		return valid, model.STAGE_COMPLETED
	}
	if criteria.MandatoryCompleted != nil && *criteria.MandatoryCompleted && flags.MandatoryCompleted {
		return valid, model.STAGE_COMPLETED
	}
	return valid, status
}
