package flowcontrol

import "github.com/shrtyk/logstream-core/api"

// Commands that finish or unblock work already in the system. Rejecting them
// under load would only keep the load around longer.
var whitelistedIntents = map[api.Intent]struct{}{
	api.IntentJobComplete:                    {},
	api.IntentJobFail:                        {},
	api.IntentProcessInstanceCancel:          {},
	api.IntentDeploymentCreate:               {},
	api.IntentDeploymentDistribute:           {},
	api.IntentDeploymentDistributionComplete: {},
	api.IntentCommandDistributionAcknowledge: {},
}

func IsWhitelisted(intent api.Intent) bool {
	_, ok := whitelistedIntents[intent]
	return ok
}
