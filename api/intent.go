package api

// Intents known to the write path. Any other non-empty value is accepted too,
// the broker treats intents as opaque labels except for admission priority.
const (
	IntentJobComplete                    Intent = "job.complete"
	IntentJobFail                        Intent = "job.fail"
	IntentJobCreate                      Intent = "job.create"
	IntentProcessInstanceCreate          Intent = "process_instance.create"
	IntentProcessInstanceCancel          Intent = "process_instance.cancel"
	IntentDeploymentCreate               Intent = "deployment.create"
	IntentDeploymentDistribute           Intent = "deployment.distribute"
	IntentDeploymentDistributionComplete Intent = "deployment_distribution.complete"
	IntentCommandDistributionAcknowledge Intent = "command_distribution.acknowledge"
	IntentMessagePublish                 Intent = "message.publish"
)
