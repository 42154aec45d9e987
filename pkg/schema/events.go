package schema

// Event type constants for the execution event log.
const (
	EventExecutionCreated   = "execution_created"
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepCancelled = "step_cancelled"
	EventStepRetrying  = "step_retrying"

	EventConditionEvaluated = "condition_evaluated"
)

// ExecutionEventType maps a terminal or running execution status to its event type.
func ExecutionEventType(status ExecutionStatus) string {
	switch status {
	case ExecutionRunning:
		return EventExecutionStarted
	case ExecutionCompleted:
		return EventExecutionCompleted
	case ExecutionFailed:
		return EventExecutionFailed
	case ExecutionCancelled:
		return EventExecutionCancelled
	default:
		return ""
	}
}
