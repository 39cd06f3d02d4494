package tasks

// TaskSchedulerInterface defines the interface for task scheduling
// operations. Used by the main application to manage background task
// processing and by the API server to enqueue ad-hoc work and report
// queue depth.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	// EnqueueForcePoll queues an immediate poll of one source with
	// conditional headers suppressed.
	EnqueueForcePoll(slug string) error
	QueueDepth() int
}
