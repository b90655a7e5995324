package shardio

// taskState tracks a task through its lifecycle:
//
//	Created → Queued → Running → {Completed | Suspended | Cancelled}
//	Suspended → Queued on wake
//	any non-terminal state → Cancelled on cancellation request
//
// Completed and Cancelled are terminal. A terminal task is removed
// from the registry and deallocated once its handle-side ownership is
// also released.
type taskState uint8

const (
	stateCreated taskState = iota
	stateQueued
	stateRunning
	stateSuspended
	stateCompleted
	stateCancelled
)

func (s taskState) terminal() bool {
	return s == stateCompleted || s == stateCancelled
}

func (s taskState) String() string {
	switch s {
	case stateCreated:
		return "Created"
	case stateQueued:
		return "Queued"
	case stateRunning:
		return "Running"
	case stateSuspended:
		return "Suspended"
	case stateCompleted:
		return "Completed"
	case stateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
