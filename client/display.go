package client

// Display renders a session's state. Render is called outside tracker locks,
// from the supervisor's read goroutine or the goroutine that changed status.
type Display interface {
	Render(state TrackingState)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(state TrackingState)

func (f DisplayFunc) Render(state TrackingState) { f(state) }
