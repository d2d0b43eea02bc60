package devmode

// Activity reports whether the tab is in the foreground.
//
// Dev-mode updates are disruptive; a backgrounded tab defers applying them
// until the user is looking at it again.
type Activity interface {
	// Active returns true if the tab is currently in the foreground.
	Active() bool

	// Changes returns a channel that receives a signal whenever the tab
	// transitions between foreground and background.
	Changes() <-chan struct{}
}

// AlwaysActive is an Activity for tabs that are always in the foreground,
// such as headless processes.
var AlwaysActive Activity = alwaysActive{}

type alwaysActive struct{}

func (alwaysActive) Active() bool             { return true }
func (alwaysActive) Changes() <-chan struct{} { return nil }
