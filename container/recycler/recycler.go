package recycler

// Recycler decides when a container should release spare capacity.
type Recycler interface {
	// Shrink reports whether a container with the given length and capacity
	// should be clipped.
	Shrink(len_ int, cap_ int) bool
}

// Slack shrinks once the spare capacity exceeds the given number of slots.
type Slack int

// Shrink implements Recycler.
func (s Slack) Shrink(len_ int, cap_ int) bool {
	return cap_-len_ > int(s)
}

var _ Recycler = Slack(0)
