package supervisor

// Strategy selects the blast radius of one child failure.
type Strategy uint8

const (
	// OneForOne restarts only the failed child.
	OneForOne Strategy = iota
	// OneForAll restarts every active child when any one fails.
	OneForAll
	// RestForOne restarts the failed child and every active child
	// started after it.
	RestForOne
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "unknown"
	}
}
