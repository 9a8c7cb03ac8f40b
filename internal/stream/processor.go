package stream

// Action tells the streamer whether to keep feeding lines to a processor.
type Action int

const (
	Continue Action = iota
	Stop
)

func (a Action) String() string {
	if a == Stop {
		return "stop"
	}
	return "continue"
}

// LineProcessor turns the lines of one command's output into a typed result.
// Implementations expose their result through their own accessors once
// Stream returns.
type LineProcessor interface {
	Process(line string) Action
}
