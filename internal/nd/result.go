package nd

// Action is the outcome of handling one inbound message.
type Action uint8

const (
	// ActionDiscard drops the message.
	ActionDiscard Action = iota
	// ActionReply transmits Result.Reply.
	ActionReply
	// ActionForward passes the original message on unchanged.
	ActionForward
)

func (m Action) String() string {
	switch m {
	case ActionDiscard:
		return "discard"
	case ActionReply:
		return "reply"
	case ActionForward:
		return "forward"
	default:
		return "unknown"
	}
}

// Result is what a handler decided to do with a message.
type Result struct {
	Action Action
	Reply  *Packet
}

func discard() Result {
	return Result{Action: ActionDiscard}
}

func reply(pkt *Packet) Result {
	return Result{Action: ActionReply, Reply: pkt}
}

func forward() Result {
	return Result{Action: ActionForward}
}
