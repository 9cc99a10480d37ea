package bot

// Result is the outcome of Process: either Reply or Empty.
type Result interface {
	isResult()
}

// Reply carries text that must be sent back to the chat.
type Reply struct {
	Text string
}

// Empty means no outbound action.
type Empty struct{}

func (Reply) isResult() {}
func (Empty) isResult() {}
