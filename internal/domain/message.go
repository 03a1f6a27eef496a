package domain

// MessageKind tags a Message. The set is closed.
type MessageKind string

const (
	KindTask      MessageKind = "TASK"
	KindResult    MessageKind = "RESULT"
	KindTerminate MessageKind = "TERMINATE"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindTask, KindResult, KindTerminate:
		return true
	}
	return false
}

// Message is what travels over a transport. Only the field matching Kind
// is meaningful: Task for TASK, Value for RESULT, nothing for TERMINATE.
type Message struct {
	Kind  MessageKind `json:"kind" cbor:"k"`
	Task  Task        `json:"task,omitempty" cbor:"t,omitempty"`
	Value float64     `json:"value,omitempty" cbor:"v,omitempty"`
}

// TaskMessage builds a TASK message.
func TaskMessage(t Task) Message { return Message{Kind: KindTask, Task: t} }

// ResultMessage builds a RESULT message.
func ResultMessage(v float64) Message { return Message{Kind: KindResult, Value: v} }

// TerminateMessage builds a TERMINATE message.
func TerminateMessage() Message { return Message{Kind: KindTerminate} }

// Envelope is a received message together with its sender.
type Envelope struct {
	From WorkerID
	Msg  Message
}
