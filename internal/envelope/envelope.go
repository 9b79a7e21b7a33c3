// Package envelope defines the change envelope that flows from the directory
// change-log producer through the dispatcher, and the wire codecs used to read
// it off the ingress queue and write it to each destination.
package envelope

import "fmt"

// ChangeEnvelope is one normalized directory change event. It is decoded once
// per received message and never modified afterwards.
type ChangeEnvelope struct {
	Operation      string
	Name           string
	OldName        string
	MemberID       string
	Description    string
	OldDescription string
	MemberList     []string
}

// GroupKey is the group-affinity key for messages about this envelope.
func (e *ChangeEnvelope) GroupKey() string {
	return e.Name
}

func (e *ChangeEnvelope) String() string {
	return fmt.Sprintf("operation: %s\t groupName: %s\t memberId: %s\t memberList: %v",
		e.Operation, e.Name, e.MemberID, e.MemberList)
}
