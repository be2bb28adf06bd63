package protocol

import "fmt"

// SenderKeyName identifies a group sender key: one sender device within one
// group. Its encoded form "groupID::name::deviceID" is the key hosts store
// sender-key records under.
type SenderKeyName struct {
	groupID  string
	senderID string
}

// NewSenderKeyName creates a sender key name for a group and sender address.
func NewSenderKeyName(groupID string, sender *Address) *SenderKeyName {
	return &SenderKeyName{
		groupID:  groupID,
		senderID: fmt.Sprintf("%s::%d", sender.Name(), sender.DeviceID()),
	}
}

// GroupID returns the group identifier.
func (n *SenderKeyName) GroupID() string { return n.groupID }

// SenderID returns the encoded sender component.
func (n *SenderKeyName) SenderID() string { return n.senderID }

// String returns the host store key for this sender key.
func (n *SenderKeyName) String() string {
	return fmt.Sprintf("%s::%s", n.groupID, n.senderID)
}
