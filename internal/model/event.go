package model

import "time"

// Group lifecycle event types published after a successful commit.
const (
	EventGroupCreated = "group.created"
	EventGroupDeleted = "group.deleted"
)

// GroupEvent is the JSON payload published to the message queue when a group
// is created or deleted. Publishing is best effort and never fails the
// originating operation.
type GroupEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	GroupID string    `json:"group_id"`
	AppID   string    `json:"appid,omitempty"`
	At      time.Time `json:"at"`
}
