package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupApplication records the external application id (if any) a group was
// created under. Exactly one document is appended per group at creation time,
// even for plain groups, so the collection stays a complete audit trail keyed
// by group. It doubles as the join anchor for application-scoped queries.
type GroupApplication struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID   primitive.ObjectID `bson:"group_id" json:"group_id"`
	AppID     string             `bson:"appid,omitempty" json:"appid,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
