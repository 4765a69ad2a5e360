package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership roles. Every group has exactly one owner row immediately after
// creation; membership rows are the sole source of truth for who belongs to
// which group and with what privilege.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// GroupMember is the authoritative join between users and groups.
// Exactly one document per (group_id, uid).
type GroupMember struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID  primitive.ObjectID `bson:"group_id" json:"group_id"`
	UID      string             `bson:"uid" json:"uid"`
	Role     string             `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joined_at" json:"joined_at"`
}
