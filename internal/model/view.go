package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemberView is a role-annotated membership entry inside a GroupView.
type MemberView struct {
	Role string `bson:"role" json:"role"`
	UID  string `bson:"uid" json:"uid"`
}

// GroupView is the denormalized row returned by the personal group listing:
// the group plus all of its members projected to (role, uid) pairs.
type GroupView struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
	Members   []MemberView       `bson:"members" json:"members"`
}

// GroupRoleView is a group annotated with the calling user's own role. Rows
// where either the group or the caller's membership fails to resolve are
// dropped by the pipeline, never null-filled.
type GroupRoleView struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
	Role      string             `bson:"role" json:"role"`
}
