package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupInvite is a redeemable invite code scoped to a group. Codes are
// deleted en masse when their group is deleted.
type GroupInvite struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID   primitive.ObjectID `bson:"group_id" json:"group_id"`
	Code      string             `bson:"code" json:"code"`
	CreatedBy string             `bson:"created_by" json:"created_by"`
	ExpiresAt time.Time          `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
