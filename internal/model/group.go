package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group is the canonical group record.
//
// AppID is absent for user-created groups. A group with an AppID belongs to an
// external application integration and is excluded from the user's personal
// group listing. The canonical "no application" representation is the field
// being omitted from the document; reads filter with a null match, which in
// MongoDB also covers legacy documents that stored an explicit null.
type Group struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedBy string             `bson:"created_by" json:"created_by"`
	AppID     string             `bson:"appid,omitempty" json:"appid,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsAppScoped reports whether the group was created under an external
// application id.
func (g *Group) IsAppScoped() bool {
	return g.AppID != ""
}
