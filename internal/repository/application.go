package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/louisfang/grouphub/internal/model"
)

// IApplicationRepository is the application-record collaborator. One record
// is appended per group at creation time, appid or not, and all records for a
// group are removed when the group is deleted.
type IApplicationRepository interface {
	Append(ctx context.Context, groupID primitive.ObjectID, appid string) error
	RemoveAll(ctx context.Context, groupID primitive.ObjectID) error
}

// ApplicationRepository implements IApplicationRepository on MongoDB.
type ApplicationRepository struct {
	coll *mongo.Collection
}

// NewApplicationRepository creates a new IApplicationRepository instance.
func NewApplicationRepository(db *mongo.Database) IApplicationRepository {
	return &ApplicationRepository{coll: db.Collection(CollApplications)}
}

// Append records the (group, appid) pairing. An empty appid is stored with
// the field omitted, the canonical plain-group representation.
func (r *ApplicationRepository) Append(ctx context.Context, groupID primitive.ObjectID, appid string) error {
	record := &model.GroupApplication{
		ID:        primitive.NewObjectID(),
		GroupID:   groupID,
		AppID:     appid,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, record); err != nil {
		return err
	}
	return nil
}

// RemoveAll deletes every application record for the group.
func (r *ApplicationRepository) RemoveAll(ctx context.Context, groupID primitive.ObjectID) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"group_id": groupID}); err != nil {
		return err
	}
	return nil
}
