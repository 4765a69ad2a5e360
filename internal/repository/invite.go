package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/louisfang/grouphub/internal/model"
)

// IInviteRepository is the invite-code collaborator. The group lifecycle only
// needs bulk deletion by group; creation is exposed for the invite flow.
type IInviteRepository interface {
	Create(ctx context.Context, invite *model.GroupInvite) error
	DeleteAllForGroup(ctx context.Context, groupID primitive.ObjectID) error
}

// InviteRepository implements IInviteRepository on MongoDB.
type InviteRepository struct {
	coll *mongo.Collection
}

// NewInviteRepository creates a new IInviteRepository instance.
func NewInviteRepository(db *mongo.Database) IInviteRepository {
	return &InviteRepository{coll: db.Collection(CollInvites)}
}

// Create stores a new invite code, stamping created_at.
func (r *InviteRepository) Create(ctx context.Context, invite *model.GroupInvite) error {
	if invite.ID.IsZero() {
		invite.ID = primitive.NewObjectID()
	}
	invite.CreatedAt = time.Now().UTC()
	if _, err := r.coll.InsertOne(ctx, invite); err != nil {
		return err
	}
	return nil
}

// DeleteAllForGroup removes every invite code scoped to the group.
func (r *InviteRepository) DeleteAllForGroup(ctx context.Context, groupID primitive.ObjectID) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"group_id": groupID}); err != nil {
		return err
	}
	return nil
}
