package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/louisfang/grouphub/internal/model"
)

// IMemberRepository is the membership collaborator: one document per
// (group, user) pair. Writes take the transaction scope through the context.
type IMemberRepository interface {
	AddOne(ctx context.Context, groupID primitive.ObjectID, uid, role string) error
	RemoveAll(ctx context.Context, groupID primitive.ObjectID) error
	FindOne(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupMember, error)
}

// MemberRepository implements IMemberRepository on MongoDB.
type MemberRepository struct {
	coll *mongo.Collection
}

// NewMemberRepository creates a new IMemberRepository instance.
func NewMemberRepository(db *mongo.Database) IMemberRepository {
	return &MemberRepository{coll: db.Collection(CollMembers)}
}

// AddOne inserts a membership row for (groupID, uid) with the given role.
func (r *MemberRepository) AddOne(ctx context.Context, groupID primitive.ObjectID, uid, role string) error {
	member := &model.GroupMember{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UID:      uid,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, member); err != nil {
		return err
	}
	return nil
}

// RemoveAll deletes every membership row for the group.
func (r *MemberRepository) RemoveAll(ctx context.Context, groupID primitive.ObjectID) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"group_id": groupID}); err != nil {
		return err
	}
	return nil
}

// FindOne looks up the membership row for (groupID, uid), nil on a miss.
func (r *MemberRepository) FindOne(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupMember, error) {
	var member model.GroupMember
	err := r.coll.FindOne(ctx, bson.M{"group_id": groupID, "uid": uid}).Decode(&member)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}
