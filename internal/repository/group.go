package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/louisfang/grouphub/internal/model"
)

// groupCacheTTL bounds staleness of cached point lookups.
const groupCacheTTL = 5 * time.Minute

// IGroupRepository owns the canonical group records plus the read-side
// aggregation queries that stitch groups, memberships and application records
// into role-annotated views.
//
// The transaction scope is the context: pass a mongo.SessionContext to make a
// write or point read participate in an in-flight transaction.
type IGroupRepository interface {
	Insert(ctx context.Context, group *model.Group) error
	FindOne(ctx context.Context, id primitive.ObjectID) (*model.Group, error)
	FindByExternalApp(ctx context.Context, appid string) (*model.Group, error)
	Update(ctx context.Context, id primitive.ObjectID, fields bson.M) (*model.Group, error)
	CountUserCreated(ctx context.Context, uid string) (int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Invalidate(ctx context.Context, id primitive.ObjectID)

	FindUserGroups(ctx context.Context, uid string) ([]model.GroupView, error)
	FindAppGroups(ctx context.Context, appid, uid string) ([]model.GroupRoleView, error)
	FindGroupWithRole(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupRoleView, error)
}

// GroupRepository implements IGroupRepository on MongoDB with an optional
// redis read-through cache for point lookups by id.
type GroupRepository struct {
	coll    *mongo.Collection
	members *mongo.Collection
	cache   *redis.Client
}

// NewGroupRepository creates a new IGroupRepository instance. cache may be
// nil, in which case all reads go straight to MongoDB.
func NewGroupRepository(db *mongo.Database, cache *redis.Client) IGroupRepository {
	return &GroupRepository{
		coll:    db.Collection(CollGroups),
		members: db.Collection(CollMembers),
		cache:   cache,
	}
}

// Insert stores a new group document. The caller assigns the id and the
// created_at/updated_at timestamps.
func (r *GroupRepository) Insert(ctx context.Context, group *model.Group) error {
	if _, err := r.coll.InsertOne(ctx, group); err != nil {
		return err
	}
	return nil
}

// FindOne is a point lookup by id, returning nil without error on a miss.
// Reads inside a transaction bypass the cache so they observe the
// transaction's own uncommitted writes.
func (r *GroupRepository) FindOne(ctx context.Context, id primitive.ObjectID) (*model.Group, error) {
	useCache := r.cache != nil && mongo.SessionFromContext(ctx) == nil

	if useCache {
		if cached, err := r.cache.Get(ctx, groupCacheKey(id)).Result(); err == nil {
			var group model.Group
			if err := json.Unmarshal([]byte(cached), &group); err == nil {
				return &group, nil
			}
		}
	}

	var group model.Group
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if useCache {
		if bytes, err := json.Marshal(&group); err == nil {
			r.cache.Set(ctx, groupCacheKey(id), bytes, groupCacheTTL)
		}
	}
	return &group, nil
}

// FindByExternalApp is an exact-match lookup on appid, nil on a miss.
func (r *GroupRepository) FindByExternalApp(ctx context.Context, appid string) (*model.Group, error) {
	var group model.Group
	err := r.coll.FindOne(ctx, bson.M{"appid": appid}).Decode(&group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// Update merges the supplied fields into the document, always stamping
// updated_at, and returns the post-update document. An empty appid value is
// normalized to the field being removed, keeping one canonical "no
// application" representation. Returns nil without error when the group does
// not exist.
func (r *GroupRepository) Update(ctx context.Context, id primitive.ObjectID, fields bson.M) (*model.Group, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	var unset bson.M
	for k, v := range fields {
		if k == "appid" {
			if s, ok := v.(string); ok && s == "" {
				unset = bson.M{"appid": ""}
				continue
			}
		}
		set[k] = v
	}

	update := bson.M{"$set": set}
	if unset != nil {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var group model.Group
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if mongo.SessionFromContext(ctx) == nil {
		r.Invalidate(ctx, id)
	}
	return &group, nil
}

// CountUserCreated counts the plain groups created by uid. Application-scoped
// groups are deliberately excluded: a null match covers both the canonical
// missing field and legacy explicit nulls.
func (r *GroupRepository) CountUserCreated(ctx context.Context, uid string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"created_by": uid, "appid": nil})
}

// Delete removes the group document by id. Deleting a missing id is a no-op.
//
// Inside a transaction the cached copy is left alone: evicting before the
// commit opens a window where a concurrent reader misses the cache, reads the
// still-committed document, and writes it back, leaving a stale entry after
// the commit lands. Transactional callers evict with Invalidate after their
// commit instead.
func (r *GroupRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return err
	}
	if mongo.SessionFromContext(ctx) == nil {
		r.Invalidate(ctx, id)
	}
	return nil
}

// FindUserGroups lists the plain groups uid belongs to, each carrying all of
// its members as (role, uid) pairs. The pipeline anchors on the user's
// membership rows and joins up to groups with the application filter applied
// inside the lookup, so app-scoped groups and dangling memberships are both
// dropped by the unwind.
func (r *GroupRepository) FindUserGroups(ctx context.Context, uid string) ([]model.GroupView, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "uid", Value: uid}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollGroups},
			{Key: "let", Value: bson.D{{Key: "gid", Value: "$group_id"}}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{
					{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$_id", "$$gid"}}}},
					{Key: "appid", Value: nil},
				}}},
			}},
			{Key: "as", Value: "group"},
		}}},
		bson.D{{Key: "$unwind", Value: "$group"}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollMembers},
			{Key: "let", Value: bson.D{{Key: "gid", Value: "$group_id"}}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{
					{Key: "$expr", Value: bson.D{{Key: "$eq", Value: bson.A{"$group_id", "$$gid"}}}},
				}}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "role", Value: 1},
					{Key: "uid", Value: 1},
				}}},
			}},
			{Key: "as", Value: "members"},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: "$group._id"},
			{Key: "name", Value: "$group.name"},
			{Key: "created_at", Value: "$group.created_at"},
			{Key: "updated_at", Value: "$group.updated_at"},
			{Key: "members", Value: 1},
		}}},
	}

	cursor, err := r.members.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []model.GroupView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// FindAppGroups lists the groups recorded under appid that uid is a member
// of, annotated with uid's own role. Application records anchor the pipeline;
// the membership lookup is correlated on both group id and uid, and rows
// where the group or the caller's membership fails to resolve are dropped.
func (r *GroupRepository) FindAppGroups(ctx context.Context, appid, uid string) ([]model.GroupRoleView, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "appid", Value: appid}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollGroups},
			{Key: "localField", Value: "group_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "group"},
		}}},
		bson.D{{Key: "$unwind", Value: "$group"}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollMembers},
			{Key: "let", Value: bson.D{{Key: "gid", Value: "$group_id"}}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{
					{Key: "$expr", Value: bson.D{{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$group_id", "$$gid"}}},
						bson.D{{Key: "$eq", Value: bson.A{"$uid", uid}}},
					}}}},
				}}},
			}},
			{Key: "as", Value: "membership"},
		}}},
		bson.D{{Key: "$unwind", Value: "$membership"}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: "$group._id"},
			{Key: "name", Value: "$group.name"},
			{Key: "created_at", Value: "$group.created_at"},
			{Key: "updated_at", Value: "$group.updated_at"},
			{Key: "role", Value: "$membership.role"},
		}}},
	}

	apps := r.coll.Database().Collection(CollApplications)
	cursor, err := apps.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []model.GroupRoleView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// FindGroupWithRole resolves a single group annotated with uid's role,
// anchored on the caller's membership row. Returns nil when the caller has no
// membership or when the membership points at a group that no longer exists:
// a dangling row must not surface a phantom group.
func (r *GroupRepository) FindGroupWithRole(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupRoleView, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "group_id", Value: groupID},
			{Key: "uid", Value: uid},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollGroups},
			{Key: "localField", Value: "group_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "group"},
		}}},
		bson.D{{Key: "$unwind", Value: "$group"}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: "$group._id"},
			{Key: "name", Value: "$group.name"},
			{Key: "created_at", Value: "$group.created_at"},
			{Key: "updated_at", Value: "$group.updated_at"},
			{Key: "role", Value: "$role"},
		}}},
	}

	cursor, err := r.members.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []model.GroupRoleView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, nil
	}
	return &views[0], nil
}

// Invalidate drops the cached copy of the group. Writers operating inside a
// transaction must call this once the transaction has committed.
func (r *GroupRepository) Invalidate(ctx context.Context, id primitive.ObjectID) {
	if r.cache != nil {
		r.cache.Del(ctx, groupCacheKey(id))
	}
}

func groupCacheKey(id primitive.ObjectID) string {
	return "group:" + id.Hex()
}
