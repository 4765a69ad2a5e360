package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/louisfang/grouphub/internal/model"
	"github.com/louisfang/grouphub/internal/repository"
	logger "github.com/louisfang/grouphub/middleware/log"
)

// recordingPublisher captures lifecycle events instead of talking to Kafka.
type recordingPublisher struct {
	events []model.GroupEvent
}

func (p *recordingPublisher) Publish(_ string, payload any) error {
	event, ok := payload.(model.GroupEvent)
	if !ok {
		return errors.New("unexpected payload type")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// setupMongo connects to the test MongoDB deployment and provisions a
// throwaway database. Skips when no server is reachable or when the
// deployment does not support multi-document transactions (standalone
// servers do not).
func setupMongo(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://127.0.0.1:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("Skipping test: MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("Skipping test: MongoDB not available: %v", err)
	}

	db := client.Database(fmt.Sprintf("grouphub_test_%d", time.Now().UnixNano()))

	// Transactions need the collections to exist up front on older servers.
	for _, name := range []string{
		repository.CollGroups, repository.CollMembers,
		repository.CollInvites, repository.CollApplications,
	} {
		_ = db.CreateCollection(ctx, name)
	}

	if err := probeTransactions(ctx, client, db); err != nil {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
		t.Skipf("Skipping test: transactions not supported: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return client, db
}

// probeTransactions runs a trivial aborted transaction to verify the
// deployment is a replica set or sharded cluster.
func probeTransactions(ctx context.Context, client *mongo.Client, db *mongo.Database) error {
	sess, err := client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}
		if _, err := db.Collection(repository.CollGroups).InsertOne(sc, bson.M{"probe": true}); err != nil {
			_ = sess.AbortTransaction(sc)
			return err
		}
		return sess.AbortTransaction(sc)
	})
}

type integrationFixture struct {
	svc       IGroupService
	client    *mongo.Client
	db        *mongo.Database
	members   repository.IMemberRepository
	invites   repository.IInviteRepository
	publisher *recordingPublisher
}

func newIntegrationService(t *testing.T, appRepo repository.IApplicationRepository) *integrationFixture {
	t.Helper()
	client, db := setupMongo(t)

	log, err := logger.NewDevelopmentLogger()
	require.NoError(t, err)

	groupRepo := repository.NewGroupRepository(db, nil)
	memberRepo := repository.NewMemberRepository(db)
	inviteRepo := repository.NewInviteRepository(db)
	if appRepo == nil {
		appRepo = repository.NewApplicationRepository(db)
	}
	publisher := &recordingPublisher{}

	svc := NewGroupService(client, groupRepo, memberRepo, inviteRepo, appRepo, log, publisher, 0)
	return &integrationFixture{
		svc:       svc,
		client:    client,
		db:        db,
		members:   memberRepo,
		invites:   inviteRepo,
		publisher: publisher,
	}
}

func countByGroup(t *testing.T, db *mongo.Database, coll string, groupID primitive.ObjectID) int64 {
	t.Helper()
	filter := bson.M{"group_id": groupID}
	if coll == repository.CollGroups {
		filter = bson.M{"_id": groupID}
	}
	n, err := db.Collection(coll).CountDocuments(context.Background(), filter)
	require.NoError(t, err)
	return n
}

func TestCreateGroup_AllEffectsLand(t *testing.T) {
	fx := newIntegrationService(t, nil)
	ctx := context.Background()

	group, err := fx.svc.CreateGroup(ctx, &CreateGroupRequest{Name: "platform", CreatedBy: "u1"})
	require.NoError(t, err)
	require.NotNil(t, group)

	assert.Equal(t, "platform", group.Name)
	assert.Equal(t, group.CreatedAt, group.UpdatedAt)

	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollGroups, group.ID))
	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollMembers, group.ID))
	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollApplications, group.ID))

	member, err := fx.members.FindOne(ctx, group.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, model.RoleOwner, member.Role)

	require.Len(t, fx.publisher.events, 1)
	assert.Equal(t, model.EventGroupCreated, fx.publisher.events[0].Type)
	assert.Equal(t, group.ID.Hex(), fx.publisher.events[0].GroupID)
}

// failingApplicationRepo forces the third creation step to fail so the whole
// transaction must roll back.
type failingApplicationRepo struct{}

func (failingApplicationRepo) Append(context.Context, primitive.ObjectID, string) error {
	return errors.New("application store unavailable")
}

func (failingApplicationRepo) RemoveAll(context.Context, primitive.ObjectID) error {
	return errors.New("application store unavailable")
}

func TestCreateGroup_RollsBackOnFailure(t *testing.T) {
	fx := newIntegrationService(t, failingApplicationRepo{})
	ctx := context.Background()

	group, err := fx.svc.CreateGroup(ctx, &CreateGroupRequest{Name: "doomed", CreatedBy: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application store unavailable")
	assert.Nil(t, group)

	for _, coll := range []string{repository.CollGroups, repository.CollMembers, repository.CollApplications} {
		n, err := fx.db.Collection(coll).CountDocuments(ctx, bson.M{})
		require.NoError(t, err)
		assert.Zerof(t, n, "collection %s must be empty after rollback", coll)
	}
	assert.Empty(t, fx.publisher.events)
}

func TestDeleteGroup_TearsDownAllCollections(t *testing.T) {
	fx := newIntegrationService(t, nil)
	ctx := context.Background()

	group, err := fx.svc.CreateGroup(ctx, &CreateGroupRequest{Name: "doomed", CreatedBy: "u1"})
	require.NoError(t, err)

	// Grow the dependent collections beyond the creation defaults.
	require.NoError(t, fx.members.AddOne(ctx, group.ID, "u2", model.RoleMember))
	require.NoError(t, fx.members.AddOne(ctx, group.ID, "u3", model.RoleAdmin))
	_, err = fx.svc.CreateInvite(ctx, group.ID, "u1", time.Hour)
	require.NoError(t, err)
	_, err = fx.svc.CreateInvite(ctx, group.ID, "u2", time.Hour)
	require.NoError(t, err)

	deleted, err := fx.svc.DeleteGroup(ctx, group.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, group.ID, deleted.ID)

	for _, coll := range []string{
		repository.CollGroups, repository.CollMembers,
		repository.CollInvites, repository.CollApplications,
	} {
		assert.Zerof(t, countByGroup(t, fx.db, coll, group.ID),
			"collection %s must hold no rows for the deleted group", coll)
	}

	require.Len(t, fx.publisher.events, 2)
	assert.Equal(t, model.EventGroupDeleted, fx.publisher.events[1].Type)
}

func TestDeleteGroup_Idempotent(t *testing.T) {
	fx := newIntegrationService(t, nil)
	ctx := context.Background()

	group, err := fx.svc.CreateGroup(ctx, &CreateGroupRequest{Name: "once", CreatedBy: "u1"})
	require.NoError(t, err)

	_, err = fx.svc.DeleteGroup(ctx, group.ID, nil)
	require.NoError(t, err)

	// Second delete: no error, absent pre-read value, no extra event.
	deleted, err := fx.svc.DeleteGroup(ctx, group.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, deleted)
	assert.Len(t, fx.publisher.events, 2) // created + first deleted only
}

func TestDeleteGroup_CacheServesNoGhostAfterCommit(t *testing.T) {
	client, db := setupMongo(t)
	ctx := context.Background()

	log, err := logger.NewDevelopmentLogger()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	publisher := &recordingPublisher{}
	svc := NewGroupService(client,
		repository.NewGroupRepository(db, cache),
		repository.NewMemberRepository(db),
		repository.NewInviteRepository(db),
		repository.NewApplicationRepository(db),
		log, publisher, 0)

	group, err := svc.CreateGroup(ctx, &CreateGroupRequest{Name: "cached", CreatedBy: "u1"})
	require.NoError(t, err)

	// Warm the cache through the accessor path.
	warm, err := svc.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.NotNil(t, warm)

	deleted, err := svc.DeleteGroup(ctx, group.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, deleted)

	// The committed delete must not leave a cached copy behind.
	got, err := svc.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "the cache must not serve a deleted group")

	// A re-delete sees the true state, not a cached ghost: nil group and no
	// second deleted event.
	again, err := svc.DeleteGroup(ctx, group.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, publisher.events, 2)
}

func TestDeleteGroup_BorrowedSessionRollsBackWithCaller(t *testing.T) {
	fx := newIntegrationService(t, nil)
	ctx := context.Background()

	group, err := fx.svc.CreateGroup(ctx, &CreateGroupRequest{Name: "kept", CreatedBy: "u1"})
	require.NoError(t, err)

	sess, err := fx.client.StartSession()
	require.NoError(t, err)
	defer sess.EndSession(ctx)

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}
		if _, err := fx.svc.DeleteGroup(sc, group.ID, sess); err != nil {
			return err
		}
		// The caller owns the transaction and decides to walk away.
		return sess.AbortTransaction(sc)
	})
	require.NoError(t, err)

	// Everything the create produced must still be there.
	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollGroups, group.ID))
	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollMembers, group.ID))
	assert.EqualValues(t, 1, countByGroup(t, fx.db, repository.CollApplications, group.ID))

	// No deleted event: nothing was committed and the session was borrowed.
	require.Len(t, fx.publisher.events, 1)
	assert.Equal(t, model.EventGroupCreated, fx.publisher.events[0].Type)
}
