package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/louisfang/grouphub/internal/model"
	"github.com/louisfang/grouphub/internal/repository"
	logger "github.com/louisfang/grouphub/middleware/log"
	"github.com/louisfang/grouphub/pkg/mq"
)

var (
	ErrGroupNameInvalid   = errors.New("group name length invalid")
	ErrGroupQuotaExceeded = errors.New("group quota exceeded")
	ErrGroupDataQuery     = errors.New("failed to get group data")
	ErrNotMember          = errors.New("user is not a member of this group")
)

// CreateGroupRequest represents a request to create a new group. AppID is set
// when the group is created on behalf of an external application integration.
type CreateGroupRequest struct {
	Name      string `json:"name" binding:"required,min=1,max=50"`
	CreatedBy string `json:"created_by" binding:"required"`
	AppID     string `json:"appid"`
}

// UpdateGroupRequest carries a partial field merge. Nil fields are left
// untouched; an explicit empty AppID detaches the group from its application.
type UpdateGroupRequest struct {
	Name  *string `json:"name"`
	AppID *string `json:"appid"`
}

// IGroupService coordinates the group directory with the membership, invite
// and application stores. Creation and deletion run as one transaction across
// the four collections: either all effects land or none do, and no reader
// outside the transaction observes a group without its dependents or
// dependents without their group.
type IGroupService interface {
	CreateGroup(ctx context.Context, req *CreateGroupRequest) (*model.Group, error)
	DeleteGroup(ctx context.Context, groupID primitive.ObjectID, sess mongo.Session) (*model.Group, error)

	GetGroup(ctx context.Context, groupID primitive.ObjectID) (*model.Group, error)
	GetGroupByExternalApp(ctx context.Context, appid string) (*model.Group, error)
	UpdateGroup(ctx context.Context, groupID primitive.ObjectID, req *UpdateGroupRequest) (*model.Group, error)
	CountUserCreatedGroups(ctx context.Context, uid string) (int64, error)

	GetUserGroups(ctx context.Context, uid string) ([]model.GroupView, error)
	GetAppGroups(ctx context.Context, appid, uid string) ([]model.GroupRoleView, error)
	GetGroupWithRole(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupRoleView, error)

	CreateInvite(ctx context.Context, groupID primitive.ObjectID, creatorID string, ttl time.Duration) (*model.GroupInvite, error)
}

// GroupService implements the IGroupService interface.
type GroupService struct {
	client     *mongo.Client
	groupRepo  repository.IGroupRepository
	memberRepo repository.IMemberRepository
	inviteRepo repository.IInviteRepository
	appRepo    repository.IApplicationRepository
	log        *logger.Logger
	producer   mq.EventPublisher
	maxGroups  int64
}

// NewGroupService creates a new IGroupService instance. producer may be nil
// to run without lifecycle events; maxGroups <= 0 disables the per-user quota
// on plain groups.
func NewGroupService(
	client *mongo.Client,
	groupRepo repository.IGroupRepository,
	memberRepo repository.IMemberRepository,
	inviteRepo repository.IInviteRepository,
	appRepo repository.IApplicationRepository,
	log *logger.Logger,
	producer mq.EventPublisher,
	maxGroups int64,
) IGroupService {
	return &GroupService{
		client:     client,
		groupRepo:  groupRepo,
		memberRepo: memberRepo,
		inviteRepo: inviteRepo,
		appRepo:    appRepo,
		log:        log,
		producer:   producer,
		maxGroups:  maxGroups,
	}
}

// CreateGroup creates a group together with its owner membership row and its
// application record in a single transaction. The returned group is the
// document re-read inside the transaction, so it reflects exactly what was
// committed. On any failure the transaction is aborted and the original error
// is returned unmodified.
func (s *GroupService) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*model.Group, error) {
	if len(req.Name) < 1 || len(req.Name) > 50 {
		return nil, ErrGroupNameInvalid
	}

	// Quota applies to plain groups only; application-scoped creates are not
	// counted against the user.
	if req.AppID == "" && s.maxGroups > 0 {
		count, err := s.groupRepo.CountUserCreated(ctx, req.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("failed to count user groups: %w", err)
		}
		if count >= s.maxGroups {
			return nil, ErrGroupQuotaExceeded
		}
	}

	now := time.Now().UTC()
	group := &model.Group{
		ID:        primitive.NewObjectID(),
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
		AppID:     req.AppID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	var created *model.Group
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}

		if err := s.createGroupTx(sc, group, req, &created); err != nil {
			if abortErr := sess.AbortTransaction(sc); abortErr != nil {
				s.log.ErrorContext(sc, "failed to abort create transaction",
					zap.String("group_id", group.ID.Hex()), zap.Error(abortErr))
			}
			return err
		}
		return sess.CommitTransaction(sc)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "failed to create group",
			zap.String("op", "create"),
			zap.String("group_id", group.ID.Hex()),
			zap.Error(err))
		return nil, err
	}

	s.publishEvent(ctx, model.EventGroupCreated, created)
	return created, nil
}

// createGroupTx performs the ordered creation writes inside the transaction
// scope sc: insert group, add owner membership, append the application record
// (appid or not, so the collection stays a complete audit trail), then
// re-read the group so the transaction's own writes are observed.
func (s *GroupService) createGroupTx(sc mongo.SessionContext, group *model.Group, req *CreateGroupRequest, created **model.Group) error {
	if err := s.groupRepo.Insert(sc, group); err != nil {
		return err
	}
	if err := s.memberRepo.AddOne(sc, group.ID, req.CreatedBy, model.RoleOwner); err != nil {
		return err
	}
	if err := s.appRepo.Append(sc, group.ID, req.AppID); err != nil {
		return err
	}

	g, err := s.groupRepo.FindOne(sc, group.ID)
	if err != nil {
		return err
	}
	*created = g
	return nil
}

// DeleteGroup tears down a group and all of its dependent membership, invite
// and application records as one atomic unit. The group is read inside the
// transaction so a value can be returned even after deletion and so the read
// bypasses the cache; deleting an id that no longer exists is a no-op that
// returns nil.
//
// sess may carry a caller-owned session so the teardown composes with the
// caller's own transaction. A borrowed session is never started, committed,
// aborted or ended here; when sess is nil this call owns the full session
// lifecycle and EndSession always runs, success or failure. Borrowed-session
// callers must call Invalidate on the group repository once their own
// transaction commits.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID primitive.ObjectID, sess mongo.Session) (*model.Group, error) {
	ownsSession := sess == nil
	if ownsSession {
		var err error
		sess, err = s.client.StartSession()
		if err != nil {
			return nil, fmt.Errorf("failed to start session: %w", err)
		}
		defer sess.EndSession(ctx)
	}

	var group *model.Group
	err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if ownsSession {
			if err := sess.StartTransaction(); err != nil {
				return err
			}
		}

		if err := s.deleteGroupTx(sc, groupID, &group); err != nil {
			if ownsSession {
				if abortErr := sess.AbortTransaction(sc); abortErr != nil {
					s.log.ErrorContext(sc, "failed to abort delete transaction",
						zap.String("group_id", groupID.Hex()), zap.Error(abortErr))
				}
			}
			return err
		}

		if ownsSession {
			return sess.CommitTransaction(sc)
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "failed to delete group",
			zap.String("op", "delete"),
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		return nil, err
	}

	// Eviction must wait for the commit: dropping the key mid-transaction
	// lets a concurrent reader repopulate it from the pre-commit snapshot,
	// and the cache would then serve a deleted group. On a borrowed session
	// both the eviction and the event are the committing caller's to issue.
	if ownsSession {
		s.groupRepo.Invalidate(ctx, groupID)
		if group != nil {
			s.publishEvent(ctx, model.EventGroupDeleted, group)
		}
	}
	return group, nil
}

// deleteGroupTx reads the group inside the transaction scope, then performs
// the ordered teardown. The in-transaction read observes the session snapshot
// rather than the cache, so a stale cached copy can never resurrect a group
// or trigger a second deletion event.
func (s *GroupService) deleteGroupTx(sc mongo.SessionContext, groupID primitive.ObjectID, group **model.Group) error {
	g, err := s.groupRepo.FindOne(sc, groupID)
	if err != nil {
		return err
	}
	*group = g
	return s.teardownTx(sc, groupID)
}

// teardownTx performs the ordered deletion writes inside the transaction
// scope: group document, membership rows, invite codes, application records.
// Each step is a no-op for ids with nothing to delete, which makes re-deletes
// idempotent.
func (s *GroupService) teardownTx(sc mongo.SessionContext, groupID primitive.ObjectID) error {
	if err := s.groupRepo.Delete(sc, groupID); err != nil {
		return err
	}
	if err := s.memberRepo.RemoveAll(sc, groupID); err != nil {
		return err
	}
	if err := s.inviteRepo.DeleteAllForGroup(sc, groupID); err != nil {
		return err
	}
	return s.appRepo.RemoveAll(sc, groupID)
}

// GetGroup is a point lookup by id, nil on a miss.
func (s *GroupService) GetGroup(ctx context.Context, groupID primitive.ObjectID) (*model.Group, error) {
	return s.groupRepo.FindOne(ctx, groupID)
}

// GetGroupByExternalApp looks up the group bound to an external application
// id, nil on a miss.
func (s *GroupService) GetGroupByExternalApp(ctx context.Context, appid string) (*model.Group, error) {
	return s.groupRepo.FindByExternalApp(ctx, appid)
}

// UpdateGroup merges the supplied fields into the group and returns the
// post-update document. Returns nil without error when the group does not
// exist; callers must check.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID primitive.ObjectID, req *UpdateGroupRequest) (*model.Group, error) {
	fields := bson.M{}
	if req.Name != nil {
		if len(*req.Name) < 1 || len(*req.Name) > 50 {
			return nil, ErrGroupNameInvalid
		}
		fields["name"] = *req.Name
	}
	if req.AppID != nil {
		fields["appid"] = *req.AppID
	}
	return s.groupRepo.Update(ctx, groupID, fields)
}

// CountUserCreatedGroups counts the plain groups created by uid,
// application-scoped groups excluded.
func (s *GroupService) CountUserCreatedGroups(ctx context.Context, uid string) (int64, error) {
	return s.groupRepo.CountUserCreated(ctx, uid)
}

// GetUserGroups lists the plain groups uid belongs to with all members
// attached. Storage errors are flattened so engine internals do not leak.
func (s *GroupService) GetUserGroups(ctx context.Context, uid string) ([]model.GroupView, error) {
	views, err := s.groupRepo.FindUserGroups(ctx, uid)
	if err != nil {
		s.log.ErrorContext(ctx, "group aggregation failed",
			zap.String("op", "user_groups"), zap.String("uid", uid), zap.Error(err))
		return nil, ErrGroupDataQuery
	}
	return views, nil
}

// GetAppGroups lists the groups under appid that uid belongs to, each with
// uid's own role. Users see only their own memberships.
func (s *GroupService) GetAppGroups(ctx context.Context, appid, uid string) ([]model.GroupRoleView, error) {
	views, err := s.groupRepo.FindAppGroups(ctx, appid, uid)
	if err != nil {
		s.log.ErrorContext(ctx, "group aggregation failed",
			zap.String("op", "app_groups"), zap.String("appid", appid), zap.Error(err))
		return nil, ErrGroupDataQuery
	}
	return views, nil
}

// GetGroupWithRole resolves one group with the caller's role, or nil when the
// caller has no membership or the group is gone.
func (s *GroupService) GetGroupWithRole(ctx context.Context, groupID primitive.ObjectID, uid string) (*model.GroupRoleView, error) {
	view, err := s.groupRepo.FindGroupWithRole(ctx, groupID, uid)
	if err != nil {
		s.log.ErrorContext(ctx, "group aggregation failed",
			zap.String("op", "group_with_role"), zap.String("group_id", groupID.Hex()), zap.Error(err))
		return nil, ErrGroupDataQuery
	}
	return view, nil
}

// publishEvent emits a lifecycle event after a successful commit. Publishing
// is best effort: failures are logged and never surfaced to the caller.
func (s *GroupService) publishEvent(ctx context.Context, eventType string, group *model.Group) {
	if s.producer == nil || group == nil {
		return
	}
	event := model.GroupEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		GroupID: group.ID.Hex(),
		AppID:   group.AppID,
		At:      time.Now().UTC(),
	}
	if err := s.producer.Publish(event.GroupID, event); err != nil {
		s.log.WarnContext(ctx, "failed to publish group event",
			zap.String("type", eventType), zap.String("group_id", event.GroupID), zap.Error(err))
	}
}
