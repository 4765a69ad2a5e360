package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/louisfang/grouphub/internal/model"
)

// defaultInviteTTL is applied when the caller does not supply an expiry.
const defaultInviteTTL = 7 * 24 * time.Hour

// CreateInvite issues a new invite code for the group. Only existing members
// may create invites. Codes expire after ttl; ttl <= 0 falls back to the
// default week-long window.
func (s *GroupService) CreateInvite(ctx context.Context, groupID primitive.ObjectID, creatorID string, ttl time.Duration) (*model.GroupInvite, error) {
	member, err := s.memberRepo.FindOne(ctx, groupID, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if member == nil {
		return nil, ErrNotMember
	}

	if ttl <= 0 {
		ttl = defaultInviteTTL
	}

	invite := &model.GroupInvite{
		GroupID:   groupID,
		Code:      generateInviteCode(),
		CreatedBy: creatorID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := s.inviteRepo.Create(ctx, invite); err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}
	return invite, nil
}

// generateInviteCode generates a random 8-character hex invite code.
func generateInviteCode() string {
	bytes := make([]byte, 4) // 4 bytes = 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to UUID-based generation if crypto/rand fails
		return uuid.New().String()[:8]
	}
	return hex.EncodeToString(bytes)
}
