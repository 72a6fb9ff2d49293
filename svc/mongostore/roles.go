package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

const rolesCollection = "account_roles"

type roleDoc struct {
	UserID    string    `bson:"_id"`
	Role      string    `bson:"role"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// RoleStore keeps the account role derived from subscription state.
type RoleStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewRoleStore(db *mongo.Database) *RoleStore {
	return &RoleStore{coll: db.Collection(rolesCollection), now: time.Now}
}

var _ subscription.RoleStore = (*RoleStore)(nil)

func (s *RoleStore) SetRole(ctx context.Context, userID uuid.UUID, role subscription.Role) error {
	doc := roleDoc{UserID: userID.String(), Role: string(role), UpdatedAt: s.now().UTC()}
	if _, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.UserID}}, doc, upsert()); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// Role returns the stored role, or ok=false when none was ever set.
func (s *RoleStore) Role(ctx context.Context, userID uuid.UUID) (role subscription.Role, ok bool, err error) {
	var doc roleDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}}).Decode(&doc); err != nil {
		if mongopkg.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get role: %w", err)
	}
	return subscription.Role(doc.Role), true, nil
}
