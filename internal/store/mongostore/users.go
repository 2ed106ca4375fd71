package mongostore

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Users reads the identity subsystem's user collection.
type Users struct {
	coll *mongo.Collection
}

func (s *Users) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

func (s *Users) GetMany(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "find users")
	}
	var users []*model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, errors.Wrap(err, "decode users")
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *Users) ClearDeviceToken(ctx context.Context, userID, token string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "deviceToken": token},
		bson.M{"$unset": bson.M{"deviceToken": ""}},
	)
	return errors.Wrap(err, "clear device token")
}
