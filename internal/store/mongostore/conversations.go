package mongostore

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Conversations is a MongoDB store.Conversations.
type Conversations struct {
	coll *mongo.Collection
}

func (s *Conversations) Create(ctx context.Context, c *model.Conversation) error {
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return errors.Wrap(err, "insert conversation")
	}
	return nil
}

func (s *Conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Conversations) GetDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	return s.findOne(ctx, bson.M{"directKey": directKey})
}

func (s *Conversations) findOne(ctx context.Context, filter bson.M) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "find conversation")
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int)
	}
	return &c, nil
}

// Update reads the record, applies fn and writes it back guarded by version.
// A lost race is retried with a fresh read.
func (s *Conversations) Update(ctx context.Context, id string, fn store.ConversationMutation) (*model.Conversation, error) {
	for attempt := 0; attempt < store.MaxUpdateRetries; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1

		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, next)
		if err != nil {
			return nil, errors.Wrap(err, "replace conversation")
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, store.ErrVersionConflict
}

func (s *Conversations) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	filter := bson.M{
		"participants": userID,
		"deletedBy":    bson.M{"$ne": userID},
	}
	opts := options.Find().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	var out []*model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode conversations")
	}
	for _, c := range out {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
	}
	return out, nil
}

func (s *Conversations) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete conversation")
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
