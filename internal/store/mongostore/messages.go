package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Messages is a MongoDB store.Messages.
type Messages struct {
	coll *mongo.Collection
}

// normalize keeps array fields encoded as arrays so $addToSet works on them.
func normalize(m *model.Message) {
	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = []model.Reaction{}
	}
}

func visibleFilter(conversationID, viewer string) bson.M {
	return bson.M{
		"conversation": conversationID,
		"deletedBy":    bson.M{"$ne": viewer},
	}
}

func (s *Messages) Insert(ctx context.Context, m *model.Message) error {
	doc := m.Clone()
	normalize(doc)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (s *Messages) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "find message")
	}
	return &m, nil
}

func (s *Messages) GetMany(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	out := make(map[string]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	msgs, err := s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (s *Messages) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*model.Message, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return out, nil
}

func pageOptions(offset, limit int) *options.FindOptions {
	opts := options.Find().SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

func (s *Messages) List(ctx context.Context, q store.MessageQuery) ([]*model.Message, int, error) {
	filter := visibleFilter(q.ConversationID, q.Viewer)
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count messages")
	}
	opts := pageOptions(q.Offset, q.Limit).
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	msgs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return msgs, int(total), nil
}

func (s *Messages) Search(ctx context.Context, q store.SearchQuery) ([]*model.Message, int, error) {
	filter := visibleFilter(q.ConversationID, q.Viewer)
	filter["deletedForEveryone"] = false
	filter["$text"] = bson.M{"$search": q.Text}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count search hits")
	}
	score := bson.M{"$meta": "textScore"}
	opts := pageOptions(q.Offset, q.Limit).
		SetProjection(bson.M{"score": score}).
		SetSort(bson.D{{Key: "score", Value: score}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	msgs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return msgs, int(total), nil
}

func (s *Messages) Export(ctx context.Context, conversationID, viewer string) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, visibleFilter(conversationID, viewer), opts)
}

func (s *Messages) Update(ctx context.Context, id string, fn store.MessageMutation) (*model.Message, error) {
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
		normalize(next)

		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, next)
		if err != nil {
			return nil, errors.Wrap(err, "replace message")
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, store.ErrVersionConflict
}

func (s *Messages) MarkRead(ctx context.Context, conversationID, reader string, cutoff, at time.Time) (int64, error) {
	direct, err := s.coll.UpdateMany(ctx,
		bson.M{"conversation": conversationID, "recipient": reader, "isRead": false, "createdAt": bson.M{"$lte": cutoff}},
		bson.M{"$set": bson.M{"isRead": true, "readAt": at}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark direct messages read")
	}

	readKey := "readBy." + reader
	group, err := s.coll.UpdateMany(ctx,
		bson.M{
			"conversation": conversationID,
			"recipient":    bson.M{"$exists": false},
			"sender":       bson.M{"$ne": reader},
			"createdAt":    bson.M{"$lte": cutoff},
			readKey:        bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{readKey: at}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark group messages read")
	}
	return direct.ModifiedCount + group.ModifiedCount, nil
}

func (s *Messages) HideAll(ctx context.Context, conversationID, userID string, cutoff time.Time, participants []string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"conversation": conversationID, "deletedBy": bson.M{"$ne": userID}, "createdAt": bson.M{"$lte": cutoff}},
		bson.M{"$addToSet": bson.M{"deletedBy": userID}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "hide messages")
	}
	if len(participants) > 0 {
		if _, err := s.coll.DeleteMany(ctx, bson.M{
			"conversation": conversationID,
			"deletedBy":    bson.M{"$all": participants},
		}); err != nil {
			return res.ModifiedCount, errors.Wrap(err, "purge hidden messages")
		}
	}
	return res.ModifiedCount, nil
}

func (s *Messages) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Messages) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"conversation": conversationID})
	if err != nil {
		return 0, errors.Wrap(err, "delete conversation messages")
	}
	return res.DeletedCount, nil
}
