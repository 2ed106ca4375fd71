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

// Notifications is a MongoDB store.Notifications. Expired records are
// removed by the TTL index on expiresAt and filtered until then.
type Notifications struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (s *Notifications) Record(ctx context.Context, n *model.Notification, window time.Duration) (*model.Notification, bool, error) {
	if n.PostID != "" {
		filter := bson.M{
			"recipient": n.RecipientID,
			"sender":    n.SenderID,
			"type":      n.Type,
			"post":      n.PostID,
			"createdAt": bson.M{"$gte": s.now().Add(-window)},
		}
		set := bson.M{
			"createdAt": n.CreatedAt,
			"expiresAt": n.ExpiresAt,
			"isRead":    false,
			"message":   n.Preview,
		}
		if n.ReactionType != "" {
			set["reactionType"] = n.ReactionType
		}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{{Key: "createdAt", Value: -1}})

		var existing model.Notification
		err := s.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&existing)
		if err == nil {
			return &existing, true, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, errors.Wrap(err, "refresh notification")
		}
	}

	if _, err := s.coll.InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, false, store.ErrDuplicate
		}
		return nil, false, errors.Wrap(err, "insert notification")
	}
	stored := *n
	return &stored, false, nil
}

func (s *Notifications) liveFilter(recipientID string, unreadOnly bool) bson.M {
	filter := bson.M{
		"recipient": recipientID,
		"expiresAt": bson.M{"$gt": s.now()},
	}
	if unreadOnly {
		filter["isRead"] = false
	}
	return filter
}

func (s *Notifications) List(ctx context.Context, q store.NotificationQuery) ([]*model.Notification, int, error) {
	filter := s.liveFilter(q.RecipientID, q.UnreadOnly)
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count notifications")
	}
	opts := pageOptions(q.Offset, q.Limit).
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, errors.Wrap(err, "find notifications")
	}
	var out []*model.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, errors.Wrap(err, "decode notifications")
	}
	return out, int(total), nil
}

func (s *Notifications) CountUnread(ctx context.Context, recipientID string) (int, error) {
	n, err := s.coll.CountDocuments(ctx, s.liveFilter(recipientID, true))
	if err != nil {
		return 0, errors.Wrap(err, "count unread notifications")
	}
	return int(n), nil
}

func (s *Notifications) MarkRead(ctx context.Context, id, recipientID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "recipient": recipientID},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return errors.Wrap(err, "mark notification read")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Notifications) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"recipient": recipientID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark all notifications read")
	}
	return res.ModifiedCount, nil
}

func (s *Notifications) Delete(ctx context.Context, id, recipientID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "recipient": recipientID})
	if err != nil {
		return errors.Wrap(err, "delete notification")
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Notifications) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"recipient": recipientID})
	if err != nil {
		return 0, errors.Wrap(err, "delete notifications")
	}
	return res.DeletedCount, nil
}
