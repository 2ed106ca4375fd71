// Package mongostore implements the store contracts on MongoDB.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/pkg/logger"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 10

	collConversations = "conversations"
	collMessages      = "messages"
	collNotifications = "notifications"
	collUsers         = "users"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize int
	MaxRetry    int
}

// ValidateAndSetDefaults validates the configuration and fills defaults.
func (c *Config) ValidateAndSetDefaults() error {
	if c.URI == "" {
		return errors.New("mongo uri is required")
	}
	if c.Database == "" {
		return errors.New("mongo database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	return nil
}

// Client wraps the driver client and the selected database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// Connect dials MongoDB, retrying while the server is not yet reachable.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetServerSelectionTimeout(5 * time.Second)

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn("mongo not ready, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second / 2)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect to mongodb database %q", cfg.Database)
	}

	log.Info("Connected to MongoDB", zap.String("database", cfg.Database))
	return &Client{client: cli, db: cli.Database(cfg.Database), log: log}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

// DB returns the selected database.
func (c *Client) DB() *mongo.Database {
	return c.db
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the queries rely on. Safe to call on every start.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		collConversations: {
			{Keys: bson.D{{Key: "participants", Value: 1}}},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
			{
				Keys:    bson.D{{Key: "directKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "messageType", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "content", Value: "text"}, {Key: "media.filename", Value: "text"}}},
		},
		collNotifications: {
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "isRead", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "sender", Value: 1}, {Key: "type", Value: 1}, {Key: "post", Value: 1}}},
			{
				Keys:    bson.D{{Key: "expiresAt", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for coll, models := range specs {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", coll)
		}
	}
	c.log.Info("MongoDB indexes ensured")
	return nil
}

// Conversations returns the conversation store.
func (c *Client) Conversations() *Conversations {
	return &Conversations{coll: c.db.Collection(collConversations)}
}

// Messages returns the message store.
func (c *Client) Messages() *Messages {
	return &Messages{coll: c.db.Collection(collMessages)}
}

// Notifications returns the notification store.
func (c *Client) Notifications() *Notifications {
	return &Notifications{coll: c.db.Collection(collNotifications), now: time.Now}
}

// Users returns the user directory.
func (c *Client) Users() *Users {
	return &Users{coll: c.db.Collection(collUsers)}
}
