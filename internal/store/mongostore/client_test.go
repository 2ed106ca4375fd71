package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/freetalk/messaging/internal/store"
)

var (
	_ store.Conversations = (*Conversations)(nil)
	_ store.Messages      = (*Messages)(nil)
	_ store.Notifications = (*Notifications)(nil)
	_ store.Users         = (*Users)(nil)
)

func TestConfigValidateAndSetDefaults(t *testing.T) {
	cfg := Config{URI: "mongodb://localhost:27017", Database: "freetalk"}
	require.NoError(t, cfg.ValidateAndSetDefaults())
	assert.Equal(t, defaultMaxPoolSize, cfg.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, cfg.MaxRetry)

	assert.Error(t, (&Config{Database: "freetalk"}).ValidateAndSetDefaults())
	assert.Error(t, (&Config{URI: "mongodb://localhost"}).ValidateAndSetDefaults())
}

func TestVisibleFilterExcludesViewerDeletions(t *testing.T) {
	f := visibleFilter("c1", "u1")
	assert.Equal(t, "c1", f["conversation"])
	assert.Equal(t, bson.M{"$ne": "u1"}, f["deletedBy"])
}
