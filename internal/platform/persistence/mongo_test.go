package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoDB_Ping(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	mt.Run("primary reachable", func(mt *mtest.T) {
		db := newMongoDB(logger, mt.Client, mt.DB, time.Second)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, db.Ping(context.Background()))
	})

	mt.Run("command error", func(mt *mtest.T) {
		db := newMongoDB(logger, mt.Client, mt.DB, time.Second)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "command ping requires authentication",
		}))

		err := db.Ping(context.Background())
		assert.ErrorContains(mt, err, "failed to ping MongoDB")
	})
}

func TestMongoDB_Collection(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("audit collection lives in the configured database", func(mt *mtest.T) {
		db := newMongoDB(slog.New(slog.NewJSONHandler(os.Stdout, nil)), mt.Client, mt.DB, 0)

		coll := db.Collection("settlement_events")
		assert.Equal(mt, "settlement_events", coll.Name())
		assert.Equal(mt, mt.DB.Name(), coll.Database().Name())
		assert.Equal(mt, mt.DB, db.Database())
	})
}
