package auth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig locates the user collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// ConnectMongo dials and pings the document database.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	return cli, nil
}

// MongoDirectory accepts an identity only if a user document with that _id
// exists. Ids that look like ObjectIDs match both representations.
type MongoDirectory struct {
	coll *mongo.Collection
}

// NewMongoDirectory returns a directory backed by coll.
func NewMongoDirectory(coll *mongo.Collection) *MongoDirectory {
	return &MongoDirectory{coll: coll}
}

// Validate implements Validator. The token is not inspected.
func (d *MongoDirectory) Validate(ctx context.Context, userID, _ string) error {
	ids := bson.A{userID}
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		ids = append(ids, oid)
	}

	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	err := d.coll.FindOne(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Wrapf(ErrUnknownUser, "user %s", userID)
	}
	if err != nil {
		return errors.Wrap(err, "lookup user")
	}
	return nil
}
