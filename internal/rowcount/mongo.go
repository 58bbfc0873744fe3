package rowcount

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// Mongo counts documents in the collection named after each table. With
// SchemaPerModule the module selects the database.
type Mongo struct {
	uri      string
	database string
	opts     Options
	client   *mongo.Client
}

// NewMongo creates a MongoDB provider.
func NewMongo(uri, database string, opts Options) *Mongo {
	return &Mongo{uri: uri, database: database, opts: opts}
}

func (m *Mongo) Connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.uri))
	if err != nil {
		return fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("pinging MongoDB: %w", err)
	}
	m.client = client
	return nil
}

func (m *Mongo) RowCount(ctx context.Context, ref schema.TableRef) (int64, bool, error) {
	if m.client == nil {
		return 0, false, fmt.Errorf("not connected; call Connect first")
	}
	dbName := m.database
	if m.opts.SchemaPerModule && ref.Module != "" {
		dbName = ref.Module
	}
	db := m.client.Database(dbName)

	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: ref.Table}})
	if err != nil {
		return 0, false, fmt.Errorf("listing collections in %s: %w", dbName, err)
	}
	if len(names) == 0 {
		return 0, false, nil
	}

	coll := db.Collection(ref.Table)
	var n int64
	if m.opts.Exact {
		n, err = coll.CountDocuments(ctx, bson.D{})
	} else {
		n, err = coll.EstimatedDocumentCount(ctx)
	}
	if err != nil {
		return 0, false, fmt.Errorf("counting documents in %s: %w", ref, err)
	}
	return n, true, nil
}

func (m *Mongo) Close() error {
	if m.client != nil {
		return m.client.Disconnect(context.Background())
	}
	return nil
}

var _ Provider = (*Mongo)(nil)
