package archive

import (
	"context"
	"fmt"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const RunCollection = "pipeline_runs"

// RunDocument is the archived form of one pipeline run
type RunDocument struct {
	ID               string          `bson:"_id"`
	RanAt            time.Time       `bson:"ran_at"`
	Status           string          `bson:"status"`
	ErrorMessage     string          `bson:"error_message,omitempty"`
	NotificationSent bool            `bson:"notification_sent"`
	Quotes           []QuoteDocument `bson:"quotes,omitempty"`
}

// QuoteDocument keeps decimals as strings so no precision is lost
type QuoteDocument struct {
	ID                    string `bson:"id"`
	Name                  string `bson:"name"`
	Symbol                string `bson:"symbol"`
	PriceUSD              string `bson:"price_usd"`
	MarketCapUSD          string `bson:"market_cap_usd"`
	Volume24hUSD          string `bson:"volume_24h_usd"`
	PriceChange24hPercent string `bson:"price_change_24h_percent"`
	MarketCapRank         int    `bson:"market_cap_rank"`
}

// NewRunDocument builds the archive document for a run. Failed runs have no
// batch id, so the document id falls back to a timestamp key.
func NewRunDocument(batchID string, ranAt time.Time, status models.RunStatus, errMsg string, notified bool, quotes []models.Quote) RunDocument {
	id := batchID
	if id == "" {
		id = "run-" + ranAt.UTC().Format("20060102T150405.000000000Z")
	}
	doc := RunDocument{
		ID:               id,
		RanAt:            ranAt.UTC(),
		Status:           string(status),
		ErrorMessage:     errMsg,
		NotificationSent: notified,
	}
	for _, q := range quotes {
		doc.Quotes = append(doc.Quotes, QuoteDocument{
			ID:                    q.ID,
			Name:                  q.Name,
			Symbol:                q.Symbol,
			PriceUSD:              q.PriceUSD.String(),
			MarketCapUSD:          q.MarketCapUSD.String(),
			Volume24hUSD:          q.Volume24hUSD.String(),
			PriceChange24hPercent: q.PriceChange24hPercent.String(),
			MarketCapRank:         q.MarketCapRank,
		})
	}
	return doc
}

// MongoArchiver mirrors run documents into MongoDB
type MongoArchiver struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *logger.Entry
}

// Connect opens a MongoDB client and verifies it with a ping
func Connect(ctx context.Context, uri, database string) (*MongoArchiver, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(5).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoArchiver{
		client:     client,
		collection: client.Database(database).Collection(RunCollection),
		log:        logger.GetLogger().WithComponent("archive"),
	}, nil
}

// Archive upserts the run document keyed by its id
func (a *MongoArchiver) Archive(ctx context.Context, doc RunDocument) error {
	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("archive run %s: %w", doc.ID, err)
	}
	a.log.WithField("run_id", doc.ID).Debug("Run archived")
	return nil
}

func (a *MongoArchiver) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
