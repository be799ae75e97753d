package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
)

// RecordAttempt persists a finished attempt.
func (s *Store) RecordAttempt(ctx context.Context, a *attempt.Attempt) error {
	_, err := s.attempts().InsertOne(ctx, toAttemptModel(a))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return crank.ErrAttemptExists
		}
		return fmt.Errorf("crank/mongo: record attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	var m attemptModel
	err := s.attempts().FindOne(ctx, bson.M{"_id": attemptID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, crank.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("crank/mongo: get attempt: %w", err)
	}
	return fromAttemptModel(&m)
}

// ListAttempts returns attempts matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	filter := bson.M{}
	if !opts.Queue.IsZero() {
		filter["queue"] = opts.Queue.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_us", Value: -1},
		{Key: "_id", Value: -1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.find(ctx, "list attempts", filter, findOpts)
}

// ListRound returns every attempt of a round, oldest first.
func (s *Store) ListRound(ctx context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_us", Value: 1},
		{Key: "_id", Value: 1},
	})
	return s.find(ctx, "list round", bson.M{"round_id": roundID.String()}, findOpts)
}

// PurgeAttempts removes attempts created before the given time.
func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.attempts().DeleteMany(ctx, bson.M{
		"created_us": bson.M{"$lt": before.UnixMicro()},
	})
	if err != nil {
		return 0, fmt.Errorf("crank/mongo: purge attempts: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*attempt.Attempt, error) {
	cursor, err := s.attempts().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: %s: %w", op, err)
	}
	var models []attemptModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("crank/mongo: %s: %w", op, err)
	}

	attempts := make([]*attempt.Attempt, 0, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
