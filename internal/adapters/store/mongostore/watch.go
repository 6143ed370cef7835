package mongostore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// The stream is opened before the initial read so no change falls between them.

func (s *Store) WatchRoom(ctx context.Context, id domain.RoomID) (<-chan *domain.Room, error) {
	cs, err := s.rooms.Watch(ctx,
		mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": id}}}},
		options.ChangeStream().SetFullDocument(options.UpdateLookup),
	)
	if err != nil {
		return nil, fmt.Errorf("watch room: %w", err)
	}
	initial, err := s.GetRoom(ctx, id)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, err
	}

	out := make(chan *domain.Room, 1)
	out <- initial
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var ev struct {
				FullDocument *domain.Room `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				log.Error().Err(err).Str("module", "store.mongostore").Msg("decode room event")
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			select {
			case out <- ev.FullDocument:
			case <-ctx.Done():
				return
			}
		}
		logStreamEnd(ctx, cs, "room")
	}()
	return out, nil
}

func (s *Store) WatchParticipants(ctx context.Context, id domain.RoomID) (<-chan []domain.Participant, error) {
	prefix := "^" + regexp.QuoteMeta(string(id)+"/")
	// Heartbeats only touch lastSeenAt and are filtered out.
	match := bson.M{
		"documentKey._id": bson.M{"$regex": prefix},
		"$or": bson.A{
			bson.M{"operationType": bson.M{"$ne": "update"}},
			bson.M{"updateDescription.updatedFields.joinedAt": bson.M{"$exists": true}},
			bson.M{"updateDescription.updatedFields.isMuted": bson.M{"$exists": true}},
			bson.M{"updateDescription.updatedFields.name": bson.M{"$exists": true}},
		},
	}
	cs, err := s.participants.Watch(ctx, mongo.Pipeline{{{Key: "$match", Value: match}}})
	if err != nil {
		return nil, fmt.Errorf("watch participants: %w", err)
	}
	initial, err := s.ListParticipants(ctx, id)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, err
	}

	out := make(chan []domain.Participant, 1)
	out <- initial
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			list, err := s.ListParticipants(ctx, id)
			if err != nil {
				log.Error().Err(err).Str("module", "store.mongostore").Msg("relist participants")
				continue
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
		logStreamEnd(ctx, cs, "participants")
	}()
	return out, nil
}

func (s *Store) WatchMessages(ctx context.Context, id domain.RoomID, after time.Time) (<-chan []domain.RoomMessage, error) {
	cs, err := s.messages.Watch(ctx, mongo.Pipeline{{{Key: "$match", Value: bson.M{
		"operationType":       "insert",
		"fullDocument.roomId": id,
	}}}})
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}
	cur, err := s.messages.Find(ctx,
		bson.M{"roomId": id, "createdAt": bson.M{"$gt": after}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var initial []domain.RoomMessage
	if err := cur.All(ctx, &initial); err != nil {
		_ = cs.Close(context.Background())
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make(chan []domain.RoomMessage, 1)
	seen := make(map[domain.MessageID]bool, len(initial))
	for _, m := range initial {
		seen[m.ID] = true
	}
	if len(initial) > 0 {
		out <- initial
	}
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var ev struct {
				FullDocument domain.RoomMessage `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				log.Error().Err(err).Str("module", "store.mongostore").Msg("decode message event")
				continue
			}
			m := ev.FullDocument
			if seen[m.ID] || !m.CreatedAt.After(after) {
				continue
			}
			seen[m.ID] = true
			select {
			case out <- []domain.RoomMessage{m}:
			case <-ctx.Done():
				return
			}
		}
		logStreamEnd(ctx, cs, "messages")
	}()
	return out, nil
}

func logStreamEnd(ctx context.Context, cs *mongo.ChangeStream, what string) {
	if ctx.Err() != nil {
		return
	}
	log.Warn().Err(cs.Err()).Str("module", "store.mongostore").Str("stream", what).Msg("change stream ended")
}
