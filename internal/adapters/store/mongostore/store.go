// Package mongostore is the production RoomStore. Change streams require the
// server to run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ domain.RoomStore = (*Store)(nil)

const (
	roomsColl        = "rooms"
	participantsColl = "participants"
	messagesColl     = "messages"
)

// Connect dials and pings the server.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}
	log.Info().Str("module", "store.mongostore").Msg("connecting to MongoDB")

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	log.Info().Str("module", "store.mongostore").Msg("MongoDB connection established")
	return client, nil
}

type Store struct {
	client       *mongo.Client
	rooms        *mongo.Collection
	participants *mongo.Collection
	messages     *mongo.Collection
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:       client,
		rooms:        db.Collection(roomsColl),
		participants: db.Collection(participantsColl),
		messages:     db.Collection(messagesColl),
	}
}

// EnsureIndexes creates the indexes used by room-scoped queries and the reaper.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.participants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "joinedAt", Value: 1}}},
		{Keys: bson.D{{Key: "lastSeenAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("participants indexes: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	return nil
}

type participantDoc struct {
	Key                string        `bson:"_id"`
	RoomID             domain.RoomID `bson:"roomId"`
	domain.Participant `bson:",inline"`
}

func participantKey(id domain.RoomID, uid domain.UserID) string {
	return string(id) + "/" + string(uid)
}

// setDoc marshals v for use in $set/$setOnInsert, dropping server-assigned fields.
func setDoc(v any, drop ...string) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range drop {
		delete(m, k)
	}
	return m, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	if room.Status == "" {
		room.Status = domain.RoomOpen
	}
	// $addToSet fails on null fields.
	if room.InvitedEmails == nil {
		room.InvitedEmails = []string{}
	}
	if room.EmceeEmails == nil {
		room.EmceeEmails = []string{}
	}
	if room.BlockedUsers == nil {
		room.BlockedUsers = []domain.BlockedUser{}
	}
	doc, err := setDoc(room, "_id", "createdAt", "closedAt")
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	res, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": room.ID},
		bson.M{"$setOnInsert": doc, "$currentDate": bson.M{"createdAt": true}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if res.UpsertedCount == 0 {
		return fmt.Errorf("room %s already exists: %w", room.ID, domain.ErrInvalidInput)
	}
	stored, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		return err
	}
	room.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var r domain.Room
	if err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

func (s *Store) Commit(ctx context.Context, id domain.RoomID, b domain.Batch) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, s.applyBatch(ctx, id, b)
	})
	return err
}

func (s *Store) applyBatch(ctx context.Context, id domain.RoomID, b domain.Batch) error {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if b.RequireOpen && !room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}

	addToSet := bson.M{}
	if len(b.AddInvited) > 0 {
		addToSet["invitedEmails"] = bson.M{"$each": normalizeAll(b.AddInvited)}
	}
	if len(b.AddEmcees) > 0 {
		addToSet["emceeEmails"] = bson.M{"$each": normalizeAll(b.AddEmcees)}
	}
	blocked := bson.A{}
	for _, bu := range b.AddBlocked {
		if room.IsBlocked(bu.UID, "") {
			continue
		}
		bu.Email = domain.NormalizeEmail(bu.Email)
		blocked = append(blocked, bu)
	}
	if len(blocked) > 0 {
		addToSet["blockedUsers"] = bson.M{"$each": blocked}
	}
	set := bson.M{}
	if b.SetStatus != "" && b.SetStatus != room.Status {
		set["status"] = b.SetStatus
		if b.SetStatus == domain.RoomClosed {
			set["closedAt"] = time.Now().UTC()
		}
	}
	if b.SetSummary != nil {
		set["summary"] = *b.SetSummary
	}
	if b.ClearFloor {
		set["activeSpeakerUid"] = ""
	}

	update := bson.M{}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(update) > 0 {
		if _, err := s.rooms.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
			return fmt.Errorf("update room: %w", err)
		}
	}
	if len(b.RemoveEmcees) > 0 {
		if _, err := s.rooms.UpdateOne(ctx, bson.M{"_id": id},
			bson.M{"$pull": bson.M{"emceeEmails": bson.M{"$in": normalizeAll(b.RemoveEmcees)}}},
		); err != nil {
			return fmt.Errorf("remove emcees: %w", err)
		}
	}
	if b.ReleaseFloorOf != "" && !b.ClearFloor {
		if _, err := s.rooms.UpdateOne(ctx,
			bson.M{"_id": id, "activeSpeakerUid": b.ReleaseFloorOf},
			bson.M{"$set": bson.M{"activeSpeakerUid": ""}},
		); err != nil {
			return fmt.Errorf("release floor: %w", err)
		}
	}

	for uid, p := range b.Patches {
		fields := bson.M{}
		if p.IsMuted != nil {
			fields["isMuted"] = *p.IsMuted
		}
		res, err := s.participants.UpdateOne(ctx, bson.M{"_id": participantKey(id, uid)}, bson.M{"$set": fields})
		if err != nil {
			return fmt.Errorf("patch participant: %w", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("participant %s: %w", uid, domain.ErrNotPresent)
		}
	}
	if len(b.DeleteParticipants) > 0 {
		keys := make(bson.A, 0, len(b.DeleteParticipants))
		for _, uid := range b.DeleteParticipants {
			keys = append(keys, participantKey(id, uid))
		}
		if _, err := s.participants.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}}); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
	}
	return nil
}

func (s *Store) AcquireFloor(ctx context.Context, id domain.RoomID, uid domain.UserID, force bool) error {
	if _, err := s.GetParticipant(ctx, id, uid); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("participant %s: %w", uid, domain.ErrNotPresent)
		}
		return err
	}
	filter := bson.M{"_id": id, "status": domain.RoomOpen}
	if !force {
		filter["activeSpeakerUid"] = bson.M{"$in": bson.A{"", uid}}
	}
	res, err := s.rooms.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"activeSpeakerUid": uid}})
	if err != nil {
		return fmt.Errorf("acquire floor: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if !room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	return fmt.Errorf("held by %s: %w", room.ActiveSpeakerUID, domain.ErrFloorTaken)
}

func (s *Store) ReleaseFloor(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	if uid == "" {
		return nil
	}
	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": id, "activeSpeakerUid": uid},
		bson.M{"$set": bson.M{"activeSpeakerUid": ""}},
	)
	if err != nil {
		return fmt.Errorf("release floor: %w", err)
	}
	return nil
}

// PutParticipant runs in a transaction that also writes the room document,
// so a concurrent Remove or End either commits first and is seen by the
// guard, or conflicts and is retried.
func (s *Store) PutParticipant(ctx context.Context, id domain.RoomID, p *domain.Participant) error {
	p.Email = domain.NormalizeEmail(p.Email)
	fields, err := setDoc(p, "joinedAt", "lastSeenAt", "isMuted")
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	fields["roomId"] = id

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, s.putParticipant(ctx, id, p, fields)
	})
	if err != nil {
		return err
	}
	stored, err := s.GetParticipant(ctx, id, p.UID)
	if err != nil {
		return err
	}
	p.IsMuted, p.JoinedAt, p.LastSeenAt = stored.IsMuted, stored.JoinedAt, stored.LastSeenAt
	return nil
}

func (s *Store) putParticipant(ctx context.Context, id domain.RoomID, p *domain.Participant, fields bson.M) error {
	blockedBy := bson.A{bson.M{"uid": p.UID}}
	if p.Email != "" {
		blockedBy = append(blockedBy, bson.M{"email": p.Email})
	}
	res, err := s.rooms.UpdateOne(ctx,
		bson.M{
			"_id":          id,
			"status":       domain.RoomOpen,
			"blockedUsers": bson.M{"$not": bson.M{"$elemMatch": bson.M{"$or": blockedBy}}},
		},
		bson.M{"$inc": bson.M{"joins": 1}},
	)
	if err != nil {
		return fmt.Errorf("join guard: %w", err)
	}
	if res.MatchedCount == 0 {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return err
		}
		if !room.IsOpen() {
			return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
		}
		return fmt.Errorf("%w: blocked", domain.ErrAccessDenied)
	}

	if _, err := s.participants.UpdateOne(ctx,
		bson.M{"_id": participantKey(id, p.UID)},
		bson.M{
			"$set":         fields,
			"$setOnInsert": bson.M{"isMuted": p.IsMuted},
			"$currentDate": bson.M{"joinedAt": true, "lastSeenAt": true},
		},
		options.UpdateOne().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) (*domain.Participant, error) {
	var doc participantDoc
	if err := s.participants.FindOne(ctx, bson.M{"_id": participantKey(id, uid)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("participant %s: %w", uid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &doc.Participant, nil
}

func (s *Store) ListParticipants(ctx context.Context, id domain.RoomID) ([]domain.Participant, error) {
	cur, err := s.participants.Find(ctx, bson.M{"roomId": id},
		options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	var docs []participantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Participant)
	}
	return out, nil
}

func (s *Store) TouchParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	res, err := s.participants.UpdateOne(ctx,
		bson.M{"_id": participantKey(id, uid)},
		bson.M{"$currentDate": bson.M{"lastSeenAt": true}},
	)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("participant %s: %w", uid, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListStaleParticipants(ctx context.Context, before time.Time) ([]domain.ParticipantRef, error) {
	cur, err := s.participants.Find(ctx, bson.M{"lastSeenAt": bson.M{"$lt": before}})
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	var docs []participantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode stale: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := bson.A{}
	for _, d := range docs {
		ids = append(ids, d.RoomID)
	}
	rcur, err := s.rooms.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": domain.RoomOpen},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	var open []struct {
		ID domain.RoomID `bson:"_id"`
	}
	if err := rcur.All(ctx, &open); err != nil {
		return nil, fmt.Errorf("decode open rooms: %w", err)
	}
	isOpen := make(map[domain.RoomID]bool, len(open))
	for _, r := range open {
		isOpen[r.ID] = true
	}

	var out []domain.ParticipantRef
	for _, d := range docs {
		if isOpen[d.RoomID] {
			out = append(out, domain.ParticipantRef{RoomID: d.RoomID, UID: d.UID})
		}
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, id domain.RoomID, m *domain.RoomMessage) error {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if !room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	m.ID = domain.MessageID(bson.NewObjectID().Hex())
	m.RoomID = id
	doc, err := setDoc(m, "_id", "createdAt")
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$setOnInsert": doc, "$currentDate": bson.M{"createdAt": true}},
		options.UpdateOne().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	var stored domain.RoomMessage
	if err := s.messages.FindOne(ctx, bson.M{"_id": m.ID}).Decode(&stored); err != nil {
		return fmt.Errorf("read back message: %w", err)
	}
	m.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) ListMessages(ctx context.Context, id domain.RoomID, limit int) ([]domain.RoomMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, bson.M{"roomId": id}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var out []domain.RoomMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func normalizeAll(emails []string) bson.A {
	out := make(bson.A, 0, len(emails))
	for _, e := range emails {
		if e = domain.NormalizeEmail(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
