// Package mongo implements ledger.Store on MongoDB.
//
// Claims are decided by a single FindOneAndUpdate on the move document,
// conditioned on the move still being requested and unassigned. The
// offer updates that follow are separate writes; ExpireOffers also closes
// pending offers left behind on moves that are no longer requested.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/movedispatch/core/factory"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Config configures the MongoDB store.
type Config struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

func init() {
	_ = ledger.RegisterStore("mongo", func(conf map[string]any) (ledger.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return Open(context.Background(), c)
	})
}

// Store persists the ledger in MongoDB.
type Store struct {
	client    *mongo.Client
	moves     *mongo.Collection
	offers    *mongo.Collection
	history   *mongo.Collection
	locations *mongo.Collection
	counters  *mongo.Collection
}

var _ ledger.Store = (*Store)(nil)

// Open connects to cfg.URI and ensures the indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "movedispatch"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		moves:     db.Collection("moves"),
		offers:    db.Collection("offers"),
		history:   db.Collection("move_history"),
		locations: db.Collection("locations"),
		counters:  db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.offers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "move_id", Value: 1}}},
		{Keys: bson.D{{Key: "mover_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("offer indexes: %w", err)
	}
	if _, err := s.moves.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "assigned_mover", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		return fmt.Errorf("move indexes: %w", err)
	}
	if _, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "move_id", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("history indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error { return s.client.Disconnect(context.Background()) }

func (s *Store) CreateMove(ctx context.Context, m model.Move) error {
	_, err := s.moves.InsertOne(ctx, toMoveDoc(m))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: move %s already exists", model.ErrValidation, m.ID)
	}
	return err
}

func (s *Store) GetMove(ctx context.Context, id string) (model.Move, error) {
	var d moveDoc
	err := s.moves.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Move{}, fmt.Errorf("%w: move %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Move{}, err
	}
	return d.model()
}

func (s *Store) ActiveMove(ctx context.Context, moverID string) (model.Move, bool, error) {
	var d moveDoc
	err := s.moves.FindOne(ctx,
		bson.M{"assigned_mover": moverID, "status": bson.M{"$in": activePhases()}},
		options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Move{}, false, nil
	}
	if err != nil {
		return model.Move{}, false, err
	}
	m, err := d.model()
	return m, err == nil, err
}

func (s *Store) Transition(ctx context.Context, req ledger.TransitionRequest) (ledger.TransitionResult, error) {
	cur, err := s.GetMove(ctx, req.MoveID)
	if err != nil {
		return ledger.TransitionResult{}, err
	}
	if err := ledger.CheckTransition(cur, req); err != nil {
		return ledger.TransitionResult{}, err
	}
	var d moveDoc
	err = s.moves.FindOneAndUpdate(ctx,
		bson.M{"_id": req.MoveID, "status": string(req.From)},
		bson.M{"$set": bson.M{"status": string(req.To), "updated_at": req.At}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.TransitionResult{}, fmt.Errorf("%w: move %s", ledger.ErrStatusChanged, req.MoveID)
	}
	if err != nil {
		return ledger.TransitionResult{}, err
	}
	m, err := d.model()
	if err != nil {
		return ledger.TransitionResult{}, err
	}
	entry, err := s.appendHistory(ctx, m.ID, req.From, req.To, req.Actor, req.Note, req.At)
	if err != nil {
		return ledger.TransitionResult{}, err
	}
	res := ledger.TransitionResult{Move: m, Entry: entry}
	if ledger.ClosesOffers(req) {
		res.Closed, err = s.closePending(ctx, m.ID, "", req.At)
	}
	return res, err
}

func (s *Store) History(ctx context.Context, moveID string) ([]model.Transition, error) {
	if _, err := s.GetMove(ctx, moveID); err != nil {
		return nil, err
	}
	cur, err := s.history.Find(ctx, bson.M{"move_id": moveID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []transitionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Transition, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// InsertOffers refuses offers for a move that is no longer dispatchable.
// The move is read again after the write: a claim that won in between
// either saw the new offers in its sibling sweep or is seen here, and the
// inserted offers are then declined before the error is returned.
func (s *Store) InsertOffers(ctx context.Context, offers []model.Offer) error {
	if len(offers) == 0 {
		return nil
	}
	moveIDs := []string{}
	seen := map[string]bool{}
	docs := make([]any, 0, len(offers))
	for _, o := range offers {
		if !seen[o.MoveID] {
			m, err := s.GetMove(ctx, o.MoveID)
			if err != nil {
				return err
			}
			if err := ledger.CheckDispatchable(m); err != nil {
				return err
			}
			seen[o.MoveID] = true
			moveIDs = append(moveIDs, o.MoveID)
		}
		docs = append(docs, toOfferDoc(o))
	}
	_, err := s.offers.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: duplicate offer id", model.ErrValidation)
	}
	if err != nil {
		return err
	}
	for _, id := range moveIDs {
		m, err := s.GetMove(ctx, id)
		if err != nil {
			return err
		}
		if derr := ledger.CheckDispatchable(m); derr != nil {
			if _, err := s.settleOrphans(ctx, m, time.Now()); err != nil {
				return fmt.Errorf("settle refused offers: %w (cause: %w)", err, derr)
			}
			return derr
		}
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, id string) (model.Offer, error) {
	var d offerDoc
	err := s.offers.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Offer{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Offer{}, err
	}
	return d.model(), nil
}

func (s *Store) ListOffers(ctx context.Context, moveID string) ([]model.Offer, error) {
	return s.findOffers(ctx, bson.M{"move_id": moveID}, bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
}

func (s *Store) ListOpenOffers(ctx context.Context, moverID string, now time.Time) ([]model.Offer, error) {
	return s.findOffers(ctx,
		bson.M{"mover_id": moverID, "status": string(model.OfferPending), "expires_at": bson.M{"$gt": now}},
		bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: 1}})
}

func (s *Store) Claim(ctx context.Context, offerID, moveID, moverID string, now time.Time) (ledger.ClaimResult, error) {
	o, err := s.GetOffer(ctx, offerID)
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	m, err := s.GetMove(ctx, o.MoveID)
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	outcome, err := ledger.EvaluateClaim(o, m, moveID, moverID, now)
	switch {
	case outcome == ledger.ClaimLazyExpire:
		if xerr := s.expireOffer(ctx, o.ID, now); xerr != nil {
			return ledger.ClaimResult{}, xerr
		}
		return ledger.ClaimResult{}, err
	case err != nil:
		return ledger.ClaimResult{}, err
	case outcome == ledger.ClaimReplay:
		return ledger.ClaimResult{Move: m, Offer: o, Replayed: true}, nil
	}

	var d moveDoc
	err = s.moves.FindOneAndUpdate(ctx,
		bson.M{"_id": m.ID, "status": string(model.PhaseRequested), "assigned_mover": ""},
		bson.M{"$set": bson.M{
			"assigned_mover": moverID,
			"status":         string(model.PhaseAssigned),
			"updated_at":     now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.ClaimResult{}, fmt.Errorf("%w: move %s", model.ErrRaceLost, m.ID)
	}
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	if m, err = d.model(); err != nil {
		return ledger.ClaimResult{}, err
	}

	// The move write decided the race. A sweep may have expired the offer
	// since it was read; the winner's entry is completed regardless.
	o = ledger.Settle(o, model.OfferAccepted, "", now)
	if _, err := s.offers.UpdateOne(ctx,
		bson.M{"_id": o.ID, "status": bson.M{"$in": []string{string(model.OfferPending), string(model.OfferExpired)}}},
		bson.M{
			"$set":   bson.M{"status": string(o.Status), "responded_at": now},
			"$unset": bson.M{"close_reason": ""},
		}); err != nil {
		return ledger.ClaimResult{}, err
	}
	declined, err := s.closePending(ctx, m.ID, o.ID, now)
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	if _, err := s.appendHistory(ctx, m.ID, model.PhaseRequested, model.PhaseAssigned, moverID, "offer "+o.ID+" accepted", now); err != nil {
		return ledger.ClaimResult{}, err
	}
	return ledger.ClaimResult{Move: m, Offer: o, Declined: declined}, nil
}

func (s *Store) DeclineOffer(ctx context.Context, offerID, moverID string, now time.Time) (model.Offer, error) {
	o, err := s.GetOffer(ctx, offerID)
	if err != nil {
		return model.Offer{}, err
	}
	outcome, err := ledger.EvaluateDecline(o, moverID, now)
	switch {
	case outcome == ledger.DeclineLazyExpire:
		if xerr := s.expireOffer(ctx, o.ID, now); xerr != nil {
			return model.Offer{}, xerr
		}
		return model.Offer{}, err
	case err != nil:
		return model.Offer{}, err
	case outcome == ledger.DeclineNoop:
		return o, nil
	}
	res, err := s.offers.UpdateOne(ctx,
		bson.M{"_id": o.ID, "status": string(model.OfferPending)},
		bson.M{"$set": bson.M{
			"status":       string(model.OfferDeclined),
			"close_reason": string(model.CloseByMover),
			"responded_at": now,
		}})
	if err != nil {
		return model.Offer{}, err
	}
	if res.ModifiedCount == 0 {
		// Settled concurrently; report whatever won.
		return s.GetOffer(ctx, o.ID)
	}
	return ledger.Settle(o, model.OfferDeclined, model.CloseByMover, now), nil
}

func (s *Store) ExpireOffers(ctx context.Context, now time.Time) ([]model.Offer, error) {
	due, err := s.findOffers(ctx,
		bson.M{"status": string(model.OfferPending), "expires_at": bson.M{"$lte": now}},
		bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: 1}})
	if err != nil {
		return nil, err
	}
	out := make([]model.Offer, 0, len(due))
	for _, o := range due {
		res, err := s.offers.UpdateOne(ctx,
			bson.M{"_id": o.ID, "status": string(model.OfferPending)},
			bson.M{"$set": bson.M{"status": string(model.OfferExpired), "close_reason": string(model.CloseByExpiry)}})
		if err != nil {
			return out, err
		}
		if res.ModifiedCount == 1 {
			out = append(out, ledger.Settle(o, model.OfferExpired, model.CloseByExpiry, now))
		}
	}
	orphans, err := s.closeOrphans(ctx, now)
	return append(out, orphans...), err
}

// closeOrphans settles pending offers whose move has left requested,
// which happens when a claim stops between the move write and the offer
// updates. Only the declined offers are returned.
func (s *Store) closeOrphans(ctx context.Context, now time.Time) ([]model.Offer, error) {
	moveIDs, err := s.offers.Distinct(ctx, "move_id", bson.M{"status": string(model.OfferPending)})
	if err != nil || len(moveIDs) == 0 {
		return nil, err
	}
	cur, err := s.moves.Find(ctx, bson.M{
		"_id":    bson.M{"$in": moveIDs},
		"status": bson.M{"$ne": string(model.PhaseRequested)},
	})
	if err != nil {
		return nil, err
	}
	var docs []moveDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	var out []model.Offer
	for _, d := range docs {
		m, err := d.model()
		if err != nil {
			return out, err
		}
		closed, err := s.settleOrphans(ctx, m, now)
		if err != nil {
			return out, err
		}
		out = append(out, closed...)
	}
	return out, nil
}

// settleOrphans applies ledger.SettleOrphan to every pending offer of m.
func (s *Store) settleOrphans(ctx context.Context, m model.Move, now time.Time) ([]model.Offer, error) {
	pending, err := s.findOffers(ctx,
		bson.M{"move_id": m.ID, "status": string(model.OfferPending)},
		bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	if err != nil {
		return nil, err
	}
	var out []model.Offer
	for _, o := range pending {
		settled := ledger.SettleOrphan(o, m, now)
		update := bson.M{"$set": bson.M{
			"status":       string(settled.Status),
			"close_reason": string(settled.CloseReason),
			"responded_at": now,
		}}
		if settled.Status == model.OfferAccepted {
			update = bson.M{
				"$set":   bson.M{"status": string(settled.Status), "responded_at": now},
				"$unset": bson.M{"close_reason": ""},
			}
		}
		res, err := s.offers.UpdateOne(ctx, bson.M{"_id": o.ID, "status": string(model.OfferPending)}, update)
		if err != nil {
			return out, err
		}
		if res.ModifiedCount == 1 && settled.Status != model.OfferAccepted {
			out = append(out, settled)
		}
	}
	return out, nil
}

func (s *Store) UpsertLocation(ctx context.Context, smp model.LocationSample) (bool, error) {
	res, err := s.locations.UpdateOne(ctx,
		bson.M{"_id": smp.MoverID, "recorded_at": bson.M{"$lt": smp.RecordedAt}},
		bson.M{"$set": bson.M{
			"move_id":     smp.MoveID,
			"lat":         smp.Lat,
			"lng":         smp.Lng,
			"heading":     smp.Heading,
			"speed":       smp.Speed,
			"recorded_at": smp.RecordedAt,
			"received_at": smp.ReceivedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// A newer or equal sample already holds the mover's slot.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.ModifiedCount+res.UpsertedCount > 0, nil
}

func (s *Store) LatestLocation(ctx context.Context, moverID string) (model.LocationSample, error) {
	var d locationDoc
	err := s.locations.FindOne(ctx, bson.M{"_id": moverID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.LocationSample{}, fmt.Errorf("%w: no location for mover %s", model.ErrNotFound, moverID)
	}
	if err != nil {
		return model.LocationSample{}, err
	}
	return d.model(), nil
}

func (s *Store) findOffers(ctx context.Context, filter bson.M, sort bson.D) ([]model.Offer, error) {
	cur, err := s.offers.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	var docs []offerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Offer, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) expireOffer(ctx context.Context, id string, _ time.Time) error {
	_, err := s.offers.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(model.OfferPending)},
		bson.M{"$set": bson.M{"status": string(model.OfferExpired), "close_reason": string(model.CloseByExpiry)}})
	return err
}

// closePending declines the pending offers of a move except keep.
func (s *Store) closePending(ctx context.Context, moveID, keep string, now time.Time) ([]model.Offer, error) {
	filter := bson.M{"move_id": moveID, "status": string(model.OfferPending)}
	if keep != "" {
		filter["_id"] = bson.M{"$ne": keep}
	}
	pending, err := s.findOffers(ctx, filter, bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	if err != nil {
		return nil, err
	}
	var out []model.Offer
	for _, o := range pending {
		res, err := s.offers.UpdateOne(ctx,
			bson.M{"_id": o.ID, "status": string(model.OfferPending)},
			bson.M{"$set": bson.M{
				"status":       string(model.OfferDeclined),
				"close_reason": string(model.CloseBySystem),
				"responded_at": now,
			}})
		if err != nil {
			return out, err
		}
		if res.ModifiedCount == 1 {
			out = append(out, ledger.Settle(o, model.OfferDeclined, model.CloseBySystem, now))
		}
	}
	return out, nil
}

func (s *Store) appendHistory(ctx context.Context, moveID string, from, to model.Phase, actor, note string, at time.Time) (model.Transition, error) {
	var c struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "move_history"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return model.Transition{}, fmt.Errorf("next history seq: %w", err)
	}
	d := transitionDoc{Seq: c.Seq, MoveID: moveID, From: string(from), To: string(to), Actor: actor, Note: note, At: at}
	if _, err := s.history.InsertOne(ctx, d); err != nil {
		return model.Transition{}, err
	}
	return d.model(), nil
}

func activePhases() []string {
	var out []string
	for _, p := range model.Phases() {
		if p.Active() {
			out = append(out, string(p))
		}
	}
	return out
}
