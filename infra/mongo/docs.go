package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/movedispatch/core/model"
)

type placeDoc struct {
	Address     string  `bson:"address"`
	Lat         float64 `bson:"lat"`
	Lng         float64 `bson:"lng"`
	Floor       int     `bson:"floor"`
	HasElevator bool    `bson:"has_elevator"`
}

type moveDoc struct {
	ID             string                       `bson:"_id"`
	ClientID       string                       `bson:"client_id"`
	Status         string                       `bson:"status"`
	Category       string                       `bson:"category"`
	AssignedMover  string                       `bson:"assigned_mover"`
	Pickup         placeDoc                     `bson:"pickup"`
	Dropoff        placeDoc                     `bson:"dropoff"`
	Classification model.ClassificationSnapshot `bson:"classification"`
	Price          string                       `bson:"price"`
	Currency       string                       `bson:"currency"`
	ScheduledAt    *time.Time                   `bson:"scheduled_at,omitempty"`
	CreatedAt      time.Time                    `bson:"created_at"`
	UpdatedAt      time.Time                    `bson:"updated_at"`
}

func toPlaceDoc(p model.Place) placeDoc {
	return placeDoc{Address: p.Address, Lat: p.Lat, Lng: p.Lng, Floor: p.Floor, HasElevator: p.HasElevator}
}

func (p placeDoc) model() model.Place {
	return model.Place{Address: p.Address, Lat: p.Lat, Lng: p.Lng, Floor: p.Floor, HasElevator: p.HasElevator}
}

func toMoveDoc(m model.Move) moveDoc {
	return moveDoc{
		ID: m.ID, ClientID: m.ClientID, Status: string(m.Status), Category: string(m.Category),
		AssignedMover: m.AssignedMover, Pickup: toPlaceDoc(m.Pickup), Dropoff: toPlaceDoc(m.Dropoff),
		Classification: m.Classification, Price: m.Price.String(), Currency: m.Currency,
		ScheduledAt: m.ScheduledAt, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (d moveDoc) model() (model.Move, error) {
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return model.Move{}, fmt.Errorf("decode price of move %s: %w", d.ID, err)
	}
	m := model.Move{
		ID: d.ID, ClientID: d.ClientID, Status: model.Phase(d.Status), Category: model.Category(d.Category),
		AssignedMover: d.AssignedMover, Pickup: d.Pickup.model(), Dropoff: d.Dropoff.model(),
		Classification: d.Classification, Price: price, Currency: d.Currency,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
	if d.ScheduledAt != nil {
		t := d.ScheduledAt.UTC()
		m.ScheduledAt = &t
	}
	return m, nil
}

type offerDoc struct {
	ID          string     `bson:"_id"`
	MoveID      string     `bson:"move_id"`
	MoverID     string     `bson:"mover_id"`
	Attempt     int        `bson:"attempt"`
	Status      string     `bson:"status"`
	SentAt      time.Time  `bson:"sent_at"`
	RespondedAt *time.Time `bson:"responded_at,omitempty"`
	ExpiresAt   time.Time  `bson:"expires_at"`
	CloseReason string     `bson:"close_reason"`
}

func toOfferDoc(o model.Offer) offerDoc {
	return offerDoc{
		ID: o.ID, MoveID: o.MoveID, MoverID: o.MoverID, Attempt: o.Attempt, Status: string(o.Status),
		SentAt: o.SentAt, RespondedAt: o.RespondedAt, ExpiresAt: o.ExpiresAt, CloseReason: string(o.CloseReason),
	}
}

func (d offerDoc) model() model.Offer {
	o := model.Offer{
		ID: d.ID, MoveID: d.MoveID, MoverID: d.MoverID, Attempt: d.Attempt, Status: model.OfferStatus(d.Status),
		SentAt: d.SentAt.UTC(), ExpiresAt: d.ExpiresAt.UTC(), CloseReason: model.CloseReason(d.CloseReason),
	}
	if d.RespondedAt != nil {
		t := d.RespondedAt.UTC()
		o.RespondedAt = &t
	}
	return o
}

type transitionDoc struct {
	Seq    int64     `bson:"_id"`
	MoveID string    `bson:"move_id"`
	From   string    `bson:"from"`
	To     string    `bson:"to"`
	Actor  string    `bson:"actor"`
	Note   string    `bson:"note"`
	At     time.Time `bson:"at"`
}

func (d transitionDoc) model() model.Transition {
	return model.Transition{
		Seq: d.Seq, MoveID: d.MoveID, From: model.Phase(d.From), To: model.Phase(d.To),
		Actor: d.Actor, Note: d.Note, At: d.At.UTC(),
	}
}

type locationDoc struct {
	MoverID    string    `bson:"_id"`
	MoveID     string    `bson:"move_id"`
	Lat        float64   `bson:"lat"`
	Lng        float64   `bson:"lng"`
	Heading    *float64  `bson:"heading,omitempty"`
	Speed      *float64  `bson:"speed,omitempty"`
	RecordedAt time.Time `bson:"recorded_at"`
	ReceivedAt time.Time `bson:"received_at"`
}

func (d locationDoc) model() model.LocationSample {
	return model.LocationSample{
		MoverID: d.MoverID, MoveID: d.MoveID, Lat: d.Lat, Lng: d.Lng, Heading: d.Heading, Speed: d.Speed,
		RecordedAt: d.RecordedAt.UTC(), ReceivedAt: d.ReceivedAt.UTC(),
	}
}
