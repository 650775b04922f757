// Package ledgertest provides a behavioural test suite shared by every
// ledger.Store backend.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) ledger.Store

// T0 is the reference time used by the fixtures.
var T0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Move returns a valid requested move owned by client.
func Move(id, client string) model.Move {
	return model.Move{
		ID:       id,
		ClientID: client,
		Status:   model.PhaseRequested,
		Category: model.CategoryInstant,
		Pickup:   model.Place{Address: "1 Rue A", Lat: 48.85, Lng: 2.35, Floor: 2},
		Dropoff:  model.Place{Address: "9 Rue B", Lat: 48.86, Lng: 2.36, HasElevator: true},
		Classification: model.ClassificationSnapshot{
			TotalItems: 2, TotalWeightKg: 85, TotalPoints: 11, Tier: model.TierRegular,
		},
		Price:     decimal.RequireFromString("149.90"),
		Currency:  "EUR",
		CreatedAt: T0,
		UpdatedAt: T0,
	}
}

// Offer returns a pending offer sent at sent with a 60 second window.
func Offer(id, moveID, mover string, sent time.Time) model.Offer {
	return model.Offer{
		ID: id, MoveID: moveID, MoverID: mover, Attempt: 1,
		Status: model.OfferPending, SentAt: sent, ExpiresAt: sent.Add(60 * time.Second),
	}
}

// Run executes the suite against stores returned by open.
func Run(t *testing.T, open Opener) {
	tests := map[string]func(*testing.T, ledger.Store){
		"CreateAndGet":          testCreateAndGet,
		"ThreeMovers":           testThreeMovers,
		"ConcurrentAccept":      testConcurrentAccept,
		"ExpiredBeforeSweep":    testExpiredBeforeSweep,
		"ReplayAccept":          testReplayAccept,
		"Decline":               testDecline,
		"ExpireOffers":          testExpireOffers,
		"ListOpenOffers":        testListOpenOffers,
		"TransitionCAS":         testTransitionCAS,
		"CancelClosesOffers":    testCancelClosesOffers,
		"ActiveMove":            testActiveMove,
		"LocationNewestWins":    testLocationNewestWins,
		"UnknownOfferNotFound":  testUnknownOffer,
		"OfferForOtherMoverErr": testOfferForOtherMover,
		"InsertAfterClaim":      testInsertAfterClaim,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func seed(t *testing.T, s ledger.Store, moveID string, movers ...string) []model.Offer {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateMove(ctx, Move(moveID, "client-"+moveID)))
	offers := make([]model.Offer, 0, len(movers))
	for _, m := range movers {
		offers = append(offers, Offer(moveID+"-"+m, moveID, m, T0))
	}
	if len(offers) > 0 {
		require.NoError(t, s.InsertOffers(ctx, offers))
	}
	return offers
}

func testCreateAndGet(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	want := Move("m1", "c1")
	require.NoError(t, s.CreateMove(ctx, want))
	got, err := s.GetMove(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ClientID, got.ClientID)
	assert.Equal(t, model.PhaseRequested, got.Status)
	assert.True(t, want.Price.Equal(got.Price), "price %s", got.Price)
	assert.Equal(t, want.Classification, got.Classification)
	assert.Equal(t, want.Pickup, got.Pickup)
	assert.Empty(t, got.AssignedMover)

	err = s.CreateMove(ctx, want)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = s.GetMove(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testThreeMovers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A", "B", "C")

	res, err := s.Claim(ctx, "M-B", "M", "B", T0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "B", res.Move.AssignedMover)
	assert.Equal(t, model.PhaseAssigned, res.Move.Status)
	assert.Equal(t, model.OfferAccepted, res.Offer.Status)
	assert.Len(t, res.Declined, 2)

	// A and C were declined by B's success, before their own calls.
	for _, id := range []string{"M-A", "M-C"} {
		o, err := s.GetOffer(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OfferDeclined, o.Status, id)
		assert.Equal(t, model.CloseBySystem, o.CloseReason, id)
	}

	_, err = s.Claim(ctx, "M-A", "M", "A", T0.Add(12*time.Second))
	assert.ErrorIs(t, err, model.ErrRaceLost)
	_, err = s.Claim(ctx, "M-C", "M", "C", T0.Add(15*time.Second))
	assert.ErrorIs(t, err, model.ErrRaceLost)

	m, err := s.GetMove(ctx, "M")
	require.NoError(t, err)
	assert.Equal(t, "B", m.AssignedMover)

	hist, err := s.History(ctx, "M")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.PhaseRequested, hist[0].From)
	assert.Equal(t, model.PhaseAssigned, hist[0].To)
	assert.Equal(t, "B", hist[0].Actor)
}

func testConcurrentAccept(t *testing.T, s ledger.Store) {
	const n = 16
	movers := make([]string, n)
	for i := range movers {
		movers[i] = fmt.Sprintf("mv%02d", i)
	}
	offers := seed(t, s, "race", movers...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		lost    int
	)
	start := make(chan struct{})
	for _, o := range offers {
		wg.Add(1)
		go func(o model.Offer) {
			defer wg.Done()
			<-start
			_, err := s.Claim(context.Background(), o.ID, o.MoveID, o.MoverID, T0.Add(5*time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, o.MoverID)
			case errors.Is(err, model.ErrRaceLost):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(o)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, lost)

	all, err := s.ListOffers(context.Background(), "race")
	require.NoError(t, err)
	accepted := 0
	for _, o := range all {
		switch o.Status {
		case model.OfferAccepted:
			accepted++
			assert.Equal(t, winners[0], o.MoverID)
		case model.OfferDeclined:
		default:
			t.Errorf("offer %s left in %s", o.ID, o.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func testExpiredBeforeSweep(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A")
	_, err := s.Claim(ctx, "M-A", "M", "A", T0.Add(61*time.Second))
	require.ErrorIs(t, err, model.ErrExpired)

	o, err := s.GetOffer(ctx, "M-A")
	require.NoError(t, err)
	assert.Equal(t, model.OfferExpired, o.Status)
	m, err := s.GetMove(ctx, "M")
	require.NoError(t, err)
	assert.Empty(t, m.AssignedMover)
	assert.Equal(t, model.PhaseRequested, m.Status)

	_, err = s.Claim(ctx, "M-A", "M", "A", T0.Add(62*time.Second))
	assert.ErrorIs(t, err, model.ErrExpired)
}

func testReplayAccept(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A")
	first, err := s.Claim(ctx, "M-A", "M", "A", T0.Add(time.Second))
	require.NoError(t, err)
	again, err := s.Claim(ctx, "M-A", "M", "A", T0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Move.AssignedMover, again.Move.AssignedMover)

	hist, err := s.History(ctx, "M")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func testDecline(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A", "B", "C")

	o, err := s.DeclineOffer(ctx, "M-A", "A", T0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OfferDeclined, o.Status)
	assert.Equal(t, model.CloseByMover, o.CloseReason)

	o, err = s.DeclineOffer(ctx, "M-A", "A", T0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OfferDeclined, o.Status)

	// Declining does not touch siblings or the move.
	b, err := s.GetOffer(ctx, "M-B")
	require.NoError(t, err)
	assert.Equal(t, model.OfferPending, b.Status)
	m, err := s.GetMove(ctx, "M")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRequested, m.Status)

	_, err = s.DeclineOffer(ctx, "M-B", "A", T0.Add(time.Second))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Claim(ctx, "M-B", "M", "B", T0.Add(3*time.Second))
	require.NoError(t, err)
	_, err = s.DeclineOffer(ctx, "M-B", "B", T0.Add(4*time.Second))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.Claim(ctx, "M-A", "M", "A", T0.Add(5*time.Second))
	assert.ErrorIs(t, err, model.ErrRaceLost)

	seed(t, s, "N", "A")
	_, err = s.DeclineOffer(ctx, "N-A", "A", T0.Add(90*time.Second))
	assert.ErrorIs(t, err, model.ErrExpired)
}

func testExpireOffers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A", "B")
	require.NoError(t, s.InsertOffers(ctx, []model.Offer{Offer("M-late", "M", "C", T0.Add(50*time.Second))}))

	expired, err := s.ExpireOffers(ctx, T0.Add(70*time.Second))
	require.NoError(t, err)
	assert.Len(t, expired, 2)
	for _, o := range expired {
		assert.Equal(t, model.OfferExpired, o.Status)
		assert.Equal(t, model.CloseByExpiry, o.CloseReason)
	}

	again, err := s.ExpireOffers(ctx, T0.Add(70*time.Second))
	require.NoError(t, err)
	assert.Empty(t, again)

	late, err := s.GetOffer(ctx, "M-late")
	require.NoError(t, err)
	assert.Equal(t, model.OfferPending, late.Status)
}

func testListOpenOffers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M1", "A")
	seed(t, s, "M2", "B")
	require.NoError(t, s.CreateMove(ctx, Move("M3", "c3")))
	require.NoError(t, s.InsertOffers(ctx, []model.Offer{Offer("M3-A", "M3", "A", T0.Add(30*time.Second))}))

	open, err := s.ListOpenOffers(ctx, "A", T0.Add(40*time.Second))
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "M3-A", open[0].ID)
	assert.Equal(t, "M1-A", open[1].ID)

	open, err = s.ListOpenOffers(ctx, "A", T0.Add(60*time.Second))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "M3-A", open[0].ID)

	_, err = s.DeclineOffer(ctx, "M3-A", "A", T0.Add(61*time.Second))
	require.NoError(t, err)
	open, err = s.ListOpenOffers(ctx, "A", T0.Add(61*time.Second))
	require.NoError(t, err)
	assert.Empty(t, open)
}

func testTransitionCAS(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A")
	_, err := s.Claim(ctx, "M-A", "M", "A", T0.Add(time.Second))
	require.NoError(t, err)

	req := ledger.TransitionRequest{MoveID: "M", From: model.PhaseAssigned, To: model.PhaseEnRoute, Actor: "A", At: T0.Add(time.Minute)}
	res, err := s.Transition(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.Equal(t, model.PhaseEnRoute, res.Move.Status)
	assert.Equal(t, model.PhaseEnRoute, res.Entry.To)
	assert.Equal(t, "A", res.Entry.Actor)
	assert.NotZero(t, res.Entry.Seq)

	_, err = s.Transition(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrStatusChanged)

	_, err = s.Transition(ctx, ledger.TransitionRequest{MoveID: "M", From: model.PhaseEnRoute, To: model.PhaseLoading, Actor: "A", At: T0})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = s.Transition(ctx, ledger.TransitionRequest{MoveID: "nope", From: model.PhaseEnRoute, To: model.PhaseArrivedPickup})
	assert.ErrorIs(t, err, model.ErrNotFound)

	hist, err := s.History(ctx, "M")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Less(t, hist[0].Seq, hist[1].Seq)
	assert.Equal(t, model.PhaseEnRoute, hist[1].To)
}

func testCancelClosesOffers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A", "B")
	_, err := s.DeclineOffer(ctx, "M-A", "A", T0.Add(time.Second))
	require.NoError(t, err)

	res, err := s.Transition(ctx, ledger.TransitionRequest{
		MoveID: "M", From: model.PhaseRequested, To: model.PhaseCancelledByClient, Actor: "client-M", Note: "changed plans", At: T0.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCancelledByClient, res.Move.Status)
	assert.Equal(t, "changed plans", res.Entry.Note)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, "M-B", res.Closed[0].ID)
	assert.Equal(t, model.CloseBySystem, res.Closed[0].CloseReason)

	_, err = s.Claim(ctx, "M-B", "M", "B", T0.Add(3*time.Second))
	assert.ErrorIs(t, err, model.ErrRaceLost)
}

func testActiveMove(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, found, err := s.ActiveMove(ctx, "A")
	require.NoError(t, err)
	assert.False(t, found)

	seed(t, s, "M", "A")
	_, err = s.Claim(ctx, "M-A", "M", "A", T0.Add(time.Second))
	require.NoError(t, err)
	m, found, err := s.ActiveMove(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "M", m.ID)

	_, err = s.Transition(ctx, ledger.TransitionRequest{MoveID: "M", From: model.PhaseAssigned, To: model.PhaseCancelledByMover, Actor: "A", At: T0.Add(time.Minute)})
	require.NoError(t, err)
	_, found, err = s.ActiveMove(ctx, "A")
	require.NoError(t, err)
	assert.False(t, found)
}

func testLocationNewestWins(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.LatestLocation(ctx, "A")
	assert.ErrorIs(t, err, model.ErrNotFound)

	speed := 12.5
	newer := model.LocationSample{MoverID: "A", Lat: 48.1, Lng: 2.1, Speed: &speed, RecordedAt: T0.Add(10 * time.Second), ReceivedAt: T0.Add(11 * time.Second)}
	older := model.LocationSample{MoverID: "A", Lat: 40, Lng: 1, RecordedAt: T0.Add(5 * time.Second), ReceivedAt: T0.Add(12 * time.Second)}

	ok, err := s.UpsertLocation(ctx, newer)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpsertLocation(ctx, older)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.UpsertLocation(ctx, newer)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.LatestLocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 48.1, got.Lat)
	require.NotNil(t, got.Speed)
	assert.Equal(t, 12.5, *got.Speed)
	assert.True(t, got.RecordedAt.Equal(newer.RecordedAt))
}

func testUnknownOffer(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.Claim(ctx, "ghost", "M", "A", T0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.DeclineOffer(ctx, "ghost", "A", T0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetOffer(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testOfferForOtherMover(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A")
	seed(t, s, "N", "A")
	_, err := s.Claim(ctx, "M-A", "M", "B", T0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Claim(ctx, "M-A", "N", "A", T0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testInsertAfterClaim(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s, "M", "A", "B")
	_, err := s.Claim(ctx, "M-A", "M", "A", T0.Add(5*time.Second))
	require.NoError(t, err)

	err = s.InsertOffers(ctx, []model.Offer{Offer("M-C", "M", "C", T0.Add(6*time.Second))})
	require.ErrorIs(t, err, model.ErrValidation)

	offers, err := s.ListOffers(ctx, "M")
	require.NoError(t, err)
	for _, o := range offers {
		assert.NotEqual(t, model.OfferPending, o.Status, "offer %s", o.ID)
	}
	open, err := s.ListOpenOffers(ctx, "C", T0.Add(7*time.Second))
	require.NoError(t, err)
	assert.Empty(t, open)

	// A backend that wrote before re-checking must have closed the offer.
	if c, err := s.GetOffer(ctx, "M-C"); err == nil {
		assert.Equal(t, model.OfferDeclined, c.Status)
	} else {
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
}
