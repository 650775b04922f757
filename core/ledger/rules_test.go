package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/ledger/ledgertest"
	"github.com/kilianp07/movedispatch/core/model"
)

func TestCheckDispatchable(t *testing.T) {
	m := ledgertest.Move("M", "client")
	assert.NoError(t, ledger.CheckDispatchable(m))

	assigned := m
	assigned.Status, assigned.AssignedMover = model.PhaseAssigned, "B"
	assert.ErrorIs(t, ledger.CheckDispatchable(assigned), model.ErrValidation)

	cancelled := m
	cancelled.Status = model.PhaseCancelledByClient
	assert.ErrorIs(t, ledger.CheckDispatchable(cancelled), model.ErrValidation)
}

func TestSettleOrphan(t *testing.T) {
	now := ledgertest.T0.Add(20 * time.Second)
	m := ledgertest.Move("M", "client")
	m.Status, m.AssignedMover = model.PhaseAssigned, "B"

	own := ledger.SettleOrphan(ledgertest.Offer("M-B", "M", "B", ledgertest.T0), m, now)
	assert.Equal(t, model.OfferAccepted, own.Status)
	assert.Empty(t, own.CloseReason)
	if assert.NotNil(t, own.RespondedAt) {
		assert.Equal(t, now, *own.RespondedAt)
	}

	sibling := ledger.SettleOrphan(ledgertest.Offer("M-C", "M", "C", ledgertest.T0), m, now)
	assert.Equal(t, model.OfferDeclined, sibling.Status)
	assert.Equal(t, model.CloseBySystem, sibling.CloseReason)

	cancelled := ledgertest.Move("N", "client")
	cancelled.Status = model.PhaseCancelledByClient
	o := ledger.SettleOrphan(ledgertest.Offer("N-A", "N", "A", ledgertest.T0), cancelled, now)
	assert.Equal(t, model.OfferDeclined, o.Status)
}
