package mongo

import (
	"context"
	"testing"

	"github.com/kilianp07/movedispatch/core/factory"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/model"
)

func TestOpenRequiresURI(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty uri")
	}
}

func TestRegisteredInLedgerFactory(t *testing.T) {
	_, err := ledger.NewStore(factory.ModuleConfig{Type: "mongo", Conf: map[string]any{"database": "x"}})
	if err == nil {
		t.Fatal("expected uri error")
	}
}

func TestDocRoundTrip(t *testing.T) {
	m := model.Move{ID: "m1", ClientID: "c1", Status: model.PhaseAssigned, AssignedMover: "mv1"}
	got, err := toMoveDoc(m).model()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AssignedMover != "mv1" || got.Status != model.PhaseAssigned || !got.Price.IsZero() {
		t.Fatalf("unexpected move %+v", got)
	}
}
