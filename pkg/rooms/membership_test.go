package rooms

import (
	"errors"
	"testing"

	"agentbus/pkg/models"
)

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry(Limits{}, nil).CreateRoom("join")
	joined, err := r.Join("a", models.RoleCoordinator, 2.0)
	if err != nil || !joined {
		t.Fatalf("first join: joined=%v err=%v", joined, err)
	}
	joined, err = r.Join("a", models.RoleContributor, 1.0)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if joined {
		t.Fatalf("joining twice must be a no-op")
	}
	// the original role and weight survive the duplicate join
	for _, m := range r.Members() {
		if m.ClientID == "a" && (m.Role != models.RoleCoordinator || m.VoteWeight != 2.0) {
			t.Fatalf("duplicate join mutated member: %+v", m)
		}
	}
}

func TestRejoinReactivates(t *testing.T) {
	r := NewRegistry(Limits{}, nil).CreateRoom("rejoin")
	if _, err := r.Join("a", models.RoleContributor, 0); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.Leave("a"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	joined, err := r.Join("a", models.RoleReviewer, 1.5)
	if err != nil || !joined {
		t.Fatalf("rejoin: joined=%v err=%v", joined, err)
	}
	for _, m := range r.Members() {
		if m.ClientID == "a" {
			if !m.Active || m.Role != models.RoleReviewer || m.VoteWeight != 1.5 {
				t.Fatalf("rejoin state: %+v", m)
			}
		}
	}
}

func TestJoinRejectsNegativeWeight(t *testing.T) {
	r := NewRegistry(Limits{}, nil).CreateRoom("w")
	if _, err := r.Join("a", models.RoleContributor, -1); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestLeaveUnknownMember(t *testing.T) {
	r := NewRegistry(Limits{}, nil).CreateRoom("l")
	if err := r.Leave("nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
}

func TestDeactivatePreservesHistory(t *testing.T) {
	reg := NewRegistry(Limits{}, nil)
	r := reg.CreateRoom("close me")
	if _, err := r.Join("a", models.RoleContributor, 0); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Send("a", "for the record", MainChannel, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := reg.Deactivate(r.ID()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := reg.Get(r.ID())
	if err != nil {
		t.Fatalf("deactivated room must stay retrievable: %v", err)
	}
	if got.Meta().Active {
		t.Fatalf("room still active")
	}
	msgs, err := got.Messages(MainChannel, 0)
	if err != nil || len(msgs) == 0 {
		t.Fatalf("history lost on deactivate: %v msgs=%d", err, len(msgs))
	}
	if err := reg.Deactivate("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("deactivate unknown: want not-found, got %v", err)
	}
}
