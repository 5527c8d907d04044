package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	"sentinal-call/internal/repository"
	"sentinal-call/internal/testutil"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

func newCall(caller, receiver uuid.UUID, at time.Time) *call.Call {
	return &call.Call{
		ID:         uuid.New(),
		CallerID:   caller,
		ReceiverID: receiver,
		Type:       call.TypeAudio,
		Status:     call.StatusRinging,
		StartedAt:  at,
	}
}

func TestCreateWithAdmissionReservesBothParticipants(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewCallRepository(db)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	c := newCall(a, b, time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}

	for _, id := range []uuid.UUID{a, b} {
		st, err := repo.GetUserCallStatus(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !st.IsInCall || st.CurrentCallID == nil || *st.CurrentCallID != c.ID {
			t.Errorf("status for %s = %+v, want in call %s", id, st, c.ID)
		}
	}

	got, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != call.StatusRinging {
		t.Errorf("status = %s, want ringing", got.Status)
	}

	evts, err := repository.NewEventRepository(db).ListOutboxEvents(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("outbox events = %d, want 1", len(evts))
	}
	if evts[0].EventType != events.EventTypeCallIncoming || evts[0].Channel != events.IncomingChannel(b) {
		t.Errorf("outbox event = %s on %s", evts[0].EventType, evts[0].Channel)
	}
}

func TestCreateWithAdmissionRejectsSelfCall(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	a := uuid.New()
	err := repo.CreateWithAdmission(context.Background(), newCall(a, a, time.Now().UTC()))
	if !errors.Is(err, sentinal_errors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateWithAdmissionBusyReportsReceiverFirst(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewCallRepository(db)
	ctx := context.Background()

	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()
	if err := repo.CreateWithAdmission(ctx, newCall(a, b, now)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateWithAdmission(ctx, newCall(c, d, now)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		caller    uuid.UUID
		receiver  uuid.UUID
		wantParty sentinal_errors.Party
	}{
		{"receiver busy", uuid.New(), b, sentinal_errors.PartyReceiver},
		{"caller busy", a, uuid.New(), sentinal_errors.PartyCaller},
		{"both busy", a, d, sentinal_errors.PartyReceiver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt := newCall(tt.caller, tt.receiver, now)
			err := repo.CreateWithAdmission(ctx, attempt)
			if !errors.Is(err, sentinal_errors.ErrBusy) {
				t.Fatalf("err = %v, want ErrBusy", err)
			}
			party, ok := sentinal_errors.BusyParty(err)
			if !ok || party != tt.wantParty {
				t.Errorf("party = %q, want %q", party, tt.wantParty)
			}
			if _, err := repo.GetByID(ctx, attempt.ID); !errors.Is(err, sentinal_errors.ErrNotFound) {
				t.Errorf("rejected call was stored: %v", err)
			}
			// The free side must not stay reserved by the rolled back attempt.
			free := tt.caller
			if tt.wantParty == sentinal_errors.PartyCaller {
				free = tt.receiver
			}
			if tt.name != "both busy" {
				busy, err := repo.IsBusy(ctx, free)
				if err != nil {
					t.Fatal(err)
				}
				if busy {
					t.Errorf("free participant %s left busy", free)
				}
			}
		})
	}
}

func TestCreateWithAdmissionConcurrentCallers(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()
	receiver := uuid.New()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.CreateWithAdmission(ctx, newCall(uuid.New(), receiver, time.Now().UTC()))
		}(i)
	}
	wg.Wait()

	var ok, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, sentinal_errors.ErrBusy):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || busy != n-1 {
		t.Errorf("admitted = %d busy = %d, want 1 and %d", ok, busy, n-1)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	db := testutil.DB(t)
	repo := repository.NewCallRepository(db)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	c := newCall(a, b, time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusOngoing})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != call.StatusOngoing || got.AnsweredAt == nil {
		t.Fatalf("after accept: %+v", got)
	}

	d := 42
	got, err = repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusEnded, DurationSeconds: &d})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != call.StatusEnded || got.EndedAt == nil || got.DurationSeconds == nil || *got.DurationSeconds != 42 {
		t.Fatalf("after end: %+v", got)
	}

	for _, id := range []uuid.UUID{a, b} {
		busy, err := repo.IsBusy(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if busy {
			t.Errorf("%s still busy after end", id)
		}
	}

	evts, err := repository.NewEventRepository(db).ListOutboxEvents(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	var statusEvents int
	for _, e := range evts {
		if e.EventType == events.EventTypeCallStatusChanged {
			statusEvents++
			if e.Channel != events.StatusChannel(c.ID) {
				t.Errorf("status event channel = %s", e.Channel)
			}
		}
	}
	if statusEvents != 2 {
		t.Errorf("status events = %d, want 2", statusEvents)
	}
}

func TestTransitionRejectsWritesAfterTerminal(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	c := newCall(uuid.New(), uuid.New(), time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusRejected}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		to   call.Status
		want error
	}{
		{call.StatusOngoing, sentinal_errors.ErrCallTerminated},
		{call.StatusEnded, sentinal_errors.ErrCallTerminated},
		{call.StatusMissed, sentinal_errors.ErrCallTerminated},
		{call.StatusRejected, sentinal_errors.ErrDuplicateEvent},
		{call.StatusRinging, sentinal_errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			_, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: tt.to})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	got, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != call.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

func TestTransitionOngoingCannotBeMissed(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	c := newCall(uuid.New(), uuid.New(), time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusOngoing}); err != nil {
		t.Fatal(err)
	}
	_, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusMissed})
	if !errors.Is(err, sentinal_errors.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionUnknownCall(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	_, err := repo.Transition(context.Background(), repository.TransitionRequest{CallID: uuid.New(), To: call.StatusEnded})
	if !errors.Is(err, sentinal_errors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEndWithoutDurationRecordsZero(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	c := newCall(uuid.New(), uuid.New(), time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusEnded})
	if err != nil {
		t.Fatal(err)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 0 {
		t.Errorf("duration = %v, want 0", got.DurationSeconds)
	}
}

func TestParticipantsCanCallAgainAfterTerminal(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	first := newCall(a, b, time.Now().UTC())
	if err := repo.CreateWithAdmission(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Transition(ctx, repository.TransitionRequest{CallID: first.ID, To: call.StatusMissed}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateWithAdmission(ctx, newCall(b, a, time.Now().UTC())); err != nil {
		t.Fatalf("second call: %v", err)
	}
}

func TestLatestRingingWindow(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	receiver := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := newCall(uuid.New(), receiver, base.Add(-time.Minute))
	if err := repo.CreateWithAdmission(ctx, old); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Transition(ctx, repository.TransitionRequest{CallID: old.ID, To: call.StatusMissed}); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.LatestRinging(ctx, receiver, base.Add(-5*time.Second)); !errors.Is(err, sentinal_errors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	fresh := newCall(uuid.New(), receiver, base)
	if err := repo.CreateWithAdmission(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	got, err := repo.LatestRinging(ctx, receiver, base.Add(-5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != fresh.ID {
		t.Errorf("latest = %s, want %s", got.ID, fresh.ID)
	}

	if _, err := repo.LatestRinging(ctx, receiver, base.Add(time.Second)); !errors.Is(err, sentinal_errors.ErrNotFound) {
		t.Errorf("call outside window returned: %v", err)
	}
}

func TestGetUserCallsPagination(t *testing.T) {
	repo := repository.NewCallRepository(testutil.DB(t))
	ctx := context.Background()

	a := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := newCall(a, uuid.New(), base.Add(time.Duration(i)*time.Minute))
		if err := repo.CreateWithAdmission(ctx, c); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.Transition(ctx, repository.TransitionRequest{CallID: c.ID, To: call.StatusRejected}); err != nil {
			t.Fatal(err)
		}
	}

	calls, total, err := repo.GetUserCalls(ctx, a, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(calls) != 2 {
		t.Fatalf("total = %d len = %d, want 3 and 2", total, len(calls))
	}
	if !calls[0].StartedAt.After(calls[1].StartedAt) {
		t.Errorf("history not newest first")
	}
}
