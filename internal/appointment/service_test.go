package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// memRepo is an in-memory Repository with the same conditional-write
// semantics as the Postgres implementation.
type memRepo struct {
	byID    map[string]Appointment
	outbox  []outbox.Event
	saveErr error
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]Appointment)}
}

func (r *memRepo) Save(ctx context.Context, appt Appointment, ev *outbox.Event) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	for _, existing := range r.byID {
		if existing.InsuredID == appt.InsuredID && existing.ScheduleID == appt.ScheduleID {
			return ErrConflict
		}
	}
	if _, ok := r.byID[appt.AppointmentID]; ok {
		return ErrConflict
	}
	r.byID[appt.AppointmentID] = appt
	if ev != nil {
		r.outbox = append(r.outbox, *ev)
	}
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, appointmentID string) (*Appointment, error) {
	appt, ok := r.byID[appointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &appt, nil
}

func (r *memRepo) FindByInsuredID(ctx context.Context, insuredID string) ([]Appointment, error) {
	var result []Appointment
	for _, appt := range r.byID {
		if appt.InsuredID == insuredID {
			result = append(result, appt)
		}
	}
	return result, nil
}

func (r *memRepo) FindByInsuredAndSchedule(ctx context.Context, insuredID string, scheduleID int) (*Appointment, error) {
	for _, appt := range r.byID {
		if appt.InsuredID == insuredID && appt.ScheduleID == scheduleID {
			found := appt
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) UpdateStatus(ctx context.Context, appointmentID string, from, to Status) (*Appointment, error) {
	appt, ok := r.byID[appointmentID]
	if !ok || appt.Status != from {
		return nil, ErrNotFound
	}
	appt.Status = to
	appt.UpdatedAt = time.Now().UTC()
	r.byID[appointmentID] = appt
	return &appt, nil
}

type fakePublisher struct {
	created    []Appointment
	messageIDs []string
	confirmed  []ConfirmedDetail
	failNext   bool
}

func (p *fakePublisher) PublishCreated(ctx context.Context, appt Appointment, messageID string) error {
	if p.failNext {
		p.failNext = false
		return NewInfrastructureError("publish AppointmentCreated", errors.New("broker down"))
	}
	p.created = append(p.created, appt)
	p.messageIDs = append(p.messageIDs, messageID)
	return nil
}

func (p *fakePublisher) PublishConfirmed(ctx context.Context, detail ConfirmedDetail) error {
	p.confirmed = append(p.confirmed, detail)
	return nil
}

type fakeMarker struct {
	sent []uuid.UUID
}

func (m *fakeMarker) MarkSent(ctx context.Context, id uuid.UUID) error {
	m.sent = append(m.sent, id)
	return nil
}

func newTestService(repo *memRepo, pub *fakePublisher, marker *fakeMarker) *Service {
	return NewService(repo, pub, marker, zap.NewNop())
}

func TestCreateAppointment(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	marker := &fakeMarker{}
	svc := newTestService(repo, pub, marker)

	result, err := svc.Create(context.Background(), CreateInput{
		InsuredID:  "12345",
		ScheduleID: 100,
		CountryISO: "PE",
	})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Len(t, result.AppointmentID, 26)
	assert.Equal(t, StatusPending, result.Status)
	assert.Equal(t, "PE", result.CountryISO)

	// One record, one outbox row, one inline publish, one mark.
	assert.Len(t, repo.byID, 1)
	require.Len(t, repo.outbox, 1)
	assert.Equal(t, DetailTypeCreated, repo.outbox[0].EventType)
	assert.Equal(t, "PE", repo.outbox[0].Country)
	require.Len(t, pub.created, 1)
	assert.Equal(t, repo.outbox[0].ID, marker.sent[0])

	// The inline publish carries the outbox row id, so a relayed copy of
	// the same event dedupes against this delivery.
	require.Len(t, pub.messageIDs, 1)
	assert.Equal(t, repo.outbox[0].ID.String(), pub.messageIDs[0])
}

func TestCreateAppointmentIdempotent(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := newTestService(repo, pub, &fakeMarker{})

	in := CreateInput{InsuredID: "12345", ScheduleID: 100, CountryISO: "PE"}

	first, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	// No second record and no second event.
	assert.Len(t, repo.byID, 1)
	assert.Len(t, repo.outbox, 1)
	assert.Len(t, pub.created, 1)
}

func TestCreateAppointmentValidatesBeforeIO(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("should never be reached")
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	_, err := svc.Create(context.Background(), CreateInput{
		InsuredID:  "12",
		ScheduleID: 100,
		CountryISO: "PE",
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, repo.byID)
}

func TestCreateAppointmentPublishFailureStillSucceeds(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{failNext: true}
	marker := &fakeMarker{}
	svc := newTestService(repo, pub, marker)

	result, err := svc.Create(context.Background(), CreateInput{
		InsuredID:  "12345",
		ScheduleID: 100,
		CountryISO: "CL",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)

	// The outbox row stays unsent for the relay.
	assert.Len(t, repo.outbox, 1)
	assert.Empty(t, marker.sent)
}

func confirmDetailFor(appt Appointment) ConfirmedDetail {
	return ConfirmedDetail{
		AppointmentID: appt.AppointmentID,
		InsuredID:     appt.InsuredID,
		ScheduleID:    appt.ScheduleID,
		CountryISO:    string(appt.Country),
		ProcessedAt:   time.Now().UTC(),
		Source:        PipelineName(appt.Country),
	}
}

func TestConfirmAppointment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	created, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "12345", ScheduleID: 100, CountryISO: "PE",
	})
	require.NoError(t, err)

	stored, err := repo.FindByID(context.Background(), created.AppointmentID)
	require.NoError(t, err)

	result, err := svc.Confirm(context.Background(), confirmDetailFor(*stored))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, result.PreviousStatus)
	assert.Equal(t, StatusCompleted, result.NewStatus)
	assert.Equal(t, "appointment_pe", result.ProcessedBy)
	assert.False(t, result.UpdatedAt.Before(stored.CreatedAt))

	after, err := repo.FindByID(context.Background(), created.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)
}

func TestConfirmAppointmentReplayIsNoop(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	created, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "12345", ScheduleID: 100, CountryISO: "CL",
	})
	require.NoError(t, err)

	stored, _ := repo.FindByID(context.Background(), created.AppointmentID)
	detail := confirmDetailFor(*stored)

	_, err = svc.Confirm(context.Background(), detail)
	require.NoError(t, err)

	replay, err := svc.Confirm(context.Background(), detail)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, replay.PreviousStatus)
	assert.Equal(t, StatusCompleted, replay.NewStatus)

	after, _ := repo.FindByID(context.Background(), created.AppointmentID)
	assert.Equal(t, StatusCompleted, after.Status)
}

func TestConfirmAppointmentCrossSubjectMismatch(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	created, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "12345", ScheduleID: 100, CountryISO: "PE",
	})
	require.NoError(t, err)

	stored, _ := repo.FindByID(context.Background(), created.AppointmentID)
	detail := confirmDetailFor(*stored)
	detail.InsuredID = "99999"

	_, err = svc.Confirm(context.Background(), detail)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "insuredId", vErr.Field)

	after, _ := repo.FindByID(context.Background(), created.AppointmentID)
	assert.Equal(t, StatusPending, after.Status)
}

func TestConfirmAppointmentPipelineMismatch(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	created, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "12345", ScheduleID: 100, CountryISO: "PE",
	})
	require.NoError(t, err)

	stored, _ := repo.FindByID(context.Background(), created.AppointmentID)
	detail := confirmDetailFor(*stored)
	detail.Source = "appointment_cl"

	_, err = svc.Confirm(context.Background(), detail)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "source", vErr.Field)
}

func TestConfirmAppointmentNotFound(t *testing.T) {
	svc := newTestService(newMemRepo(), &fakePublisher{}, &fakeMarker{})

	detail := ConfirmedDetail{
		AppointmentID: NewID(time.Now()),
		InsuredID:     "12345",
		ScheduleID:    100,
		CountryISO:    "PE",
		ProcessedAt:   time.Now(),
		Source:        PipelinePE,
	}

	_, err := svc.Confirm(context.Background(), detail)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmBatchCollectsSuccessesAndSkipsFailures(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	first, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "11111", ScheduleID: 1, CountryISO: "PE",
	})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "22222", ScheduleID: 2, CountryISO: "CL",
	})
	require.NoError(t, err)

	a, _ := repo.FindByID(context.Background(), first.AppointmentID)
	b, _ := repo.FindByID(context.Background(), second.AppointmentID)

	bad := confirmDetailFor(*a)
	bad.InsuredID = "00000" // mismatch, must not block the rest

	results := svc.ConfirmBatch(context.Background(), []ConfirmedDetail{
		bad,
		confirmDetailFor(*b),
	})

	require.Len(t, results, 1)
	assert.Equal(t, second.AppointmentID, results[0].AppointmentID)

	afterA, _ := repo.FindByID(context.Background(), first.AppointmentID)
	afterB, _ := repo.FindByID(context.Background(), second.AppointmentID)
	assert.Equal(t, StatusPending, afterA.Status)
	assert.Equal(t, StatusCompleted, afterB.Status)
}

func TestListByInsured(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePublisher{}, &fakeMarker{})

	for i := 1; i <= 3; i++ {
		_, err := svc.Create(context.Background(), CreateInput{
			InsuredID: "12345", ScheduleID: i, CountryISO: "PE",
		})
		require.NoError(t, err)
	}
	_, err := svc.Create(context.Background(), CreateInput{
		InsuredID: "67890", ScheduleID: 1, CountryISO: "CL",
	})
	require.NoError(t, err)

	appts, err := svc.ListByInsured(context.Background(), "12345")
	require.NoError(t, err)
	assert.Len(t, appts, 3)

	_, err = svc.ListByInsured(context.Background(), "12")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}
