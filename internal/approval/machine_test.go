package approval

import (
	"context"
	"sync"
	"testing"

	"approval-notify/internal/common/config"
	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingNotifier) Dispatch(events ...models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingNotifier) take() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fixture struct {
	ctx      context.Context
	store    *Store
	machine  *Machine
	notifier *recordingNotifier
	sysAdmin *models.Administrator
	head     *models.Subject
}

func newStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewSQLite(config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background(), logger.NewNoOpLogger()))
	return NewStore(client)
}

// newFixture seeds a system administrator and an approved head of the Design department.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: newStore(t), notifier: &recordingNotifier{}}
	f.machine = NewMachine(f.store, f.notifier, opts, logger.NewTestLogger(t))

	var err error
	f.sysAdmin, err = f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Root", Email: "root@example.com"})
	require.NoError(t, err)

	f.head, err = f.machine.RegisterSubject(f.ctx, SubjectInput{
		Name: "Hana", Email: "hana@example.com", Department: "Design", Designation: "Department Head",
	})
	require.NoError(t, err)
	require.NoError(t, f.machine.ResolveAdminReview(f.ctx, f.head.ID, f.adminActor(), models.DecisionApprove, ""))
	f.notifier.take()
	return f
}

func (f *fixture) adminActor() models.Actor {
	return models.Actor{ID: f.sysAdmin.ID, Kind: models.KindAdministrator}
}

func (f *fixture) headActor() models.Actor {
	return models.Actor{ID: f.head.ID, Kind: models.KindSubject}
}

func (f *fixture) employee(t *testing.T, email string) *models.Subject {
	t.Helper()
	s, err := f.machine.RegisterSubject(f.ctx, SubjectInput{
		Name: "Eli", Email: email, Department: "Design", Designation: "Employee",
	})
	require.NoError(t, err)
	return s
}

func recipients(events []models.Event) map[models.EventType][]string {
	out := map[models.EventType][]string{}
	for _, e := range events {
		out[e.Type] = append(out[e.Type], string(e.RecipientKind)+":"+e.RecipientID)
	}
	return out
}

func TestHeadDesignationSkipsDepartmentStage(t *testing.T) {
	f := newFixture(t, Options{})

	s, err := f.machine.RegisterSubject(f.ctx, SubjectInput{
		Name: "Dana", Email: "dana@example.com", Department: "Ops", Designation: "Department Head",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DHNotRequired, s.DHApprovalStatus)

	got := recipients(f.notifier.take())
	assert.ElementsMatch(t, []string{"subject:" + s.ID, "administrator:" + f.sysAdmin.ID}, got[models.EventRegistration])

	require.NoError(t, f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.DecisionApprove, "welcome"))

	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, stored.AdminApprovalStatus)
	assert.Equal(t, models.ReviewApproved, stored.IsApproved)
	assert.Equal(t, f.sysAdmin.ID, stored.ApprovedBy)
	assert.Equal(t, []string{"subject:" + s.ID}, recipients(f.notifier.take())[models.EventAdminApproval])
}

func TestRegisterSubject_RejectsBadInput(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name  string
		input SubjectInput
		code  apperrors.ErrorCode
	}{
		{"blank name", SubjectInput{Name: " ", Email: "a@example.com"}, apperrors.ErrCodeValidationFailed},
		{"bad email", SubjectInput{Name: "A", Email: "not-an-address"}, apperrors.ErrCodeInvalidEmailAddress},
		{"bad phone", SubjectInput{Name: "A", Email: "a@example.com", Phone: "12"}, apperrors.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.machine.RegisterSubject(f.ctx, tt.input)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
	assert.Empty(t, f.notifier.take())
}

func TestAdminReviewBeforeDepartmentStageIsInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	assert.Equal(t, models.DHPending, s.DHApprovalStatus)
	assert.Equal(t, []string{"subject:" + f.head.ID}, recipients(f.notifier.take())[models.EventDHReviewRequest])

	err := f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.DecisionApprove, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidState), "got %v", err)

	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, stored.AdminApprovalStatus)
	assert.Equal(t, models.ReviewPending, stored.IsApproved)
	assert.Empty(t, f.notifier.take())

	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, "incomplete"))
	err = f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.DecisionApprove, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidState), "got %v", err)
}

func TestDepartmentDecisionsAreRepeatableByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	f.notifier.take()

	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionApprove, ""))
	got := recipients(f.notifier.take())
	assert.ElementsMatch(t, []string{"subject:" + s.ID, "administrator:" + f.sysAdmin.ID}, got[models.EventDHApproval])

	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, "changed my mind"))
	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, "still no"))
	events := f.notifier.take()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, models.EventRejection, e.Type)
		assert.Equal(t, s.ID, e.RecipientID)
		assert.Equal(t, "department head", e.Data["stage"])
	}

	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DHRejected, stored.DHApprovalStatus)

	logs, err := f.machine.StatusLogs(f.ctx, models.KindSubject, s.ID)
	require.NoError(t, err)
	var tags []string
	for _, l := range logs {
		tags = append(tags, l.Status)
	}
	assert.Equal(t, []string{models.StatusRegistered, models.StatusDHApproved, models.StatusDHRejected, models.StatusDHRejected}, tags)
}

func TestDepartmentSingleTransition(t *testing.T) {
	f := newFixture(t, Options{DHSingleTransition: true})
	s := f.employee(t, "eli@example.com")

	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionApprove, ""))
	err := f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyFinalized), "got %v", err)

	require.NoError(t, f.machine.RequestDHReview(f.ctx, s.ID))
	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, ""))
}

func TestResolveDHReview_Authorization(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")

	other, err := f.machine.RegisterSubject(f.ctx, SubjectInput{
		Name: "Otto", Email: "otto@example.com", Department: "Finance", Designation: "Department Head",
	})
	require.NoError(t, err)
	require.NoError(t, f.machine.ResolveAdminReview(f.ctx, other.ID, f.adminActor(), models.DecisionApprove, ""))
	peer := f.employee(t, "peer@example.com")

	tests := []struct {
		name  string
		id    string
		actor models.Actor
		code  apperrors.ErrorCode
	}{
		{"missing account", "nope", f.headActor(), apperrors.ErrCodeNotFound},
		{"other department head", s.ID, models.Actor{ID: other.ID, Kind: models.KindSubject}, apperrors.ErrCodeForbidden},
		{"same department employee", s.ID, models.Actor{ID: peer.ID, Kind: models.KindSubject}, apperrors.ErrCodeForbidden},
		{"administrator", s.ID, f.adminActor(), apperrors.ErrCodeForbidden},
		{"head reviewing self", f.head.ID, f.headActor(), apperrors.ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.machine.ResolveDHReview(f.ctx, tt.id, tt.actor, models.DecisionApprove, "")
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}

	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DHPending, stored.DHApprovalStatus)
}

func TestAdminReviewFinalizesOnce(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionApprove, ""))
	f.notifier.take()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		finalized int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		decision := models.DecisionApprove
		if i%2 == 1 {
			decision = models.DecisionReject
		}
		go func(d models.Decision) {
			defer wg.Done()
			err := f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), d, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.Is(err, apperrors.ErrCodeAlreadyFinalized):
				finalized++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(decision)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, finalized)
	assert.Len(t, f.notifier.take(), 1)

	before, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	err = f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.DecisionReject, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyFinalized))
	after, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, before.IsApproved, after.IsApproved)
	assert.Equal(t, before.AdminApprovalStatus, after.AdminApprovalStatus)

	err = f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyFinalized), "got %v", err)
}

func TestAdminRejection(t *testing.T) {
	for _, finalizes := range []bool{false, true} {
		f := newFixture(t, Options{RejectionFinalizes: finalizes})
		s := f.employee(t, "eli@example.com")
		require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionApprove, ""))
		f.notifier.take()

		require.NoError(t, f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.DecisionReject, "duplicate"))
		stored, err := f.machine.Subject(f.ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewRejected, stored.AdminApprovalStatus)
		if finalizes {
			assert.Equal(t, models.ReviewRejected, stored.IsApproved)
		} else {
			assert.Equal(t, models.ReviewPending, stored.IsApproved)
		}
		assert.Empty(t, stored.ApprovedBy)

		events := f.notifier.take()
		require.Len(t, events, 1)
		assert.Equal(t, models.EventRejection, events[0].Type)
		assert.Equal(t, "admin", events[0].Data["stage"])
		assert.Equal(t, "duplicate", events[0].Data["remark"])
	}
}

func TestResolveAdminReview_RequiresActiveAdministrator(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	pending, err := f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "New", Email: "new@example.com"})
	require.NoError(t, err)

	for _, actor := range []models.Actor{
		f.headActor(),
		{ID: pending.ID, Kind: models.KindAdministrator},
		{ID: "ghost", Kind: models.KindAdministrator},
	} {
		err := f.machine.ResolveAdminReview(f.ctx, s.ID, actor, models.DecisionApprove, "")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "actor %v: %v", actor, err)
	}

	err = f.machine.ResolveAdminReview(f.ctx, "missing", f.adminActor(), models.DecisionApprove, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "got %v", err)
	err = f.machine.ResolveAdminReview(f.ctx, s.ID, f.adminActor(), models.Decision("maybe"), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed), "got %v", err)
}

func TestToggleSubjectDisabledLogsEveryFlip(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	f.notifier.take()

	before, err := f.machine.StatusLogs(f.ctx, models.KindSubject, s.ID)
	require.NoError(t, err)

	disabled, err := f.machine.ToggleSubjectDisabled(f.ctx, s.ID, f.adminActor())
	require.NoError(t, err)
	assert.True(t, disabled)
	disabled, err = f.machine.ToggleSubjectDisabled(f.ctx, s.ID, f.headActor())
	require.NoError(t, err)
	assert.False(t, disabled)

	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDisabled)

	after, err := f.machine.StatusLogs(f.ctx, models.KindSubject, s.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+2)
	assert.Equal(t, models.StatusDisabled, after[len(after)-2].Status)
	assert.Equal(t, models.StatusEnabled, after[len(after)-1].Status)

	events := f.notifier.take()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventUserDisabled, events[0].Type)
	assert.Equal(t, models.EventUserEnabled, events[1].Type)
	assert.Equal(t, "Root", events[0].Data["actorName"])
	assert.Equal(t, "Hana", events[1].Data["actorName"])

	peer := f.employee(t, "peer@example.com")
	_, err = f.machine.ToggleSubjectDisabled(f.ctx, s.ID, models.Actor{ID: peer.ID, Kind: models.KindSubject})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "got %v", err)
	_, err = f.machine.ToggleSubjectDisabled(f.ctx, "missing", f.adminActor())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "got %v", err)
}

func TestRegisterAdminBootstrap(t *testing.T) {
	f := newFixture(t, Options{})
	assert.True(t, f.sysAdmin.IsSystemAdmin)
	assert.Equal(t, models.ReviewApproved, f.sysAdmin.IsApproved)

	second, err := f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Second", Email: "second@example.com"})
	require.NoError(t, err)
	assert.False(t, second.IsSystemAdmin)
	assert.Equal(t, models.ReviewPending, second.IsApproved)

	events := f.notifier.take()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAdminRegistration, events[0].Type)
	assert.Equal(t, f.sysAdmin.ID, events[0].RecipientID)

	_, err = f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Dup", Email: "second@example.com"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed), "got %v", err)
	_, err = f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Bad", Email: "not-an-email"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidEmailAddress), "got %v", err)
}

func TestAdministratorAccountLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	second, err := f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Second", Email: "second@example.com"})
	require.NoError(t, err)
	third, err := f.machine.RegisterAdmin(f.ctx, AdminInput{Name: "Third", Email: "third@example.com"})
	require.NoError(t, err)
	f.notifier.take()

	secondActor := models.Actor{ID: second.ID, Kind: models.KindAdministrator}
	err = f.machine.ResolveAdminAccountReview(f.ctx, third.ID, secondActor, models.DecisionApprove, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "got %v", err)

	require.NoError(t, f.machine.ResolveAdminAccountReview(f.ctx, second.ID, f.adminActor(), models.DecisionApprove, ""))
	err = f.machine.ResolveAdminAccountReview(f.ctx, second.ID, f.adminActor(), models.DecisionReject, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyFinalized), "got %v", err)
	require.NoError(t, f.machine.ResolveAdminAccountReview(f.ctx, third.ID, f.adminActor(), models.DecisionReject, "unknown"))

	events := f.notifier.take()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventAdminAccountApproval, events[0].Type)
	assert.Equal(t, models.EventAdminAccountRejection, events[1].Type)

	// A now-active second administrator may toggle others but not the system administrator or itself.
	_, err = f.machine.ToggleAdminDisabled(f.ctx, f.sysAdmin.ID, secondActor)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "got %v", err)
	_, err = f.machine.ToggleAdminDisabled(f.ctx, second.ID, secondActor)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "got %v", err)

	disabled, err := f.machine.ToggleAdminDisabled(f.ctx, third.ID, secondActor)
	require.NoError(t, err)
	assert.True(t, disabled)
	disabled, err = f.machine.ToggleAdminDisabled(f.ctx, second.ID, f.adminActor())
	require.NoError(t, err)
	assert.True(t, disabled)

	_, err = f.machine.ToggleAdminDisabled(f.ctx, third.ID, secondActor)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden), "disabled admins cannot act: %v", err)

	logs, err := f.machine.StatusLogs(f.ctx, models.KindAdministrator, third.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	events = f.notifier.take()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventAdminDisabled, events[0].Type)
}

func TestRequestDHReview(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.employee(t, "eli@example.com")
	require.NoError(t, f.machine.ResolveDHReview(f.ctx, s.ID, f.headActor(), models.DecisionReject, ""))
	f.notifier.take()

	require.NoError(t, f.machine.RequestDHReview(f.ctx, s.ID))
	stored, err := f.machine.Subject(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DHPending, stored.DHApprovalStatus)
	assert.Equal(t, []string{"subject:" + f.head.ID}, recipients(f.notifier.take())[models.EventDHReviewRequest])

	err = f.machine.RequestDHReview(f.ctx, f.head.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidState), "got %v", err)
	err = f.machine.RequestDHReview(f.ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "got %v", err)
}

func TestNotifierOutageDoesNotBlockDecision(t *testing.T) {
	store := newStore(t)
	m := NewMachine(store, nil, Options{}, logger.NewNoOpLogger())
	ctx := context.Background()

	admin, err := m.RegisterAdmin(ctx, AdminInput{Name: "Root", Email: "root@example.com"})
	require.NoError(t, err)
	s, err := m.RegisterSubject(ctx, SubjectInput{Name: "Dana", Email: "dana@example.com", Designation: "Department Head"})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAdminReview(ctx, s.ID, models.Actor{ID: admin.ID, Kind: models.KindAdministrator}, models.DecisionApprove, ""))
}
