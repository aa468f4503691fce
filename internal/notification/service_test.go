package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"approval-notify/internal/common/config"
	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/models"
	"approval-notify/internal/notification/templates"
	"approval-notify/internal/realtime"
	emailsend "approval-notify/internal/workers/communication/email-send"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sam  = &models.Recipient{ID: "s-1", Kind: models.KindSubject, Name: "Sam", Email: "sam@example.com", Phone: "+14155550100"}
	root = &models.Recipient{ID: "a-1", Kind: models.KindAdministrator, Name: "Root", Email: "root@example.com"}
)

func actorOf(r *models.Recipient) models.Actor { return models.Actor{ID: r.ID, Kind: r.Kind} }

type fakeDirectory struct {
	recipients map[string]*models.Recipient
	panicOn    string
}

func (d *fakeDirectory) Recipient(_ context.Context, kind models.RecipientKind, id string) (*models.Recipient, error) {
	if id == d.panicOn {
		panic("directory exploded")
	}
	r, ok := d.recipients[id]
	if !ok || r.Kind != kind {
		return nil, apperrors.NewNotFoundError(string(kind), id)
	}
	return r, nil
}

type pushed struct {
	to    models.Actor
	event string
	data  interface{}
}

type recordingPusher struct {
	mu          sync.Mutex
	events      []pushed
	PublishFunc func(to models.Actor, event string, data interface{}) error
}

func (p *recordingPusher) Publish(_ context.Context, to models.Actor, event string, data interface{}) error {
	if p.PublishFunc != nil {
		if err := p.PublishFunc(to, event, data); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushed{to: to, event: event, data: data})
	return nil
}

type recordingQueue struct {
	mu          sync.Mutex
	jobs        []*models.DeliveryJob
	EnqueueFunc func(job *models.DeliveryJob) error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *models.DeliveryJob) error {
	if q.EnqueueFunc != nil {
		if err := q.EnqueueFunc(job); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeEmail struct {
	renderer *emailsend.Renderer
	mu       sync.Mutex
	sent     []*models.EmailPayload
	SendFunc func(payload *models.EmailPayload) emailsend.Result
}

func (e *fakeEmail) Render(n *models.Notification, to *models.Recipient, subject string) (*models.EmailPayload, error) {
	return e.renderer.Render(n, to, subject)
}

func (e *fakeEmail) SendEmail(_ context.Context, payload *models.EmailPayload) emailsend.Result {
	e.mu.Lock()
	e.sent = append(e.sent, payload)
	e.mu.Unlock()
	if e.SendFunc != nil {
		return e.SendFunc(payload)
	}
	return emailsend.Result{Success: true, MessageID: "<fake@test>"}
}

type fixture struct {
	ctx    context.Context
	store  *Store
	dir    *fakeDirectory
	pusher *recordingPusher
	queue  *recordingQueue
	email  *fakeEmail
	svc    *Service
}

func newStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewSQLite(config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background(), logger.NewNoOpLogger()))
	return NewStore(client)
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	resolver, err := templates.Default()
	require.NoError(t, err)

	f := &fixture{
		ctx:    context.Background(),
		store:  newStore(t),
		dir:    &fakeDirectory{recipients: map[string]*models.Recipient{sam.ID: sam, root.ID: root}},
		pusher: &recordingPusher{},
		queue:  &recordingQueue{},
		email:  &fakeEmail{renderer: emailsend.NewRenderer("https://portal.example.com")},
	}
	f.svc = NewService(ServiceDependencies{
		Store:     f.store,
		Directory: f.dir,
		Resolver:  resolver,
		Pusher:    f.pusher,
		Queue:     f.queue,
		Email:     f.email,
		Logger:    logger.NewTestLogger(t),
	}, opts)
	return f
}

func approvedEvent(sendEmail bool) models.Event {
	return models.Event{
		Type:          models.EventAdminApproval,
		RecipientID:   sam.ID,
		RecipientKind: models.KindSubject,
		Data:          map[string]interface{}{"name": "Sam"},
		SendEmail:     sendEmail,
	}
}

func TestNotify_PersistsBeforePushAndEnqueue(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: true})

	f.pusher.PublishFunc = func(to models.Actor, event string, data interface{}) error {
		payload := data.(realtime.NewNotificationPayload)
		_, err := f.store.Get(f.ctx, to, payload.Notification.ID)
		assert.NoError(t, err, "record must exist before the push")
		assert.Equal(t, int64(1), payload.UnreadCount)
		return nil
	}
	f.queue.EnqueueFunc = func(job *models.DeliveryJob) error {
		assert.Len(t, f.pusher.events, 1, "push happens before enqueue")
		return nil
	}

	out := f.svc.Notify(f.ctx, approvedEvent(true))
	require.NoError(t, out.Err)
	assert.True(t, out.Persisted)
	assert.True(t, out.Pushed)
	assert.True(t, out.Enqueued)
	assert.False(t, out.Fallback)

	require.Len(t, f.pusher.events, 1)
	assert.Equal(t, realtime.EventNewNotification, f.pusher.events[0].event)
	assert.Equal(t, actorOf(sam), f.pusher.events[0].to)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, models.JobBoth, job.Kind)
	assert.Equal(t, 10, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, out.NotificationID, job.NotificationID)
	require.NotNil(t, job.InApp)
	assert.Equal(t, "Account approved", job.InApp.Title)
	require.NotNil(t, job.Email)
	assert.Equal(t, "sam@example.com", job.Email.To)
	assert.Equal(t, "Your account is approved", job.Email.Subject)
	assert.Contains(t, job.Email.HTMLBody, "https://portal.example.com/login")
	assert.Nil(t, job.SMS)
	assert.Empty(t, f.email.sent)
}

func TestNotify_EnqueueFailureFallsBackToDirectEmail(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: true})
	f.queue.EnqueueFunc = func(*models.DeliveryJob) error {
		return apperrors.NewQueueUnavailableError("enqueue", errors.New("connection refused"))
	}

	out := f.svc.Notify(f.ctx, approvedEvent(true))
	assert.True(t, out.Persisted)
	assert.False(t, out.Enqueued)
	assert.True(t, out.Fallback)

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "sam@example.com", f.email.sent[0].To)

	page, err := f.svc.List(f.ctx, actorOf(sam), 1, 20, false)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, out.NotificationID, page.Items[0].ID)
}

func TestNotify_DownstreamFailuresLeaveExactlyOneRecord(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: true})
	f.pusher.PublishFunc = func(models.Actor, string, interface{}) error { return errors.New("broker down") }
	f.queue.EnqueueFunc = func(*models.DeliveryJob) error { return errors.New("queue down") }
	f.email.SendFunc = func(*models.EmailPayload) emailsend.Result {
		return emailsend.Result{Success: false, Message: "smtp down", Retryable: true}
	}

	out := f.svc.Notify(f.ctx, approvedEvent(true))
	assert.NoError(t, out.Err)
	assert.True(t, out.Persisted)
	assert.False(t, out.Pushed)
	assert.False(t, out.Enqueued)
	assert.True(t, out.Fallback)

	count, err := f.svc.UnreadCount(f.ctx, actorOf(sam))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNotify_NoEmailWithoutRequestOrWhenDisabled(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: false})
	f.svc.Notify(f.ctx, approvedEvent(true))

	f2 := newFixture(t, Options{EmailEnabled: true})
	f2.svc.Notify(f2.ctx, approvedEvent(false))

	for _, q := range []*recordingQueue{f.queue, f2.queue} {
		require.Len(t, q.jobs, 1)
		assert.Equal(t, models.JobInApp, q.jobs[0].Kind)
		assert.Nil(t, q.jobs[0].Email)
	}
}

func TestNotify_NoQueueFallsBackToEmail(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: true})
	f.svc.queue = nil

	out := f.svc.Notify(f.ctx, approvedEvent(true))
	assert.True(t, out.Persisted)
	assert.True(t, out.Fallback)
	assert.Len(t, f.email.sent, 1)
}

func TestNotify_Skips(t *testing.T) {
	f := newFixture(t, Options{EmailEnabled: true})

	out := f.svc.Notify(f.ctx, models.Event{Type: models.EventAdminApproval, RecipientID: "ghost", RecipientKind: models.KindSubject})
	assert.Equal(t, SkipRecipientMissing, out.Skipped)
	assert.True(t, apperrors.Is(out.Err, apperrors.ErrCodeNotFound))
	assert.False(t, out.Persisted)

	out = f.svc.Notify(f.ctx, models.Event{Type: models.EventAdminDisabled, RecipientID: sam.ID, RecipientKind: models.KindSubject})
	assert.Equal(t, SkipNoTemplate, out.Skipped)
	assert.False(t, out.Persisted)

	assert.Empty(t, f.pusher.events)
	assert.Empty(t, f.queue.jobs)
}

func TestNotify_SMSForUrgentNotifications(t *testing.T) {
	f := newFixture(t, Options{SMSEnabled: true, SMSThreshold: models.PriorityHigh})

	f.svc.Notify(f.ctx, approvedEvent(false))
	f.svc.Notify(f.ctx, models.Event{
		Type: models.EventRegistration, RecipientID: sam.ID, RecipientKind: models.KindSubject,
		Data: map[string]interface{}{"name": "Sam"},
	})

	require.Len(t, f.queue.jobs, 2)
	require.NotNil(t, f.queue.jobs[0].SMS)
	assert.Equal(t, "+14155550100", f.queue.jobs[0].SMS.PhoneNumber)
	assert.Contains(t, f.queue.jobs[0].SMS.Message, "Account approved")
	assert.Nil(t, f.queue.jobs[1].SMS, "medium priority stays below the threshold")
}

func TestSendBulk_IsolatesEachRecipient(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.panicOn = "boom"

	outcomes := f.svc.SendBulk(f.ctx, []models.Event{
		{Type: models.EventRegistration, RecipientID: root.ID, RecipientKind: models.KindAdministrator, Data: map[string]interface{}{"name": "Sam"}},
		{Type: models.EventRegistration, RecipientID: "boom", RecipientKind: models.KindAdministrator},
		{Type: models.EventRegistration, RecipientID: "ghost", RecipientKind: models.KindAdministrator},
		approvedEvent(false),
	})

	require.Len(t, outcomes, 4)
	assert.True(t, outcomes[0].Persisted)
	assert.Error(t, outcomes[1].Err)
	assert.False(t, outcomes[1].Persisted)
	assert.Equal(t, SkipRecipientMissing, outcomes[2].Skipped)
	assert.True(t, outcomes[3].Persisted)
	assert.Len(t, f.queue.jobs, 2)
}

func TestInboxRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	owner := actorOf(sam)

	first := f.svc.Notify(f.ctx, approvedEvent(false))
	second := f.svc.Notify(f.ctx, approvedEvent(false))
	f.pusher.events = nil

	page, err := f.svc.List(f.ctx, owner, 1, 20, false)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, second.NotificationID, page.Items[0].ID, "newest first")
	assert.Greater(t, page.Items[0].Sequence, page.Items[1].Sequence)
	assert.Equal(t, int64(2), page.UnreadCount)
	assert.False(t, page.Items[0].IsRead)
	assert.Equal(t, map[string]interface{}{"name": "Sam"}, page.Items[0].Data)

	n, unread, err := f.svc.MarkRead(f.ctx, owner, first.NotificationID)
	require.NoError(t, err)
	assert.True(t, n.IsRead)
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, int64(1), unread)
	readAt := *n.ReadAt

	n, _, err = f.svc.MarkRead(f.ctx, owner, first.NotificationID)
	require.NoError(t, err)
	assert.True(t, readAt.Equal(*n.ReadAt), "second mark keeps the first read time")

	page, err = f.svc.List(f.ctx, owner, 1, 20, true)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.NotificationID, page.Items[0].ID)

	changed, err := f.svc.MarkAllRead(f.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	require.Len(t, f.pusher.events, 3)
	assert.Equal(t, realtime.EventNotificationRead, f.pusher.events[0].event)
	assert.Equal(t, realtime.ReadPayload{NotificationID: first.NotificationID, UnreadCount: 1}, f.pusher.events[0].data)
	assert.Equal(t, realtime.EventAllNotificationsRead, f.pusher.events[2].event)
	assert.Equal(t, realtime.ReadPayload{UnreadCount: 0}, f.pusher.events[2].data)

	_, _, err = f.svc.MarkRead(f.ctx, actorOf(root), first.NotificationID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound), "other recipients cannot touch the record")
}

func TestSoftDelete_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})
	owner := actorOf(sam)
	out := f.svc.Notify(f.ctx, approvedEvent(false))

	require.NoError(t, f.svc.SoftDelete(f.ctx, owner, out.NotificationID))
	require.NoError(t, f.svc.SoftDelete(f.ctx, owner, out.NotificationID))

	page, err := f.svc.List(f.ctx, owner, 1, 20, false)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(0), page.UnreadCount)

	n, err := f.store.Get(f.ctx, owner, out.NotificationID)
	require.NoError(t, err)
	assert.True(t, n.IsDeleted)
	assert.NotNil(t, n.DeletedAt)

	_, _, err = f.svc.MarkRead(f.ctx, owner, out.NotificationID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	err = f.svc.SoftDelete(f.ctx, owner, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t, Options{})
	owner := actorOf(sam)
	for i := 0; i < 25; i++ {
		require.True(t, f.svc.Notify(f.ctx, approvedEvent(false)).Persisted)
	}

	page, err := f.svc.List(f.ctx, owner, 3, 10, false)
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, int64(5), page.Items[0].Sequence)
	assert.Equal(t, int64(1), page.Items[4].Sequence)

	page, err = f.svc.List(f.ctx, owner, 0, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Len(t, page.Items, 25)

	page, err = f.svc.List(f.ctx, owner, 1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
}

func TestSequence_PerRecipient(t *testing.T) {
	f := newFixture(t, Options{})

	f.svc.Notify(f.ctx, approvedEvent(false))
	f.svc.Notify(f.ctx, models.Event{Type: models.EventRegistration, RecipientID: root.ID, RecipientKind: models.KindAdministrator})
	f.svc.Notify(f.ctx, approvedEvent(false))

	samPage, err := f.svc.List(f.ctx, actorOf(sam), 1, 20, false)
	require.NoError(t, err)
	rootPage, err := f.svc.List(f.ctx, actorOf(root), 1, 20, false)
	require.NoError(t, err)

	require.Len(t, samPage.Items, 2)
	assert.Equal(t, []int64{2, 1}, []int64{samPage.Items[0].Sequence, samPage.Items[1].Sequence})
	require.Len(t, rootPage.Items, 1)
	assert.Equal(t, int64(1), rootPage.Items[0].Sequence)
}

type blockingNotifier struct {
	mu      sync.Mutex
	batches [][]models.Event
	release chan struct{}
}

func (b *blockingNotifier) SendBulk(_ context.Context, events []models.Event) []Outcome {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, events)
	return make([]Outcome, len(events))
}

func (b *blockingNotifier) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	n := &blockingNotifier{}
	d := NewDispatcher(n, 8, 2, time.Second, logger.NewNoOpLogger())

	for i := 0; i < 5; i++ {
		d.Dispatch(approvedEvent(false))
	}
	d.Dispatch()
	d.Close()
	d.Close()

	assert.Equal(t, 5, n.count())

	d.Dispatch(approvedEvent(false))
	assert.Equal(t, 5, n.count(), "closed dispatcher drops")
}

func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(n, 1, 1, time.Second, logger.NewNoOpLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(approvedEvent(false))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full buffer")
	}

	close(n.release)
	d.Close()
	count := n.count()
	assert.GreaterOrEqual(t, count, 1)
	assert.LessOrEqual(t, count, 2)
}
