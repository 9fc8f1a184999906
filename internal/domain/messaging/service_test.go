package messaging

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/attachment"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
	"github.com/vivamoms/consult/internal/platform/notification"
)

// -- Mock Message Repository --

type mockRepo struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*Message
}

func newMockRepo() *mockRepo {
	return &mockRepo{msgs: make(map[uuid.UUID]*Message)}
}

func (m *mockRepo) Create(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, apperror.NotFound("message %s not found", id)
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) Mutate(_ context.Context, id uuid.UUID, fn func(*Message) error) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, apperror.NotFound("message %s not found", id)
	}
	cp := *msg
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.msgs[id] = &cp
	out := cp
	return &out, nil
}

func (m *mockRepo) MarkManyRead(_ context.Context, recipientID uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []uuid.UUID
	for _, id := range ids {
		msg, ok := m.msgs[id]
		if !ok || msg.RecipientID != recipientID || msg.IsRead {
			continue
		}
		msg.IsRead = true
		t := at
		msg.ReadAt = &t
		changed = append(changed, id)
	}
	return changed, nil
}

func matches(msg *Message, q Query) bool {
	if q.ConsultationID != nil && msg.ConsultationID != *q.ConsultationID {
		return false
	}
	if q.Participant != nil && msg.SenderID != *q.Participant && msg.RecipientID != *q.Participant {
		return false
	}
	if q.RecipientID != nil && msg.RecipientID != *q.RecipientID {
		return false
	}
	if q.Between != nil {
		a, b := q.Between[0], q.Between[1]
		if !(msg.SenderID == a && msg.RecipientID == b) && !(msg.SenderID == b && msg.RecipientID == a) {
			return false
		}
	}
	if q.UnreadOnly && msg.IsRead {
		return false
	}
	if q.Type != "" && msg.Type != q.Type {
		return false
	}
	if q.Since != nil && msg.SentAt.Before(*q.Since) {
		return false
	}
	if q.Search != "" && !strings.Contains(strings.ToLower(msg.Content), strings.ToLower(q.Search)) {
		return false
	}
	if !q.IncludeDeleted && msg.IsDeleted {
		return false
	}
	return true
}

func (m *mockRepo) List(_ context.Context, q Query) ([]*Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.msgs {
		if matches(msg, q) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.NewestFirst {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	total := len(out)
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func (m *mockRepo) Count(ctx context.Context, q Query) (int, error) {
	_, n, err := m.List(ctx, q)
	return n, err
}

// -- Stub collaborators --

type stubConsultations map[uuid.UUID]*consultation.Consultation

func (s stubConsultations) Lookup(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	c, ok := s[id]
	if !ok {
		return nil, apperror.NotFound("consultation %s not found", id)
	}
	cp := *c
	return &cp, nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	evs []notification.Event
}

func (r *recordingNotifier) Dispatch(_ context.Context, evs ...notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
}

func (r *recordingNotifier) events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Event(nil), r.evs...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// -- Fixtures --

var (
	chw      = access.Actor{ID: uuid.New(), Role: access.RoleCHW, IsActive: true}
	doc      = access.Actor{ID: uuid.New(), Role: access.RoleDoctor, IsActive: true}
	otherDoc = access.Actor{ID: uuid.New(), Role: access.RoleDoctor, IsActive: true}
	outsider = access.Actor{ID: uuid.New(), Role: access.RoleCHW, IsActive: true}
	admin    = access.Actor{ID: uuid.New(), Role: access.RoleAdmin, IsActive: true}
)

type fixture struct {
	svc      *Service
	repo     *mockRepo
	cons     stubConsultations
	rec      *audit.Recorder
	notifier *recordingNotifier
	clock    *testClock
	store    *attachment.MemStore
	// active is a consultation between chw and doc.
	active uuid.UUID
	// pending has no doctor yet.
	pending uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMockRepo(),
		cons:     stubConsultations{},
		rec:      &audit.Recorder{},
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)},
		store:    attachment.NewMemStore(),
	}
	docID := doc.ID
	f.active = uuid.New()
	f.cons[f.active] = &consultation.Consultation{ID: f.active, ChwID: chw.ID, DoctorID: &docID, Status: consultation.StatusInProgress}
	f.pending = uuid.New()
	f.cons[f.pending] = &consultation.Consultation{ID: f.pending, ChwID: chw.ID, Status: consultation.StatusRequested}

	f.svc = NewService(f.repo, db.NopTransactor{}, f.rec, f.cons,
		WithClock(f.clock.Now),
		WithNotifier(f.notifier),
		WithAttachments(attachment.NewVerifier(f.store)),
	)
	return f
}

func (f *fixture) send(t *testing.T, from, to access.Actor, content string) *Message {
	t.Helper()
	m, err := f.svc.Send(context.Background(), from, SendInput{ConsultationID: f.active, RecipientID: to.ID, Content: content})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	return m
}

func assertKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	if !apperror.Is(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

// -- Tests --

func TestSend_ParticipantToParticipant(t *testing.T) {
	f := newFixture()
	m := f.send(t, chw, doc, "  Mother reports headaches since Tuesday  ")

	if m.Type != TypeText || m.Content != "Mother reports headaches since Tuesday" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.SenderID != chw.ID || m.RecipientID != doc.ID || m.IsRead {
		t.Errorf("unexpected addressing %+v", m)
	}
	if got := f.rec.Actions(); len(got) != 1 || got[0] != "message.send" {
		t.Errorf("expected one message.send audit, got %v", got)
	}
	evs := f.notifier.events()
	if len(evs) != 1 || evs[0].Type != notification.EventMessageNew || evs[0].TargetUserID != doc.ID {
		t.Fatalf("expected a message.new event for the doctor, got %+v", evs)
	}
	if evs[0].Payload[notification.KeyMessageID] != m.ID.String() {
		t.Errorf("event payload missing message id: %v", evs[0].Payload)
	}
}

func TestSend_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name  string
		actor access.Actor
		in    SendInput
		kind  apperror.Kind
	}{
		{"to self", chw, SendInput{ConsultationID: f.active, RecipientID: chw.ID, Content: "hi"}, apperror.KindStateConflict},
		{"to non-participant", chw, SendInput{ConsultationID: f.active, RecipientID: otherDoc.ID, Content: "hi"}, apperror.KindStateConflict},
		{"no doctor yet", chw, SendInput{ConsultationID: f.pending, RecipientID: doc.ID, Content: "hi"}, apperror.KindStateConflict},
		{"outsider", outsider, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Content: "hi"}, apperror.KindForbidden},
		{"empty text", chw, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Content: "   "}, apperror.KindValidation},
		{"system by participant", doc, SendInput{ConsultationID: f.active, RecipientID: chw.ID, Type: TypeSystem, Content: "x"}, apperror.KindValidation},
		{"too long", chw, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Content: strings.Repeat("a", maxContentLength+1)}, apperror.KindValidation},
		{"unknown consultation", chw, SendInput{ConsultationID: uuid.New(), RecipientID: doc.ID, Content: "hi"}, apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, tt.actor, tt.in)
			assertKind(t, err, tt.kind)
		})
	}
	if got := f.rec.Actions(); len(got) != 0 {
		t.Errorf("rejected sends must not be audited, got %v", got)
	}
}

func TestSend_Admin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, admin, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Content: "Please review"}); err != nil {
		t.Fatalf("admin to participant: %v", err)
	}
	_, err := f.svc.Send(ctx, admin, SendInput{ConsultationID: f.active, RecipientID: otherDoc.ID, Content: "x"})
	assertKind(t, err, apperror.KindStateConflict)
}

func TestSend_InactiveDenied(t *testing.T) {
	f := newFixture()
	gone := chw
	gone.IsActive = false
	_, err := f.svc.Send(context.Background(), gone, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Content: "hi"})
	assertKind(t, err, apperror.KindForbidden)

	_, err = f.svc.UnreadCount(context.Background(), gone, nil)
	assertKind(t, err, apperror.KindForbidden)
}

func TestSend_AfterConsultationClosed(t *testing.T) {
	f := newFixture()
	f.cons[f.active].Status = consultation.StatusCompleted
	f.send(t, doc, chw, "Follow up in two weeks")
}

func TestSend_Attachments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.Put("scan-1", attachment.Object{Size: 2048, ContentType: "image/png"})

	img := &attachment.Metadata{StorageID: "scan-1", FileName: "scan.png", FileSize: 2048, MimeType: "image/png"}
	m, err := f.svc.Send(ctx, chw, SendInput{ConsultationID: f.active, RecipientID: doc.ID, Type: TypeImage, Attachment: img})
	if err != nil {
		t.Fatalf("image send: %v", err)
	}
	if m.Attachment == nil || m.Attachment.StorageID != "scan-1" {
		t.Errorf("attachment not kept: %+v", m.Attachment)
	}
	if got := f.notifier.events()[0].Payload[notification.KeyPreview]; got != "Sent an image" {
		t.Errorf("unexpected preview %q", got)
	}

	tests := []struct {
		name string
		in   SendInput
	}{
		{"image without attachment", SendInput{Type: TypeImage}},
		{"text with attachment", SendInput{Type: TypeText, Content: "x", Attachment: img}},
		{"pdf as image", SendInput{Type: TypeImage, Attachment: &attachment.Metadata{StorageID: "scan-1", FileName: "a.pdf", FileSize: 2048, MimeType: "application/pdf"}}},
		{"size mismatch", SendInput{Type: TypeImage, Attachment: &attachment.Metadata{StorageID: "scan-1", FileName: "scan.png", FileSize: 99, MimeType: "image/png"}}},
		{"missing object", SendInput{Type: TypeFile, Attachment: &attachment.Metadata{StorageID: "nope", FileName: "a.pdf", FileSize: 10, MimeType: "application/pdf"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.ConsultationID = f.active
			tt.in.RecipientID = doc.ID
			_, err := f.svc.Send(ctx, chw, tt.in)
			assertKind(t, err, apperror.KindValidation)
		})
	}
}

func TestEdit_Window(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.send(t, chw, doc, "BP 140/90")

	f.clock.Advance(23 * time.Hour)
	edited, err := f.svc.Edit(ctx, chw, m.ID, "BP 150/95")
	if err != nil {
		t.Fatalf("edit within window: %v", err)
	}
	if edited.Content != "BP 150/95" || edited.EditedAt == nil || !edited.EditedAt.Equal(f.clock.Now()) {
		t.Errorf("unexpected edit result %+v", edited)
	}

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Edit(ctx, chw, m.ID, "too late")
	assertKind(t, err, apperror.KindStateConflict)
}

func TestEdit_OnlySender(t *testing.T) {
	f := newFixture()
	m := f.send(t, chw, doc, "hello")

	_, err := f.svc.Edit(context.Background(), doc, m.ID, "changed")
	assertKind(t, err, apperror.KindForbidden)
	_, err = f.svc.Edit(context.Background(), chw, m.ID, "  ")
	assertKind(t, err, apperror.KindValidation)
	_, err = f.svc.Edit(context.Background(), chw, uuid.New(), "x")
	assertKind(t, err, apperror.KindNotFound)
}

func TestDelete_Tombstone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	keep := f.send(t, chw, doc, "first")
	gone := f.send(t, chw, doc, "wrong patient")

	_, err := f.svc.Delete(ctx, doc, gone.ID)
	assertKind(t, err, apperror.KindForbidden)

	del, err := f.svc.Delete(ctx, chw, gone.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !del.IsDeleted || del.Content != Tombstone {
		t.Errorf("expected tombstone, got %+v", del)
	}

	_, err = f.svc.Delete(ctx, chw, gone.ID)
	assertKind(t, err, apperror.KindStateConflict)
	_, err = f.svc.Edit(ctx, chw, gone.ID, "x")
	assertKind(t, err, apperror.KindStateConflict)

	msgs, total, err := f.svc.ListForConsultation(ctx, doc, f.active, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || msgs[0].ID != keep.ID {
		t.Errorf("deleted message should be excluded, got %d messages", total)
	}
	n, _ := f.svc.UnreadCount(ctx, doc, nil)
	if n != 1 {
		t.Errorf("expected deleted message to drop out of unread count, got %d", n)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.send(t, chw, doc, "hello")

	_, err := f.svc.MarkRead(ctx, chw, m.ID)
	assertKind(t, err, apperror.KindForbidden)

	first, err := f.svc.MarkRead(ctx, doc, m.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !first.IsRead || first.ReadAt == nil {
		t.Fatalf("expected read, got %+v", first)
	}
	readAt := *first.ReadAt

	f.clock.Advance(time.Minute)
	second, err := f.svc.MarkRead(ctx, doc, m.ID)
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if !second.ReadAt.Equal(readAt) {
		t.Errorf("read_at changed on repeat: %v -> %v", readAt, second.ReadAt)
	}
	want := []string{"message.send", "message.mark_read"}
	if got := f.rec.Actions(); len(got) != len(want) || got[1] != want[1] {
		t.Errorf("expected audits %v, got %v", want, got)
	}
}

func TestUnreadCountAndBulkRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.send(t, chw, doc, "one")
	b := f.send(t, chw, doc, "two")
	f.send(t, chw, doc, "three")
	mine := f.send(t, doc, chw, "reply")

	n, err := f.svc.UnreadCount(ctx, doc, &f.active)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 unread, got %d (%v)", n, err)
	}

	marked, err := f.svc.MarkManyRead(ctx, doc, []uuid.UUID{a.ID, b.ID, a.ID, mine.ID, uuid.New()})
	if err != nil {
		t.Fatalf("MarkManyRead: %v", err)
	}
	if marked != 2 {
		t.Errorf("expected only the doctor's two unread messages to change, got %d", marked)
	}
	n, _ = f.svc.UnreadCount(ctx, doc, nil)
	if n != 1 {
		t.Errorf("expected 1 unread after bulk read, got %d", n)
	}
	unread, err := f.svc.ListUnread(ctx, doc, nil, 0)
	if err != nil || len(unread) != 1 || unread[0].Content != "three" {
		t.Errorf("unexpected unread list %v (%v)", unread, err)
	}

	_, err = f.svc.UnreadCount(ctx, outsider, &f.active)
	assertKind(t, err, apperror.KindForbidden)
}

func TestSendSystem(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SendSystem(ctx, doc, f.active, chw.ID, "Consultation moved")
	assertKind(t, err, apperror.KindForbidden)
	_, err = f.svc.SendSystem(ctx, admin, f.active, otherDoc.ID, "x")
	assertKind(t, err, apperror.KindStateConflict)

	m, err := f.svc.SendSystem(ctx, admin, f.active, chw.ID, "Doctor reassigned")
	if err != nil {
		t.Fatalf("SendSystem: %v", err)
	}
	if m.Type != TypeSystem || m.SenderID != chw.ID || m.RecipientID != chw.ID {
		t.Errorf("unexpected system message %+v", m)
	}
	_, err = f.svc.Edit(ctx, chw, m.ID, "changed")
	assertKind(t, err, apperror.KindStateConflict)
	_, err = f.svc.Delete(ctx, chw, m.ID)
	assertKind(t, err, apperror.KindStateConflict)

	st, err := f.svc.Stats(ctx, chw, nil, 0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Sent != 0 || st.Received != 1 || st.ByType[TypeSystem] != 1 {
		t.Errorf("system messages count as received only, got %+v", st)
	}
}

func TestConversationAndSearch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.send(t, chw, doc, "Fetal movement reduced")
	f.clock.Advance(time.Minute)
	f.send(t, doc, chw, "Refer for CTG today")
	f.clock.Advance(time.Minute)
	f.send(t, admin, doc, "movement audit")

	conv, total, err := f.svc.Conversation(ctx, chw, doc.ID, nil, 0, 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if total != 2 || conv[0].SenderID != chw.ID || conv[1].SenderID != doc.ID {
		t.Errorf("expected both directions oldest first, got %d", total)
	}
	_, _, err = f.svc.Conversation(ctx, chw, chw.ID, nil, 0, 0)
	assertKind(t, err, apperror.KindValidation)

	hits, err := f.svc.Search(ctx, chw, "MOVEMENT", nil, "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "Fetal movement reduced" {
		t.Errorf("chw should only find their own messages, got %v", hits)
	}
	hits, _ = f.svc.Search(ctx, admin, "movement", nil, "", 0)
	if len(hits) != 2 || hits[0].Content != "movement audit" {
		t.Errorf("admin search should cover all messages newest first, got %d", len(hits))
	}
	_, err = f.svc.Search(ctx, chw, " ", nil, "", 0)
	assertKind(t, err, apperror.KindValidation)
}

func TestStats_Window(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.send(t, chw, doc, "old")
	f.clock.Advance(40 * 24 * time.Hour)
	f.send(t, chw, doc, "new")
	f.send(t, doc, chw, "reply")

	st, err := f.svc.Stats(ctx, chw, nil, 30)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 || st.Sent != 1 || st.Received != 1 || st.Unread != 1 || st.ByType[TypeText] != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	st, _ = f.svc.Stats(ctx, chw, nil, 60)
	if st.Total != 3 {
		t.Errorf("expected wider window to include the old message, got %+v", st)
	}
}

func TestSend_ConcurrentMarkRead(t *testing.T) {
	f := newFixture()
	m := f.send(t, chw, doc, "hello")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.MarkRead(context.Background(), doc, m.ID)
		}()
	}
	wg.Wait()

	count := 0
	for _, a := range f.rec.Actions() {
		if a == "message.mark_read" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one mark_read audit, got %d", count)
	}
}
