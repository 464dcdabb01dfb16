package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/recurrence"
)

var testLocation = time.FixedZone("MST", -7*60*60)

// testNow is Monday 2025-12-01 09:00 in testLocation.
var testNow = time.Date(2025, time.December, 1, 9, 0, 0, 0, testLocation)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

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

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func testDay(value string) time.Time {
	day, err := recurrence.ParseDate(value, testLocation)
	if err != nil {
		panic(err)
	}
	return day
}

func slotKey(m Meeting) string {
	return m.Date.Format(recurrence.DateLayout) + "|" + m.StartTime.String() + "|" + m.Title
}

// meetingRepositoryStub mimics the UNIQUE slot and template key constraints of the SQL store.
type meetingRepositoryStub struct {
	mu       sync.Mutex
	byID     map[string]Meeting
	listErr  error
	onDelete func(id string)
}

func newMeetingRepositoryStub(meetings ...Meeting) *meetingRepositoryStub {
	repo := &meetingRepositoryStub{byID: make(map[string]Meeting)}
	for _, m := range meetings {
		m.Persisted = true
		repo.byID[m.ID] = m
	}
	return repo
}

func (r *meetingRepositoryStub) conflictLocked(m Meeting) (Meeting, bool) {
	for _, existing := range r.byID {
		if existing.ID == m.ID {
			continue
		}
		if m.TemplateKey != "" && existing.TemplateKey == m.TemplateKey {
			return existing, true
		}
		if slotKey(existing) == slotKey(m) {
			return existing, true
		}
	}
	return Meeting{}, false
}

func (r *meetingRepositoryStub) CreateMeeting(ctx context.Context, meeting Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conflictLocked(meeting); ok {
		return ErrAlreadyExists
	}
	meeting.Persisted = true
	r.byID[meeting.ID] = meeting
	return nil
}

func (r *meetingRepositoryStub) EnsureMeeting(ctx context.Context, meeting Meeting) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.conflictLocked(meeting); ok {
		return existing, nil
	}
	meeting.Persisted = true
	r.byID[meeting.ID] = meeting
	return meeting, nil
}

func (r *meetingRepositoryStub) UpdateMeeting(ctx context.Context, meeting Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[meeting.ID]; !ok {
		return ErrNotFound
	}
	if _, ok := r.conflictLocked(meeting); ok {
		return ErrAlreadyExists
	}
	meeting.Persisted = true
	r.byID[meeting.ID] = meeting
	return nil
}

func (r *meetingRepositoryStub) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}

func (r *meetingRepositoryStub) FindMeetingByTemplateKey(ctx context.Context, key string) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.TemplateKey == key {
			return m, nil
		}
	}
	return Meeting{}, ErrNotFound
}

func (r *meetingRepositoryStub) ListMeetings(ctx context.Context, query MeetingQuery) ([]Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	from := query.From.Format(recurrence.DateLayout)
	to := query.To.Format(recurrence.DateLayout)
	var out []Meeting
	for _, m := range r.byID {
		day := m.Date.Format(recurrence.DateLayout)
		if day < from || (!query.To.IsZero() && day > to) {
			continue
		}
		if query.Source != "" && m.Source != query.Source {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return slotKey(out[i]) < slotKey(out[j]) })
	return out, nil
}

func (r *meetingRepositoryStub) DeleteMeeting(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.byID, id)
	r.mu.Unlock()
	if r.onDelete != nil {
		r.onDelete(id)
	}
	return nil
}

func (r *meetingRepositoryStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// signupRepositoryStub enforces one signup per meeting like UNIQUE(meeting_id).
type signupRepositoryStub struct {
	mu        sync.Mutex
	meetings  *meetingRepositoryStub
	byID      map[string]ChairSignup
	order     []string
	createErr error
	listErr   error
	markErr   error
}

func newSignupRepositoryStub(meetings *meetingRepositoryStub) *signupRepositoryStub {
	repo := &signupRepositoryStub{meetings: meetings, byID: make(map[string]ChairSignup)}
	meetings.onDelete = func(id string) {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		for sid, s := range repo.byID {
			if s.MeetingID == id {
				delete(repo.byID, sid)
			}
		}
	}
	return repo
}

func (r *signupRepositoryStub) CreateSignup(ctx context.Context, signup ChairSignup) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, err := r.meetings.GetMeeting(ctx, signup.MeetingID); err != nil {
		return ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.MeetingID == signup.MeetingID {
			return ErrAlreadyExists
		}
	}
	r.byID[signup.ID] = signup
	r.order = append(r.order, signup.ID)
	return nil
}

func (r *signupRepositoryStub) GetSignupByMeeting(ctx context.Context, meetingID string) (ChairSignup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.MeetingID == meetingID {
			return s, nil
		}
	}
	return ChairSignup{}, ErrNotFound
}

func (r *signupRepositoryStub) DeleteSignup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *signupRepositoryStub) ListSignupsForMeetings(ctx context.Context, meetingIDs []string) ([]ChairSignup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	wanted := make(map[string]struct{}, len(meetingIDs))
	for _, id := range meetingIDs {
		wanted[id] = struct{}{}
	}
	var out []ChairSignup
	for _, id := range r.order {
		s, ok := r.byID[id]
		if !ok {
			continue
		}
		if _, ok := wanted[s.MeetingID]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *signupRepositoryStub) joined(ctx context.Context, keep func(ChairSignup, Meeting) bool) ([]SignupWithMeeting, error) {
	r.mu.Lock()
	signups := make([]ChairSignup, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.byID[id]; ok {
			signups = append(signups, s)
		}
	}
	listErr := r.listErr
	r.mu.Unlock()
	if listErr != nil {
		return nil, listErr
	}

	var out []SignupWithMeeting
	for _, s := range signups {
		m, err := r.meetings.GetMeeting(ctx, s.MeetingID)
		if err != nil {
			continue
		}
		if keep(s, m) {
			out = append(out, SignupWithMeeting{Signup: s, Meeting: m})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return slotKey(out[i].Meeting) < slotKey(out[j].Meeting) })
	return out, nil
}

func (r *signupRepositoryStub) ListSignupsForUser(ctx context.Context, userID string, from time.Time) ([]SignupWithMeeting, error) {
	return r.joined(ctx, func(s ChairSignup, m Meeting) bool {
		return s.UserID == userID && !m.Date.Before(from)
	})
}

func (r *signupRepositoryStub) ListSignupsBetween(ctx context.Context, from, to time.Time) ([]SignupWithMeeting, error) {
	return r.joined(ctx, func(s ChairSignup, m Meeting) bool {
		return !m.Date.Before(from) && !m.Date.After(to)
	})
}

func (r *signupRepositoryStub) ListUnconfirmedSignups(ctx context.Context, createdAfter time.Time) ([]SignupWithMeeting, error) {
	return r.joined(ctx, func(s ChairSignup, m Meeting) bool {
		return s.ConfirmationSentAt == nil && !s.CreatedAt.Before(createdAfter)
	})
}

func (r *signupRepositoryStub) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	s, ok := r.byID[id]
	if !ok || s.ReminderSentAt != nil {
		return false, nil
	}
	s.ReminderSentAt = &sentAt
	r.byID[id] = s
	return true, nil
}

func (r *signupRepositoryStub) MarkSignupConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.ConfirmationSentAt = &sentAt
	r.byID[id] = s
	return nil
}

func (r *signupRepositoryStub) get(id string) ChairSignup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *signupRepositoryStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// availabilityRepositoryStub enforces UNIQUE(user, date).
type availabilityRepositoryStub struct {
	mu        sync.Mutex
	byID      map[string]Availability
	order     []string
	createErr error
}

func newAvailabilityRepositoryStub() *availabilityRepositoryStub {
	return &availabilityRepositoryStub{byID: make(map[string]Availability)}
}

func (r *availabilityRepositoryStub) CreateAvailability(ctx context.Context, availability Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.byID {
		if existing.UserID == availability.UserID && existing.Date.Equal(availability.Date) {
			return ErrAlreadyExists
		}
	}
	r.byID[availability.ID] = availability
	r.order = append(r.order, availability.ID)
	return nil
}

func (r *availabilityRepositoryStub) GetAvailability(ctx context.Context, id string) (Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return Availability{}, ErrNotFound
	}
	return a, nil
}

func (r *availabilityRepositoryStub) DeleteAvailability(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *availabilityRepositoryStub) filter(keep func(Availability) bool) []Availability {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, id := range r.order {
		if a, ok := r.byID[id]; ok && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func (r *availabilityRepositoryStub) ListAvailabilityByDate(ctx context.Context, date time.Time) ([]Availability, error) {
	return r.filter(func(a Availability) bool { return a.Date.Equal(date) }), nil
}

func (r *availabilityRepositoryStub) ListAvailabilityForUser(ctx context.Context, userID string, from time.Time) ([]Availability, error) {
	out := r.filter(func(a Availability) bool { return a.UserID == userID && !a.Date.Before(from) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *availabilityRepositoryStub) ListUnconfirmedAvailability(ctx context.Context, createdAfter time.Time) ([]Availability, error) {
	return r.filter(func(a Availability) bool {
		return a.ConfirmationSentAt == nil && !a.CreatedAt.Before(createdAfter)
	}), nil
}

func (r *availabilityRepositoryStub) MarkAvailabilityConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.ConfirmationSentAt = &sentAt
	r.byID[id] = a
	return nil
}

// userRepositoryStub assigns member numbers from 1001 like the SQL store.
type userRepositoryStub struct {
	mu     sync.Mutex
	byID   map[string]UserCredentials
	next   int
	getErr error
}

func newUserRepositoryStub(users ...User) *userRepositoryStub {
	repo := &userRepositoryStub{byID: make(map[string]UserCredentials), next: 1001}
	for _, u := range users {
		if u.MemberNumber == 0 {
			u.MemberNumber = repo.next
		}
		if u.MemberNumber >= repo.next {
			repo.next = u.MemberNumber + 1
		}
		repo.byID[u.ID] = UserCredentials{User: u}
	}
	return repo
}

func (r *userRepositoryStub) CreateUser(ctx context.Context, credentials UserCredentials) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.User.Email == credentials.User.Email {
			return User{}, ErrAlreadyExists
		}
	}
	credentials.User.MemberNumber = r.next
	r.next++
	r.byID[credentials.User.ID] = credentials
	return credentials.User, nil
}

func (r *userRepositoryStub) UpdateUser(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[user.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	existing.User = user
	r.byID[user.ID] = existing
	return user, nil
}

func (r *userRepositoryStub) GetUser(ctx context.Context, id string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return User{}, r.getErr
	}
	creds, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return creds.User, nil
}

func (r *userRepositoryStub) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]User, 0, len(r.byID))
	for _, creds := range r.byID {
		out = append(out, creds.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberNumber < out[j].MemberNumber })
	return out, nil
}

func (r *userRepositoryStub) hashOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].PasswordHash
}

// notificationLogStub mirrors the (kind, period, recipient) primary key.
type notificationLogStub struct {
	mu      sync.Mutex
	entries map[string]time.Time
	hasErr  error
}

func newNotificationLogStub() *notificationLogStub {
	return &notificationLogStub{entries: make(map[string]time.Time)}
}

func (n *notificationLogStub) HasNotification(ctx context.Context, kind, periodKey, recipientID string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hasErr != nil {
		return false, n.hasErr
	}
	_, ok := n.entries[kind+"|"+periodKey+"|"+recipientID]
	return ok, nil
}

func (n *notificationLogStub) RecordNotification(ctx context.Context, kind, periodKey, recipientID string, sentAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := kind + "|" + periodKey + "|" + recipientID
	if _, ok := n.entries[key]; ok {
		return ErrAlreadyExists
	}
	n.entries[key] = sentAt
	return nil
}

// senderStub records delivered messages; fail decides per message whether delivery fails.
type senderStub struct {
	mu   sync.Mutex
	sent []notify.Message
	fail func(notify.Message) error
}

var errDeliveryFailed = errors.New("smtp unavailable")

func (s *senderStub) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *senderStub) ofKind(kind notify.Kind) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, msg := range s.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// portalFixture wires real services over in-memory stubs.
type portalFixture struct {
	clock        *testClock
	engine       *recurrence.Engine
	meetings     *meetingRepositoryStub
	signups      *signupRepositoryStub
	availability *availabilityRepositoryStub
	users        *userRepositoryStub
	log          *notificationLogStub
	sender       *senderStub

	calendar     *CalendarService
	signupSvc    *SignupService
	availableSvc *AvailabilityService
	reminders    *ReminderService
}

func testTemplate() recurrence.Template {
	womens := recurrence.WeeklyOn("womens", time.Saturday, recurrence.MustTimeOfDay("08:30"), "Women's Meeting")
	womens.GenderRestriction = recurrence.GenderFemale
	return recurrence.Template{Rules: []recurrence.Rule{
		recurrence.Daily("evening", recurrence.MustTimeOfDay("17:30"), "Evening Meeting"),
		womens,
	}}
}

func newPortalFixture(now time.Time, users ...User) *portalFixture {
	f := &portalFixture{
		clock:        newTestClock(now),
		engine:       recurrence.NewEngine(testLocation, testTemplate()),
		meetings:     newMeetingRepositoryStub(),
		availability: newAvailabilityRepositoryStub(),
		users:        newUserRepositoryStub(users...),
		log:          newNotificationLogStub(),
		sender:       &senderStub{},
	}
	f.signups = newSignupRepositoryStub(f.meetings)
	f.calendar = NewCalendarService(f.engine, f.meetings, f.signups, sequentialIDs("meeting"), f.clock.Now, 0)
	f.signupSvc = NewSignupService(f.calendar, f.signups, f.users, f.sender, sequentialIDs("signup"), f.clock.Now)
	f.availableSvc = NewAvailabilityService(f.availability, f.users, f.sender, testLocation, sequentialIDs("avail"), f.clock.Now)
	f.reminders = NewReminderService(f.calendar, f.signups, f.availability, f.users, f.log, f.sender, ReminderConfig{
		Location:      testLocation,
		Threshold:     24 * time.Hour,
		DigestWeekday: time.Sunday,
		DigestHour:    10,
		PortalURL:     "https://portal.example.org",
	}, f.clock.Now)
	return f
}

var (
	alice = User{ID: "alice", Email: "alice@example.org", DisplayName: "Alice", Gender: GenderFemale}
	bob   = User{ID: "bob", Email: "bob@example.org", DisplayName: "Bob", Gender: GenderMale}
	admin = User{ID: "admin", Email: "admin@example.org", DisplayName: "Admin", IsAdmin: true}
)

func principalOf(u User) Principal {
	return Principal{UserID: u.ID, IsAdmin: u.IsAdmin}
}
