package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/persistence"
	"github.com/example/chair-portal/internal/recurrence"
)

// translateError keeps the storage error in the chain and adds the
// application sentinel the services branch on.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrForeignKeyViolation):
		return fmt.Errorf("%w: %w", application.ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %w", application.ErrAlreadyExists, err)
	case errors.Is(err, persistence.ErrTransient):
		return fmt.Errorf("%w: %w", application.ErrTransientStore, err)
	}
	return err
}

type userStoreAdapter struct {
	repo persistence.UserRepository
}

func newUserStoreAdapter(repo persistence.UserRepository) *userStoreAdapter {
	return &userStoreAdapter{repo: repo}
}

func (a *userStoreAdapter) CreateUser(ctx context.Context, credentials application.UserCredentials) (application.User, error) {
	stored, err := a.repo.CreateUser(ctx, toPersistenceUser(credentials.User, credentials.PasswordHash))
	if err != nil {
		return application.User{}, translateError(err)
	}
	return toApplicationUser(stored), nil
}

// UpdateUser keeps the stored password hash.
func (a *userStoreAdapter) UpdateUser(ctx context.Context, user application.User) (application.User, error) {
	current, err := a.repo.GetUser(ctx, user.ID)
	if err != nil {
		return application.User{}, translateError(err)
	}
	stored, err := a.repo.UpdateUser(ctx, toPersistenceUser(user, current.PasswordHash))
	if err != nil {
		return application.User{}, translateError(err)
	}
	return toApplicationUser(stored), nil
}

func (a *userStoreAdapter) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, translateError(err)
	}
	return toApplicationUser(stored), nil
}

func (a *userStoreAdapter) GetUserCredentialsByEmail(ctx context.Context, email string) (application.UserCredentials, error) {
	stored, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.UserCredentials{}, translateError(err)
	}
	return application.UserCredentials{User: toApplicationUser(stored), PasswordHash: stored.PasswordHash}, nil
}

func (a *userStoreAdapter) ListUsers(ctx context.Context) ([]application.User, error) {
	models, err := a.repo.ListUsers(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	users := make([]application.User, 0, len(models))
	for _, model := range models {
		users = append(users, toApplicationUser(model))
	}
	return users, nil
}

type sessionRepositoryAdapter struct {
	repo persistence.SessionRepository
}

func newSessionRepositoryAdapter(repo persistence.SessionRepository) *sessionRepositoryAdapter {
	return &sessionRepositoryAdapter{repo: repo}
}

func (a *sessionRepositoryAdapter) CreateSession(ctx context.Context, session application.Session) (application.Session, error) {
	stored, err := a.repo.CreateSession(ctx, toPersistenceSession(session))
	if err != nil {
		return application.Session{}, translateError(err)
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) GetSession(ctx context.Context, token string) (application.Session, error) {
	stored, err := a.repo.GetSession(ctx, token)
	if err != nil {
		return application.Session{}, translateError(err)
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) RevokeSession(ctx context.Context, token string, revokedAt time.Time) (application.Session, error) {
	stored, err := a.repo.RevokeSession(ctx, token, revokedAt)
	if err != nil {
		return application.Session{}, translateError(err)
	}
	return toApplicationSession(stored), nil
}

func (a *sessionRepositoryAdapter) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	return translateError(a.repo.DeleteExpiredSessions(ctx, reference))
}

type meetingRepositoryAdapter struct {
	repo persistence.MeetingRepository
	loc  *time.Location
}

func newMeetingRepositoryAdapter(repo persistence.MeetingRepository, loc *time.Location) *meetingRepositoryAdapter {
	return &meetingRepositoryAdapter{repo: repo, loc: loc}
}

func (a *meetingRepositoryAdapter) CreateMeeting(ctx context.Context, meeting application.Meeting) error {
	return translateError(a.repo.CreateMeeting(ctx, toPersistenceMeeting(meeting)))
}

func (a *meetingRepositoryAdapter) EnsureMeeting(ctx context.Context, meeting application.Meeting) (application.Meeting, error) {
	stored, err := a.repo.EnsureMeeting(ctx, toPersistenceMeeting(meeting))
	if err != nil {
		return application.Meeting{}, translateError(err)
	}
	return toApplicationMeeting(stored, a.loc)
}

func (a *meetingRepositoryAdapter) UpdateMeeting(ctx context.Context, meeting application.Meeting) error {
	return translateError(a.repo.UpdateMeeting(ctx, toPersistenceMeeting(meeting)))
}

func (a *meetingRepositoryAdapter) GetMeeting(ctx context.Context, id string) (application.Meeting, error) {
	stored, err := a.repo.GetMeeting(ctx, id)
	if err != nil {
		return application.Meeting{}, translateError(err)
	}
	return toApplicationMeeting(stored, a.loc)
}

func (a *meetingRepositoryAdapter) FindMeetingByTemplateKey(ctx context.Context, key string) (application.Meeting, error) {
	stored, err := a.repo.FindMeetingByTemplateKey(ctx, key)
	if err != nil {
		return application.Meeting{}, translateError(err)
	}
	return toApplicationMeeting(stored, a.loc)
}

func (a *meetingRepositoryAdapter) ListMeetings(ctx context.Context, query application.MeetingQuery) ([]application.Meeting, error) {
	filter := persistence.MeetingFilter{Source: string(query.Source)}
	if !query.From.IsZero() {
		filter.FromDate = formatDate(query.From, a.loc)
	}
	if !query.To.IsZero() {
		filter.ToDate = formatDate(query.To, a.loc)
	}
	models, err := a.repo.ListMeetings(ctx, filter)
	if err != nil {
		return nil, translateError(err)
	}
	meetings := make([]application.Meeting, 0, len(models))
	for _, model := range models {
		meeting, err := toApplicationMeeting(model, a.loc)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	return meetings, nil
}

func (a *meetingRepositoryAdapter) DeleteMeeting(ctx context.Context, id string) error {
	return translateError(a.repo.DeleteMeeting(ctx, id))
}

type signupRepositoryAdapter struct {
	repo persistence.SignupRepository
	loc  *time.Location
}

func newSignupRepositoryAdapter(repo persistence.SignupRepository, loc *time.Location) *signupRepositoryAdapter {
	return &signupRepositoryAdapter{repo: repo, loc: loc}
}

func (a *signupRepositoryAdapter) CreateSignup(ctx context.Context, signup application.ChairSignup) error {
	return translateError(a.repo.CreateSignup(ctx, toPersistenceSignup(signup)))
}

func (a *signupRepositoryAdapter) GetSignupByMeeting(ctx context.Context, meetingID string) (application.ChairSignup, error) {
	stored, err := a.repo.GetSignupByMeeting(ctx, meetingID)
	if err != nil {
		return application.ChairSignup{}, translateError(err)
	}
	return toApplicationSignup(stored), nil
}

func (a *signupRepositoryAdapter) DeleteSignup(ctx context.Context, id string) error {
	return translateError(a.repo.DeleteSignup(ctx, id))
}

func (a *signupRepositoryAdapter) ListSignupsForMeetings(ctx context.Context, meetingIDs []string) ([]application.ChairSignup, error) {
	models, err := a.repo.ListSignupsForMeetings(ctx, meetingIDs)
	if err != nil {
		return nil, translateError(err)
	}
	signups := make([]application.ChairSignup, 0, len(models))
	for _, model := range models {
		signups = append(signups, toApplicationSignup(model))
	}
	return signups, nil
}

func (a *signupRepositoryAdapter) ListSignupsForUser(ctx context.Context, userID string, from time.Time) ([]application.SignupWithMeeting, error) {
	return a.joined(a.repo.ListSignupsForUser(ctx, userID, formatDate(from, a.loc)))
}

func (a *signupRepositoryAdapter) ListSignupsBetween(ctx context.Context, from, to time.Time) ([]application.SignupWithMeeting, error) {
	return a.joined(a.repo.ListSignupsBetween(ctx, formatDate(from, a.loc), formatDate(to, a.loc)))
}

func (a *signupRepositoryAdapter) ListUnconfirmedSignups(ctx context.Context, createdAfter time.Time) ([]application.SignupWithMeeting, error) {
	return a.joined(a.repo.ListUnconfirmedSignups(ctx, createdAfter))
}

func (a *signupRepositoryAdapter) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	changed, err := a.repo.MarkReminderSent(ctx, id, sentAt)
	return changed, translateError(err)
}

func (a *signupRepositoryAdapter) MarkSignupConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	return translateError(a.repo.MarkSignupConfirmationSent(ctx, id, sentAt))
}

func (a *signupRepositoryAdapter) joined(models []persistence.SignupWithMeeting, err error) ([]application.SignupWithMeeting, error) {
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]application.SignupWithMeeting, 0, len(models))
	for _, model := range models {
		meeting, err := toApplicationMeeting(model.Meeting, a.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, application.SignupWithMeeting{Signup: toApplicationSignup(model.Signup), Meeting: meeting})
	}
	return out, nil
}

type availabilityRepositoryAdapter struct {
	repo persistence.AvailabilityRepository
	loc  *time.Location
}

func newAvailabilityRepositoryAdapter(repo persistence.AvailabilityRepository, loc *time.Location) *availabilityRepositoryAdapter {
	return &availabilityRepositoryAdapter{repo: repo, loc: loc}
}

func (a *availabilityRepositoryAdapter) CreateAvailability(ctx context.Context, availability application.Availability) error {
	return translateError(a.repo.CreateAvailability(ctx, persistence.Availability{
		ID:                  availability.ID,
		UserID:              availability.UserID,
		VolunteerDate:       formatDate(availability.Date, a.loc),
		TimePreference:      string(availability.TimePreference),
		Notes:               availability.Notes,
		DisplayNameSnapshot: availability.DisplayNameSnapshot,
		CreatedAt:           availability.CreatedAt,
		ConfirmationSentAt:  cloneTime(availability.ConfirmationSentAt),
	}))
}

func (a *availabilityRepositoryAdapter) GetAvailability(ctx context.Context, id string) (application.Availability, error) {
	stored, err := a.repo.GetAvailability(ctx, id)
	if err != nil {
		return application.Availability{}, translateError(err)
	}
	return toApplicationAvailability(stored, a.loc)
}

func (a *availabilityRepositoryAdapter) DeleteAvailability(ctx context.Context, id string) error {
	return translateError(a.repo.DeleteAvailability(ctx, id))
}

func (a *availabilityRepositoryAdapter) ListAvailabilityByDate(ctx context.Context, date time.Time) ([]application.Availability, error) {
	return a.list(a.repo.ListAvailabilityByDate(ctx, formatDate(date, a.loc)))
}

func (a *availabilityRepositoryAdapter) ListAvailabilityForUser(ctx context.Context, userID string, from time.Time) ([]application.Availability, error) {
	return a.list(a.repo.ListAvailabilityForUser(ctx, userID, formatDate(from, a.loc)))
}

func (a *availabilityRepositoryAdapter) ListUnconfirmedAvailability(ctx context.Context, createdAfter time.Time) ([]application.Availability, error) {
	return a.list(a.repo.ListUnconfirmedAvailability(ctx, createdAfter))
}

func (a *availabilityRepositoryAdapter) MarkAvailabilityConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	return translateError(a.repo.MarkAvailabilityConfirmationSent(ctx, id, sentAt))
}

func (a *availabilityRepositoryAdapter) list(models []persistence.Availability, err error) ([]application.Availability, error) {
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]application.Availability, 0, len(models))
	for _, model := range models {
		item, err := toApplicationAvailability(model, a.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

type notificationLogAdapter struct {
	repo persistence.NotificationLogRepository
}

func newNotificationLogAdapter(repo persistence.NotificationLogRepository) *notificationLogAdapter {
	return &notificationLogAdapter{repo: repo}
}

func (a *notificationLogAdapter) HasNotification(ctx context.Context, kind, periodKey, recipientID string) (bool, error) {
	found, err := a.repo.HasNotification(ctx, kind, periodKey, recipientID)
	return found, translateError(err)
}

func (a *notificationLogAdapter) RecordNotification(ctx context.Context, kind, periodKey, recipientID string, sentAt time.Time) error {
	return translateError(a.repo.RecordNotification(ctx, persistence.NotificationRecord{
		Kind:        kind,
		PeriodKey:   periodKey,
		RecipientID: recipientID,
		SentAt:      sentAt,
	}))
}

func formatDate(day time.Time, loc *time.Location) string {
	return recurrence.DateOf(day, loc).Format(recurrence.DateLayout)
}

func parseDate(value string, loc *time.Location) (time.Time, error) {
	day, err := recurrence.ParseDate(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored date %q: %w", value, err)
	}
	return day, nil
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:           model.ID,
		MemberNumber: model.MemberNumber,
		Email:        model.Email,
		DisplayName:  model.DisplayName,
		Gender:       model.Gender,
		IsAdmin:      model.IsAdmin,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

func toPersistenceUser(user application.User, passwordHash string) persistence.User {
	return persistence.User{
		ID:           user.ID,
		MemberNumber: user.MemberNumber,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		PasswordHash: passwordHash,
		Gender:       user.Gender,
		IsAdmin:      user.IsAdmin,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func toApplicationSession(model persistence.Session) application.Session {
	return application.Session{
		ID:        model.ID,
		UserID:    model.UserID,
		Token:     model.Token,
		ExpiresAt: model.ExpiresAt,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		RevokedAt: cloneTime(model.RevokedAt),
	}
}

func toPersistenceSession(session application.Session) persistence.Session {
	return persistence.Session{
		ID:        session.ID,
		UserID:    session.UserID,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		RevokedAt: cloneTime(session.RevokedAt),
	}
}

func toApplicationMeeting(model persistence.Meeting, loc *time.Location) (application.Meeting, error) {
	date, err := parseDate(model.EventDate, loc)
	if err != nil {
		return application.Meeting{}, err
	}
	start, err := recurrence.ParseTimeOfDay(model.StartTime)
	if err != nil {
		return application.Meeting{}, fmt.Errorf("meeting %s start time: %w", model.ID, err)
	}
	meeting := application.Meeting{
		ID:                model.ID,
		Date:              date,
		StartTime:         start,
		Title:             model.Title,
		Description:       model.Description,
		VideoLink:         model.VideoLink,
		MeetingType:       model.MeetingType,
		GenderRestriction: applicationGenderRestriction(model.GenderRestriction),
		AcceptingSignups:  model.AcceptingSignups,
		Status:            application.MeetingStatus(model.Status),
		Source:            application.MeetingSource(model.Source),
		Persisted:         true,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
	if meeting.Status == "" {
		meeting.Status = application.MeetingStatusScheduled
	}
	if model.EndTime != nil {
		end, err := recurrence.ParseTimeOfDay(*model.EndTime)
		if err != nil {
			return application.Meeting{}, fmt.Errorf("meeting %s end time: %w", model.ID, err)
		}
		meeting.EndTime = &end
	}
	if model.TemplateKey != nil {
		meeting.TemplateKey = *model.TemplateKey
	}
	return meeting, nil
}

// storedGenderAny is how the meetings table spells "no restriction".
const storedGenderAny = "any"

func applicationGenderRestriction(stored string) string {
	stored = strings.ToLower(strings.TrimSpace(stored))
	if stored == storedGenderAny {
		return application.GenderUnspecified
	}
	return stored
}

func persistenceGenderRestriction(restriction string) string {
	if restriction == application.GenderUnspecified {
		return storedGenderAny
	}
	return restriction
}

func toPersistenceMeeting(meeting application.Meeting) persistence.Meeting {
	model := persistence.Meeting{
		ID:                meeting.ID,
		EventDate:         meeting.Date.Format(recurrence.DateLayout),
		StartTime:         meeting.StartTime.String(),
		Title:             meeting.Title,
		Description:       meeting.Description,
		VideoLink:         meeting.VideoLink,
		MeetingType:       meeting.MeetingType,
		GenderRestriction: persistenceGenderRestriction(meeting.GenderRestriction),
		AcceptingSignups:  meeting.AcceptingSignups,
		Status:            string(meeting.Status),
		Source:            string(meeting.Source),
		CreatedAt:         meeting.CreatedAt,
		UpdatedAt:         meeting.UpdatedAt,
	}
	if meeting.EndTime != nil {
		end := meeting.EndTime.String()
		model.EndTime = &end
	}
	if meeting.TemplateKey != "" {
		key := meeting.TemplateKey
		model.TemplateKey = &key
	}
	return model
}

func toApplicationSignup(model persistence.ChairSignup) application.ChairSignup {
	return application.ChairSignup{
		ID:                  model.ID,
		MeetingID:           model.MeetingID,
		UserID:              model.UserID,
		DisplayNameSnapshot: model.DisplayNameSnapshot,
		Notes:               model.Notes,
		MemberNumber:        model.MemberNumber,
		CreatedAt:           model.CreatedAt,
		ConfirmationSentAt:  cloneTime(model.ConfirmationSentAt),
		ReminderSentAt:      cloneTime(model.ReminderSentAt),
	}
}

func toPersistenceSignup(signup application.ChairSignup) persistence.ChairSignup {
	return persistence.ChairSignup{
		ID:                  signup.ID,
		MeetingID:           signup.MeetingID,
		UserID:              signup.UserID,
		DisplayNameSnapshot: signup.DisplayNameSnapshot,
		Notes:               signup.Notes,
		CreatedAt:           signup.CreatedAt,
		ConfirmationSentAt:  cloneTime(signup.ConfirmationSentAt),
		ReminderSentAt:      cloneTime(signup.ReminderSentAt),
	}
}

func toApplicationAvailability(model persistence.Availability, loc *time.Location) (application.Availability, error) {
	date, err := parseDate(model.VolunteerDate, loc)
	if err != nil {
		return application.Availability{}, err
	}
	return application.Availability{
		ID:                  model.ID,
		UserID:              model.UserID,
		Date:                date,
		TimePreference:      application.TimePreference(model.TimePreference),
		Notes:               model.Notes,
		DisplayNameSnapshot: model.DisplayNameSnapshot,
		CreatedAt:           model.CreatedAt,
		ConfirmationSentAt:  cloneTime(model.ConfirmationSentAt),
	}, nil
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
