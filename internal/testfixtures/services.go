package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
	Sender      *RecordingSender
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    time.UTC,
		Sender:      &RecordingSender{},
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	if factory.Sender == nil {
		factory.Sender = &RecordingSender{}
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation sets the organizational timezone.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// CalendarServiceDeps captures dependencies for constructing a calendar service.
type CalendarServiceDeps struct {
	Meetings     application.MeetingRepository
	Signups      application.SignupReader
	Template     recurrence.Template
	MaxRangeDays int
	Logger       *slog.Logger
}

// NewCalendarService builds a calendar service in the factory's timezone.
func (f *ServiceFactory) NewCalendarService(deps CalendarServiceDeps) *application.CalendarService {
	return application.NewCalendarServiceWithLogger(
		recurrence.NewEngine(f.Location, deps.Template),
		deps.Meetings,
		deps.Signups,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		deps.MaxRangeDays,
		deps.Logger,
	)
}

// SignupServiceDeps captures dependencies for constructing a signup service.
type SignupServiceDeps struct {
	Meetings application.MeetingResolver
	Signups  application.SignupRepository
	Users    application.UserLookup
	Logger   *slog.Logger
}

// NewSignupService builds a signup service that delivers mail to f.Sender.
func (f *ServiceFactory) NewSignupService(deps SignupServiceDeps) *application.SignupService {
	return application.NewSignupServiceWithLogger(
		deps.Meetings,
		deps.Signups,
		deps.Users,
		f.Sender,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		deps.Logger,
	)
}

// AvailabilityServiceDeps captures dependencies for constructing an availability service.
type AvailabilityServiceDeps struct {
	Availability application.AvailabilityRepository
	Users        application.UserLookup
	Logger       *slog.Logger
}

// NewAvailabilityService builds an availability service.
func (f *ServiceFactory) NewAvailabilityService(deps AvailabilityServiceDeps) *application.AvailabilityService {
	return application.NewAvailabilityServiceWithLogger(
		deps.Availability,
		deps.Users,
		f.Sender,
		f.Location,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		deps.Logger,
	)
}

// ReminderServiceDeps captures dependencies for constructing a reminder service.
// Config.Location defaults to the factory timezone.
type ReminderServiceDeps struct {
	Calendar      application.CalendarMaterializer
	Signups       application.SignupRepository
	Availability  application.AvailabilityRepository
	Users         application.UserDirectory
	Notifications application.NotificationLog
	Config        application.ReminderConfig
	Logger        *slog.Logger
}

// NewReminderService builds a reminder service.
func (f *ServiceFactory) NewReminderService(deps ReminderServiceDeps) *application.ReminderService {
	cfg := deps.Config
	if cfg.Location == nil {
		cfg.Location = f.Location
	}
	return application.NewReminderServiceWithLogger(
		deps.Calendar,
		deps.Signups,
		deps.Availability,
		deps.Users,
		deps.Notifications,
		f.Sender,
		cfg,
		f.Clock.NowFunc(),
		deps.Logger,
	)
}

// UserServiceDeps captures dependencies for constructing a user service.
type UserServiceDeps struct {
	Users  application.UserRepository
	Hash   application.PasswordHasher
	Logger *slog.Logger
}

// NewUserService builds a user service. Hash defaults to application.HashPassword.
func (f *ServiceFactory) NewUserService(deps UserServiceDeps) *application.UserService {
	hash := deps.Hash
	if hash == nil {
		hash = application.HashPassword
	}
	return application.NewUserServiceWithLogger(
		deps.Users,
		hash,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		deps.Logger,
	)
}

// AuthServiceDeps captures dependencies for constructing an auth service.
type AuthServiceDeps struct {
	Credentials    application.CredentialStore
	Sessions       application.SessionRepository
	PasswordVerify application.PasswordVerifier
	TokenGenerator func() string
	SessionTTL     time.Duration
	Logger         *slog.Logger
}

// NewAuthService builds an auth service using the supplied dependencies.
func (f *ServiceFactory) NewAuthService(deps AuthServiceDeps) *application.AuthService {
	token := deps.TokenGenerator
	if token == nil {
		token = f.IDGenerator.NextFunc()
	}
	verify := deps.PasswordVerify
	if verify == nil {
		verify = application.VerifyPassword
	}
	return application.NewAuthServiceWithLogger(
		deps.Credentials,
		deps.Sessions,
		verify,
		token,
		f.Clock.NowFunc(),
		deps.SessionTTL,
		deps.Logger,
	)
}

// RecordingSender is a notify.Sender that keeps every message in memory.
// Setting Err makes Send fail without recording.
type RecordingSender struct {
	mu       sync.Mutex
	messages []notify.Message
	Err      error
}

// Send records msg unless Err is set.
func (s *RecordingSender) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (s *RecordingSender) Messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}

// Count returns how many messages of kind were recorded.
func (s *RecordingSender) Count(kind notify.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.messages {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}
