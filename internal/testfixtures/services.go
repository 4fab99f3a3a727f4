package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/attendance-engine/internal/application"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("session"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("session")
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

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AttendanceServiceDeps captures dependencies for constructing an attendance service.
type AttendanceServiceDeps struct {
	Sessions      application.SessionStore
	Records       application.RecordStore
	Roster        application.RosterProvider
	Courses       application.CourseDirectory
	Events        application.EventPublisher
	CloseAttempts int
	IDGenerator   func() string
	Now           func() time.Time
	Logger        *slog.Logger
}

// NewAttendanceService builds an attendance service using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewAttendanceService(deps AttendanceServiceDeps) *application.AttendanceService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = DiscardLogger()
	}

	opts := []application.AttendanceOption{application.WithAttendanceLogger(logger)}
	if deps.Courses != nil {
		opts = append(opts, application.WithCourseDirectory(deps.Courses))
	}
	if deps.Events != nil {
		opts = append(opts, application.WithEventPublisher(deps.Events))
	}
	if deps.CloseAttempts > 0 {
		opts = append(opts, application.WithCloseAttempts(deps.CloseAttempts))
	}
	return application.NewAttendanceService(deps.Sessions, deps.Records, deps.Roster, idGen, now, opts...)
}

// ReportServiceDeps captures dependencies for constructing a report service.
type ReportServiceDeps struct {
	Sessions    application.SessionStore
	Records     application.RecordStore
	Concurrency int
	Logger      *slog.Logger
}

// NewReportService builds a report service using the supplied dependencies.
func (f *ServiceFactory) NewReportService(deps ReportServiceDeps) *application.ReportService {
	logger := deps.Logger
	if logger == nil {
		logger = DiscardLogger()
	}
	return application.NewReportServiceWithLogger(deps.Sessions, deps.Records, deps.Concurrency, logger)
}
