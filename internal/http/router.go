package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Auth         *AuthHandler
	Users        *UserHandler
	Calendar     *CalendarHandler
	Signups      *SignupHandler
	Availability *AvailabilityHandler
	Ops          *OpsHandler
	Sessions     SessionValidator
	Logger       *slog.Logger
	// RequestTimeout bounds each request; zero disables the timeout middleware.
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	if cfg.Ops != nil {
		r.Get("/healthz", cfg.Ops.Health)
	}
	if cfg.Users != nil {
		r.Post("/users", cfg.Users.Register)
	}
	if cfg.Auth != nil {
		r.Post("/sessions", cfg.Auth.CreateSession)
	}
	if cfg.Calendar != nil {
		r.Get("/calendar.ics", cfg.Calendar.Feed)
	}

	if cfg.Sessions == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Sessions, logger))

		if cfg.Auth != nil {
			r.Delete("/sessions/current", cfg.Auth.DeleteCurrentSession)
		}
		if cfg.Users != nil {
			r.Get("/me", cfg.Users.Me)
			r.Put("/me", cfg.Users.UpdateMe)
		}
		if cfg.Calendar != nil {
			r.Get("/calendar", cfg.Calendar.List)
			r.Get("/meetings/{id}", cfg.Calendar.Get)
		}
		if cfg.Signups != nil {
			r.Post("/meetings/{id}/signup", cfg.Signups.Claim)
			r.Delete("/meetings/{id}/signup", cfg.Signups.Release)
			r.Get("/me/signups", cfg.Signups.Mine)
		}
		if cfg.Availability != nil {
			r.Route("/availability", func(r chi.Router) {
				r.Post("/", cfg.Availability.Volunteer)
				r.Get("/mine", cfg.Availability.Mine)
				r.Delete("/{id}", cfg.Availability.Withdraw)
			})
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(logger))

			if cfg.Users != nil {
				r.Get("/users", cfg.Users.List)
			}
			if cfg.Calendar != nil {
				r.Post("/meetings", cfg.Calendar.Create)
				r.Put("/meetings/{id}", cfg.Calendar.Update)
				r.Post("/meetings/{id}/cancel", cfg.Calendar.Cancel)
				r.Delete("/meetings/{id}", cfg.Calendar.Delete)
				r.Post("/import", cfg.Calendar.Import)
			}
			if cfg.Availability != nil {
				r.Get("/availability", cfg.Availability.ListForDate)
			}
			if cfg.Ops != nil {
				r.Post("/reminders/run", cfg.Ops.RunReminders)
			}
		})
	})

	return r
}
