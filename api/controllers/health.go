package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/attribution-backend/api/responses"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	envHeader          = "X-Attribution-Env"
	readyCheckTimeout  = 3 * time.Second
	dependencyPostgres = "postgres"
	dependencyRedis    = "redis"
)

// Pinger is a dependency reachable for readiness checks.
type Pinger interface {
	Ping(context.Context) error
}

// ReadinessCheck names a dependency probed by HealthReady.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every check and fails with DEPENDENCY_ERROR listing the
// unreachable ones.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		status := map[string]string{}
		failed := false
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				status[check.Name] = "unavailable"
				failed = true
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": check.Name, "error": err.Error()}), "health.ready.dependency_failed")
				}
				continue
			}
			status[check.Name] = "ok"
		}

		if failed {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(status))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": status})
	}
}

// PostgresCheck and RedisCheck label the standard readiness dependencies.
func PostgresCheck(p Pinger) ReadinessCheck {
	return ReadinessCheck{Name: dependencyPostgres, Pinger: p}
}

func RedisCheck(p Pinger) ReadinessCheck { return ReadinessCheck{Name: dependencyRedis, Pinger: p} }
