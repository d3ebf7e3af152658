package common

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Deps are the shared clients handed to every adapter constructor.
type Deps struct {
	HTTPClient *http.Client
	Redis      *redis.Client
	Logger     *slog.Logger
}

func (d Deps) Client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

func (d Deps) Log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// RankConfidence maps a 1-based upstream position onto a confidence in
// [floor, top], decreasing by step per position.
func RankConfidence(rank int, top, step, floor float64) float64 {
	if rank <= 1 {
		return top
	}
	value := top - float64(rank-1)*step
	if value < floor {
		return floor
	}
	return value
}
