package deps

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/lifecycle"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time   // for testing, defaults to time.Now
	AllowedHosts []string           // Host headers allowed to access the server
	AllowedCIDRS []string           // IPs allowed to access infra/readyz endpoints
	TrustProxy   bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Backend      string             // registry backend name ("redis" | "memory")
	RedisClient  *redis.Client      // Redis client connection (nil with the memory backend)
	Registry     registry.Registry  // descriptor store
	Engine       *fanout.Engine     // subscriptions and feeds
	Lifecycle    *lifecycle.Handler // connection lifecycle, for ownership stats
	WS           http.Handler       // websocket endpoint
	PageSize     int                // default page size of the REST api
	APIRate      int                // REST api requests per minute per IP
	APIBurst     int                // REST api burst per IP
	APITimeout   time.Duration      // per-request timeout of the REST api

	AnnounceTrigger chan struct{} // Channel to trigger a manual self announce
}
