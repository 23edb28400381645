package authkit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds request rates per client address.
type RateLimiterConfig struct {
	RequestsPerMinute float64
	Burst             int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig allows 120 requests per minute with a burst of 30.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 120,
		Burst:             30,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles requests per client address. Idle entries are pruned
// by a background goroutine until Stop is called.
type RateLimiter struct {
	configuration RateLimiterConfig
	perSecond     rate.Limit
	metrics       MetricsRecorder
	logger        *zap.Logger

	mutex    sync.Mutex
	limiters map[string]*clientLimiter
	stop     chan struct{}
}

// NewRateLimiter constructs a limiter and starts its cleanup goroutine.
func NewRateLimiter(configuration RateLimiterConfig, metrics MetricsRecorder, logger *zap.Logger) *RateLimiter {
	if configuration.RequestsPerMinute <= 0 {
		configuration = DefaultRateLimiterConfig()
	}
	if configuration.CleanupInterval <= 0 {
		configuration.CleanupInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := &RateLimiter{
		configuration: configuration,
		perSecond:     rate.Limit(configuration.RequestsPerMinute / 60.0),
		metrics:       metrics,
		logger:        logger,
		limiters:      make(map[string]*clientLimiter),
		stop:          make(chan struct{}),
	}
	go limiter.cleanupLoop()
	return limiter
}

// Stop terminates the cleanup goroutine.
func (throttle *RateLimiter) Stop() {
	close(throttle.stop)
}

// Middleware rejects clients over their budget with 429 and a Retry-After hint.
func (throttle *RateLimiter) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		clientAddress := contextGin.ClientIP()
		if !throttle.allow(clientAddress) {
			if throttle.metrics != nil {
				throttle.metrics.Increment(metricRequestsThrottle)
			}
			throttle.logger.Warn("rate limit exceeded",
				zap.String("client", clientAddress),
				zap.String("path", contextGin.FullPath()))
			contextGin.Header("Retry-After", strconv.Itoa(throttle.retryAfterSeconds()))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		contextGin.Next()
	}
}

// EntryCount reports how many client entries are live.
func (throttle *RateLimiter) EntryCount() int {
	throttle.mutex.Lock()
	defer throttle.mutex.Unlock()
	return len(throttle.limiters)
}

func (throttle *RateLimiter) allow(clientAddress string) bool {
	throttle.mutex.Lock()
	entry, exists := throttle.limiters[clientAddress]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(throttle.perSecond, throttle.configuration.Burst)}
		throttle.limiters[clientAddress] = entry
	}
	entry.lastAccess = time.Now()
	throttle.mutex.Unlock()
	return entry.limiter.Allow()
}

func (throttle *RateLimiter) retryAfterSeconds() int {
	seconds := int(math.Ceil(1.0 / float64(throttle.perSecond)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (throttle *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(throttle.configuration.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			throttle.cleanup()
		case <-throttle.stop:
			return
		}
	}
}

func (throttle *RateLimiter) cleanup() {
	expiry := throttle.configuration.CleanupInterval * 2
	now := time.Now()
	throttle.mutex.Lock()
	for clientAddress, entry := range throttle.limiters {
		if now.Sub(entry.lastAccess) > expiry {
			delete(throttle.limiters, clientAddress)
		}
	}
	throttle.mutex.Unlock()
}
