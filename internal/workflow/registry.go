package workflow

import (
	"sync"

	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/faceapi"
)

// Registry keeps one session per authenticated user.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	client   faceapi.Client
	logger   *zap.Logger
	opts     Options
}

// NewRegistry returns an empty registry whose sessions share client and opts.
func NewRegistry(client faceapi.Client, logger *zap.Logger, opts Options) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		client:   client,
		logger:   logger,
		opts:     opts,
	}
}

// Get returns the session for key, creating it on first use.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := NewSession(r.client, r.logger.With(zap.String("user_id", key)), r.opts)
	r.sessions[key] = s
	return s
}

// Delete closes and forgets the session for key.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Metrics summarises action outcomes across all sessions.
func (r *Registry) Metrics() MetricsSummary {
	return MetricsSummary{Sessions: r.Len(), Actions: r.opts.Metrics.Summary()}
}

// CloseAll stops every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
