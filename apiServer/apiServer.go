package apiServer

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxDepthOverhead = 30
	maxBodyBytes            = 64 << 20
)

type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	index   Index
	log     *logrus.Logger
	auth    AuthFunc
	metrics *metrics

	maxDepthOverhead int
	corsOrigins      []string
}

func New(index Index, opts ...Option) *Server {
	s := &Server{
		mux:              http.NewServeMux(),
		index:            index,
		log:              logrus.New(),
		auth:             defaultAuth,
		metrics:          newMetrics(),
		maxDepthOverhead: defaultMaxDepthOverhead,
		corsOrigins:      []string{"*"},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{processTimeHeader},
		AllowCredentials: true,
	}).Handler(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /uav", s.instrument("search", s.handleSearch))
	s.mux.Handle("POST /uav", s.instrument("create", s.handleCreate))
	s.mux.Handle("GET /metrics", s.metrics.handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	tw := &timedWriter{ResponseWriter: w, start: time.Now()}

	if r.Method == http.MethodOptions {
		tw.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.WithFields(logrus.Fields{
			"remote": r.RemoteAddr,
			"path":   r.URL.Path,
		}).Warnf("authentication failed: %v", err)
		http.Error(tw, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s.mux.ServeHTTP(tw, r)
}

func (s *Server) instrument(route string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option {
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

// WithSecret requires the X-Secret header to equal token.
func WithSecret(token string) Option {
	return WithAuth(SecretAuth(token))
}

// WithMaxDepthOverhead sets the default and the upper bound of the overhead
// parameter of searches.
func WithMaxDepthOverhead(overhead int) Option {
	return func(s *Server) {
		if overhead >= 0 {
			s.maxDepthOverhead = overhead
		}
	}
}

func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}
