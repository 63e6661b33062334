// Package mockapi is an in-process stand-in for the sautAI backend. It
// implements the auth, assistant, thread, pantry, meal plan and health
// endpoints closely enough to drive the clients end to end.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
	defaultPageSize   = 10
)

// ReplyFunc produces the delta fragments streamed back for a message.
type ReplyFunc func(message string) []string

type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefresh issues a new refresh token on every refresh.
	RotateRefresh bool
	Reply         ReplyFunc
	// Quiet drops the request logger.
	Quiet bool
}

// Stats counts calls that tests care about.
type Stats struct {
	Logins       atomic.Int32
	Refreshes    atomic.Int32
	Blacklisted  atomic.Int32
	Streams      atomic.Int32
	Unauthorized atomic.Int32
}

type account struct {
	User
	password string
}

type thread struct {
	id       string
	userID   int64
	title    string
	created  time.Time
	messages []chatEntry
}

type Server struct {
	opts  Options
	Stats Stats

	mu          sync.Mutex
	nextID      int64
	generation  int
	failStreams bool
	accounts    map[string]*account
	blacklist   map[string]bool
	threads     map[string]*thread
	threadOrder []string
	pantry      map[int64][]PantryItem
	plans       map[int64][]MealPlan
	metrics     map[int64][]HealthMetric
}

func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "sautai-dev-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Reply == nil {
		opts.Reply = EchoReply
	}
	return &Server{
		opts:      opts,
		nextID:    1,
		accounts:  make(map[string]*account),
		blacklist: make(map[string]bool),
		threads:   make(map[string]*thread),
		pantry:    make(map[int64][]PantryItem),
		plans:     make(map[int64][]MealPlan),
		metrics:   make(map[int64][]HealthMetric),
	}
}

// EchoReply answers word by word.
func EchoReply(message string) []string {
	words := strings.Fields("You said: " + message)
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}

// Handler wires all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if !s.opts.Quiet {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Route("/auth/api", func(api chi.Router) {
		api.Post("/login/", s.handleLogin)
		api.Post("/register/", s.handleRegister)
		api.Post("/token/refresh/", s.handleRefresh)
		api.Post("/token/blacklist/", s.handleBlacklist)
		api.Group(func(p chi.Router) {
			p.Use(s.requireAuth)
			p.Get("/user_details/", s.handleUserDetails)
			p.Get("/address_details/", s.handleAddressDetails)
			p.Post("/switch_role/", s.handleSwitchRole)
			p.Post("/update_profile/", s.handleUpdateProfile)
		})
	})

	r.Route("/customer_dashboard/api", func(api chi.Router) {
		api.Post("/assistant/guest-stream-message/", s.handleGuestStream)
		api.Group(func(p chi.Router) {
			p.Use(s.requireAuth)
			p.Post("/assistant/stream-message/", s.handleStream)
			p.Get("/stream_user_summary/", s.handleSummary)
			p.Get("/thread_history/", s.handleThreadHistory)
			p.Get("/thread_detail/{threadID}/", s.handleThreadDetail)
			p.Get("/health_metrics/", s.handleHealthMetrics)
			p.Post("/health_metrics/", s.handleSaveHealthMetric)
		})
	})

	r.Route("/meals/api", func(api chi.Router) {
		api.Use(s.requireAuth)
		api.Get("/pantry-items/", s.handlePantryList)
		api.Post("/pantry-items/", s.handlePantryCreate)
		api.Put("/pantry-items/{itemID}/", s.handlePantryUpdate)
		api.Delete("/pantry-items/{itemID}/", s.handlePantryDelete)
		api.Get("/meal_plans/", s.handleMealPlans)
		api.Get("/meal_plans/{planID}/", s.handleMealPlan)
		api.Post("/generate_meal_plan/", s.handleGenerateMealPlan)
		api.Post("/approve_meal_plan/", s.handleApproveMealPlan)
	})

	return r
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(username, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, password, "").ID
}

func (s *Server) addUserLocked(username, password, email string) *account {
	id := s.nextID
	s.nextID++
	a := &account{
		User:     User{ID: id, Username: username, Email: email, CurrentRole: "customer"},
		password: password,
	}
	s.accounts[username] = a
	return a
}

// RevokeAccess invalidates every access token issued so far. Refresh tokens
// stay valid.
func (s *Server) RevokeAccess() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// FailStreams makes the stream endpoints answer 503.
func (s *Server) FailStreams(fail bool) {
	s.mu.Lock()
	s.failStreams = fail
	s.mu.Unlock()
}

type claims struct {
	UserID     int64  `json:"user_id"`
	TokenType  string `json:"token_type"`
	Generation int    `json:"gen"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

func (s *Server) issue(userID int64, tokenType string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	now := time.Now()
	c := claims{
		UserID:     userID,
		TokenType:  tokenType,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.opts.Secret))
}

func (s *Server) issuePair(userID int64) (access, refresh string, err error) {
	if access, err = s.issue(userID, "access", s.opts.AccessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = s.issue(userID, "refresh", s.opts.RefreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) parse(raw, tokenType string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return []byte(s.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if c.TokenType != tokenType {
		return nil, fmt.Errorf("%w: want %s token", errInvalidToken, tokenType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokenType == "access" && c.Generation < s.generation {
		return nil, fmt.Errorf("%w: revoked", errInvalidToken)
	}
	if tokenType == "refresh" && s.blacklist[c.ID] {
		return nil, fmt.Errorf("%w: blacklisted", errInvalidToken)
	}
	return &c, nil
}

type ctxKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.Stats.Unauthorized.Add(1)
			respondError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		c, err := s.parse(raw, "access")
		if err != nil {
			s.Stats.Unauthorized.Add(1)
			respondError(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, c.UserID)))
	})
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

func (s *Server) accountByID(id int64) *account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}
