package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/affiliate"
	"github.com/refmetric/refmetric/internal/config"
	"github.com/refmetric/refmetric/internal/database"
	"github.com/refmetric/refmetric/internal/metrics"
	"github.com/refmetric/refmetric/internal/notify"
	"github.com/refmetric/refmetric/internal/postback"
	"github.com/refmetric/refmetric/internal/storage"
	"github.com/refmetric/refmetric/internal/tier"
	"github.com/refmetric/refmetric/internal/tracking"
)

// maxStatsWindowDays bounds the stats window. One daily bucket is
// allocated per requested day, so the window must stay small.
const maxStatsWindowDays = 366

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Archive storage.EventStore
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers and the portal services.
type Server struct {
	linkService        *affiliate.LinkService
	statsService       *affiliate.StatsService
	progressionService *affiliate.ProgressionService
	leaderboard        *affiliate.Leaderboard
	dashboard          *affiliate.Dashboard
	trackingService    *tracking.Service
	postbackService    *postback.Service
	db                 *database.PostgresDB
	redis              *database.RedisDB
	logger             *zap.Logger
	config             *config.Config
	metrics            *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize repositories
	var linkRepo storage.LinkRepo
	var eventStore storage.EventStore
	var tierRepo storage.TierRepo
	var progRepo storage.ProgressionRepo

	if deps.DB != nil {
		linkRepo = storage.NewPostgresLinkRepo(deps.DB.Pool)
		eventStore = storage.NewPostgresEventStore(deps.DB.Pool)
		tierRepo = storage.NewPostgresTierRepo(deps.DB.Pool)
		progRepo = storage.NewPostgresProgressionRepo(deps.DB.Pool)
	} else {
		linkRepo = storage.NewInMemoryLinkRepo()
		eventStore = storage.NewInMemoryEventStore()
		tierRepo = storage.NewInMemoryTierRepo(storage.DefaultTiers())
		progRepo = storage.NewInMemoryProgressionRepo()
	}

	// The ClickHouse archive, when enabled, replaces the primary store
	// for event reads and writes.
	if deps.Archive != nil {
		eventStore = deps.Archive
	}

	// Initialize change notifier
	var notifier notify.Publisher = notify.NopPublisher{}
	var subscriber notify.Subscriber
	if deps.Redis != nil {
		rn := notify.NewRedisNotifier(deps.Redis.Client, deps.Logger)
		notifier = rn
		subscriber = rn
	}

	// Initialize geo provider
	var geo tracking.GeoProvider
	if deps.Config.Geo.Enabled {
		provider, err := tracking.NewMaxMindGeoProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, clicks will not be geo-enriched", zap.Error(err))
		} else {
			geo = provider
		}
	}

	// Initialize services
	linkSvc := affiliate.NewLinkService(linkRepo, deps.Logger)
	statsSvc := affiliate.NewStatsService(linkRepo, eventStore)
	progSvc := affiliate.NewProgressionService(progRepo, tierRepo, deps.Logger)

	var board *affiliate.Leaderboard
	if deps.Redis != nil && deps.Config.Leaderboard.Enabled {
		board = affiliate.NewLeaderboard(deps.Redis.Client, deps.Config.Leaderboard)
	}

	var redisClient *redis.Client
	if deps.Redis != nil {
		redisClient = deps.Redis.Client
	}
	trackSvc := tracking.NewService(linkRepo, eventStore, geo, notifier, redisClient, deps.Metrics, deps.Logger)
	pbSvc := postback.NewService(linkRepo, eventStore, notifier, deps.Metrics, deps.Logger)

	dash := affiliate.NewDashboard(statsSvc, progSvc, board, deps.Metrics, deps.Logger, 30)
	if subscriber != nil {
		if err := subscriber.Subscribe(context.Background(), dash.HandleChange); err != nil {
			deps.Logger.Warn("change subscription unavailable", zap.Error(err))
		}
	}

	s := &Server{
		linkService:        linkSvc,
		statsService:       statsSvc,
		progressionService: progSvc,
		leaderboard:        board,
		dashboard:          dash,
		trackingService:    trackSvc,
		postbackService:    pbSvc,
		db:                 deps.DB,
		redis:              deps.Redis,
		logger:             deps.Logger,
		config:             deps.Config,
		metrics:            deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking ingress
	mux.HandleFunc("/r/", s.handleRedirect)
	mux.HandleFunc("/postback/conversion", s.handleConversionPostback)

	// Affiliate portal
	mux.HandleFunc("/affiliates", s.handleAffiliates)
	mux.HandleFunc("/affiliates/", s.handleAffiliateByID)

	// Tier configuration
	mux.HandleFunc("/tiers", s.handleTiers)
	mux.HandleFunc("/tiers/examples", s.handleTierExamples)

	// Leaderboard
	mux.HandleFunc("/leaderboard", s.handleLeaderboard)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}

	if s.db != nil {
		if err := s.db.Health(r.Context()); err != nil {
			components["postgres"] = "down"
		} else {
			components["postgres"] = "ok"
		}
	} else {
		components["postgres"] = "disabled"
	}

	if s.redis != nil {
		if err := s.redis.Health(r.Context()); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "ok"
		}
	} else {
		components["redis"] = "disabled"
	}

	s.jsonResponse(w, map[string]interface{}{
		"status":     "ok",
		"components": components,
	})
}

// ---- Click Redirect ----

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := strings.TrimPrefix(r.URL.Path, "/r/")
	if code == "" || strings.Contains(code, "/") {
		http.NotFound(w, r)
		return
	}

	meta := tracking.ClickMeta{
		Referrer:  r.Referer(),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		IP:        clientIP(r),
	}

	_, link, err := s.trackingService.RegisterClick(r.Context(), code, meta)
	if errors.Is(err, storage.ErrUnknownCode) {
		s.errorResponse(w, "unknown link code", http.StatusNotFound)
		return
	}
	if err != nil && link == nil {
		s.logger.Error("failed to register click", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err != nil {
		// The click was lost but the visitor still gets their page.
		s.logger.Error("click not recorded, redirecting anyway", zap.Error(err))
	}

	http.Redirect(w, r, s.destinationURL(code), http.StatusFound)
}

// destinationURL builds the landing URL carrying the referral code.
func (s *Server) destinationURL(code string) string {
	dest := s.config.Tracking.Destination
	sep := "?"
	if strings.Contains(dest, "?") {
		sep = "&"
	}
	return dest + sep + "ref=" + code
}

// ---- Conversion Postback ----

func (s *Server) handleConversionPostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	// A settlement postback carries the id of an earlier conversion and
	// flips it to completed.
	if conversionID := q.Get("conversion_id"); conversionID != "" {
		if err := s.postbackService.CompleteConversion(r.Context(), conversionID, q.Get("affiliate_id")); err != nil {
			s.logger.Error("settlement error", zap.Error(err))
			s.errorResponse(w, "failed to complete conversion", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("OK"))
		return
	}

	params := postback.Params{
		Code:    q.Get("code"),
		Product: q.Get("product"),
		Amount:  q.Get("amount"),
		Status:  q.Get("status"),
	}

	if params.Code == "" {
		s.errorResponse(w, "code required", http.StatusBadRequest)
		return
	}

	conv, err := s.postbackService.RegisterConversion(r.Context(), params)
	switch {
	case errors.Is(err, storage.ErrUnknownCode):
		s.errorResponse(w, "unknown link code", http.StatusNotFound)
		return
	case errors.Is(err, postback.ErrInvalidAmount):
		s.errorResponse(w, "invalid amount", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("conversion error", zap.Error(err))
		s.errorResponse(w, "failed to register conversion", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]string{"status": "ok", "conversion_id": conv.ID})
}

// ---- Affiliates ----

type registerRequest struct {
	AffiliateID string `json:"affiliate_id"`
}

func (s *Server) handleAffiliates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AffiliateID == "" {
		s.errorResponse(w, "affiliate_id is required", http.StatusBadRequest)
		return
	}

	link, err := s.linkService.Register(r.Context(), req.AffiliateID)
	if err != nil {
		s.logger.Error("failed to register affiliate", zap.Error(err))
		s.errorResponse(w, "failed to register", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"affiliate_id": req.AffiliateID,
		"link":         link,
		"url":          s.config.Server.BaseURL + "/r/" + link.Code,
	})
}

func (s *Server) handleAffiliateByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/affiliates/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	affiliateID, resource := parts[0], parts[1]

	switch resource {
	case "link":
		s.handleAffiliateLink(w, r, affiliateID)
	case "stats":
		s.handleAffiliateStats(w, r, affiliateID)
	case "progression":
		s.handleAffiliateProgression(w, r, affiliateID)
	case "dashboard":
		s.handleAffiliateDashboard(w, r, affiliateID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleAffiliateLink(w http.ResponseWriter, r *http.Request, affiliateID string) {
	link, err := s.linkService.Get(r.Context(), affiliateID)
	if err != nil {
		s.logger.Error("failed to get link", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if link == nil {
		s.errorResponse(w, "no link for affiliate", http.StatusNotFound)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"link": link,
		"url":  s.config.Server.BaseURL + "/r/" + link.Code,
	})
}

func (s *Server) handleAffiliateStats(w http.ResponseWriter, r *http.Request, affiliateID string) {
	q := r.URL.Query()

	days := 30
	if d := q.Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 || parsed > maxStatsWindowDays {
			s.errorResponse(w, "days must be between 1 and 366", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	start := time.Now().UTC().AddDate(0, 0, -(days - 1))
	if v := q.Get("start"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.errorResponse(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = parsed
	}

	stats, err := s.statsService.Window(r.Context(), affiliateID, start, days)
	if errors.Is(err, affiliate.ErrStatsUnavailable) {
		s.errorResponse(w, "stats temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Error("failed to compute stats", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, stats)
}

func (s *Server) handleAffiliateProgression(w http.ResponseWriter, r *http.Request, affiliateID string) {
	view, err := s.progressionService.Get(r.Context(), affiliateID)
	if err != nil {
		var cfgErr *tier.ConfigError
		if errors.As(err, &cfgErr) {
			s.logger.Error("invalid tier configuration", zap.Error(err))
			s.errorResponse(w, "tier configuration invalid", http.StatusInternalServerError)
			return
		}
		s.logger.Error("failed to get progression", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, view)
}

func (s *Server) handleAffiliateDashboard(w http.ResponseWriter, r *http.Request, affiliateID string) {
	snap, err := s.dashboard.Snapshot(r.Context(), affiliateID)
	if err != nil {
		s.logger.Error("failed to build dashboard snapshot", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, snap)
}

// ---- Tiers ----

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tiers, err := s.progressionService.Tiers(r.Context())
	if err != nil {
		s.logger.Error("failed to list tiers", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, tiers)
}

func (s *Server) handleTierExamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	examples, err := s.progressionService.Examples(r.Context())
	if err != nil {
		s.logger.Error("failed to build tier examples", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, examples)
}

// ---- Leaderboard ----

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.leaderboard == nil {
		s.errorResponse(w, "leaderboard not available", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.errorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := s.leaderboard.Top(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read leaderboard", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, entries)
}

// ---- Helper Methods ----

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
