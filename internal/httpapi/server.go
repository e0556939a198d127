// Package httpapi serves the pipeline's operational API: health, stats,
// cluster browsing, and batch triggers.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/intel-pipeline/internal/db"
	"horse.fit/intel-pipeline/internal/globaltime"
	"horse.fit/intel-pipeline/internal/novelty"
	"horse.fit/intel-pipeline/internal/pipeline"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool    *db.Pool
	store   *db.Store
	service *pipeline.Service
	logger  zerolog.Logger
	opts    Options
}

type clusterMemberItem struct {
	ProcessedItemID int64    `json:"processed_item_id"`
	Title           *string  `json:"title,omitempty"`
	Summary         *string  `json:"summary,omitempty"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

type clusterListItem struct {
	ClusterUUID     string              `json:"cluster_uuid"`
	WeekNumber      string              `json:"week_number"`
	Name            *string             `json:"name,omitempty"`
	CanonicalItemID *int64              `json:"canonical_item_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	Members         []clusterMemberItem `json:"members"`
}

func NewServer(pool *db.Pool, service *pipeline.Service, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Batch triggers run the full pipeline inline.
		writeTimeout = 10 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:    pool,
		store:   db.NewStore(pool),
		service: service,
		logger:  logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/clusters", s.handleClusters)
	api.POST("/pipeline/process", s.handleProcess)
	api.POST("/pipeline/reprocess", s.handleReprocess)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("intel-pipeline server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("intel-pipeline server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service":  "intel-pipeline",
		"database": "ok",
		"time":     globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleClusters(c echo.Context) error {
	week := strings.TrimSpace(c.QueryParam("week"))
	if week == "" {
		week = novelty.WeekNumber(globaltime.UTC())
	}

	items, err := s.queryClusterList(c.Request().Context(), week)
	if err != nil {
		s.logger.Error().Err(err).Str("week_number", week).Msg("query clusters failed")
		return internalError(c, "Failed to load clusters")
	}

	return success(c, map[string]any{
		"week_number": week,
		"items":       items,
	})
}

func (s *Server) handleProcess(c echo.Context) error {
	var body struct {
		WeekNumber string `json:"week_number"`
		BatchSize  int    `json:"batch_size"`
	}
	if err := c.Bind(&body); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if body.BatchSize < 0 {
		return failValidation(c, map[string]string{"batch_size": "must be >= 0"})
	}

	result, err := s.service.ProcessBatch(c.Request().Context(), pipeline.ProcessOptions{
		WeekNumber: body.WeekNumber,
		BatchSize:  body.BatchSize,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("process batch failed")
		return internalError(c, "Pipeline run failed")
	}
	return success(c, result)
}

func (s *Server) handleReprocess(c echo.Context) error {
	var body struct {
		WeekNumber string `json:"week_number"`
		Confirm    bool   `json:"confirm"`
	}
	if err := c.Bind(&body); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if !body.Confirm {
		return failValidation(c, map[string]string{"confirm": "must be true; reprocessing deletes all derived data"})
	}

	result, err := s.service.ReprocessAll(c.Request().Context(), pipeline.ProcessOptions{
		WeekNumber: body.WeekNumber,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("reprocess failed")
		return internalError(c, "Reprocess failed")
	}
	return success(c, result)
}

func (s *Server) queryClusterList(ctx context.Context, week string) ([]clusterListItem, error) {
	const q = `
SELECT
	sc.cluster_id,
	sc.cluster_uuid::text,
	sc.week_number,
	sc.name,
	sc.canonical_item_id,
	sc.created_at,
	cm.processed_item_id,
	cm.similarity_score,
	ci.title,
	pi.summary
FROM intel.story_clusters sc
JOIN intel.cluster_members cm ON cm.cluster_id = sc.cluster_id
JOIN intel.processed_items pi ON pi.processed_item_id = cm.processed_item_id
JOIN intel.content_items ci ON ci.content_item_id = pi.content_item_id
WHERE sc.week_number = $1
ORDER BY sc.cluster_id ASC, cm.similarity_score DESC NULLS LAST, cm.processed_item_id ASC
`

	rows, err := s.pool.Query(ctx, q, week)
	if err != nil {
		return nil, fmt.Errorf("query cluster list: %w", err)
	}
	defer rows.Close()

	items := make([]clusterListItem, 0, 8)
	byID := make(map[int64]int)

	for rows.Next() {
		var (
			clusterID int64
			cluster   clusterListItem
			member    clusterMemberItem
		)
		if err := rows.Scan(
			&clusterID,
			&cluster.ClusterUUID,
			&cluster.WeekNumber,
			&cluster.Name,
			&cluster.CanonicalItemID,
			&cluster.CreatedAt,
			&member.ProcessedItemID,
			&member.SimilarityScore,
			&member.Title,
			&member.Summary,
		); err != nil {
			return nil, fmt.Errorf("scan cluster row: %w", err)
		}

		idx, seen := byID[clusterID]
		if !seen {
			items = append(items, cluster)
			idx = len(items) - 1
			byID[clusterID] = idx
		}
		items[idx].Members = append(items[idx].Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster rows: %w", err)
	}
	return items, nil
}
