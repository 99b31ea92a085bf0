// Package server - Router und Server-Setup der Status-API
// Beinhaltet: Server-Struct, Router-Registrierung, Handler fuer Geraete,
// Code-Cache und Artefakt-Index
package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ollama/offload/api"
	"github.com/ollama/offload/artifact/store"
	"github.com/ollama/offload/engine"
	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/version"
)

var mode string = gin.DebugMode

// Server exposes the state of a runtime context read-only, plus a reset.
type Server struct {
	addr  net.Addr
	rt    *engine.Context
	index *store.Store
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// New returns a server for rt. index may be nil.
func New(rt *engine.Context, index *store.Store) *Server {
	return &Server{rt: rt, index: index}
}

func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(cors.New(corsConfig))

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "offload is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "offload is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/env", func(c *gin.Context) { c.JSON(http.StatusOK, envconfig.Values()) })

	// Devices
	r.GET("/api/devices", s.DevicesHandler)
	r.GET("/api/devices/:index/kernels", s.KernelsHandler)
	r.GET("/api/devices/:index/pending", s.PendingHandler)
	r.POST("/api/reset", s.ResetHandler)

	// Artifact index
	r.GET("/api/binaries", s.BinariesHandler)
	r.GET("/api/failures", s.FailuresHandler)

	return r
}

func (s *Server) DevicesHandler(c *gin.Context) {
	resp := api.ListDevicesResponse{Devices: []api.DeviceResponse{}}
	for i, e := range s.rt.Engines() {
		info := e.Info()
		cs := e.Cache().Stats()
		ts := e.Tracker().Stats()
		resp.Devices = append(resp.Devices, api.DeviceResponse{
			Index:        i,
			ID:           info.DeviceID,
			Name:         info.Name,
			Vendor:       info.Vendor,
			Type:         info.Type.String(),
			Capabilities: info.Capabilities.String(),
			Features:     info.Features,
			TotalMemory:  info.TotalMemory,
			ComputeUnits: info.ComputeUnits,
			Stats: api.StatsResponse{
				Hits:        cs.Hits,
				Misses:      cs.Misses,
				Builds:      cs.Builds,
				BinaryLoads: cs.BinaryLoads,
				Failures:    cs.Failures,
				Reused:      cs.Reused,
				Links:       cs.Links,
				Allocations: ts.Allocations,
				CopiesIn:    ts.CopiesIn,
				CopiesOut:   ts.CopiesOut,
			},
		})
	}
	c.JSON(http.StatusOK, resp)
}

// engine resolves the :index path parameter.
func (s *Server) engine(c *gin.Context) (*engine.Engine, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid device index"})
		return nil, false
	}

	e, err := s.rt.Engine(i)
	if errors.Is(err, ml.ErrNoDevice) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return e, true
}

func (s *Server) KernelsHandler(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}

	resp := api.ListKernelsResponse{Kernels: []api.KernelResponse{}}
	for _, k := range e.Cache().Entries() {
		resp.Kernels = append(resp.Kernels, api.KernelResponse{
			TaskID:      k.TaskID,
			EntryPoint:  k.EntryPoint,
			Status:      k.Status.String(),
			Valid:       k.Valid(),
			Binary:      k.Binary,
			Digest:      k.Digest.String(),
			LogPath:     k.LogPath,
			InstalledAt: k.InstalledAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) PendingHandler(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}

	resp := api.ListPendingResponse{Pending: []api.PendingResponse{}}
	for _, p := range e.Cache().Pending() {
		resp.Pending = append(resp.Pending, api.PendingResponse{TaskID: p.TaskID, EntryPoint: p.EntryPoint})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResetHandler(c *gin.Context) {
	if err := s.rt.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) BinariesHandler(c *gin.Context) {
	if s.index == nil {
		c.JSON(http.StatusOK, api.ListBinariesResponse{Binaries: []api.BinaryResponse{}})
		return
	}

	binaries, err := s.index.Binaries(c.Query("device"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.ListBinariesResponse{Binaries: []api.BinaryResponse{}}
	for _, b := range binaries {
		resp.Binaries = append(resp.Binaries, api.BinaryResponse{
			Device:    b.Device,
			TaskID:    b.Task,
			Entry:     b.Entry,
			Path:      b.Path,
			Digest:    b.Digest,
			Size:      b.Size,
			CreatedAt: b.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) FailuresHandler(c *gin.Context) {
	if s.index == nil {
		c.JSON(http.StatusOK, api.ListFailuresResponse{Failures: []api.FailureResponse{}})
		return
	}

	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	failures, err := s.index.Failures(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.ListFailuresResponse{Failures: []api.FailureResponse{}}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, api.FailureResponse{
			Device:    f.Device,
			TaskID:    f.Task,
			Entry:     f.Entry,
			LogPath:   f.LogPath,
			Message:   f.Message,
			CreatedAt: f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}
