// Package api exposes the control intent surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/ccm"
	"github.com/yasunorioi/uecs-actuatord/internal/control"
	"github.com/yasunorioi/uecs-actuatord/internal/registry"
)

// IntentRequest is the caller-facing request shape.
type IntentRequest struct {
	ActuatorID string `json:"actuator_id" binding:"required"`
	Target     struct {
		Kind  string  `json:"kind" binding:"required"` // "percent", "seconds", "binary"
		Value float64 `json:"value"`
		On    *bool   `json:"on"`
	} `json:"target" binding:"required"`
	Level  int    `json:"level" binding:"required"`
	Origin string `json:"origin"`
}

// IntentResponse is the synchronous answer.
type IntentResponse struct {
	Disposition string  `json:"disposition"`
	ETASec      float64 `json:"eta_sec,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	JobID       string  `json:"job_id,omitempty"`
}

// NodeLister exposes the receiver's node table.
type NodeLister interface {
	Nodes(activeOnly bool) []ccm.NodeInfo
}

// Server is the HTTP intent server.
type Server struct {
	addr       string
	ctrl       *control.Controller
	reg        *registry.Registry
	nodes      NodeLister
	httpServer *http.Server
}

// NewServer creates the server. nodes may be nil when the receiver is off.
func NewServer(host string, port int, ctrl *control.Controller, reg *registry.Registry, nodes NodeLister) *Server {
	return &Server{
		addr:  fmt.Sprintf("%s:%d", host, port),
		ctrl:  ctrl,
		reg:   reg,
		nodes: nodes,
	}
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/intents", s.handleIntent)
		v1.GET("/actuators", s.handleActuators)
		v1.GET("/state", s.handleState)
		v1.GET("/nodes", s.handleNodes)
	}

	s.httpServer = &http.Server{Addr: s.addr, Handler: router}

	log.Info().Str("addr", s.addr).Msg("Starting intent API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIntent(c *gin.Context) {
	var req IntentRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent, err := toIntent(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := s.ctrl.Submit(intent)

	resp := IntentResponse{
		Disposition: res.Disposition,
		Reason:      res.Reason,
		JobID:       res.JobID,
	}
	if res.ETA > 0 {
		resp.ETASec = res.ETA.Seconds()
	}

	status := http.StatusOK
	if res.Disposition == control.DispositionRejected && res.Reason == control.ReasonUnknownActuator {
		status = http.StatusNotFound
	}
	c.JSON(status, resp)
}

func (s *Server) handleActuators(c *gin.Context) {
	type entry struct {
		ID           string  `json:"id"`
		Kind         string  `json:"kind"`
		HasLimit     bool    `json:"has_limit"`
		FullOpenSec  float64 `json:"full_open_sec,omitempty"`
		FullCloseSec float64 `json:"full_close_sec,omitempty"`
		MaxDuration  float64 `json:"max_duration_sec,omitempty"`
		CoolingSec   float64 `json:"cooling_sec"`
		RoofWindow   bool    `json:"roof_window,omitempty"`
	}

	out := make([]entry, 0)
	for _, desc := range s.reg.All() {
		out = append(out, entry{
			ID:           desc.ID,
			Kind:         desc.Kind.String(),
			HasLimit:     desc.HasLimit,
			FullOpenSec:  desc.FullOpen.Seconds(),
			FullCloseSec: desc.FullClose.Seconds(),
			MaxDuration:  desc.MaxDuration.Seconds(),
			CoolingSec:   desc.Cooling.Seconds(),
			RoofWindow:   desc.RoofWindow,
		})
	}
	c.JSON(http.StatusOK, gin.H{"actuators": out, "count": len(out)})
}

func (s *Server) handleState(c *gin.Context) {
	type entry struct {
		Position      int    `json:"position_pct"`
		Phase         string `json:"phase"`
		LastDirection string `json:"last_direction"`
		Stale         bool   `json:"stale,omitempty"`
		CalibratedAt  string `json:"last_calibrated_at,omitempty"`
	}

	out := make(map[string]entry)
	for id, st := range s.ctrl.States() {
		e := entry{
			Position:      st.Position,
			Phase:         st.Phase.String(),
			LastDirection: st.LastDirection.String(),
			Stale:         st.Stale,
		}
		if !st.LastCalibratedAt.IsZero() {
			e.CalibratedAt = st.LastCalibratedAt.UTC().Format(time.RFC3339)
		}
		out[id] = e
	}
	c.JSON(http.StatusOK, gin.H{"actuators": out, "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleNodes(c *gin.Context) {
	if s.nodes == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": []any{}, "count": 0})
		return
	}

	type entry struct {
		IP       string   `json:"ip"`
		LastSeen string   `json:"last_seen"`
		Types    []string `json:"ccm_types"`
		NodeType string   `json:"node_type"`
	}

	activeOnly := c.DefaultQuery("active", "true") == "true"
	out := make([]entry, 0)
	for _, node := range s.nodes.Nodes(activeOnly) {
		types := make([]string, 0, len(node.Types))
		nodeType := "other"
		for t := range node.Types {
			types = append(types, t)
			switch ccm.Classify(ccm.StripSuffix(t)) {
			case "actuator":
				nodeType = "actuator"
			case "weather":
				if nodeType == "other" || nodeType == "sensor" {
					nodeType = "weather"
				}
			case "sensor":
				if nodeType == "other" {
					nodeType = "sensor"
				}
			}
		}
		out = append(out, entry{
			IP:       node.IP,
			LastSeen: node.LastSeen.UTC().Format(time.RFC3339),
			Types:    types,
			NodeType: nodeType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out, "count": len(out)})
}

// toIntent converts the wire request to a controller intent.
func toIntent(req IntentRequest) (control.Intent, error) {
	intent := control.Intent{
		ActuatorID: req.ActuatorID,
		Level:      actuator.Level(req.Level),
		Origin:     req.Origin,
	}
	if intent.Origin == "" {
		intent.Origin = "api"
	}

	switch req.Target.Kind {
	case "percent":
		intent.TargetKind = actuator.TargetPercent
		intent.TargetPct = int(req.Target.Value)
	case "seconds":
		intent.TargetKind = actuator.TargetSeconds
		intent.RunFor = time.Duration(req.Target.Value * float64(time.Second))
	case "binary":
		intent.TargetKind = actuator.TargetBinary
		if req.Target.On != nil {
			intent.On = *req.Target.On
		} else {
			intent.On = req.Target.Value > 0
		}
	default:
		return control.Intent{}, fmt.Errorf("unknown target kind %q", req.Target.Kind)
	}

	return intent, nil
}
