// Package api implements the control surface's HTTP transport (spec.md
// §6): a stable JSON operation table binding straight onto the Routing
// Manager. This is the in-scope interface the out-of-scope UI calls.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mvogt/panelmix/internal/routing"
)

// Server is the Echo application fronting the Routing Manager.
type Server struct {
	echo    *echo.Echo
	manager *routing.Manager
	logger  *log.Logger
}

// New constructs an Echo app with one route per spec.md §6 operation.
func New(manager *routing.Manager, logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, manager: manager, logger: logger}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/v1/state", s.handleGetState)
	s.echo.POST("/v1/channels/:id/label", s.handleSetChannelLabel)
	s.echo.POST("/v1/channels/:id/volume", s.handleSetChannelVolume)
	s.echo.POST("/v1/channels/:id/muted", s.handleSetChannelMuted)
	s.echo.POST("/v1/buses/:bus/channels/:id/in-mix", s.handleSetChannelInMix)
	s.echo.POST("/v1/buses/:bus/sink", s.handleSetBusSink)
	s.echo.POST("/v1/hardware-events", s.handleHardwareEvent)
	s.echo.GET("/v1/outputs", s.handleListOutputs)
}

// Run starts the HTTP listener and blocks until ctx is cancelled or the
// listener fails to start.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("control surface shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.echo.Shutdown(shutCtx)
		s.logger.Info("control surface stopped")
		return err
	}
}

type channelState struct {
	ID            string  `json:"id"`
	Label         string  `json:"label"`
	HardwareIndex int     `json:"hardwareIndex"`
	Volume        float32 `json:"volume"`
	Muted         bool    `json:"muted"`
	Active        bool    `json:"active"`
}

type busState struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	OutputDeviceID *string  `json:"outputDeviceId"`
	Running        bool     `json:"running"`
	Members        []string `json:"members"`
}

type stateResponse struct {
	Channels []channelState `json:"channels"`
	Buses    []busState     `json:"buses"`
}

func (s *Server) handleGetState(c echo.Context) error {
	snap := s.manager.GetState()
	resp := stateResponse{}
	for _, cs := range snap.Channels {
		resp.Channels = append(resp.Channels, channelState{
			ID: cs.ID, Label: cs.Label, HardwareIndex: cs.HardwareIndex,
			Volume: cs.Volume, Muted: cs.Muted, Active: cs.Active,
		})
	}
	for _, bs := range snap.Buses {
		resp.Buses = append(resp.Buses, busState{
			ID: bs.ID, Name: bs.Name, OutputDeviceID: bs.OutputDeviceID,
			Running: bs.Running, Members: bs.Members,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

type labelRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSetChannelLabel(c echo.Context) error {
	var req labelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetChannelLabel(c.Param("id"), req.Text); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type volumeRequest struct {
	Volume float32 `json:"volume"`
}

func (s *Server) handleSetChannelVolume(c echo.Context) error {
	var req volumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetChannelVolume(c.Param("id"), req.Volume); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type mutedRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleSetChannelMuted(c echo.Context) error {
	var req mutedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetChannelMuted(c.Param("id"), req.Muted); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type inMixRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetChannelInMix(c echo.Context) error {
	var req inMixRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetChannelInMix(c.Param("bus"), c.Param("id"), req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type sinkRequest struct {
	DeviceID *string `json:"deviceId"`
}

func (s *Server) handleSetBusSink(c echo.Context) error {
	var req sinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetBusSink(c.Param("bus"), req.DeviceID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type hardwareEventRequest struct {
	Index   int  `json:"index"`
	Value   int  `json:"value"`
	Pressed bool `json:"pressed"`
}

func (s *Server) handleHardwareEvent(c echo.Context) error {
	var req hardwareEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.manager.OnHardwareEvent(req.Index, req.Value, req.Pressed)
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListOutputs(c echo.Context) error {
	outputs, err := s.manager.ListOutputs()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, outputs)
}
