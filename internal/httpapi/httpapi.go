// Package httpapi is the HTTP boundary consumed by the page layer:
// REST endpoints over the query facade, direct media byte-streaming
// from object storage, and the WebSocket upgrade endpoint. Routing is
// built on chi, grounded on the teacher's cmd/hlsd daemon (the only
// place in the corpus that actually constructs a chi.Router with its
// middleware stack; the control-plane main.go uses a bare
// net/http.ServeMux with Go 1.22 pattern routing instead).
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/historical"
	"github.com/lsst-live/rubintv/internal/hub"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/query"
	"github.com/lsst-live/rubintv/internal/rubinerrors"
	"github.com/lsst-live/rubintv/internal/rubinkey"
)

// Server holds the dependencies every handler needs.
type Server struct {
	registry   *fixtures.Registry
	query      *query.Service
	stores     *objectstore.Registry
	hub        *hub.Hub
	historical *historical.Cache
	log        zerolog.Logger
}

// New constructs a Server. The mount prefix is passed to Router
// (default "/rubintv" per the environment configuration).
func New(reg *fixtures.Registry, q *query.Service, stores *objectstore.Registry, h *hub.Hub, hist *historical.Cache, log zerolog.Logger) *Server {
	return &Server{registry: reg, query: q, stores: stores, hub: h, historical: hist, log: log}
}

// Router builds the chi router, mounting the API under pathPrefix.
// Grounded on the teacher's hlsd middleware stack: RequestID, RealIP,
// Recoverer and Timeout (chi's request Logger is not installed), plus
// a permissive CORS header set, since this service has no auth layer.
func (s *Server) Router(pathPrefix string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(pathPrefix, func(r chi.Router) {
		r.Get("/ws/", s.handleWebSocket)

		r.Route("/api", func(r chi.Router) {
			r.Get("/", s.handleListLocations)
			r.Get("/{loc}", s.handleGetLocation)
			r.Get("/{loc}/{cam}", s.handleGetCamera)
			r.Get("/{loc}/{cam}/current", s.handleCurrent)
			r.Get("/{loc}/{cam}/date/{date}", s.handleHistoricalDate)
			r.Get("/{loc}/{cam}/calendar", s.handleCameraCalendar)
		})

		r.Get("/event_image/{loc}/{cam}/{chan}/{filename}", s.handleEventImage)
		r.Get("/event_video/{loc}/{cam}/{chan}/{filename}", s.handleEventVideo)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReadyz reports 503 while the historical cache hasn't completed
// its initial build, matching the Busy error kind's HTTP mapping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.historical.IsBusy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("historical cache warming"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Locations)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc := s.registry.Location(chi.URLParam(r, "loc"))
	if loc == nil {
		respondError(w, http.StatusNotFound, "unknown location")
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	loc := s.registry.Location(chi.URLParam(r, "loc"))
	if loc == nil {
		respondError(w, http.StatusNotFound, "unknown location")
		return
	}
	cam := loc.Camera(chi.URLParam(r, "cam"))
	if cam == nil {
		respondError(w, http.StatusNotFound, "unknown camera")
		return
	}
	respondJSON(w, http.StatusOK, cam)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	result, err := s.query.Current(r.Context(), chi.URLParam(r, "loc"), chi.URLParam(r, "cam"))
	if err != nil {
		respondStatusErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistoricalDate(w http.ResponseWriter, r *http.Request) {
	result, err := s.query.HistoricalForDate(r.Context(), chi.URLParam(r, "loc"), chi.URLParam(r, "cam"), chi.URLParam(r, "date"))
	if err != nil {
		respondStatusErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCameraCalendar(w http.ResponseWriter, r *http.Request) {
	calendar, err := s.query.CameraCalendar(r.Context(), chi.URLParam(r, "loc"), chi.URLParam(r, "cam"))
	if err != nil {
		respondStatusErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, calendar)
}

var imageContentTypes = map[string]string{"png": "image/png", "jpg": "image/jpeg", "jpeg": "image/jpeg"}

// handleEventImage streams an image object's bytes directly.
func (s *Server) handleEventImage(w http.ResponseWriter, r *http.Request) {
	s.streamObject(w, r, false)
}

// handleEventVideo streams a video object, honouring the Range header.
func (s *Server) handleEventVideo(w http.ResponseWriter, r *http.Request) {
	s.streamObject(w, r, true)
}

func (s *Server) streamObject(w http.ResponseWriter, r *http.Request, isVideo bool) {
	locationName := chi.URLParam(r, "loc")
	cameraName := chi.URLParam(r, "cam")
	channelName := chi.URLParam(r, "chan")
	filename := chi.URLParam(r, "filename")

	if _, _, _, ok := s.registry.Resolve(locationName, cameraName, channelName); !ok {
		respondError(w, http.StatusNotFound, "unknown or offline location/camera/channel")
		return
	}

	ev, err := rubinkey.ParseEventFilename(cameraName, channelName, filename, "")
	if err != nil {
		respondError(w, http.StatusNotFound, "malformed event filename")
		return
	}

	store := s.stores.Client(locationName)
	if store == nil {
		respondError(w, http.StatusInternalServerError, "no object-store client bound for location")
		return
	}

	reader, _, err := store.GetRaw(r.Context(), ev.Key)
	if err != nil {
		respondStatusErr(w, err)
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed reading object")
		return
	}

	if isVideo {
		w.Header().Set("Content-Type", "video/mp4")
	} else if ct, ok := imageContentTypes[ev.Ext]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, filename, time.Time{}, bytes.NewReader(data))
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}

	client := hub.NewClient(s.hub, conn, s.log)
	go client.WritePump()
	client.ReadPump()
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStatusErr(w http.ResponseWriter, err error) {
	respondError(w, rubinerrors.StatusFor(err), err.Error())
}

