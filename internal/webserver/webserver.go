package webserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/contentscan/internal/metrics"
	"github.com/y0ug/contentscan/internal/models"
)

// PathPrefix is the mount point of the scanning API.
const PathPrefix = "/_matrix/media_proxy/unstable"

const maxRequestBodyBytes = 1 << 20

// Generator produces a verdict for a descriptor.
type Generator interface {
	Generate(ctx context.Context, desc models.AttachmentDescriptor) (models.ScanVerdict, error)
}

// Retriever redeems a secret for a report.
type Retriever interface {
	Retrieve(ctx context.Context, secret models.Fingerprint) (models.Report, error)
}

// WebServer holds the data needed for handling HTTP requests.
type WebServer struct {
	Generator Generator
	Retriever Retriever
	Metrics   *metrics.Metrics
	config    *WebserverConfig
	Logger    *logrus.Logger
}

// NewWebServer initializes a new WebServer.
func NewWebServer(generator Generator, retriever Retriever, m *metrics.Metrics, config *WebserverConfig, logger *logrus.Logger) *WebServer {
	return &WebServer{
		Generator: generator,
		Retriever: retriever,
		Metrics:   m,
		config:    config,
		Logger:    logger,
	}
}

// StartWebServer starts the HTTP server.
func StartWebServer(ctx context.Context, ws *WebServer) (*http.Server, error) {
	server := &http.Server{
		Addr:    ws.config.ListenTo,
		Handler: ws.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		ws.Logger.Infof("Server starting on %s", ws.config.ListenTo)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.Logger.Errorf("ListenAndServe(): %v", err)
		}
	}()

	return server, nil
}

// Handler returns the router wrapped with CORS handling.
func (ws *WebServer) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins: ws.config.CorsAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Length", requestIDHeader},
		Debug:          false,
	}
	return cors.New(corsOptions).Handler(ws.InitRouter())
}

// InitRouter initializes the HTTP routes.
func (ws *WebServer) InitRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(ws.loggingMiddleware)

	api := r.PathPrefix(PathPrefix).Subrouter()
	api.HandleFunc("/scan_encrypted", ws.handleScanEncrypted).Methods(http.MethodPost)
	api.HandleFunc("/scan/{server}/{mediaId}", ws.handleScan).Methods(http.MethodGet)
	api.HandleFunc("/scan_report", ws.handleScanReport).Methods(http.MethodPost)

	r.HandleFunc("/healthz", ws.handleHealthz).Methods(http.MethodGet)
	if ws.Metrics != nil {
		r.Handle("/metrics", ws.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// handleScanEncrypted handles the POST /scan_encrypted endpoint.
func (ws *WebServer) handleScanEncrypted(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	ws.generate(w, r, req.File)
}

// handleScan handles the GET /scan/{server}/{mediaId} endpoint.
func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ws.generate(w, r, models.AttachmentDescriptor{
		URL: "mxc://" + vars["server"] + "/" + vars["mediaId"],
	})
}

// handleScanReport handles the POST /scan_report endpoint.
func (ws *WebServer) handleScanReport(w http.ResponseWriter, r *http.Request) {
	var req models.ReportRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	if req.Secret == "" {
		WriteErrorResponse(w, ReasonMalformedJSON, "secret is required", http.StatusBadRequest)
		return
	}

	report, err := ws.Retriever.Retrieve(r.Context(), models.Fingerprint(req.Secret))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, report)
}

func (ws *WebServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ws *WebServer) generate(w http.ResponseWriter, r *http.Request, desc models.AttachmentDescriptor) {
	verdict, err := ws.Generator.Generate(r.Context(), desc)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, &models.ScanResponse{
		Clean:  verdict.Clean,
		Info:   verdict.Info,
		Secret: string(verdict.Fingerprint),
	})
}

func (ws *WebServer) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		ws.Logger.WithError(err).Debug("Invalid JSON payload")
		WriteErrorResponse(w, ReasonMalformedJSON, "Invalid JSON payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (ws *WebServer) writeError(w http.ResponseWriter, err error) {
	status, reason, info := errorStatus(err)
	entry := ws.Logger.WithError(err).WithField("reason", reason)
	if status >= http.StatusInternalServerError {
		entry.Error("Scan request failed")
	} else {
		entry.Info("Scan request rejected")
	}
	WriteErrorResponse(w, reason, info, status)
}
