package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"airport-visit-map/pkg/database"
	"airport-visit-map/pkg/geo"
	"airport-visit-map/pkg/logger"
	"airport-visit-map/pkg/qrshare"
	"airport-visit-map/pkg/render"
)

// VisitStore is the bookkeeping the handler needs; *database.Database
// satisfies it.
type VisitStore interface {
	EnsureSchema(ctx context.Context) error
	RecordVisit(ctx context.Context, v database.Visit) error
	ListCounters(ctx context.Context) ([]database.CounterRow, error)
	ListCoordinates(ctx context.Context) ([]database.CoordinateRow, error)
}

// Handler serves the visit page and its read-only companions.
type Handler struct {
	Store   VisitStore
	Page    *render.Renderer
	Version string
	Logf    func(string, ...any)

	// QR caches /qrpng images; nil renders every request.
	QR *ImageCache
}

// NewHandler constructs a Handler. Logf is optional; pass nil if logging
// is not required.
func NewHandler(store VisitStore, page *render.Renderer, version string, logf func(string, ...any)) *Handler {
	return &Handler{Store: store, Page: page, Version: version, Logf: logf}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.logged(h.handleVisit))
	mux.HandleFunc("/locate", h.logged(h.handleLocate))
	mux.HandleFunc("/version", h.logged(h.handleVersion))
	mux.HandleFunc("/api/counters", h.logged(h.handleCounters))
	mux.HandleFunc("/api/coordinates", h.logged(h.handleCoordinates))
	mux.HandleFunc("/qrpng", h.logged(h.handleQR))
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

// requestKey is the context key for the request id.
type requestKey struct{}

// logged assigns a request id and logs where the caller is located.
func (h *Handler) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := newRequestID(r)
		loc := geo.FromRequest(r)
		region := loc.Region
		if region == "" {
			region = "unknown region"
		}
		h.logf("[%s] %s, located at: (%g, %g), within: %s", id, r.URL.Path, loc.Lat, loc.Lon, region)
		next(w, r.WithContext(context.WithValue(r.Context(), requestKey{}, id)))
	}
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestKey{}).(string); ok {
		return id
	}
	return "-"
}

// newRequestID reuses the ray id when the edge sent one so log lines can
// be matched with the proxy's logs.
func newRequestID(r *http.Request) string {
	if ray := strings.TrimSpace(r.Header.Get(geo.HeaderRay)); ray != "" {
		return ray
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "local"
	}
	return hex.EncodeToString(b)
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// =====================
// Visit page
// =====================

// handleVisit records the caller's visit and renders the scoreboard and
// map. Schema failures abort before anything is written.
func (h *Handler) handleVisit(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowRead(w, r) {
		return
	}

	ctx := r.Context()
	id := requestID(ctx)
	loc := geo.FromRequest(r)
	visit := database.Visit{
		Country: loc.CountryOrUnknown(),
		City:    loc.CityOrUnknown(),
		Airport: loc.Airport,
		Lat:     loc.Lat,
		Lon:     loc.Lon,
	}

	logger.Begin(id)
	logger.Append(id, "ensure schema")
	if err := h.Store.EnsureSchema(ctx); err != nil {
		h.fail(w, id, err)
		return
	}

	logger.Append(id, fmt.Sprintf("record visit %s/%s via %q at (%g, %g)",
		visit.Country, visit.City, visit.Airport, visit.Lat, visit.Lon))
	if err := h.Store.RecordVisit(ctx, visit); err != nil {
		h.fail(w, id, err)
		return
	}

	logger.Append(id, "list counters")
	counters, err := h.Store.ListCounters(ctx)
	if err != nil {
		h.fail(w, id, err)
		return
	}
	logger.Append(id, "list coordinates")
	coords, err := h.Store.ListCoordinates(ctx)
	if err != nil {
		h.fail(w, id, err)
		return
	}

	var buf bytes.Buffer
	if err := h.Page.Render(&buf, render.Page{Counters: counters, Coordinates: coords, Version: h.Version}); err != nil {
		h.fail(w, id, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		h.logf("[%s] write response: %v", id, err)
	}
	logger.Success(id, fmt.Sprintf("%s/%s (%d counters, %d airports)", visit.Country, visit.City, len(counters), len(coords)))
}

// fail replays the request log and answers with a short error page.
func (h *Handler) fail(w http.ResponseWriter, id string, err error) {
	logger.FlushError(id, err)

	var buf bytes.Buffer
	if rerr := h.Page.RenderError(&buf, userMessage(err), h.Version); rerr != nil {
		h.logf("[%s] %v", id, rerr)
		http.Error(w, userMessage(err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = buf.WriteTo(w)
}

// userMessage maps store errors to text safe to show visitors.
func userMessage(err error) string {
	var (
		se *database.SchemaError
		we *database.WriteError
		re *database.ReadError
	)
	switch {
	case errors.As(err, &se):
		return "visit storage is not available"
	case errors.As(err, &we):
		if we.Conflict() {
			return "your visit collided with another one, please reload"
		}
		return "your visit could not be recorded"
	case errors.As(err, &re):
		return "visit statistics could not be loaded"
	default:
		return "the page could not be rendered"
	}
}

// =====================
// Read-only routes
// =====================

// handleLocate echoes what the edge knows about the caller as
// "airport;country;city;lat;lon" without touching storage.
func (h *Handler) handleLocate(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	loc := geo.FromRequest(r)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s;%s;%s;%s;%s",
		loc.Airport, loc.Country, loc.City,
		strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		strconv.FormatFloat(loc.Lon, 'f', -1, 64))
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, h.Version)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	ctx := r.Context()
	if err := h.Store.EnsureSchema(ctx); err != nil {
		h.failJSON(w, ctx, err)
		return
	}
	rows, err := h.Store.ListCounters(ctx)
	if err != nil {
		h.failJSON(w, ctx, err)
		return
	}
	h.respondJSON(w, struct {
		Counters []database.CounterRow `json:"counters"`
	}{Counters: render.Scoreboard(rows)})
}

func (h *Handler) handleCoordinates(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	ctx := r.Context()
	if err := h.Store.EnsureSchema(ctx); err != nil {
		h.failJSON(w, ctx, err)
		return
	}
	rows, err := h.Store.ListCoordinates(ctx)
	if err != nil {
		h.failJSON(w, ctx, err)
		return
	}
	if rows == nil {
		rows = []database.CoordinateRow{}
	}
	h.respondJSON(w, struct {
		Coordinates []database.CoordinateRow `json:"coordinates"`
	}{Coordinates: rows})
}

func (h *Handler) failJSON(w http.ResponseWriter, ctx context.Context, err error) {
	h.logf("[%s][ERROR] %v", requestID(ctx), err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": userMessage(err)})
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logf("encode json: %v", err)
	}
}

// handleQR renders a QR code for ?u=, the referring page, or the site root.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + "/"
		}
	}
	if len(u) > 2048 {
		http.Error(w, "url too long", http.StatusBadRequest)
		return
	}

	png, err := h.QR.Get(r.Context(), u, func(context.Context) ([]byte, error) {
		var buf bytes.Buffer
		if err := qrshare.EncodePNG(&buf, []byte(u), nil, qrshare.DefaultOptions); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline; filename=\"qr.png\"")
	_, _ = w.Write(png)
}
