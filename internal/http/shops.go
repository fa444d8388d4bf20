package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/coffeemap/internal/config"
	"github.com/Clark-Hu/coffeemap/internal/domain"
	"github.com/Clark-Hu/coffeemap/internal/geo"
	"github.com/Clark-Hu/coffeemap/internal/repository"
	"github.com/Clark-Hu/coffeemap/internal/shops"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type shopResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Geohash    string  `json:"geohash"`
	TotalScore float64 `json:"totalScore"`
	NumRatings int64   `json:"numRatings"`
	AvgRating  float64 `json:"avgRating"`
}

type nearbyItem struct {
	shopResponse
	DistanceMeters float64 `json:"distanceMeters"`
}

type nearbyResponse struct {
	Items   []nearbyItem `json:"items"`
	Refresh bool         `json:"refresh"`
}

type ratingRequest struct {
	Name   string   `json:"name"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	Rating *float64 `json:"rating"`
}

type ratingResponse struct {
	ShopID     string  `json:"shopId"`
	TotalScore float64 `json:"totalScore"`
	NumRatings int64   `json:"numRatings"`
	AvgRating  float64 `json:"avgRating"`
}

// nearbyQuery is a parsed /shops/nearby request.
type nearbyQuery struct {
	Center       geo.Point
	RadiusMeters float64
	Limit        int
	// Previous is the center of the client's last search, if it sent one.
	Previous *geo.Point
}

var errBadQuery = errors.New("bad query")

func parseFloatParam(query url.Values, name string) (float64, bool, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, fmt.Errorf("%w: invalid %s value", errBadQuery, name)
	}
	return v, true, nil
}

func parseNearbyQuery(query url.Values, cfg config.Config) (nearbyQuery, error) {
	q := nearbyQuery{RadiusMeters: cfg.DefaultRadiusMeters, Limit: cfg.DefaultMaxResults}

	lat, okLat, err := parseFloatParam(query, "lat")
	if err != nil {
		return q, err
	}
	lng, okLng, err := parseFloatParam(query, "lng")
	if err != nil {
		return q, err
	}
	if !okLat || !okLng {
		return q, fmt.Errorf("%w: lat and lng are required", errBadQuery)
	}
	q.Center = geo.Point{Lat: lat, Lng: lng}

	if radius, ok, err := parseFloatParam(query, "radius"); err != nil {
		return q, err
	} else if ok {
		q.RadiusMeters = radius
	}
	if q.RadiusMeters > cfg.MaxRadiusMeters {
		return q, fmt.Errorf("%w: radius must not exceed %v meters", shops.ErrInvalidInput, cfg.MaxRadiusMeters)
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: invalid limit value", errBadQuery)
		}
		if limit < 0 || limit > cfg.MaxResultsLimit {
			return q, fmt.Errorf("%w: limit must be within [0, %d]", shops.ErrInvalidInput, cfg.MaxResultsLimit)
		}
		q.Limit = limit
	}

	prevLat, okPrevLat, err := parseFloatParam(query, "prevLat")
	if err != nil {
		return q, err
	}
	prevLng, okPrevLng, err := parseFloatParam(query, "prevLng")
	if err != nil {
		return q, err
	}
	if okPrevLat != okPrevLng {
		return q, fmt.Errorf("%w: prevLat and prevLng must be sent together", errBadQuery)
	}
	if okPrevLat {
		q.Previous = &geo.Point{Lat: prevLat, Lng: prevLng}
	}
	return q, nil
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearbyQuery(r.URL.Query(), s.cfg)
	if err != nil {
		if errors.Is(err, shops.ErrInvalidInput) {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ctx, cancel := s.withTimeout(r.Context(), s.cfg.SearchTimeoutSecs)
	defer cancel()

	matches, err := s.svc.FindNearby(ctx, q.Center.Lat, q.Center.Lng, q.RadiusMeters, q.Limit)
	if err != nil {
		s.respondServiceError(w, "search shops", err)
		return
	}

	resp := nearbyResponse{Items: make([]nearbyItem, 0, len(matches))}
	for _, m := range matches {
		resp.Items = append(resp.Items, nearbyItem{
			shopResponse:   toShopResponse(m.Shop),
			DistanceMeters: math.Round(m.DistanceMeters*10) / 10,
		})
	}
	if q.Previous != nil {
		resp.Refresh = geo.MovedBeyond(*q.Previous, q.Center, s.cfg.RefreshThresholdMeters)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	shopID, err := decodeShopParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ctx, cancel := s.withTimeout(r.Context(), s.cfg.SearchTimeoutSecs)
	defer cancel()

	shop, err := s.svc.Get(ctx, shopID)
	if err != nil {
		s.respondServiceError(w, "get shop", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toShopResponse(shop))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	shopID, err := decodeShopParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if req.Lat == nil || req.Lng == nil || req.Rating == nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "lat, lng and rating are required")
		return
	}

	ctx, cancel := s.withTimeout(r.Context(), s.cfg.RateTimeoutSecs)
	defer cancel()

	out, err := s.svc.Rate(ctx, shopID, strings.TrimSpace(req.Name), *req.Lat, *req.Lng, *req.Rating)
	if err != nil {
		s.respondServiceError(w, "rate shop", err)
		return
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
		w.Header().Set("Location", "/shops/"+url.PathEscape(shopID))
	}
	s.respondJSON(w, status, ratingResponse{
		ShopID:     shopID,
		TotalScore: out.TotalScore,
		NumRatings: out.NumRatings,
		AvgRating:  roundToOneDecimal(out.AvgRating),
	})
}

func (s *Server) withTimeout(ctx context.Context, secs int) (context.Context, context.CancelFunc) {
	if secs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
}

func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shops.ErrInvalidInput):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, repository.ErrTransactionConflict):
		s.logger.Warn("http: "+op+" conflict", "err", err)
		s.respondError(w, http.StatusConflict, "CONFLICT", "Too many concurrent updates, retry the request")
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("http: "+op+" failed", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store is temporarily unavailable")
	default:
		s.logger.Error("http: "+op+" failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("http: failed to encode response", "err", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Unable to parse request body")
	}
}

func toShopResponse(shop domain.Shop) shopResponse {
	stats := shop.Stats()
	return shopResponse{
		ID:         shop.ID,
		Name:       shop.Name,
		Lat:        shop.Lat,
		Lng:        shop.Lng,
		Geohash:    shop.Geohash,
		TotalScore: stats.TotalScore,
		NumRatings: stats.NumRatings,
		AvgRating:  roundToOneDecimal(stats.AvgRating),
	}
}

func decodeShopParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "shopID")
	if raw == "" {
		return "", fmt.Errorf("missing shop id")
	}
	id, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("invalid shop id")
	}
	return id, nil
}

// roundToOneDecimal matches the one-decimal display of averages.
func roundToOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10.0
}
