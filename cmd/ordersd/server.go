package main

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dinehub/ordersync/internal/conn"
	"github.com/dinehub/ordersync/internal/observability"
	"github.com/dinehub/ordersync/internal/orderstore"
	"github.com/dinehub/ordersync/internal/payment"
)

// newControlServer exposes metrics, health, the current order list, and the
// payment endpoints used by the web layer in front of this core.
func newControlServer(addr string, registry *prometheus.Registry, store *orderstore.Store, manager *conn.Manager, payments *payment.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"connection": string(manager.Status()),
			"payment":    string(payments.State()),
		})
	})
	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"orders": store.List()})
	})
	mux.HandleFunc("POST /payment/session", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PaymentLink string `json:"payment_link"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || json.Unmarshal(body, &req) != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
			return
		}
		session, err := payments.StartSession(r.Context(), req.PaymentLink)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"session_id": session.ID})
	})
	mux.HandleFunc("POST /payment/signal", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}
		if err := payments.HandleSignal(r.Context(), body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": string(payments.State())})
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.Log().Error("write response", observability.F("error", err))
	}
}
