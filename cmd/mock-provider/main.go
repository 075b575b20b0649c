// mock-provider is a stand-in payment processor for local development and
// demos. It accepts Hookpay-style charge requests and, on demand, emits
// signed acknowledgement callbacks the way a real provider would.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marchand/paygate/internal/logging"
	"github.com/marchand/paygate/internal/provider/hookpay"
)

func main() {
	logging.Init("mock-provider", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("HOOKPAY_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("POST /charges", handleCharge)
	mux.HandleFunc("POST /simulate/ack", handleSimulateAck(secret))

	addr := ":8081"
	slog.Info("mock provider started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type chargeRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// handleCharge authorizes every charge unless the amount ends in ".13",
// which is the magic decline trigger for demos.
func handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	status := "authorized"
	message := "charge authorized"
	if strings.HasSuffix(req.Amount, ".13") {
		status = "declined"
		message = "insufficient funds"
	}

	reference := "mock-" + uuid.NewString()
	slog.Info("charge received",
		"transaction_id", req.TransactionID,
		"amount", req.Amount,
		"currency", req.Currency,
		"status", status,
		"reference", reference,
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"reference": reference,
		"message":   message,
	}); err != nil {
		slog.Error("failed to write charge response", "error", err)
	}
}

type simulateAckRequest struct {
	Reference     string `json:"reference"`
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id,omitempty"`
	CallbackURL   string `json:"callback_url"`
}

// handleSimulateAck POSTs a signed form-encoded acknowledgement to the given
// callback URL, mimicking the provider's asynchronous notification channel.
func handleSimulateAck(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulateAckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		nonce := uuid.NewString()
		form := url.Values{}
		form.Set("reference", req.Reference)
		form.Set("event", req.Event)
		form.Set("nonce", nonce)
		form.Set("signature", hookpay.Sign(secret, req.Reference, req.Event, nonce))
		if req.TransactionID != "" {
			form.Set("transaction_id", req.TransactionID)
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Post(req.CallbackURL, "application/x-www-form-urlencoded", bytes.NewBufferString(form.Encode()))
		if err != nil {
			slog.Error("callback delivery failed", "callback_url", req.CallbackURL, "error", err)
			http.Error(w, "delivery failed", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		slog.Info("acknowledgement delivered",
			"reference", req.Reference,
			"event", req.Event,
			"callback_status", resp.StatusCode,
		)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{
			"delivery": fmt.Sprintf("%d", resp.StatusCode),
			"nonce":    nonce,
		}); err != nil {
			slog.Error("failed to write simulate response", "error", err)
		}
	}
}
