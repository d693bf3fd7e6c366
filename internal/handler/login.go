package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/avinashrudhra/robotics/internal/auth"
	"github.com/avinashrudhra/robotics/internal/metrics"
	"github.com/avinashrudhra/robotics/internal/middleware"
	"github.com/avinashrudhra/robotics/internal/models"
)

type LoginHandler struct {
	Credentials *auth.Credentials
	Tokens      *auth.TokenManager
	Limiter     *middleware.LoginLimiter
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Username    string `json:"username,omitempty"`
	ChatPartner string `json:"chatPartner,omitempty"`
	Token       string `json:"token,omitempty"`
	Message     string `json:"message,omitempty"`
}

func writeJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// Login checks the two-credential allowlist and hands out the token that
// gates the event channel. Rate limiting is per client IP and never
// touches existing sessions.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "Username and password are required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	ip := h.Limiter.ClientIP(r)
	if allowed, retryAfter := h.Limiter.Check(ip); !allowed {
		minutes := int(math.Ceil(retryAfter.Minutes()))
		slog.Warn("Login rate limit exceeded", "ip", ip, "retry_after", retryAfter)
		if minutes < 1 {
			minutes = 1
		}
		w.Header().Set("Retry-After", retryAfter.Round(time.Second).String())
		writeJSONError(w, "Too many login attempts. Please try again in "+strconv.Itoa(minutes)+" minutes.", "RATE_LIMITED", http.StatusTooManyRequests)
		return
	}

	identity, partner, err := h.Credentials.Verify(req.Username, req.Password)
	if err != nil {
		h.Limiter.RecordFailure(ip)
		metrics.LoginFailures.Inc()
		if errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Warn("Login failed", "username", req.Username, "ip", ip)
			writeJSONError(w, "Invalid username or password", "INVALID_CREDENTIALS", http.StatusUnauthorized)
			return
		}
		writeJSONError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	token, err := h.Tokens.Generate(identity)
	if err != nil {
		slog.Error("Failed to mint login token", "identity", identity, "error", err)
		writeJSONError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	h.Limiter.RecordSuccess(ip)
	slog.Info("Login succeeded", "identity", identity, "ip", ip)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{
		Success:     true,
		Username:    identity,
		ChatPartner: partner,
		Token:       token,
	})
}
