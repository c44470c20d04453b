package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/config"
	"github.com/jarsfinance/backend/internal/models"
)

const webhookQueueKey = "webhooks:paystack"

// WebhookService receives signed gateway callbacks and feeds them to the
// ledger. Verified events are queued on Redis and consumed by a worker;
// when Redis is down they are processed inline so deposits still settle.
type WebhookService struct {
	ledger   *LedgerService
	paystack *PaystackService
	redis    *redis.Client
	cfg      *config.LedgerConfig
}

func NewWebhookService(ledger *LedgerService, paystack *PaystackService, redisClient *redis.Client, cfg *config.LedgerConfig) *WebhookService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &WebhookService{ledger: ledger, paystack: paystack, redis: redisClient, cfg: cfg}
}

// HandlePaystackWebhook verifies the gateway signature and acknowledges
// the delivery. Acknowledgement only means "durably queued": the actual
// ledger mutation happens in the worker, which is safe against
// re-delivery because resolution is idempotent per reference.
func (ws *WebhookService) HandlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		SendErrorResponse(w, "Unreadable body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if signature == "" {
		zap.L().Warn("[WEBHOOK BLOCKED] Missing signature", zap.String("remote", r.RemoteAddr))
		SendErrorResponse(w, "Missing signature", http.StatusBadRequest, nil)
		return
	}
	if !ws.paystack.VerifySignature(body, signature) {
		zap.L().Warn("[WEBHOOK BLOCKED] Invalid signature", zap.String("remote", r.RemoteAddr))
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		zap.L().Error("[WEBHOOK ERROR] Invalid JSON", zap.String("remote", r.RemoteAddr))
		SendErrorResponse(w, "Invalid JSON", http.StatusBadRequest, nil)
		return
	}

	zap.L().Info("[WEBHOOK] Received event",
		zap.String("event", event.Event),
		zap.String("reference", event.Data.Reference),
		zap.String("remote", r.RemoteAddr))

	if err := ws.Enqueue(r.Context(), models.WebhookTask{Event: event}); err != nil {
		// Queue unavailable. Process inline rather than dropping money
		// movement on the floor; the gateway retries on 5xx anyway.
		if procErr := ws.processEvent(r.Context(), event); procErr != nil && retryable(procErr) {
			zap.L().Error("[WEBHOOK] Inline processing failed",
				zap.String("reference", event.Data.Reference), zap.Error(procErr))
			SendErrorResponse(w, "Processing failed", http.StatusInternalServerError, nil)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}

// Enqueue pushes a verified event onto the worker queue.
func (ws *WebhookService) Enqueue(ctx context.Context, task models.WebhookTask) error {
	if ws.redis == nil {
		return errors.New("webhook queue unavailable")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return ws.redis.LPush(ctx, webhookQueueKey, payload).Err()
}

// StartWorker consumes the webhook queue until the context is cancelled.
// No-op when Redis is absent (events were already handled inline).
func (ws *WebhookService) StartWorker(ctx context.Context) {
	if ws.redis == nil {
		return
	}
	go ws.workerLoop(ctx)
}

func (ws *WebhookService) workerLoop(ctx context.Context) {
	zap.L().Info("[WEBHOOK WORKER] Started")
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[WEBHOOK WORKER] Stopped")
			return
		default:
		}

		result, err := ws.redis.BRPop(ctx, 5*time.Second, webhookQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("[WEBHOOK WORKER] Queue read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var task models.WebhookTask
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			zap.L().Error("[WEBHOOK WORKER] Malformed task dropped", zap.Error(err))
			continue
		}
		ws.processTask(ctx, task)
	}
}

// processTask applies the retry policy around one event: transient
// lookups get re-queued with a delay, permanent conditions are dropped.
func (ws *WebhookService) processTask(ctx context.Context, task models.WebhookTask) {
	err := ws.processEvent(ctx, task.Event)
	if err == nil {
		webhookEventsTotal.WithLabelValues(task.Event.Event, "processed").Inc()
		return
	}

	reference := task.Event.Data.Reference
	switch {
	case errors.Is(err, ErrInvalidTransactionState):
		// Retrying cannot change history.
		zap.L().Warn("[WEBHOOK DUPLICATE] Transaction already resolved, dropping",
			zap.String("reference", reference))
		webhookEventsTotal.WithLabelValues(task.Event.Event, "dropped").Inc()

	case errors.Is(err, ErrSystemAccountNotFound):
		// Operator configuration error. Retries cannot fix it, and a
		// retry storm would only bury the alert.
		zap.L().Error("[CRITICAL CONFIG ERROR] System account missing, event dropped, seed system accounts and replay manually",
			zap.String("reference", reference), zap.Error(err))
		webhookEventsTotal.WithLabelValues(task.Event.Event, "config_error").Inc()

	case retryable(err):
		task.Attempts++
		if task.Attempts >= ws.cfg.WebhookMaxRetries {
			zap.L().Error("[WEBHOOK GIVE UP] Max retries reached",
				zap.String("reference", reference),
				zap.Int("attempts", task.Attempts), zap.Error(err))
			webhookEventsTotal.WithLabelValues(task.Event.Event, "exhausted").Inc()
			return
		}
		zap.L().Warn("[WEBHOOK RETRY] Transient failure, re-queueing",
			zap.String("reference", reference),
			zap.Int("attempt", task.Attempts), zap.Error(err))
		webhookEventsTotal.WithLabelValues(task.Event.Event, "retried").Inc()

		delay := ws.cfg.WebhookRetryDelay
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if qErr := ws.Enqueue(ctx, task); qErr != nil {
			zap.L().Error("[WEBHOOK RETRY] Re-queue failed",
				zap.String("reference", reference), zap.Error(qErr))
		}

	default:
		zap.L().Error("[WEBHOOK ERROR] Processing failed, dropping",
			zap.String("reference", reference), zap.Error(err))
		webhookEventsTotal.WithLabelValues(task.Event.Event, "error").Inc()
	}
}

// processEvent dispatches one verified gateway event to the ledger.
func (ws *WebhookService) processEvent(ctx context.Context, event models.WebhookEvent) error {
	reference := event.Data.Reference

	switch event.Event {
	case "charge.success":
		timer := prometheus.NewTimer(resolveDuration.WithLabelValues("resolve_success"))
		txn, credited, err := ws.ledger.ProcessSuccessfulDeposit(ctx, reference, strconv.FormatInt(event.Data.ID, 10))
		timer.ObserveDuration()
		if err != nil {
			depositsTotal.WithLabelValues("error").Inc()
			return err
		}
		depositsTotal.WithLabelValues(string(txn.Status)).Inc()
		zap.L().Info("[DEPOSIT COMPLETED]",
			zap.String("reference", reference),
			zap.String("credited", credited.String()),
			zap.String("customer", event.Data.Customer.Email))
		return nil

	case "charge.failed":
		reason := event.Data.GatewayResponse
		if reason == "" {
			reason = "Unknown error"
		}
		timer := prometheus.NewTimer(resolveDuration.WithLabelValues("resolve_failure"))
		_, err := ws.ledger.ProcessFailedDeposit(ctx, reference, reason)
		timer.ObserveDuration()
		if err != nil {
			return err
		}
		depositsTotal.WithLabelValues("failed").Inc()
		return nil

	default:
		zap.L().Info("[WEBHOOK IGNORED] Unhandled event type",
			zap.String("event", event.Event),
			zap.String("reference", reference))
		return nil
	}
}

// retryable reports whether the error may resolve itself with time, e.g.
// a webhook racing ahead of wallet provisioning.
func retryable(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrAccountNotFound)
}
