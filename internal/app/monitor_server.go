package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"lp-rfq/internal/history"
	"lp-rfq/internal/monitor"
)

// StartMonitorServer 在配置启用时启动监控接口，ctx 结束时关闭。
func (a *App) StartMonitorServer(ctx context.Context) error {
	if !a.cfg.Monitor.Enabled {
		return nil
	}

	addr := a.cfg.Monitor.Addr
	srv := &http.Server{Addr: addr, Handler: a.monitorMux(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		a.feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	a.logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func (a *App) monitorMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := a.monitor.ListEvents(r.Context(), eventType, parseLimit(q.Get("limit"), 200))
		a.writeJSON(w, events, err)
	})

	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := history.Filter{
			Provider: strings.TrimSpace(q.Get("provider")),
			Limit:    parseLimit(q.Get("limit"), 100),
		}
		if since := q.Get("since"); since != "" {
			ts, err := time.Parse(time.RFC3339, since)
			if err != nil {
				http.Error(w, "since 必须为 RFC3339 时间", http.StatusBadRequest)
				return
			}
			filter.Since = ts
		}

		rows, err := a.history.QuoteHistory(r.Context(), filter)
		a.writeJSON(w, rows, err)
	})

	mux.HandleFunc("/providers", func(w http.ResponseWriter, r *http.Request) {
		stats, err := a.history.ProviderStats(r.Context())
		a.writeJSON(w, stats, err)
	})

	mux.HandleFunc("/executions", func(w http.ResponseWriter, r *http.Request) {
		records, err := a.history.Executions(r.Context(), parseLimit(r.URL.Query().Get("limit"), 50))
		a.writeJSON(w, records, err)
	})

	mux.Handle("/stream", a.feed)
	return mux
}

func (a *App) writeJSON(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > 1000 {
		v = 1000
	}
	return v
}
