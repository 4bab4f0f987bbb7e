package driver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Admin 管理与监控接口
type Admin struct {
	session *Session
	hub     *Hub
	log     *zap.SugaredLogger
}

// NewAdmin hub 为 nil 时不提供事件推送
func NewAdmin(session *Session, hub *Hub, log *zap.SugaredLogger) *Admin {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Admin{session: session, hub: hub, log: log}
}

// Routes 注册全部管理路由
func (a *Admin) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if a.hub != nil {
		mux.HandleFunc("/ws/events", a.hub.HandleEvents)
	}
	return mux
}

// HandleConfig 链路参数的读取与热更新
// GET /admin/config  返回当前参数
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.session.Tuning())
	case http.MethodPost:
		var body Tuning
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := a.session.Tune(body); err != nil {
			a.log.Warnw("rejected tuning", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": a.session.Tuning()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出会话运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := a.session.Snapshot()
	if a.hub != nil {
		payload["observers"] = a.hub.Subscribers()
		payload["observer_dropped"] = a.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
