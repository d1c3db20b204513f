package agent

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/command"
)

var wirejson = jsoniter.ConfigCompatibleWithStandardLibrary

// ChannelServer accepts the cloud proxy's websocket and turns incoming
// envelopes into executor calls. Commands run concurrently; only the
// websocket writes are serialized.
type ChannelServer struct {
	logger   *slog.Logger
	executor *Executor
	token    string
	upgrader websocket.Upgrader
}

func NewChannelServer(logger *slog.Logger, executor *Executor, token string) *ChannelServer {
	return &ChannelServer{
		logger:   logger.With(slog.String("component", "channel")),
		executor: executor,
		token:    token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *ChannelServer) AppendRoutes(router chi.Router) {
	router.Get("/agent/channel", s.handleChannel)
}

func (s *ChannelServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrading channel connection", "err", err)
		return
	}
	defer conn.Close()
	s.logger.Info("proxy connected", slog.String("remote", conn.RemoteAddr().String()))

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("proxy disconnected", "err", err)
			break
		}
		var env command.Envelope
		if err := wirejson.Unmarshal(data, &env); err != nil {
			s.logger.Warn("dropping malformed envelope", "err", err)
			continue
		}

		wg.Add(1)
		go func(env command.Envelope) {
			defer wg.Done()
			resp := s.executor.Execute(r.Context(), env)
			payload, err := wirejson.Marshal(resp)
			if err != nil {
				s.logger.Error("encoding response",
					slog.String("command_id", env.CommandID.String()), "err", err)
				return
			}
			writeMu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, payload)
			writeMu.Unlock()
			if err != nil {
				s.logger.Error("writing response",
					slog.String("command_id", env.CommandID.String()), "err", err)
			}
		}(env)
	}

	wg.Wait()
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := wirejson.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}
