package app

import (
	"net/http"

	inviteapi "hush/cmd/internal/invite/api"
	"hush/cmd/internal/relay"
)

func registerHTTP(mux *http.ServeMux, gw *relay.Gateway, invites *inviteapi.Handler) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	invites.Register(mux)

	mux.Handle("GET /rooms/{roomId}", gw)
}
