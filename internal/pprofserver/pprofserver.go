// Package pprofserver serves the runtime profiles of a long running command, e.g. an import of a large sheet.
package pprofserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
)

func Handle(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
}

// Launch serves pprof on addr until the returned stop function is called. Keep addr on a loopback interface, the
// profiles are not protected.
func Launch(ctx context.Context, addr string, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen pprof", slog.String("addr", addr))
	}
	mux := http.NewServeMux()
	Handle(mux)
	server := &http.Server{ //nolint:exhaustruct // defaults are fine for a loopback debug server.
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, //nolint:mnd // 5 seconds
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "starting pprof server", slog.String("addr", listener.Addr().String()))
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.LogAttrs(ctx, slog.LevelError, "pprof server stopped", errors.SlogError(serveErr))
		}
	}()
	return func() {
		_ = server.Close()
	}, nil
}
