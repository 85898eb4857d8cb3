package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"vigil/internal/server"
)

// handleHTTPServer configures and starts a HTTP server on the given address.
// It shuts down the server if any error is received in the error channel.
func handleHTTPServer(ctx context.Context, addr string, srv *server.Server, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {

	// Start HTTP server using default configuration, change the code to
	// configure the server as required by your service. Request contexts
	// inherit the server context so open MJPEG feeds end during shutdown
	// instead of holding Shutdown until its timeout.
	httpsrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: time.Second * 60,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	for _, m := range srv.Mounts() {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			errc <- httpsrv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := httpsrv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
