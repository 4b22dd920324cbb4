package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers with DefaultServeMux.
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mediacache/mediacache/cache/disk"
	"github.com/mediacache/mediacache/config"
	"github.com/mediacache/mediacache/fetch"
	"github.com/mediacache/mediacache/ldap"
	"github.com/mediacache/mediacache/metric/prometheus"
	"github.com/mediacache/mediacache/server"
	"github.com/mediacache/mediacache/utils/flags"
	"github.com/mediacache/mediacache/utils/idle"
	"github.com/mediacache/mediacache/utils/rlimit"

	auth "github.com/abbot/go-http-auth"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// gitCommit is the version stamp for the server. The value of this var
// is set through linker options.
var gitCommit string

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetFlags(config.LogFlags)

	maybeGitCommitMsg := ""
	if len(gitCommit) > 0 && gitCommit != "{STABLE_GIT_COMMIT}" {
		maybeGitCommitMsg = fmt.Sprintf(" from git commit %s", gitCommit)
	}
	log.Printf("mediacache built with %s%s.",
		strings.TrimPrefix(runtime.Version(), "go"), maybeGitCommitMsg)

	app := cli.NewApp()

	cli.AppHelpTemplate = flags.Template
	cli.HelpPrinterCustom = flags.HelpPrinter
	// Force the use of cli.HelpPrinterCustom.
	app.ExtraInfo = func() map[string]string { return map[string]string{} }

	app.Flags = flags.GetCliFlags()
	app.Action = run

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal("mediacache terminated:", err)
	}
}

func run(ctx *cli.Context) error {
	c, err := config.Get(ctx)
	if err != nil {
		fmt.Fprintf(ctx.App.Writer, "%v\n\n", err)
		_ = cli.ShowAppHelp(ctx)
		return cli.Exit("", 1)
	}

	if ctx.NArg() > 0 {
		fmt.Fprintf(ctx.App.Writer,
			"Error: mediacache does not take positional arguments\n")
		for i := 0; i < ctx.NArg(); i++ {
			fmt.Fprintf(ctx.App.Writer, "arg: %s\n", ctx.Args().Get(i))
		}
		fmt.Fprintf(ctx.App.Writer, "\n")

		_ = cli.ShowAppHelp(ctx)
		return cli.Exit("", 1)
	}

	rlimit.Raise()

	opts := []disk.Option{
		disk.WithStorageMode(c.StorageMode),
		disk.WithMaxSegmentSize(c.MaxSegmentBytes),
		disk.WithProxyTimeout(c.ProxyTimeout),
		disk.WithAccessLogger(c.AccessLogger),
		disk.WithErrorLogger(c.ErrorLogger),
	}
	if c.ProxyBackend != nil {
		opts = append(opts, disk.WithProxyBackend(c.ProxyBackend))
	}
	if c.EnableEndpointMetrics {
		opts = append(opts, disk.WithEndpointMetrics())
	}

	diskCache, err := disk.New(c.Dir, opts...)
	if err != nil {
		log.Fatal(err)
	}
	diskCache.RegisterMetrics()

	var loader *fetch.Loader
	if c.Fetch.Enabled {
		client := fetch.NewClient(nil, c.Fetch.ClientHeader, c.Fetch.ClientID, c.Fetch.Timeout)
		loader = fetch.NewLoader(diskCache, client, c.Fetch.Timeout, c.AccessLogger)
		log.Printf("Filling cache misses from the origin, timeout %s", c.Fetch.Timeout)
	}

	var tearDown chan struct{}
	var idleTimer *idle.Timer
	if c.IdleTimeout > 0 {
		tearDown = make(chan struct{}, 1)
		idleTimer = idle.NewTimer(c.IdleTimeout, tearDown)
	}

	authenticator, err := newAuthenticator(c)
	if err != nil {
		log.Fatal(err)
	}

	httpServer := newHTTPServer(c, diskCache, loader, authenticator, idleTimer)

	var grpcServer *grpc.Server
	if c.GRPCEnabled() {
		grpcServer = newGRPCServer(c, authenticator, idleTimer)
	}

	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return serveHTTP(c, httpServer)
	})

	if grpcServer != nil {
		g.Go(func() error {
			network, addr := listenAddress(c.GRPCAddress)
			log.Printf("Starting gRPC server on address %s", c.GRPCAddress)
			err := server.ListenAndServeGRPC(grpcServer, network, addr,
				c.MaxBlobSize, diskCache, c.AccessLogger, c.ErrorLogger)
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		})
	}

	if c.ProfileEnabled() {
		go func() {
			log.Printf("Starting HTTP server for profiling on address %s", c.ProfileAddress)
			err := http.ListenAndServe(c.ProfileAddress, nil)
			if err != nil {
				log.Println("Profiling server stopped:", err)
			}
		}()
	}

	if idleTimer != nil {
		log.Printf("Starting idle timer with value %v", c.IdleTimeout)
		idleTimer.Start()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-tearDown:
		log.Println("Idle timeout reached, shutting down")
	case sig := <-signals:
		log.Printf("Received %s, shutting down", sig)
	case <-gctx.Done():
		log.Println("A listener stopped, shutting down")
	}

	if idleTimer != nil {
		idleTimer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	if err != nil {
		log.Println("HTTP server shutdown:", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	return g.Wait()
}

// authChecker is satisfied by both the htpasswd and LDAP authenticators.
type authChecker interface {
	auth.AuthenticatorInterface
	server.BasicAuthChecker
}

func newAuthenticator(c *config.Config) (authChecker, error) {
	if c.HtpasswdFile != "" {
		return auth.NewBasicAuthenticator(ldap.Realm, auth.HtpasswdFileProvider(c.HtpasswdFile)), nil
	}

	if c.LDAP != nil {
		a, err := ldap.New(c.LDAP)
		if err != nil {
			return nil, fmt.Errorf("LDAP: %w", err)
		}
		return a, nil
	}

	return nil, nil
}

func newHTTPServer(c *config.Config, diskCache *disk.Cache, loader *fetch.Loader,
	authenticator authChecker, idleTimer *idle.Timer) *http.Server {
	h := server.NewHTTPCache(diskCache, loader, c.MaxBlobSize,
		c.AccessLogger, c.ErrorLogger, gitCommit)

	cacheHandler := h.CacheHandler
	if authenticator != nil {
		cacheHandler = authWrapper(authenticator, c.AllowUnauthenticatedReads, cacheHandler)
	}

	if c.TLSConfig != nil && c.TLSCaFile != "" {
		cacheHandler = certWrapper(c.AllowUnauthenticatedReads, cacheHandler)
	}

	statusHandler := h.StatusPageHandler
	if idleTimer != nil {
		cacheHandler = wrapIdleHandler(cacheHandler, idleTimer)
		statusHandler = wrapIdleHandler(statusHandler, idleTimer)
	}

	mux := http.NewServeMux()
	prometheus.WrapEndpoints(mux, cacheHandler, statusHandler, c.MetricsDurationBuckets)

	return &http.Server{
		Handler:      mux,
		TLSConfig:    c.TLSConfig,
		ReadTimeout:  c.HTTPReadTimeout,
		WriteTimeout: c.HTTPWriteTimeout,
	}
}

func serveHTTP(c *config.Config, srv *http.Server) error {
	network, addr := listenAddress(c.HTTPAddress)

	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}

	if srv.TLSConfig != nil {
		log.Printf("Starting HTTPS server on address %s", c.HTTPAddress)
		err = srv.ServeTLS(ln, "", "")
	} else {
		log.Printf("Starting HTTP server on address %s", c.HTTPAddress)
		err = srv.Serve(ln)
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// listenAddress splits a configured address into the arguments for
// net.Listen. Addresses of the form unix:///path/to/socket name a unix
// domain socket, and anything else is a TCP address.
func listenAddress(address string) (network string, addr string) {
	if !strings.HasPrefix(address, "unix://") {
		return "tcp", address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "unix", strings.TrimPrefix(address, "unix://")
	}

	// A stale socket from a previous run would make Listen fail.
	_ = os.Remove(u.Path)
	return "unix", u.Path
}

func newGRPCServer(c *config.Config, authenticator authChecker, idleTimer *idle.Timer) *grpc.Server {
	grpc_prometheus.EnableHandlingTimeHistogram(
		grpc_prometheus.WithHistogramBuckets(c.MetricsDurationBuckets))

	streamInterceptors := []grpc.StreamServerInterceptor{grpc_prometheus.StreamServerInterceptor}
	unaryInterceptors := []grpc.UnaryServerInterceptor{grpc_prometheus.UnaryServerInterceptor}

	if idleTimer != nil {
		streamInterceptors = append(streamInterceptors, server.GRPCIdleStreamServerInterceptor(idleTimer))
		unaryInterceptors = append(unaryInterceptors, server.GRPCIdleUnaryServerInterceptor(idleTimer))
	}

	if c.TLSCaFile != "" {
		streamInterceptors = append(streamInterceptors,
			server.GRPCmTLSStreamServerInterceptor(c.AllowUnauthenticatedReads))
		unaryInterceptors = append(unaryInterceptors,
			server.GRPCmTLSUnaryServerInterceptor(c.AllowUnauthenticatedReads))
	}

	if authenticator != nil {
		streamInterceptors = append(streamInterceptors,
			server.GRPCBasicAuthStreamServerInterceptor(authenticator, c.AllowUnauthenticatedReads))
		unaryInterceptors = append(unaryInterceptors,
			server.GRPCBasicAuthUnaryServerInterceptor(authenticator, c.AllowUnauthenticatedReads))
	}

	opts := []grpc.ServerOption{
		grpc.ChainStreamInterceptor(streamInterceptors...),
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
	}

	if c.TLSConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(c.TLSConfig)))
	}

	return grpc.NewServer(opts...)
}

// authWrapper requires valid credentials for every request, except
// reads when allowUnauthenticatedReads is set.
func authWrapper(authenticator auth.AuthenticatorInterface, allowUnauthenticatedReads bool, handler http.HandlerFunc) http.HandlerFunc {
	checked := auth.JustCheck(authenticator, handler)
	if !allowUnauthenticatedReads {
		return checked
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if isRead(r) {
			handler(w, r)
			return
		}
		checked(w, r)
	}
}

// certWrapper rejects writes from clients that did not present a
// verified certificate. Without allowUnauthenticatedReads the TLS
// handshake already requires one.
func certWrapper(allowUnauthenticatedReads bool, handler http.HandlerFunc) http.HandlerFunc {
	if !allowUnauthenticatedReads {
		return handler
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if isRead(r) {
			handler(w, r)
			return
		}

		if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		handler(w, r)
	}
}

func isRead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func wrapIdleHandler(handler http.HandlerFunc, idleTimer *idle.Timer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idleTimer.ResetTimer()
		handler(w, r)
	}
}
