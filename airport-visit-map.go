package main

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"airport-visit-map/pkg/api"
	"airport-visit-map/pkg/config"
	"airport-visit-map/pkg/database"
	"airport-visit-map/pkg/logger"
	"airport-visit-map/pkg/render"
)

//go:embed public_html/*
var content embed.FS

// CompileVersion is set at build time with -ldflags "-X main.CompileVersion=...".
var CompileVersion = "dev"

var version = flag.Bool("version", false, "Show the application version")

// serveWithDomain runs
//   - :80 for ACME HTTP-01 challenges and a redirect to https://<domain>/
//   - :443 with Let's Encrypt certificates cached in certDir.
//
// It returns both servers so main can shut them down.
func serveWithDomain(domain, certDir string, handler http.Handler) []*http.Server {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(certDir),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	mux80 := http.NewServeMux()
	mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
	mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	srv80 := &http.Server{
		Addr:              ":80",
		Handler:           mux80,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := srv80.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12
	srv443 := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTPS server for %s ➜ :443", domain)
		if err := srv443.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTPS server error: %v", err)
		}
	}()

	return []*http.Server{srv80, srv443}
}

// =====================
// MAIN
// =====================
func main() {
	// 1. Flags, config file, environment
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *version {
		fmt.Printf("airport-visit-map version %s\n", CompileVersion)
		return
	}

	cfg, err := config.Load(flag.CommandLine)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	// 2. Database
	db, err := database.NewDatabase(cfg.DB)
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureSchema(ctx)
	cancel()
	if err != nil {
		// Requests retry the schema on their own; a cold Postgres should not
		// keep the listener down.
		log.Printf("DB schema: %v", err)
	}

	// 3. Routes
	pageFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("page fs: %v", err)
	}
	page, err := render.New(pageFS)
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	qrCache := api.NewImageCache(10*time.Minute, 256)
	defer qrCache.Close()

	handler := api.NewHandler(db, page, CompileVersion, log.Printf)
	handler.QR = qrCache
	mux := http.NewServeMux()
	handler.Register(mux)
	rootHandler := api.WithServerHeader(CompileVersion, mux)

	// 4. HTTP/HTTPS servers
	var servers []*http.Server
	if cfg.Domain != "" {
		servers = serveWithDomain(cfg.Domain, cfg.CertDir, rootHandler)
	} else {
		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           rootHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", cfg.Addr())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	// 5. Wait for a signal, then drain in-flight visits before closing the pool
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.Printf("received %s, shutting down", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown %s: %v", srv.Addr, err)
		}
	}
	logger.Sync()
}
