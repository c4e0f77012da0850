package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleetd/common"
	"fleetd/database"
	"fleetd/services"
)

var startedAt = time.Now()

func main() {
	addr := common.Env("FLEETD_BIND", ":443")

	common.InfoLog("fleetd starting with log level: %s",
		strings.ToLower(common.Env("FLEETD_LOG_LEVEL", "info")))
	common.DebugLog("debug logging is enabled")

	sessionManager, err := InitAuthFromEnv()
	if err != nil {
		common.FatalLog("OIDC setup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.InitDBFromEnv(ctx); err != nil {
		common.FatalLog("DB init failed: %v", err)
	}
	if err := services.InitInventory(); err != nil {
		common.FatalLog("inventory init failed: %v", err)
	}

	services.StartInventoryWatcher(ctx)
	startAutoScanner(ctx)
	services.StartConsolidator(ctx)

	r := makeRouter()

	var handler http.Handler = r
	if sessionManager != nil {
		handler = sessionManager.LoadAndSave(r)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	enableTLS := isTrueish(common.Env("FLEETD_TLS_ENABLE", "true"))
	if !enableTLS {
		common.InfoLog("http: listening on %s (TLS disabled)", addr)
		common.FatalLog("HTTP server error: %v", srv.ListenAndServe())
		return
	}

	certFile := strings.TrimSpace(common.Env("FLEETD_TLS_CERT_FILE", ""))
	keyFile := strings.TrimSpace(common.Env("FLEETD_TLS_KEY_FILE", ""))

	if certFile != "" && keyFile != "" {
		common.InfoLog("https: listening on %s (cert=%s)", addr, certFile)
		common.FatalLog("HTTPS server error: %v", srv.ListenAndServeTLS(certFile, keyFile))
		return
	}

	if !isTrueish(common.Env("FLEETD_TLS_SELF_SIGNED", "true")) {
		common.FatalLog("https: TLS enabled but no cert files and self-signed disabled")
	}

	// Ephemeral self-signed (in-memory)
	certPEM, keyPEM, err := generateSelfSigned("fleetd.local")
	if err != nil {
		common.FatalLog("failed to generate self-signed certificate: %v", err)
	}
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		common.FatalLog("failed to load certificate key pair: %v", err)
	}
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
	}
	common.InfoLog("https: listening on %s (self-signed)", addr)
	common.FatalLog("HTTPS server error: %v", srv.ListenAndServeTLS("", ""))
}

/* -------- auto-scan loop (all hosts) -------- */

// run one full pass across hosts with limited concurrency
func scanAllOnce(ctx context.Context, perHostTO time.Duration, conc int) {
	hostRows, err := database.ListHosts(ctx)
	if err != nil {
		common.ErrorLog("scan: list hosts failed: %v", err)
		return
	}
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var mu sync.Mutex

	var total, scanned, skipped, failed int

	for _, h := range hostRows {
		h := h
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			hctx, hcancel := context.WithTimeout(ctx, perHostTO)
			n, err := services.ScanHostContainers(hctx, h.Name)
			hcancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// treat intentional skips distinctly
				if errors.Is(err, services.ErrSkipScan) {
					skipped++
					return
				}
				failed++
				common.ErrorLog("scan: host=%s error=%v", h.Name, err)
				return
			}
			scanned++
			total += n
			common.InfoLog("scan: host=%s saved=%d", h.Name, n)
		}()
	}
	wg.Wait()
	common.InfoLog("scan: complete hosts=%d scanned=%d skipped=%d total_saved=%d errors=%d",
		len(hostRows), scanned, skipped, total, failed)
}

func startAutoScanner(ctx context.Context) {
	if !common.EnvBool("FLEETD_SCAN_AUTO", "true") {
		common.InfoLog("scan: auto disabled (FLEETD_SCAN_AUTO=false)")
		return
	}
	interval := common.EnvDuration("FLEETD_SCAN_INTERVAL", "30s")
	perHostTO := common.EnvDuration("FLEETD_SCAN_HOST_TIMEOUT", "45s")
	conc := common.EnvInt("FLEETD_SCAN_CONCURRENCY", 3)

	common.InfoLog("scan: auto enabled interval=%s host_timeout=%s conc=%d", interval, perHostTO, conc)

	// optional boot scan
	if common.EnvBool("FLEETD_SCAN_ON_START", "true") {
		go scanAllOnce(ctx, perHostTO, conc)
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				scanAllOnce(ctx, perHostTO, conc)
			case <-ctx.Done():
				common.InfoLog("scan: auto scanner stopping: %v", ctx.Err())
				return
			}
		}
	}()
}

/* -------- TLS self-signed helper -------- */

func generateSelfSigned(cn string) ([]byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	tpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{cn, "localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}
