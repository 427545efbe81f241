package webserver

import (
	"crypto/tls"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TLSReloader serves a certificate pair and picks up renewed files.
type TLSReloader struct {
	certFile    string
	keyFile     string
	cert        *tls.Certificate
	mu          sync.RWMutex
	lastModCert time.Time
	lastModKey  time.Time
	log         *zap.Logger
	stop        chan struct{}
	once        sync.Once
}

func NewTLSReloader(certFile, keyFile string, log *zap.Logger, every time.Duration) (*TLSReloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if every <= 0 {
		every = 5 * time.Minute
	}
	reloader := &TLSReloader{
		certFile: certFile,
		keyFile:  keyFile,
		log:      log,
		stop:     make(chan struct{}),
	}

	if err := reloader.reload(); err != nil {
		return nil, err
	}

	go reloader.watchFiles(every)

	return reloader, nil
}

func (r *TLSReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cert = &cert
	if info, _ := os.Stat(r.certFile); info != nil {
		r.lastModCert = info.ModTime()
	}
	if info, _ := os.Stat(r.keyFile); info != nil {
		r.lastModKey = info.ModTime()
	}

	r.log.Info("TLS certificates reloaded", zap.String("cert", r.certFile))
	return nil
}

func (r *TLSReloader) changed() (bool, error) {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false, err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.lastModCert) || keyInfo.ModTime().After(r.lastModKey), nil
}

func (r *TLSReloader) watchFiles(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		changed, err := r.changed()
		if err != nil {
			r.log.Warn("failed to stat certificate files", zap.Error(err))
			continue
		}
		if changed {
			if err := r.reload(); err != nil {
				r.log.Error("failed to reload certificates", zap.Error(err))
			}
		}
	}
}

func (r *TLSReloader) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *TLSReloader) GetCertificate() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.cert, nil
	}
}

func (r *TLSReloader) GetConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate(),
		MinVersion:     tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
}
