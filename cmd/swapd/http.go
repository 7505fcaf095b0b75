package main

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"

	"github.com/hashbridge/swapd/action"
	"github.com/hashbridge/swapd/cert"
	"github.com/hashbridge/swapd/swaplog"
)

// startHTTP brings up the TLS-protected action surface API plus the
// Prometheus metrics endpoint, generating a self-signed certificate on
// first run.
func (s *server) startHTTP() error {
	if err := s.ensureCert(); err != nil {
		return err
	}
	tlsCert, err := cert.LoadCert(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return err
	}

	surface := action.NewSurface(action.Config{
		Swaps:    s,
		BtcNet:   s.netParams,
		Bitcoin:  &htlcSigner{master: s.master, net: s.netParams},
		Ethereum: s.ethWallet,
		Log:      swaplog.Logger(swaplog.SubAction),
	})
	actionSrv := action.NewServer(action.ServerConfig{
		Surface:   surface,
		Creator:   s,
		Responder: s,
		Lister:    s,
		Log:       swaplog.Logger(swaplog.SubAction),
	})

	mux := http.NewServeMux()
	mux.Handle("/swaps", actionSrv)
	mux.Handle("/swaps/", actionSrv)
	mux.Handle("/metrics", s.metrics.handler())

	s.httpSrv = &http.Server{
		Addr:      s.cfg.HTTPAddr,
		Handler:   mux,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{tlsCert}},
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}

	s.eg.Go(func() error {
		err := s.httpSrv.ServeTLS(ln, "", "")
		if err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server: %v", err)
		}
		return nil
	})

	s.log.Infof("action API listening on https://%s", s.cfg.HTTPAddr)
	return nil
}

// ensureCert generates the self-signed TLS pair on first run, or
// regenerates it when expired.
func (s *server) ensureCert() error {
	regen := false
	if _, err := os.Stat(s.cfg.TLSCert); os.IsNotExist(err) {
		regen = true
	} else {
		outdated, err := cert.IsOutdated(s.cfg.TLSCert, nil, nil, nowFn())
		if err != nil || outdated {
			regen = true
		}
	}
	if !regen {
		return nil
	}

	return cert.GenCertPair(
		"swapd autogenerated cert", s.cfg.TLSCert, s.cfg.TLSKey,
		[]net.IP{net.ParseIP("127.0.0.1")}, []string{"localhost"},
	)
}
