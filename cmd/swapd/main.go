// swapd is the atomic swap daemon: it speaks the wire protocol with a
// counterparty node, watches both ledgers, drives each swap's state
// machine, and exposes the action-surface HTTP API the operator (or
// swapcli) uses to accept, fund, redeem and refund swaps.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"

	"github.com/hashbridge/swapd/config"
	"github.com/hashbridge/swapd/swaplog"
)

// nowFn is indirected for the certificate-expiry check.
var nowFn = time.Now

func main() {
	if err := swapdMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		os.Exit(1)
	}
}

// swapdMain is the true entry point. It exists so deferred cleanup runs
// even though main itself calls os.Exit.
func swapdMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	level, _ := btclog.LevelFromString(cfg.LogLevel)
	if err := swaplog.Setup(cfg.LogDir, level); err != nil {
		return err
	}
	defer swaplog.Close()

	log := swaplog.Logger(swaplog.SubDaemon)
	log.Infof("swapd starting, data dir %s", cfg.DataDir)

	srv, err := newServer(cfg)
	if err != nil {
		return err
	}
	if err := srv.start(); err != nil {
		srv.stop()
		return err
	}

	log.Infof("swapd ready: wire %s, http %s", cfg.ListenAddr, cfg.HTTPAddr)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	sig := <-sigC
	log.Infof("received %v, shutting down", sig)

	srv.stop()
	return nil
}
