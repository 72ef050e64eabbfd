// Command passman is a long-lived credential proxy: it holds an encrypted
// vault of credentials and exposes tool calls an external agent drives over
// a line-delimited JSON stream on standard input/output.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"passman/internal/audit"
	"passman/internal/config"
	"passman/internal/dispatch"
	"passman/internal/vault"
)

const version = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "print passman's version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("passman " + version)
		return
	}

	logger := log.New(os.Stderr, "passman ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("config load failed, using defaults: %v", err)
		cfg = config.Default()
	}

	vaultPath, err := cfg.ResolvedVaultPath()
	if err != nil {
		logger.Fatalf("resolve vault path: %v", err)
	}
	store, err := vault.Open(vaultPath)
	if err != nil {
		logger.Fatalf("open vault directory: %v", err)
	}
	defer store.Close()
	store.OnReloadError(func(err error) {
		logger.Printf("vault reload failed, vault locked: %v", err)
	})

	auditPath, err := cfg.ResolvedAuditPath()
	if err != nil {
		logger.Fatalf("resolve audit path: %v", err)
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		logger.Fatalf("open audit file: %v", err)
	}

	currentConfig := func() config.Config {
		reloaded, err := config.Load()
		if err != nil {
			return cfg
		}
		return reloaded
	}
	d := dispatch.New(store, auditLog, currentConfig)

	impl := &mcp.Implementation{
		Name:    "passman",
		Title:   "Passman Credential Proxy",
		Version: version,
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})
	d.Register(server)

	logger.Printf("passman %s listening on stdio", version)
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}
