package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/termgate/internal/audit"
	"github.com/gluk-w/termgate/internal/config"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/gateway"
	"github.com/gluk-w/termgate/internal/handlers"
	"github.com/gluk-w/termgate/internal/logging"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/sshterminal"
	"github.com/gluk-w/termgate/internal/termtoken"
	"github.com/robfig/cron/v3"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--add-vm":
			runCLICommand("add-vm")
			return
		case "--issue-token":
			runCLICommand("issue-token")
			return
		case "--session-token":
			runCLICommand("session-token")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if config.Cfg.SessionJWTSecret == "" {
		log.Printf("WARNING: TERMGATE_SESSION_JWT_SECRET is not set, token issuance is disabled")
	}

	// Terminal tokens
	tokenTTL := config.Duration("TOKEN_TTL", config.Cfg.TokenTTL, termtoken.DefaultTTL)
	tokens := termtoken.NewManager(newTokenStore(config.Cfg.TokenStore), tokenTTL)
	log.Printf("Terminal tokens initialized (store=%s, ttl=%s)", config.Cfg.TokenStore, tokenTTL)

	auditor := audit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)

	// Shell backend
	cred, err := sshterminal.NewCredential(config.Cfg.BackendCredential, config.Cfg.BackendSecret, config.Cfg.BackendFernetKey)
	if err != nil {
		log.Fatalf("Backend credential: %v", err)
	}
	dialer := sshterminal.NewDialer(sshterminal.DialerConfig{
		Addr:               config.Cfg.BackendAddr,
		Credential:         cred,
		HostKeyFingerprint: config.Cfg.BackendHostKeyFingerprint,
		ConnectTimeout:     config.Duration("BACKEND_CONNECT_TIMEOUT", config.Cfg.BackendConnectTimeout, gateway.DefaultConnectTimeout),
		KeepaliveInterval:  config.Duration("BACKEND_KEEPALIVE_INTERVAL", config.Cfg.BackendKeepaliveInterval, 30*time.Second),
		KeepaliveMax:       config.Cfg.BackendKeepaliveMax,
		Term:               config.Cfg.Term,
	})

	gw := gateway.New(tokens, gateway.NewSSHDialer(dialer), gateway.Options{
		AuthTimeout:       config.Duration("AUTH_TIMEOUT", config.Cfg.AuthTimeout, gateway.DefaultAuthTimeout),
		HeartbeatInterval: config.Duration("HEARTBEAT_INTERVAL", config.Cfg.HeartbeatInterval, gateway.DefaultHeartbeatInterval),
		WriteTimeout:      config.Duration("WRITE_TIMEOUT", config.Cfg.WriteTimeout, gateway.DefaultWriteTimeout),
		ConnectTimeout:    config.Duration("BACKEND_CONNECT_TIMEOUT", config.Cfg.BackendConnectTimeout, gateway.DefaultConnectTimeout),
		InputRate:         float64(config.Cfg.InputRate),
		InputBurst:        config.Cfg.InputBurst,
	})
	log.Printf("Terminal gateway initialized (backend=%s, credential=%s)", config.Cfg.BackendAddr, config.Cfg.BackendCredential)

	// Periodic jobs
	jobs := cron.New()
	if _, err := jobs.AddFunc(config.Cfg.TokenSweepSchedule, func() { sweepTokens(tokens) }); err != nil {
		log.Fatalf("Invalid token sweep schedule %q: %v", config.Cfg.TokenSweepSchedule, err)
	}
	if _, err := jobs.AddFunc("@daily", func() {
		if _, err := auditor.PurgeOlderThan(0); err != nil {
			log.Printf("[audit] purge failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Audit purge job: %v", err)
	}
	jobs.Start()

	h := &handlers.Handlers{
		DB:             database.DB,
		Tokens:         tokens,
		Gateway:        gw,
		AllowedOrigins: config.Cfg.AllowedOrigins,
		MaxMessageSize: config.Cfg.MaxMessageSize,
	}

	// Graceful shutdown
	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           h.Router(config.Cfg.SessionJWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		var err error
		if config.Cfg.TLSCertFile != "" && config.Cfg.TLSKeyFile != "" {
			log.Printf("Server starting on %s (TLS)", srv.Addr)
			err = srv.ListenAndServeTLS(config.Cfg.TLSCertFile, config.Cfg.TLSKeyFile)
		} else {
			log.Printf("Server starting on %s", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Printf("Gateway shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	<-jobs.Stop().Done()
	log.Println("Server stopped")
}

// sweepTokens is the body of the expiry sweep job. Sweep logs what it
// removed.
func sweepTokens(tokens *termtoken.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := tokens.Sweep(ctx); err != nil {
		log.Printf("[termtoken] sweep failed: %v", err)
	}
}

func newTokenStore(kind string) termtoken.Store {
	switch kind {
	case "memory":
		return termtoken.NewMemoryStore()
	case "sql", "":
		return termtoken.NewSQLStore(database.DB)
	default:
		log.Fatalf("Unknown token store %q (use memory or sql)", kind)
		return nil
	}
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	name := fs.String("name", "", "VM name (add-vm)")
	vmID := fs.Uint("vm", 0, "VM id (issue-token)")
	ttl := fs.Duration("ttl", time.Hour, "Credential lifetime (session-token)")
	fs.Parse(os.Args[2:])

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	switch command {
	case "add-vm":
		if *username == "" || *name == "" {
			fmt.Fprintf(os.Stderr, "Usage: termgate --add-vm --username <user> --name <vm name>\n")
			os.Exit(1)
		}
		user, err := database.EnsureUser(database.DB, *username)
		if err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		vm := &database.VM{UserID: user.ID, Name: *name}
		if err := database.CreateVM(database.DB, vm); err != nil {
			log.Fatalf("Failed to create VM: %v", err)
		}
		fmt.Printf("VM '%s' created with id %d for user '%s'.\n", vm.Name, vm.ID, user.Username)

	case "issue-token":
		if *vmID == 0 {
			fmt.Fprintf(os.Stderr, "Usage: termgate --issue-token --vm <id> [--username <user>]\n")
			os.Exit(1)
		}
		var vm database.VM
		if err := database.DB.First(&vm, *vmID).Error; err != nil {
			log.Fatalf("VM %d not found", *vmID)
		}
		owner := *username
		if owner == "" {
			var user database.User
			if err := database.DB.First(&user, vm.UserID).Error; err != nil {
				log.Fatalf("Owner of VM %d not found", vm.ID)
			}
			owner = user.Username
		}
		if config.Cfg.TokenStore == "memory" {
			log.Printf("WARNING: the server keeps tokens in memory, a token issued here will not be accepted")
		}

		ttl := config.Duration("TOKEN_TTL", config.Cfg.TokenTTL, termtoken.DefaultTTL)
		mgr := termtoken.NewManager(termtoken.NewSQLStore(database.DB), ttl)
		tok, err := mgr.Issue(context.Background(), vm.ID, owner)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Printf("%s\nexpires %s\n", tok.Value, tok.ExpiresAt.Format(time.RFC3339))

	case "session-token":
		if *username == "" || config.Cfg.SessionJWTSecret == "" {
			fmt.Fprintf(os.Stderr, "Usage: TERMGATE_SESSION_JWT_SECRET=... termgate --session-token --username <user> [--ttl 1h]\n")
			os.Exit(1)
		}
		user, err := database.GetUserByUsername(database.DB, *username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		signed, err := middleware.SignSession([]byte(config.Cfg.SessionJWTSecret), user, *ttl)
		if err != nil {
			log.Fatalf("Failed to sign session credential: %v", err)
		}
		fmt.Println(signed)
	}
}
