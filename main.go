package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailva/attachsieve/config"
	"github.com/mailva/attachsieve/engine"
	"github.com/mailva/attachsieve/logger"
	"github.com/mailva/attachsieve/server/httpapi"
)

func main() {
	cfg := config.NewDefault()

	// --- Define Command-Line Flags ---
	// These flags will override values from the config file if set.
	configPath := flag.String("config", "attachsieve.toml", "Path to TOML configuration file")
	fLogOutput := flag.String("logoutput", "", "Log output destination: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
	fRules := flag.String("rules", "", "Path to the attachment rules file (overrides config)")
	fServe := flag.Bool("serve", false, "Start the HTTP scan API server (overrides config)")
	fAddr := flag.String("addr", "", "HTTP API listen address (overrides config)")
	flag.Parse()

	// The default config file is optional; an explicitly given one is not.
	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})
	if _, err := os.Stat(*configPath); err == nil || explicitConfig {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Apply flag overrides
	if *fLogOutput != "" {
		cfg.Logging.Output = *fLogOutput
	}
	if *fLogLevel != "" {
		cfg.Logging.Level = *fLogLevel
	}
	if *fRules != "" {
		cfg.Rules.File = *fRules
	}
	if *fServe {
		cfg.HTTPAPI.Start = true
	}
	if *fAddr != "" {
		cfg.HTTPAPI.Addr = *fAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	eng := engine.New()
	if err := eng.LoadRulesFile(cfg.Rules.File); err != nil {
		logger.Fatal("Failed to load attachment rules", "file", cfg.Rules.File, "error", err)
	}
	logger.Info("Attachment rules loaded", "file", cfg.Rules.File, "count", len(eng.Rules()))

	if cfg.HTTPAPI.Start {
		runServer(eng, cfg)
		return
	}
	runScan(eng, flag.Args())
}

// runServer runs the HTTP scan API until SIGINT/SIGTERM.
func runServer(eng *engine.Engine, cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go httpapi.Start(ctx, eng, httpapi.ServerOptions{
		Addr:         cfg.HTTPAPI.Addr,
		APIKey:       cfg.HTTPAPI.APIKey,
		AllowedHosts: cfg.HTTPAPI.AllowedHosts,
		TLS:          cfg.HTTPAPI.TLS,
		TLSCertFile:  cfg.HTTPAPI.TLSCertFile,
		TLSKeyFile:   cfg.HTTPAPI.TLSKeyFile,
		MaxBodySize:  cfg.HTTPAPI.MaxBodySize,
	}, errChan)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errChan:
		logger.Fatal("Server error", "error", err)
	}
}

// scanOutput is the JSON document printed per scanned message.
type scanOutput struct {
	File        string              `json:"file"`
	Matches     []string            `json:"matches"`
	Tags        map[string]string   `json:"tags"`
	MIMEError   bool                `json:"mime_error"`
	Attachments []map[string]string `json:"attachments"`
}

// runScan scans message files (or stdin when none are given) and prints one
// JSON result per message. The exit status is 1 when any rule matched, so
// the binary composes with shell pipelines the way grep does.
func runScan(eng *engine.Engine, files []string) {
	matched := false
	enc := json.NewEncoder(os.Stdout)

	scanOne := func(name string, f *os.File) {
		result, err := eng.ScanMessage(f)
		if err != nil {
			logger.Error("Failed to scan message", "file", name, "error", err)
			return
		}
		if len(result.Matches) > 0 {
			matched = true
		}
		out := scanOutput{
			File:      name,
			Matches:   result.Matches,
			Tags:      result.Tags(),
			MIMEError: result.HasMIMEError(),
		}
		if out.Matches == nil {
			out.Matches = []string{}
		}
		for _, rec := range result.Records {
			out.Attachments = append(out.Attachments, map[string]string{
				"name":           rec.Name,
				"ext":            rec.Ext,
				"type":           rec.Type,
				"effective_type": rec.EffectiveType,
				"disposition":    rec.Disposition,
				"encoding":       rec.Encoding,
				"charset":        rec.Charset,
			})
		}
		if err := enc.Encode(out); err != nil {
			logger.Error("Failed to encode scan result", "file", name, "error", err)
		}
	}

	if len(files) == 0 {
		scanOne("-", os.Stdin)
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("Failed to open message file", "file", path, "error", err)
			continue
		}
		scanOne(path, f)
		f.Close()
	}

	if matched {
		os.Exit(1)
	}
}
