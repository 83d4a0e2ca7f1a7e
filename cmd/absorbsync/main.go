package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clc2salesforce/AbsorbSync/pkg/api"
	"github.com/clc2salesforce/AbsorbSync/pkg/config"
	"github.com/clc2salesforce/AbsorbSync/pkg/logger"
	"github.com/clc2salesforce/AbsorbSync/pkg/sync"
)

// options holds all command-line flags
type options struct {
	secretsFile string
	logFile     string
	logLevel    string
	debug       bool

	dryRun    bool
	update    bool
	overwrite bool

	blank           bool
	allowNonNumeric bool
	department      string

	csvFile      string
	existingFile string

	workers  int
	pageSize int

	sourceField  string
	destField    string
	displayField string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "absorbsync",
		Short: "Sync a field between Absorb LMS user record fields",
		Long: "Downloads a source field from Absorb LMS user accounts and uploads it\n" +
			"back to a destination field of the same users, resumably and safely.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.secretsFile, "secrets", "secrets.txt", "path to secrets file")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "path to log file (default logs/absorb_sync_<timestamp>.log)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug mode (logs request/response detail)")

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "simulate the sync without making changes")
	cmd.Flags().BoolVar(&opts.update, "update", false, "actually perform updates (default is dry-run)")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "update even if the destination field already has a value")

	cmd.Flags().BoolVar(&opts.blank, "blank", false, "only fetch users with a null destination field")
	cmd.Flags().BoolVar(&opts.allowNonNumeric, "allow-non-numeric", false, "accept source values that are not all digits")
	cmd.Flags().StringVar(&opts.department, "department", "", "only fetch users in this department ID")

	cmd.Flags().StringVar(&opts.csvFile, "csv-file", "", "path for the ledger CSV file (default users_<timestamp>.csv)")
	cmd.Flags().StringVar(&opts.existingFile, "file", "", "existing ledger CSV file to process (skips download)")

	cmd.Flags().IntVar(&opts.workers, "workers", 1, "number of concurrent update workers")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 500, "number of users to request per page")

	cmd.Flags().StringVar(&opts.sourceField, "source-field", "", "dotted path of the field to read (default externalId)")
	cmd.Flags().StringVar(&opts.destField, "dest-field", "", "dotted path of the field to write (default customFields.decimal1)")
	cmd.Flags().StringVar(&opts.displayField, "display-field", "", "field used in log messages (default username)")

	return cmd
}

func run(opts *options) error {
	// Updates are opt-in: without --update the run is a simulation, and
	// an explicit --dry-run wins even when --update is also given
	dryRun := !opts.update || opts.dryRun

	logFile := opts.logFile
	if logFile == "" {
		logFile = config.DefaultLogFile()
	}

	log, err := logger.NewWithFile(logFile)
	if err != nil {
		logger.New().Errorf("Failed to set up logging: %v", err)
		return err
	}
	defer log.Close()

	if opts.debug {
		log.SetLevel("debug")
		log.Warn("DEBUG MODE ENABLED - Sensitive data will be logged")
	} else {
		log.SetLevel(opts.logLevel)
	}

	log.Info("Absorb LMS Field Sync")

	cfg := &config.Config{
		SourceField:           opts.sourceField,
		DestinationField:      opts.destField,
		DisplayNameField:      opts.displayField,
		Overwrite:             opts.overwrite,
		AllowNonNumericSource: opts.allowNonNumeric,
		FilterBlank:           opts.blank,
		DepartmentID:          opts.department,
		DryRun:                dryRun,
		CSVFile:               opts.csvFile,
		Workers:               opts.workers,
		PageSize:              opts.pageSize,
	}

	// --file reuses an existing ledger and skips the download phase
	if opts.existingFile != "" {
		cfg.CSVFile = opts.existingFile
		cfg.UseExistingFile = true
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Errorf("Invalid configuration: %v", err)
		return err
	}

	log.Infof("Loading secrets from %s...", opts.secretsFile)
	secrets, err := config.LoadSecrets(opts.secretsFile)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info("Received interrupt signal. Shutting down...")
		cancel()
		// Give some time for graceful shutdown
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()

	log.Info("Initializing Absorb LMS client...")
	client := api.NewClient(secrets.APIURL, secrets.APIKey, secrets.Username, secrets.Password, log)

	if err := client.Authenticate(ctx); err != nil {
		log.Errorf("Authentication failed: %v", err)
		return err
	}

	syncer := sync.New(cfg, client, log)

	startTime := time.Now()
	counts, err := syncer.Run(ctx)
	if err != nil {
		if errors.Is(err, sync.ErrCancelled) {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			log.Info("Process stopped due to user interrupt (Ctrl+C)")
			return nil
		}
		log.Errorf("Error during sync process: %v", err)
		return err
	}

	log.Infof("Sync completed in %.2f seconds", time.Since(startTime).Seconds())

	if counts.Errors > 0 {
		log.Warnf("Completed with %d errors", counts.Errors)
		os.Exit(1)
	}

	log.Info("Completed successfully")
	return nil
}
