package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// Secrets holds the Absorb LMS API credentials loaded from the secrets file
type Secrets struct {
	APIURL   string // Base URL for the Absorb LMS REST API
	APIKey   string // API key used for the x-api-key header and as privateKey during authentication
	Username string // API username
	Password string // API password
}

// Config represents the run configuration for a sync
type Config struct {
	// Field selection
	SourceField      string // Dotted path of the field to read from each user
	DestinationField string // Dotted path of the field to write on each user
	DisplayNameField string // Field used for log messages and the ledger display column

	// Behavior flags
	Overwrite             bool   // Update even if the destination already holds a different value
	AllowNonNumericSource bool   // Accept source values that are not all decimal digits
	FilterBlank           bool   // Server-side filter: only users with a null destination field
	DepartmentID          string // Server-side filter: only users in this department (optional)
	DryRun                bool   // Simulate without any remote or ledger mutation

	// Resources
	CSVFile         string // Path to the ledger CSV file
	UseExistingFile bool   // Skip the download phase and process an existing ledger

	// Parameters for processing
	Workers  int // Number of worker goroutines for row processing
	PageSize int // Number of users to request per page during download
}

// requiredSecretKeys are the keys that must be present in the secrets file
var requiredSecretKeys = []string{
	"ABSORB_API_URL",
	"ABSORB_API_KEY",
	"ABSORB_API_USERNAME",
	"ABSORB_API_PASSWORD",
}

// LoadSecrets loads API credentials from a key=value text file.
// Lines starting with '#' and blank lines are skipped.
func LoadSecrets(secretsFile string) (*Secrets, error) {
	f, err := os.Open(secretsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secrets file '%s' not found: copy 'secrets.txt.example' to '%s' and fill in your credentials", secretsFile, secretsFile)
		}
		return nil, fmt.Errorf("error reading secrets file: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading secrets file: %w", err)
	}

	// Validate required secrets
	var missing []string
	for _, key := range requiredSecretKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}

	return &Secrets{
		APIURL:   values["ABSORB_API_URL"],
		APIKey:   values["ABSORB_API_KEY"],
		Username: values["ABSORB_API_USERNAME"],
		Password: values["ABSORB_API_PASSWORD"],
	}, nil
}

// ApplyDefaults fills in default values for unset configuration parameters
func (c *Config) ApplyDefaults() {
	if c.SourceField == "" {
		c.SourceField = "externalId"
	}

	if c.DestinationField == "" {
		c.DestinationField = "customFields.decimal1"
	}

	if c.DisplayNameField == "" {
		c.DisplayNameField = "username"
	}

	if c.Workers <= 0 {
		c.Workers = 1 // Default to sequential processing
	}

	if c.PageSize <= 0 {
		c.PageSize = 500 // Default to 500 users per page
	}

	if c.CSVFile == "" {
		c.CSVFile = fmt.Sprintf("users_%s.csv", time.Now().Format("20060102_150405"))
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SourceField == "" {
		return fmt.Errorf("source field path is required")
	}

	if c.DestinationField == "" {
		return fmt.Errorf("destination field path is required")
	}

	if c.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Workers)
	}

	if c.PageSize < 1 {
		return fmt.Errorf("page size must be at least 1, got %d", c.PageSize)
	}

	if c.UseExistingFile && c.CSVFile == "" {
		return fmt.Errorf("a CSV file path is required when reusing an existing file")
	}

	return nil
}

// DefaultLogFile returns the default timestamped log file path
func DefaultLogFile() string {
	return fmt.Sprintf("logs/absorb_sync_%s.log", time.Now().Format("20060102_150405"))
}
