package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// TrainerConfig holds the command line settings of the demo trainer.
type TrainerConfig struct {
	ConfigPath string
	ServerURL  string
	Key        string
	Run        string
	GPUs       int
	Resume     bool
	RateLimit  float64
}

// TrainerSettings is the content of a trainer configuration document.
type TrainerSettings struct {
	Name    string       `yaml:"name"`
	NGPU    int          `yaml:"n_gpu"`
	Metrics []string     `yaml:"metrics"`
	Data    DataSettings `yaml:"data"`
	Trainer RunSettings  `yaml:"trainer"`
}

// DataSettings describes the synthetic data set.
type DataSettings struct {
	Size      int `yaml:"size"`
	BatchSize int `yaml:"batch_size"`
}

// RunSettings describes the training schedule and outputs.
type RunSettings struct {
	Epochs        int    `yaml:"epochs"`
	StepsPerEpoch int    `yaml:"steps_per_epoch"`
	SaveDir       string `yaml:"save_dir"`
	LogHost       bool   `yaml:"log_host"`
}

// DefaultTrainerSettings returns the settings used for keys missing from the document.
func DefaultTrainerSettings() TrainerSettings {
	return TrainerSettings{
		Name:    "demo",
		Metrics: []string{"loss", "accuracy"},
		Data:    DataSettings{Size: 256, BatchSize: 32},
		Trainer: RunSettings{Epochs: 3, StepsPerEpoch: 16, SaveDir: "saved"},
	}
}

// Validate reports settings the trainer cannot run with.
func (s TrainerSettings) Validate() error {
	if len(s.Metrics) == 0 {
		return fmt.Errorf("no metrics configured")
	}
	if s.Data.Size <= 0 || s.Data.BatchSize <= 0 {
		return fmt.Errorf("data size and batch size must be positive")
	}
	if s.Trainer.Epochs <= 0 || s.Trainer.StepsPerEpoch <= 0 {
		return fmt.Errorf("epochs and steps per epoch must be positive")
	}
	return nil
}

// LoadTrainerSettings reads the document at path over the defaults.
func LoadTrainerSettings(path string) (*Document, TrainerSettings, error) {
	settings := DefaultTrainerSettings()
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, settings, err
	}
	if err := doc.Decode(&settings); err != nil {
		return nil, settings, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, settings, fmt.Errorf("config %s: %w", path, err)
	}
	return doc, settings, nil
}

// NewTrainerConfig parses args and applies environment overrides on top of them.
func NewTrainerConfig(args []string) (*TrainerConfig, error) {
	config := &TrainerConfig{
		ConfigPath: "config.yaml",
		GPUs:       -1,
	}

	flags := pflag.NewFlagSet("trainer", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", config.ConfigPath, "path to a YAML or JSON training config")
	serverURL := flags.StringP("address", "a", config.ServerURL, "tracking server address, reporting disabled when empty")
	key := flags.StringP("key", "k", config.Key, "key for request hashing")
	run := flags.StringP("run", "r", config.Run, "run id, defaults to the config name")
	gpus := flags.IntP("gpus", "n", config.GPUs, "number of GPUs to use, -1 takes n_gpu from the config")
	resume := flags.Bool("resume", config.Resume, "continue from the metric state saved in the save dir")
	rateLimit := flags.Float64P("rate-limit", "l", config.RateLimit, "maximum requests per second to the server, 0 for no limit")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envVars := map[string]*string{
		"TRAINER_CONFIG": configPath,
		"ADDRESS":        serverURL,
		"KEY":            key,
		"RUN_ID":         run,
	}
	for envVar, flag := range envVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}
	if envGPUs := os.Getenv("N_GPU"); envGPUs != "" {
		n, err := strconv.Atoi(envGPUs)
		if err != nil {
			return nil, fmt.Errorf("N_GPU: %w", err)
		}
		*gpus = n
	}
	if envRateLimit := os.Getenv("RATE_LIMIT"); envRateLimit != "" {
		limit, err := strconv.ParseFloat(envRateLimit, 64)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT: %w", err)
		}
		*rateLimit = limit
	}

	config.ConfigPath = *configPath
	config.ServerURL = *serverURL
	config.Key = *key
	config.Run = *run
	config.GPUs = *gpus
	config.Resume = *resume
	config.RateLimit = *rateLimit

	return config, nil
}
