package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Watcher reloads the dynamic settings file whenever it changes on disk,
// so operators can tune editing limits without a restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *DynamicConfig
	onChange []func(*DynamicConfig)
}

// DynamicConfig holds the runtime-changeable settings
type DynamicConfig struct {
	Limits   DynamicLimits `yaml:"limits"`
	Metadata Metadata      `yaml:"metadata"`
}

// DynamicLimits are the editing tunables operators adjust most often
type DynamicLimits struct {
	// MoveMergeWindowMs is the node move merge window in milliseconds
	MoveMergeWindowMs   int `yaml:"moveMergeWindowMs"`
	MaxNodesPerWorkflow int `yaml:"maxNodesPerWorkflow"`
	MaxBulkSelection    int `yaml:"maxBulkSelection"`
	MaxUndoDepth        int `yaml:"maxUndoDepth"`
}

// Metadata describes the loaded file
type Metadata struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

// MergeWindow returns the merge window as a duration
func (l DynamicLimits) MergeWindow() time.Duration {
	return time.Duration(l.MoveMergeWindowMs) * time.Millisecond
}

// NewWatcher loads the file and begins tracking it. Call Start to receive
// reloads.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	current, err := loadDynamicConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load dynamic config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	// Watch the directory too: editors and config pushes often replace
	// the file by rename, which drops the file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Failed to watch config directory", zap.Error(err))
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: current,
	}, nil
}

// Start begins watching for changes
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("Dynamic config watcher started", zap.String("path", w.path))
}

// Stop stops watching
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.logger.Info("Dynamic config watcher stopped")
	})
}

// Current returns the active dynamic configuration
func (w *Watcher) Current() *DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Limits returns the active limits
func (w *Watcher) Limits() DynamicLimits {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Limits
}

// OnChange registers a callback invoked after each successful reload
func (w *Watcher) OnChange(handler func(*DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := loadDynamicConfig(w.path)
	if err != nil {
		w.logger.Error("Failed to reload dynamic config, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	handlers := make([]func(*DynamicConfig), len(w.onChange))
	copy(handlers, w.onChange)
	w.mu.Unlock()

	if prev.Limits.MoveMergeWindowMs != next.Limits.MoveMergeWindowMs {
		w.logger.Info("Move merge window changed",
			zap.Int("fromMs", prev.Limits.MoveMergeWindowMs),
			zap.Int("toMs", next.Limits.MoveMergeWindowMs),
		)
	}
	for _, handler := range handlers {
		go handler(next)
	}
	w.logger.Info("Dynamic config reloaded",
		zap.String("version", next.Metadata.Version),
	)
}

func loadDynamicConfig(path string) (*DynamicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DynamicConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := validateDynamicConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.Metadata.Version == "" {
		cfg.Metadata.Version = "1.0.0"
	}
	return &cfg, nil
}

func validateDynamicConfig(cfg *DynamicConfig) error {
	if cfg.Limits.MoveMergeWindowMs <= 0 || cfg.Limits.MoveMergeWindowMs > 10000 {
		return fmt.Errorf("moveMergeWindowMs must be between 1 and 10000")
	}
	if cfg.Limits.MaxNodesPerWorkflow <= 0 {
		return fmt.Errorf("maxNodesPerWorkflow must be positive")
	}
	if cfg.Limits.MaxBulkSelection <= 0 {
		return fmt.Errorf("maxBulkSelection must be positive")
	}
	if cfg.Limits.MaxUndoDepth < 0 {
		return fmt.Errorf("maxUndoDepth cannot be negative")
	}
	return nil
}
