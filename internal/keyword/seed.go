package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"listing_filter/internal/domain"
)

// FlexibleKeywordSets is the raw content of a seed file: category keys
// mapped to keyword lists.
type FlexibleKeywordSets map[string]interface{}

// CategoryInfo stores parsed information from category names.
// Categories follow the pattern {type}_{priority}[_{scope}], e.g.
// "export_high", "mall_medium_amazon", "country_high_us", "patent_troll_low".
type CategoryInfo struct {
	Type     domain.KeywordType
	Priority domain.Priority
	Scope    string
}

// ParseCategoryName returns nil when name does not follow the pattern.
func ParseCategoryName(name string) *CategoryInfo {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	if len(parts) < 2 {
		return nil
	}

	// The type may itself contain underscores; the first priority token splits it from the scope.
	for i := 1; i < len(parts); i++ {
		priority, ok := parsePriorityToken(parts[i])
		if !ok {
			continue
		}
		t, ok := domain.ParseKeywordType(strings.Join(parts[:i], "_"))
		if !ok {
			return nil
		}
		info := &CategoryInfo{Type: t, Priority: priority}
		if i+1 < len(parts) {
			info.Scope = strings.Join(parts[i+1:], "_")
		}
		if info.Scope != "" && !t.RequiresScope() {
			return nil
		}
		if t == domain.TypeCountry {
			info.Scope = strings.ToUpper(info.Scope)
		}
		return info
	}
	return nil
}

func parsePriorityToken(s string) (domain.Priority, bool) {
	switch s {
	case "high":
		return domain.PriorityHigh, true
	case "medium":
		return domain.PriorityMedium, true
	case "low":
		return domain.PriorityLow, true
	}
	return "", false
}

// convertToStringSlice converts various JSON value types to string slice
func convertToStringSlice(value interface{}) []string {
	var result []string

	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
	case []string:
		result = v
	case map[string]interface{}:
		// dict values, in key order for stable imports
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if str, ok := v[k].(string); ok {
				result = append(result, str)
			}
		}
	case string:
		result = append(result, v)
	}

	return result
}

// ParseSeed turns seed-file JSON into keywords. Unknown category names are
// skipped and reported.
func ParseSeed(data []byte) ([]domain.Keyword, []string, error) {
	var raw FlexibleKeywordSets
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse keyword seed: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var keywords []domain.Keyword
	var skipped []string
	for _, name := range names {
		info := ParseCategoryName(name)
		if info == nil {
			skipped = append(skipped, name)
			continue
		}
		for _, text := range convertToStringSlice(raw[name]) {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			keywords = append(keywords, domain.Keyword{
				Text:     text,
				Type:     info.Type,
				Scope:    info.Scope,
				Priority: info.Priority,
				Active:   true,
			})
		}
	}
	return keywords, skipped, nil
}

// Upserter is the slice of the keyword store the importer needs.
type Upserter interface {
	UpsertKeywords(ctx context.Context, values []domain.Keyword) (int, error)
}

// Importer loads seed files into the keyword store.
type Importer struct {
	repo     Upserter
	onChange func()
	logger   *slog.Logger
}

// NewImporter wires an importer. onChange runs after every import that
// touched at least one keyword; it is typically a cache invalidation.
func NewImporter(repo Upserter, onChange func(), logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{repo: repo, onChange: onChange, logger: logger}
}

// ImportFile imports one seed file and returns the number of keywords upserted.
func (im *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to load keyword seed: %w", err)
	}
	keywords, skipped, err := ParseSeed(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, name := range skipped {
		im.logger.Warn("could not parse category name", "file", path, "category", name)
	}
	if len(keywords) == 0 {
		return 0, nil
	}

	n, err := im.repo.UpsertKeywords(ctx, keywords)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	if n > 0 && im.onChange != nil {
		im.onChange()
	}
	im.logger.Info("keyword seed imported", "file", path, "keywords", n)
	return n, nil
}

// ImportDir imports every *.json file of dir in name order.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		n, err := im.ImportFile(ctx, path)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Watcher re-imports seed files when they change on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	importer *Importer
	dir      string
	settle   time.Duration
	logger   *slog.Logger
}

// NewWatcher starts watching dir. Call Run to process events.
func NewWatcher(dir string, importer *Importer, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch keywords directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("file watcher initialized", "dir", dir)
	return &Watcher{
		watcher:  watcher,
		importer: importer,
		dir:      dir,
		settle:   100 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("file watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			// Only Write and Create events for .json files
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			// Small delay to ensure file write is complete
			time.Sleep(w.settle)

			w.logger.Info("file changed, reimporting", "file", event.Name)
			if _, err := w.importer.ImportFile(ctx, event.Name); err != nil {
				w.logger.Error("keyword seed reimport failed", "file", event.Name, "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}
