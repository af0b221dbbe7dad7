package risk

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk YAML shape of the known-address lists.
type ruleFile struct {
	Phishing []string `yaml:"phishing"`
	Scam     []string `yaml:"scam"`
	Safe     []string `yaml:"safe"`
}

// Rules holds curated known-address lists consulted by the fallback engine
// before hash banding. The file is watched and hot-reloaded on change, so a
// newly reported phishing address takes effect without a restart.
type Rules struct {
	path string
	mu   sync.RWMutex
	sets map[Category]map[string]bool
}

// NewRules loads the rule lists from a YAML file.
func NewRules(path string) (*Rules, error) {
	r := &Rules{path: path}
	sets, err := r.load()
	if err != nil {
		return nil, err
	}
	r.sets = sets
	return r, nil
}

// Lookup returns the listed category for a subject, if any.
func (r *Rules) Lookup(subject string) (Category, bool) {
	key := strings.ToLower(subject)

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Phishing and scam lists win over the safelist: a disputed address
	// should surface as risky.
	for _, cat := range []Category{CategoryPhishing, CategoryScam, CategoryNormal} {
		if r.sets[cat][key] {
			return cat, true
		}
	}
	return "", false
}

// Len returns the total number of listed addresses.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.sets {
		n += len(set)
	}
	return n
}

// Watch starts a background goroutine that hot-reloads the lists when the
// file changes. Call the returned stop function to clean up.
func (r *Rules) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", r.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					sets, err := r.load()
					if err != nil {
						// Keep serving the old lists on a bad write.
						continue
					}
					r.mu.Lock()
					r.sets = sets
					r.mu.Unlock()
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the rule file.
func (r *Rules) Reload() error {
	sets, err := r.load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()
	return nil
}

func (r *Rules) load() (map[Category]map[string]bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", r.path, err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", r.path, err)
	}

	sets := map[Category]map[string]bool{
		CategoryPhishing: toSet(f.Phishing),
		CategoryScam:     toSet(f.Scam),
		CategoryNormal:   toSet(f.Safe),
	}
	return sets, nil
}

func toSet(addrs []string) map[string]bool {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return set
}
