package scraper

import (
	"fmt"
	"sort"
)

// Registry maps platform names to scrapers.
type Registry struct {
	scrapers map[string]Scraper
}

func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper, len(scrapers))}
	for _, s := range scrapers {
		r.scrapers[s.PlatformName()] = s
	}
	return r
}

func (r *Registry) Get(platform string) (Scraper, error) {
	s, ok := r.scrapers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return s, nil
}

func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.scrapers))
	for p := range r.scrapers {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}
