// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// AllowList restricts retrieval to a curated set of domains.
//
// # Description
//
// The list lives in a YAML file (`domains:` sequence) and is reloaded
// whenever the file changes, so operators can tighten or widen the set
// without a restart. A hit is allowed when its host equals a listed domain
// or is a subdomain of one. An empty list allows nothing.
//
// # Thread Safety
//
// All methods are safe for concurrent use; reloads swap the slice under a
// write lock.
type AllowList struct {
	path string

	mu      sync.RWMutex
	domains []string
}

type allowListFile struct {
	Domains []string `yaml:"domains"`
}

// LoadAllowList reads the list once. Call Watch afterwards for hot reload.
func LoadAllowList(path string) (*AllowList, error) {
	al := &AllowList{path: path}
	if err := al.reload(); err != nil {
		return nil, err
	}
	return al, nil
}

func (a *AllowList) reload() error {
	raw, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("failed to read the allow list: %w", err)
	}

	var parsed allowListFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to parse the allow list: %w", err)
	}

	domains := make([]string, 0, len(parsed.Domains))
	for _, d := range parsed.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}

	a.mu.Lock()
	a.domains = domains
	a.mu.Unlock()
	slog.Info("allow list loaded", "path", a.path, "domains", len(domains))
	return nil
}

// Watch reloads the list on file changes until stop is closed. A reload
// that fails keeps the previous list; editors that replace the file are
// handled by re-adding the watch on remove/rename.
func (a *AllowList) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create the allow list watcher: %w", err)
	}
	if err := watcher.Add(a.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch the allow list: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := a.reload(); err != nil {
						slog.Error("allow list reload failed, keeping previous list", "error", err)
					}
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := watcher.Add(a.path); err == nil {
						if err := a.reload(); err != nil {
							slog.Error("allow list reload failed, keeping previous list", "error", err)
						}
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("allow list watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Domains returns a copy of the current list.
func (a *AllowList) Domains() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.domains))
	copy(out, a.domains)
	return out
}

// IsAllowed reports whether the URL's host is on the list. Unparseable
// URLs and hostless URLs are rejected.
func (a *AllowList) IsAllowed(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// BuildQuery scopes a search query to the listed domains using site:
// operators. With an empty list the query passes through unchanged.
func (a *AllowList) BuildQuery(query string) string {
	domains := a.Domains()
	if len(domains) == 0 {
		return query
	}
	sites := make([]string, len(domains))
	for i, d := range domains {
		sites[i] = "site:" + d
	}
	return query + " " + strings.Join(sites, " OR ")
}
