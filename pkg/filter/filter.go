// Package filter decides which raw filesystem events reach a watch's client.
//
// A Filter is immutable after construction and Accept is a pure function of
// its arguments, so the same event always gets the same decision.
package filter

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

type Filter struct {
	eventType model.EventType
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

func New(eventType model.EventType, whitelist, blacklist []string) Filter {
	return Filter{
		eventType: eventType,
		whitelist: extensionSet(whitelist),
		blacklist: extensionSet(blacklist),
	}
}

func extensionSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, ext := range list {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext == "" {
			continue
		}
		set[ext] = struct{}{}
	}
	return set
}

// Extension returns the final extension of path without its leading dot.
func Extension(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

// Accept reports whether an event of the given kind on path passes the filter.
// A blacklisted extension is rejected even when it is also whitelisted.
func (f Filter) Accept(path string, kind model.EventType) bool {
	if !f.eventType.Has(kind) {
		return false
	}

	ext := Extension(path)
	if _, black := f.blacklist[ext]; black {
		return false
	}
	if len(f.whitelist) == 0 {
		return true
	}
	_, white := f.whitelist[ext]
	return white
}

func (f Filter) EventType() model.EventType { return f.eventType }

func (f Filter) Whitelist() []string { return sortedKeys(f.whitelist) }

func (f Filter) Blacklist() []string { return sortedKeys(f.blacklist) }

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
