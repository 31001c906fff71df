package reconcile

import (
	"log"
	"regexp"
	"strings"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Namespace decides which remote tags a product's automation owns. Only
// owned tags are ever touched; everything else on the contact is invisible
// to reconciliation.
type Namespace struct {
	prefix string
	levels map[string]bool // qualified canonical tag names
	legacy []*regexp.Regexp
}

// NewNamespace builds the namespace for one product. Legacy patterns that
// fail to compile are logged and skipped rather than failing the product.
func NewNamespace(product domain.Product, cfg domain.ReengagementConfig) *Namespace {
	ns := &Namespace{
		prefix: product.Code + " - ",
		levels: make(map[string]bool, len(cfg.Levels)),
	}
	for _, lv := range cfg.Levels {
		ns.levels[ns.prefix+lv.TagName] = true
	}
	for _, pat := range product.LegacyTagPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			log.Printf("[Reconcile] %s: invalid legacy tag pattern %q: %v", product.Code, pat, err)
			continue
		}
		ns.legacy = append(ns.legacy, re)
	}
	return ns
}

// Qualify turns an unqualified level tag into the full remote tag name.
func (ns *Namespace) Qualify(tagName string) string {
	return ns.prefix + tagName
}

// Unqualify strips the product prefix; returns the input unchanged when the
// prefix is absent.
func (ns *Namespace) Unqualify(remote string) string {
	return strings.TrimPrefix(remote, ns.prefix)
}

// Owned reports whether a remote tag belongs to this product's automation:
// either a canonical level tag under the product prefix, or a match for one
// of the product's legacy patterns.
func (ns *Namespace) Owned(remote string) bool {
	if ns.levels[remote] {
		return true
	}
	for _, re := range ns.legacy {
		if re.MatchString(remote) {
			return true
		}
	}
	return false
}

// FilterOwned keeps only the tags this namespace owns, preserving order.
func (ns *Namespace) FilterOwned(remote []string) []string {
	var owned []string
	for _, tag := range remote {
		if ns.Owned(tag) {
			owned = append(owned, tag)
		}
	}
	return owned
}
