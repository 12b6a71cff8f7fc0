// Package fallback is the static content catalog backing every failure
// path. Pick never fails and touches no network, budget, or store state:
// it is the system's unconditional availability guarantee.
package fallback

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// lastResort is returned only when a category and the general bucket are
// both empty, which is a configuration defect, not a runtime condition.
const lastResort = "This material is temporarily unavailable. Please try another activity and check back soon."

type Bank struct {
	mu      sync.Mutex
	catalog map[string][]string
	rng     *rand.Rand
}

// NewBank creates a bank seeded with the built-in catalog.
func NewBank() *Bank {
	return &Bank{
		catalog: builtinCatalog(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadFile overlays categories from a YAML file of the form
// `category: [entry, entry, ...]`. File entries replace built-in ones for
// the same category.
func (b *Bank) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fallback catalog: %w", err)
	}

	var overlay map[string][]string
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse fallback catalog: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for category, entries := range overlay {
		if len(entries) > 0 {
			b.catalog[category] = entries
		}
	}
	return nil
}

// Pick returns one entry for the category, chosen uniformly at random.
// Unknown categories fall through to the general bucket.
func (b *Bank) Pick(category string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.catalog[category]
	if len(entries) == 0 {
		entries = b.catalog["general"]
	}
	if len(entries) == 0 {
		return lastResort
	}
	return entries[b.rng.Intn(len(entries))]
}

// Categories returns the catalog's category names.
func (b *Bank) Categories() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.catalog))
	for name := range b.catalog {
		names = append(names, name)
	}
	return names
}

func builtinCatalog() map[string][]string {
	return map[string][]string{
		"math": {
			"Count the chairs in your room, then count them again by twos. Which way was faster, and why?",
			"Find three objects of different lengths. Put them in order from shortest to longest and measure each with your hand span.",
			"Split a snack into equal shares for everyone at the table. How did you decide whether the shares were fair?",
		},
		"science": {
			"Fill a glass with water and place objects in it one at a time. Predict first: will it sink or float? Keep a tally of your predictions.",
			"Put one ice cube on a plate and one in your hand. Time how long each takes to melt and explain the difference.",
			"Look out a window for five minutes and record every living thing you see. Group them by how they move.",
		},
		"reading": {
			"Pick a page from any book and find every word with more than two syllables. Clap out the syllables as you read them aloud.",
			"Retell the last story you read to someone at home, but swap the ending for one you invent.",
		},
		"text": {
			"Choose an everyday object near you and write three sentences explaining how it works to someone who has never seen one.",
		},
		"general": {
			"Teach something you learned this week to a family member, using an object from your home as a prop.",
			"Draw a picture of today's topic and label three parts of it from memory.",
		},
		"image": {
			"/static/fallback/placeholder-illustration-1.png",
			"/static/fallback/placeholder-illustration-2.png",
		},
	}
}
