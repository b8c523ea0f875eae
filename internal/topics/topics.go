// Package topics maps free text (headlines, posts) onto topic clusters and
// the Polymarket tag slugs associated with each cluster.
package topics

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var topicsYAML []byte

// Topic is a keyword cluster. Triggers are lowercase literal substrings.
type Topic struct {
	ID       string   `yaml:"id" json:"id"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Tags     []string `yaml:"tags" json:"tags"`
	Region   string   `yaml:"region,omitempty" json:"region,omitempty"`
}

// Match is a topic hit for a piece of text.
type Match struct {
	TopicID string   `json:"topicId"`
	Tags    []string `json:"tags"`
	Trigger string   `json:"trigger"`
}

// Classifier runs text against an immutable topic table.
type Classifier struct {
	topics []Topic
	region map[string]string
}

// Load parses the embedded topic table.
func Load() (*Classifier, error) {
	return Parse(topicsYAML)
}

// MustLoad is Load for package-level initialization.
func MustLoad() *Classifier {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a classifier from a YAML document with a top-level "topics"
// list.
func Parse(data []byte) (*Classifier, error) {
	var doc struct {
		Topics []Topic `yaml:"topics"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse topics: %w", err)
	}
	return New(doc.Topics)
}

// New builds a classifier from an explicit topic list.
func New(list []Topic) (*Classifier, error) {
	c := &Classifier{
		topics: make([]Topic, 0, len(list)),
		region: make(map[string]string),
	}
	seen := make(map[string]bool, len(list))

	for _, t := range list {
		if t.ID == "" {
			return nil, fmt.Errorf("topic without id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate topic id %q", t.ID)
		}
		seen[t.ID] = true

		triggers := make([]string, 0, len(t.Triggers))
		for _, tr := range t.Triggers {
			// Surrounding spaces are significant (" ai ", "fed ").
			if tr = strings.ToLower(tr); strings.TrimSpace(tr) != "" {
				triggers = append(triggers, tr)
			}
		}
		tags := make([]string, 0, len(t.Tags))
		for _, tag := range t.Tags {
			tags = append(tags, strings.ToLower(tag))
		}

		c.topics = append(c.topics, Topic{ID: t.ID, Triggers: triggers, Tags: tags, Region: t.Region})
		if t.Region != "" {
			c.region[t.ID] = t.Region
		}
	}

	return c, nil
}

// Topics returns the topic table in definition order.
func (c *Classifier) Topics() []Topic {
	out := make([]Topic, len(c.topics))
	copy(out, c.topics)
	return out
}

// Classify returns every topic with at least one trigger contained in the
// lowercased text. Scanning a topic stops at its first hit.
func (c *Classifier) Classify(text string) []Match {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var matches []Match
	for _, t := range c.topics {
		for _, tr := range t.Triggers {
			if strings.Contains(lower, tr) {
				matches = append(matches, Match{TopicID: t.ID, Tags: t.Tags, Trigger: tr})
				break
			}
		}
	}
	return matches
}

// Region returns the map location id associated with a topic.
func (c *Classifier) Region(topicID string) (string, bool) {
	r, ok := c.region[topicID]
	return r, ok
}

// Regions returns the distinct map locations for a set of matches, in match
// order.
func (c *Classifier) Regions(matches []Match) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if r, ok := c.region[m.TopicID]; ok && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// TargetTags unions the tags of all matches, keeping first-seen order.
func TargetTags(matches []Match) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		for _, tag := range m.Tags {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out
}

// IDs returns the topic ids of a match list.
func IDs(matches []Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.TopicID
	}
	return ids
}
