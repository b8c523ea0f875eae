// Package relevance routes a headline or post to the prediction markets it
// is about. A language-model matcher is tried first; a tag-based ranking
// over the topic classifier serves as the fallback.
package relevance

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/topics"
)

// Kind tells which path produced a result.
type Kind string

const (
	// KindMatched: the language model picked the markets.
	KindMatched Kind = "matched"
	// KindFallback: the tag ranking picked the markets.
	KindFallback Kind = "fallback"
	// KindEmpty: nothing relevant was found.
	KindEmpty Kind = "empty"
)

// DefaultGenericTags are too broad to establish relevance on their own.
var DefaultGenericTags = []string{
	"geopolitics", "politics", "world", "foreign-policy", "us-government",
	"economic-policy", "elections", "world-elections", "global-elections",
}

// Matcher asks an external model which titles relate to a text. It returns
// indices into titles.
type Matcher interface {
	MatchMarkets(ctx context.Context, text string, titles []string) ([]int, error)
}

// Config holds the engine's tuning parameters.
type Config struct {
	// Tags up to this length must match exactly (whole tag, whole word).
	ShortTagLen  int
	GenericTags  []string
	DefaultLimit int
	// Candidate pool sent to the model.
	MatcherPoolSize  int
	MatcherMinVolume float64
	MaxTagCounts     int
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		ShortTagLen:      4,
		GenericTags:      DefaultGenericTags,
		DefaultLimit:     10,
		MatcherPoolSize:  500,
		MatcherMinVolume: 1000,
		MaxTagCounts:     12,
	}
}

// Options narrows a single query.
type Options struct {
	Limit int
	// FilterTag keeps only markets carrying this exact tag slug.
	FilterTag string
}

// TagCount is how many ranked markets carry a tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Result is the outcome of a relevance query.
type Result struct {
	Kind    Kind                    `json:"kind"`
	Markets []models.ProcessedEvent `json:"markets"`
	Topics  []topics.Match          `json:"topics"`
	AllTags []TagCount              `json:"allTags"`
}

// Engine ranks markets against free text.
type Engine struct {
	classifier *topics.Classifier
	normalizer *markets.Normalizer
	matcher    Matcher
	cfg        Config
	generic    map[string]bool
}

// NewEngine creates an engine. matcher may be nil, in which case only the
// tag ranking is used.
func NewEngine(classifier *topics.Classifier, normalizer *markets.Normalizer, matcher Matcher, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ShortTagLen <= 0 {
		cfg.ShortTagLen = def.ShortTagLen
	}
	if cfg.GenericTags == nil {
		cfg.GenericTags = def.GenericTags
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MatcherPoolSize <= 0 {
		cfg.MatcherPoolSize = def.MatcherPoolSize
	}
	if cfg.MaxTagCounts <= 0 {
		cfg.MaxTagCounts = def.MaxTagCounts
	}

	generic := make(map[string]bool, len(cfg.GenericTags))
	for _, t := range cfg.GenericTags {
		generic[strings.ToLower(t)] = true
	}

	return &Engine{
		classifier: classifier,
		normalizer: normalizer,
		matcher:    matcher,
		cfg:        cfg,
		generic:    generic,
	}
}

// Find asks the model first and falls back to Rank when the model is not
// configured, fails, or matches nothing.
func (e *Engine) Find(ctx context.Context, text string, events []polymarket.Event, opts Options) Result {
	if e.matcher != nil {
		if res, ok := e.findWithMatcher(ctx, text, events, opts); ok {
			return res
		}
	}
	return e.Rank(text, events, opts)
}

func (e *Engine) findWithMatcher(ctx context.Context, text string, events []polymarket.Event, opts Options) (Result, bool) {
	pool := e.matcherPool(events)
	if len(pool) == 0 {
		return Result{}, false
	}

	titles := make([]string, len(pool))
	for i, ev := range pool {
		titles[i] = ev.Title
		if titles[i] == "" && len(ev.Markets) > 0 {
			titles[i] = ev.Markets[0].Question
		}
	}

	indices, err := e.matcher.MatchMarkets(ctx, text, titles)
	if err != nil {
		log.Warn().Err(err).Msg("Market matcher failed, using tag ranking")
		return Result{}, false
	}

	limit := e.limit(opts)
	seen := make(map[int]bool, len(indices))
	var matched []polymarket.Event
	for _, i := range indices {
		if i < 0 || i >= len(pool) || seen[i] {
			continue
		}
		seen[i] = true
		if opts.FilterTag != "" && !hasExactTag(pool[i], opts.FilterTag) {
			continue
		}
		matched = append(matched, pool[i])
		if len(matched) == limit {
			break
		}
	}
	if len(matched) == 0 {
		log.Debug().Msg("Market matcher returned nothing, using tag ranking")
		return Result{}, false
	}

	found := e.classifier.Classify(text)
	log.Debug().Int("count", len(matched)).Msg("Markets matched by model")

	return Result{
		Kind:    KindMatched,
		Markets: e.normalizer.NormalizeAll(matched),
		Topics:  found,
		AllTags: e.tagCounts(matched, topics.TargetTags(found)),
	}, true
}

// matcherPool selects the liquid events sent to the model, highest volume
// first.
func (e *Engine) matcherPool(events []polymarket.Event) []polymarket.Event {
	pool := make([]polymarket.Event, 0, len(events))
	for _, ev := range events {
		if len(ev.Markets) > 0 && ev.Volume >= e.cfg.MatcherMinVolume {
			pool = append(pool, ev)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Volume > pool[j].Volume
	})
	if len(pool) > e.cfg.MatcherPoolSize {
		pool = pool[:e.cfg.MatcherPoolSize]
	}
	return pool
}

type scored struct {
	event    polymarket.Event
	specific int
	generic  int
}

// Rank is the tag-based ranking. A market qualifies only if it carries at
// least one topic-specific tag; generic tags and title text add to the
// score but never qualify a market alone.
func (e *Engine) Rank(text string, events []polymarket.Event, opts Options) Result {
	found := e.classifier.Classify(text)
	if len(found) == 0 {
		log.Debug().Msg("No topics detected")
		return Result{Kind: KindEmpty}
	}

	targets := topics.TargetTags(found)
	patterns := e.shortTagPatterns(targets)

	var ranked []scored
	for _, ev := range events {
		if len(ev.Markets) == 0 {
			continue
		}
		s := e.score(ev, targets, patterns)
		if s.qualifies {
			ranked = append(ranked, scored{event: ev, specific: s.specific, generic: s.generic})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].specific != ranked[j].specific {
			return ranked[i].specific > ranked[j].specific
		}
		return ranked[i].event.Volume > ranked[j].event.Volume
	})

	all := make([]polymarket.Event, len(ranked))
	for i, r := range ranked {
		all[i] = r.event
	}
	allTags := e.tagCounts(all, targets)

	limit := e.limit(opts)
	var picked []polymarket.Event
	for _, ev := range all {
		if opts.FilterTag != "" && !hasExactTag(ev, opts.FilterTag) {
			continue
		}
		picked = append(picked, ev)
		if len(picked) == limit {
			break
		}
	}

	log.Debug().
		Strs("topics", topics.IDs(found)).
		Int("qualified", len(all)).
		Int("returned", len(picked)).
		Msg("Ranked markets by tags")

	if len(picked) == 0 {
		return Result{Kind: KindEmpty, Topics: found, AllTags: allTags}
	}

	return Result{
		Kind:    KindFallback,
		Markets: e.normalizer.NormalizeAll(picked),
		Topics:  found,
		AllTags: allTags,
	}
}

type score struct {
	specific  int
	generic   int
	qualifies bool
}

func (e *Engine) score(ev polymarket.Event, targets []string, patterns map[string]*regexp.Regexp) score {
	tags := ev.TagSlugs()
	text := ev.Text()

	var s score
	for _, target := range targets {
		tagged := e.tagMatches(tags, target)

		var inText bool
		if re, short := patterns[target]; short {
			inText = re.MatchString(text)
		} else {
			inText = strings.Contains(text, target)
		}

		if !tagged && !inText {
			continue
		}
		if e.generic[target] {
			s.generic++
			continue
		}
		s.specific++
		if tagged {
			s.qualifies = true
		}
	}
	return s
}

// tagMatches compares a target tag with an event's tags. Short tags must be
// equal; longer ones may also contain or be contained by the event tag.
func (e *Engine) tagMatches(eventTags []string, target string) bool {
	short := len(target) <= e.cfg.ShortTagLen
	for _, t := range eventTags {
		if t == target {
			return true
		}
		if !short && t != "" && (strings.Contains(t, target) || strings.Contains(target, t)) {
			return true
		}
	}
	return false
}

func (e *Engine) shortTagPatterns(targets []string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, t := range targets {
		if len(t) <= e.cfg.ShortTagLen {
			patterns[t] = regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`)
		}
	}
	return patterns
}

// tagCounts tallies tags across events, tags related to the targets first,
// then by frequency.
func (e *Engine) tagCounts(events []polymarket.Event, targets []string) []TagCount {
	counts := make(map[string]int)
	var order []string
	for _, ev := range events {
		for _, t := range ev.TagSlugs() {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}

	related := func(tag string) bool {
		for _, target := range targets {
			if tag == target || strings.Contains(tag, target) || strings.Contains(target, tag) {
				return true
			}
		}
		return false
	}

	out := make([]TagCount, len(order))
	rel := make(map[string]bool, len(order))
	for i, t := range order {
		out[i] = TagCount{Tag: t, Count: counts[t]}
		rel[t] = related(t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rel[out[i].Tag], rel[out[j].Tag]
		if ri != rj {
			return ri
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > e.cfg.MaxTagCounts {
		out = out[:e.cfg.MaxTagCounts]
	}
	return out
}

func (e *Engine) limit(opts Options) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return e.cfg.DefaultLimit
}

func hasExactTag(ev polymarket.Event, tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range ev.TagSlugs() {
		if t == tag {
			return true
		}
	}
	return false
}
