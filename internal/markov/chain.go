// Package markov wraps a gomarkov word chain with the rules the bot talks by,
// and the talker that trains it from channel history and speaks with it.
package markov

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/mb-14/gomarkov"
)

const (
	// StateSize is the number of preceding words a transition depends on.
	StateSize = 2

	maxWords = 60
)

// ErrNoSentence is returned when a walk produced nothing usable.
var ErrNoSentence = errors.New("no sentence")

// Chain is a gomarkov chain plus hashes of the training lines, so a
// generated sentence that merely repeats one can be rejected.
type Chain struct {
	chain   *gomarkov.Chain
	sources map[uint64]struct{}
	Lines   int
}

type chainFile struct {
	Chain   json.RawMessage `json:"chain"`
	Sources []uint64        `json:"sources"`
	Lines   int             `json:"lines"`
}

func NewChain() *Chain {
	return &Chain{
		chain:   gomarkov.NewChain(StateSize),
		sources: make(map[uint64]struct{}),
	}
}

func lineHash(words []string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(words, " ")))
	return h.Sum64()
}

// Train adds every non-empty line of corpus to the chain.
func (c *Chain) Train(corpus string) {
	for _, line := range strings.Split(corpus, "\n") {
		c.AddLine(line)
	}
}

// AddLine adds a single sentence to the chain.
func (c *Chain) AddLine(line string) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return
	}
	c.Lines++
	c.sources[lineHash(words)] = struct{}{}
	c.chain.Add(words)
}

// Empty reports whether the chain has seen any text.
func (c *Chain) Empty() bool {
	return c == nil || c.Lines == 0
}

// Sentence walks the chain from the start tokens. Sentences that repeat a
// training line verbatim or run past maxWords are rejected with
// ErrNoSentence.
func (c *Chain) Sentence() (string, error) {
	if c.Empty() {
		return "", ErrNoSentence
	}

	order := c.chain.Order
	tokens := make([]string, 0, order+maxWords)
	for i := 0; i < order; i++ {
		tokens = append(tokens, gomarkov.StartToken)
	}
	for {
		next, err := c.chain.Generate(tokens[len(tokens)-order:])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoSentence, err)
		}
		if next == gomarkov.EndToken {
			break
		}
		tokens = append(tokens, next)
		if len(tokens)-order > maxWords {
			return "", ErrNoSentence
		}
	}

	words := tokens[order:]
	if len(words) == 0 {
		return "", ErrNoSentence
	}
	if _, seen := c.sources[lineHash(words)]; seen {
		return "", ErrNoSentence
	}
	return strings.Join(words, " "), nil
}

// Save writes the chain as JSON to path, replacing the file atomically.
func (c *Chain) Save(path string) error {
	raw, err := json.Marshal(c.chain)
	if err != nil {
		return fmt.Errorf("marshal markov chain: %w", err)
	}
	doc := chainFile{Chain: raw, Lines: c.Lines}
	for h := range c.sources {
		doc.Sources = append(doc.Sources, h)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal markov model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write markov model: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a chain saved by Save. A missing file returns (nil, nil).
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read markov model: %w", err)
	}

	var doc chainFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode markov model: %w", err)
	}
	var gc gomarkov.Chain
	if err := json.Unmarshal(doc.Chain, &gc); err != nil {
		return nil, fmt.Errorf("decode markov chain: %w", err)
	}
	if gc.Order != StateSize {
		return nil, fmt.Errorf("markov model has state size %d, want %d", gc.Order, StateSize)
	}

	c := &Chain{chain: &gc, sources: make(map[uint64]struct{}, len(doc.Sources)), Lines: doc.Lines}
	for _, h := range doc.Sources {
		c.sources[h] = struct{}{}
	}
	return c, nil
}
