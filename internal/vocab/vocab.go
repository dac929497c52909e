// Package vocab maps token ids to surface strings and pins down the special
// symbols shared by every decoding component.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Specials are the reserved symbol ids. EOS doubles as the start symbol,
// Blank only exists in CTC lattices.
type Specials struct {
	EOS   int `json:"eos"`
	UNK   int `json:"unk"`
	PAD   int `json:"pad"`
	Blank int `json:"blank"`
}

// Table is an id-indexed vocabulary.
type Table struct {
	Tokens   []string
	Specials Specials

	index map[string]int
}

// New builds a table from an ordered token list. The conventional layout
// puts <blank> at 0, <unk> at 1 and <eos> at the end, but any ids declared
// in sp are accepted as long as they are in range.
func New(tokens []string, sp Specials) (*Table, error) {
	n := len(tokens)
	for _, id := range []int{sp.EOS, sp.UNK, sp.PAD, sp.Blank} {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("vocab: special id %d outside table of %d tokens", id, n)
		}
	}
	idx := make(map[string]int, n)
	for i, tok := range tokens {
		idx[tok] = i
	}
	return &Table{Tokens: tokens, Specials: sp, index: idx}, nil
}

// Size returns the number of tokens.
func (t *Table) Size() int { return len(t.Tokens) }

// Token returns the surface string for an id; out-of-range ids map to the
// unknown token.
func (t *Table) Token(id int) string {
	if id < 0 || id >= len(t.Tokens) {
		return t.Tokens[t.Specials.UNK]
	}
	return t.Tokens[id]
}

// ID looks up a surface string, falling back to the unknown id.
func (t *Table) ID(tok string) int {
	if id, ok := t.index[tok]; ok {
		return id
	}
	return t.Specials.UNK
}

// Decode renders an id sequence as text, dropping special symbols and
// joining subword units on the word-boundary marker.
func (t *Table) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id == t.Specials.EOS || id == t.Specials.PAD || id == t.Specials.Blank {
			continue
		}
		b.WriteString(t.Token(id))
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), "▁", " "))
}

type jsonTable struct {
	Tokens   []string `json:"tokens"`
	Specials Specials `json:"specials"`
}

// LoadJSON reads a {"tokens": [...], "specials": {...}} file.
func LoadJSON(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload jsonTable
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse vocab json: %w", err)
	}
	return New(payload.Tokens, payload.Specials)
}

// LoadText reads a one-token-per-line file in the conventional layout:
// <blank> first, <unk> second, <eos> last, <pad> shared with <eos>.
func LoadText(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			tokens = append(tokens, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tokens) < 3 {
		return nil, fmt.Errorf("vocab: %d tokens, need at least <blank>, <unk>, <eos>", len(tokens))
	}
	eos := len(tokens) - 1
	return New(tokens, Specials{EOS: eos, UNK: 1, PAD: eos, Blank: 0})
}
