package main

import (
	"fmt"
	"strings"

	"github.com/asrkit/spellout/internal/logger"
	"github.com/asrkit/spellout/internal/recognizer"
	"github.com/asrkit/spellout/internal/vocab"
)

// loadVocab resolves the vocabulary: a JSON or plain-text file when given,
// otherwise a built-in demo character set.
func loadVocab(path string) (*vocab.Table, error) {
	if path == "" {
		return builtinVocab()
	}
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return vocab.LoadJSON(path)
	}
	return vocab.LoadText(path)
}

// builtinVocab is a lowercase character vocabulary for demos and smoke
// tests. Real systems load a subword table instead.
func builtinVocab() (*vocab.Table, error) {
	tokens := []string{"<blank>", "<unk>"}
	for c := 'a'; c <= 'z'; c++ {
		tokens = append(tokens, "▁"+string(c))
	}
	tokens = append(tokens, "<eos>")
	eos := len(tokens) - 1
	return vocab.New(tokens, vocab.Specials{EOS: eos, UNK: 1, PAD: eos, Blank: 0})
}

// buildRecognizer constructs the recognizer from the shared model flags.
func buildRecognizer(log logger.Logger) (*recognizer.Recognizer, error) {
	tbl, err := loadVocab(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	rec, err := recognizer.New(recognizer.Config{
		FeatDim:   int(featDim),
		Subsample: int(subsample),
		EncUnits:  int(encUnits),
		Units:     int(units),
		Cell:      cellType,
		Attention: attnType,
		Seed:      seed,
	}, tbl, log)
	if err != nil {
		return nil, err
	}
	if weightsPath != "" {
		if err := rec.LoadWeights(weightsPath); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
