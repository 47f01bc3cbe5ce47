// Command bm25-vacuum runs the access method's vacuumcleanup callback
// against an index: it rescans every posting list once and rewrites each
// term's live document-frequency counter to match the current delete
// bitmap.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"bm25idx/bm25index"
)

func main() {
	indexPath := flag.String("index", "", "path to an existing index file")
	tokenizerName := flag.String("tokenizer", "whitespace", "registered tokenizer name")
	flag.Parse()

	if *indexPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bm25-vacuum -index <path>")
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	vocab, err := loadVocab(*indexPath)
	if err != nil {
		log.Fatal("loading vocabulary sidecar", zap.Error(err))
	}

	cfg := bm25index.DefaultConfig()
	cfg.Tokenizer = *tokenizerName
	idx, err := bm25index.Open(*indexPath, cfg, vocab, log)
	if err != nil {
		log.Fatal("opening index", zap.Error(err))
	}
	defer idx.Close()

	if err := idx.VacuumCleanup(); err != nil {
		log.Fatal("vacuum cleanup failed", zap.Error(err))
	}

	fmt.Printf("vacuum cleanup complete for %s\n", *indexPath)
}

func vocabPath(indexPath string) string { return indexPath + ".vocab.json" }

func loadVocab(indexPath string) ([]string, error) {
	raw, err := os.ReadFile(vocabPath(indexPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var terms []string
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, err
	}
	return terms, nil
}
