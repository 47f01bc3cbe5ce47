// Command bm25-stats prints the catalog-level counters of an index. The
// catalog already carries the doc_cnt, doc_term_cnt, and sealed-segment
// counts, so this verb exists to surface them rather than recompute them.
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
		fmt.Fprintln(os.Stderr, "usage: bm25-stats -index <path>")
		os.Exit(2)
	}

	log := zap.NewNop()

	vocab, err := loadVocab(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading vocabulary sidecar: %v\n", err)
		os.Exit(1)
	}

	cfg := bm25index.DefaultConfig()
	cfg.Tokenizer = *tokenizerName
	idx, err := bm25index.Open(*indexPath, cfg, vocab, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening index: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	s := idx.Stats()
	fmt.Printf("\n+============== Stats ===============\n\n")
	fmt.Printf("Index:           %s\n", *indexPath)
	fmt.Println()
	fmt.Printf("%-22s %d\n", "vocabulary size", s.VocabSize)
	fmt.Printf("%-22s %d\n", "live documents", s.DocCount)
	fmt.Printf("%-22s %d\n", "total doc length", s.DocTermCount)
	fmt.Printf("%-22s %d\n", "sealed segments", s.SealedSegmentCount)
	fmt.Printf("%-22s %t\n", "growing segment open", s.HasGrowingSegment)
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
