// Command bm25-build bulk-builds a fresh index from a JSON fixture of
// documents, the access method's build(heap) callback driven from the
// command line instead of a host relation scan. Every document goes
// through bm25index.Build so postings, side segments, and the catalog
// all come out through the real write path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"bm25idx/bm25index"
)

// fixtureDoc is one entry in the input JSON array.
type fixtureDoc struct {
	RowID uint64 `json:"row_id"`
	Text  string `json:"text"`
}

func main() {
	indexPath := flag.String("index", "", "path to the index file to create")
	docsPath := flag.String("docs", "", "path to a JSON array of {row_id, text} documents")
	partition := flag.String("partition", "fixed", "block partition mode: fixed|variable")
	lambda := flag.Float64("lambda", 12, "variable partition lambda (ignored for fixed)")
	codec := flag.String("codec", "delta_bitpack", "block codec: delta_bitpack|elias_fano")
	limit := flag.Int("limit", 10, "bm25 top-k limit, -1 selects brute force")
	growingMaxPages := flag.Int("growing-max-pages", 64, "growing segment page budget before sealing")
	tokenizerName := flag.String("tokenizer", "whitespace", "registered tokenizer name")
	flag.Parse()

	if *indexPath == "" || *docsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bm25-build -index <path> -docs <fixture.json>")
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	raw, err := os.ReadFile(*docsPath)
	if err != nil {
		log.Fatal("reading fixture", zap.Error(err))
	}
	var fixture []fixtureDoc
	if err := json.Unmarshal(raw, &fixture); err != nil {
		log.Fatal("parsing fixture", zap.Error(err))
	}

	cfg := bm25index.Config{
		Partition:          *partition,
		Lambda:             float32(*lambda),
		Codec:              *codec,
		BM25Limit:          *limit,
		GrowingMaxPageSize: *growingMaxPages,
		Tokenizer:          *tokenizerName,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	docs := make([]bm25index.HeapDoc, len(fixture))
	for i, d := range fixture {
		docs[i] = bm25index.HeapDoc{RowLocator: bm25index.RowLocator(d.RowID), Text: d.Text}
	}

	idx, err := bm25index.Build(*indexPath, cfg, docs, log)
	if err != nil {
		log.Fatal("build failed", zap.Error(err))
	}
	defer idx.Close()

	if err := saveVocab(*indexPath, idx.VocabSnapshot()); err != nil {
		log.Fatal("saving vocabulary", zap.Error(err))
	}

	fmt.Printf("built %s from %d documents\n", *indexPath, len(docs))
}

func saveVocab(indexPath string, terms []string) error {
	data, err := json.Marshal(terms)
	if err != nil {
		return err
	}
	return os.WriteFile(vocabPath(indexPath), data, 0o644)
}

func vocabPath(indexPath string) string { return indexPath + ".vocab.json" }
