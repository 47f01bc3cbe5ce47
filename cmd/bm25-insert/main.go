// Command bm25-insert appends new documents to an already-built index,
// the access method's insert(datum, row_id) callback driven one fixture
// file at a time. It reopens the index's vocabulary sidecar first so
// term ids stay stable across the process boundary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"bm25idx/bm25index"
)

type fixtureDoc struct {
	RowID uint64 `json:"row_id"`
	Text  string `json:"text"`
}

func main() {
	indexPath := flag.String("index", "", "path to an existing index file")
	docsPath := flag.String("docs", "", "path to a JSON array of {row_id, text} documents to append")
	partition := flag.String("partition", "fixed", "block partition mode: fixed|variable")
	lambda := flag.Float64("lambda", 12, "variable partition lambda (ignored for fixed)")
	codec := flag.String("codec", "delta_bitpack", "block codec: delta_bitpack|elias_fano")
	limit := flag.Int("limit", 10, "bm25 top-k limit, -1 selects brute force")
	growingMaxPages := flag.Int("growing-max-pages", 64, "growing segment page budget before sealing")
	tokenizerName := flag.String("tokenizer", "whitespace", "registered tokenizer name")
	flag.Parse()

	if *indexPath == "" || *docsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bm25-insert -index <path> -docs <fixture.json>")
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

	vocab, err := loadVocab(*indexPath)
	if err != nil {
		log.Fatal("loading vocabulary sidecar", zap.Error(err))
	}

	cfg := bm25index.Config{
		Partition:          *partition,
		Lambda:             float32(*lambda),
		Codec:              *codec,
		BM25Limit:          *limit,
		GrowingMaxPageSize: *growingMaxPages,
		Tokenizer:          *tokenizerName,
	}
	idx, err := bm25index.Open(*indexPath, cfg, vocab, log)
	if err != nil {
		log.Fatal("opening index", zap.Error(err))
	}
	defer idx.Close()

	for _, d := range fixture {
		if err := idx.Insert(d.Text, bm25index.RowLocator(d.RowID)); err != nil {
			log.Fatal("insert failed", zap.Uint64("row_id", d.RowID), zap.Error(err))
		}
	}

	if err := saveVocab(*indexPath, idx.VocabSnapshot()); err != nil {
		log.Fatal("saving vocabulary", zap.Error(err))
	}

	fmt.Printf("inserted %d documents into %s\n", len(fixture), *indexPath)
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

func saveVocab(indexPath string, terms []string) error {
	data, err := json.Marshal(terms)
	if err != nil {
		return err
	}
	return os.WriteFile(vocabPath(indexPath), data, 0o644)
}
