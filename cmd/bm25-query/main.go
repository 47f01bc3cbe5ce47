// Command bm25-query runs a single ranked query against an index, the
// access method's beginscan/rescan/gettuple/endscan callback sequence
// driven once from the command line, printing a RowID/Rank table of
// bm25index.Scan's block-max-WAND-backed ranking.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"bm25idx/bm25index"
)

func main() {
	indexPath := flag.String("index", "", "path to an existing index file")
	query := flag.String("query", "", "query text (falls back to the QUERY env var)")
	partition := flag.String("partition", "fixed", "block partition mode: fixed|variable")
	lambda := flag.Float64("lambda", 12, "variable partition lambda (ignored for fixed)")
	codec := flag.String("codec", "delta_bitpack", "block codec: delta_bitpack|elias_fano")
	limit := flag.Int("limit", 10, "bm25 top-k limit, -1 selects brute force")
	growingMaxPages := flag.Int("growing-max-pages", 64, "growing segment page budget before sealing")
	tokenizerName := flag.String("tokenizer", "whitespace", "registered tokenizer name")
	flag.Parse()

	if *indexPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bm25-query -index <path> -query \"some text\"")
		os.Exit(2)
	}
	q := *query
	if q == "" {
		q = os.Getenv("QUERY")
	}
	if q == "" {
		q = "great vector database"
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

	scan, err := idx.BeginScan(1)
	if err != nil {
		log.Fatal("begin scan", zap.Error(err))
	}
	defer scan.EndScan()

	if err := scan.Rescan(q); err != nil {
		log.Fatal("rescan", zap.Error(err))
	}

	fmt.Printf("Query: %s\n", q)
	printResults(scan)
}

func printResults(scan *bm25index.Scan) {
	fmt.Println(strings.Repeat("-", 22))
	fmt.Printf("| %-8s | %-8s |\n", "RowID", "Rank")
	fmt.Println(strings.Repeat("-", 22))
	rank := 0
	for {
		row, ok, err := scan.GetTuple()
		if err != nil {
			fmt.Printf("scan error: %v\n", err)
			break
		}
		if !ok {
			break
		}
		rank++
		fmt.Printf("| %-8d | %8d |\n", row, rank)
	}
	fmt.Println(strings.Repeat("-", 22))
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
