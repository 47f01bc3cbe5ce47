package bm25index

import "bm25idx/posting"

// countLivePostings walks every block of cursor (the manual
// NextBlock/DecodeBlock/NextDoc family, since a vacuum scan has no
// threshold to prune with) and counts how many of its postings are not
// soft-deleted.
func countLivePostings(cursor *posting.Cursor, deleted func(uint32) bool) (uint32, error) {
	var live uint32
	for cursor.NextBlock() {
		if err := cursor.DecodeBlock(); err != nil {
			return 0, err
		}
		for {
			if !deleted(cursor.DocID()) {
				live++
			}
			if !cursor.NextDoc() {
				break
			}
		}
	}
	return live, cursor.Err()
}
