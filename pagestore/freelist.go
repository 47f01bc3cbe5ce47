package pagestore

// FreeList implements page reuse: freed pages are chained together through
// their own opaque next_blkno field, with the chain head stored by the
// caller (the meta page owns the head, so free-list operations serialize
// under its exclusive lock). This package only implements the mechanics;
// it never decides when a page becomes free.
type FreeList struct {
	pager *Pager
}

// NewFreeList returns a FreeList operating over pager.
func NewFreeList(pager *Pager) *FreeList {
	return &FreeList{pager: pager}
}

// Alloc returns a page with flag set, preferring to pop head off the free
// list. If the free list is empty (*head == InvalidBlockNo) it extends the
// file instead. The caller must persist the updated *head alongside the
// returned page's commit, under its own lock.
func (fl *FreeList) Alloc(flag PageFlag, head *BlockNo) (*WriteGuard, error) {
	if *head == InvalidBlockNo {
		return fl.pager.AllocRaw(flag)
	}

	blkno := *head
	guard, err := fl.pager.Write(blkno)
	if err != nil {
		return nil, err
	}
	*head = guard.Page().NextBlkno()
	reset := initPage(blkno, flag)
	guard.page = reset
	return guard, nil
}

// Free links blkno onto the front of the free list rooted at *head. Page
// content is left as-is except for the opaque trailer, which is
// repurposed to store the free-list link; that's safe because a freed page
// is never read again until it is reallocated.
func (fl *FreeList) Free(blkno BlockNo, head *BlockNo) error {
	guard, err := fl.pager.Write(blkno)
	if err != nil {
		return err
	}
	page := guard.Page()
	page.setFlag(FlagFree)
	page.SetNextBlkno(*head)
	*head = blkno
	return guard.Commit()
}
