package ember

import (
	"sort"

	"ember/pkg/ember/btree"
	"ember/pkg/ember/pager"
	"ember/pkg/ember/schema"
)

// vacuum implements spec §9's resolved Open Question (SUPPLEMENTED
// FEATURES #4): repack every live page into the low end of the file and
// truncate the rest away. Pointer-map pages sit at fixed positions
// determined purely by page number, so they never move; everything else
// above the packed boundary is either a free page (simply dropped) or a
// live page relocated into a free slot below the boundary.
func vacuum(p *pager.Pager, cat *schema.Catalog) error {
	pageSize := p.PageSize()
	used := p.PageCount() - p.FreelistCount()

	var holes []uint32
	dropped := make(map[uint32]bool)
	for {
		pgno, ok, err := p.FreelistPop()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if pgno <= used && !pager.IsMapPage(pgno, pageSize) {
			holes = append(holes, pgno)
		} else {
			dropped[pgno] = true
		}
		// Free pages above the packed boundary are simply dropped; they
		// vanish when the file is truncated below.
	}
	sort.Slice(holes, func(i, j int) bool { return holes[i] < holes[j] })

	for pgno := p.PageCount(); pgno > used; pgno-- {
		if pager.IsMapPage(pgno, pageSize) || dropped[pgno] {
			continue
		}
		if len(holes) == 0 {
			// No hole left to relocate this live page into; leave it in
			// place and stop shrinking past it.
			used = pgno
			continue
		}
		hole := holes[0]
		holes = holes[1:]
		entry, err := btree.Relocate(p, pgno, hole)
		if err != nil {
			return err
		}
		if entry.Type == pager.PtrTreeRoot {
			if err := cat.RewriteBucketRoot(pgno, hole); err != nil {
				return err
			}
		}
	}

	for _, h := range holes {
		if err := p.FreelistPush(h); err != nil {
			return err
		}
	}

	return p.Truncate(used)
}
