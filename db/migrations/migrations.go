package migrations

import (
	"feedscroll/db/sqlw"
	"sort"
)

type Migration interface {
	Version() string
	Up(tx *Tx)
	Down(tx *Tx)
}

var All []Migration

func init() {
	sort.Slice(All, func(i, j int) bool {
		return All[i].Version() < All[j].Version()
	})
}

func registerMigration(migration Migration) {
	All = append(All, migration)
}

// Tx panics on the first failed statement. The migrator recovers and rolls back.
type Tx struct {
	impl *sqlw.Tx
}

func WrapTx(tx *sqlw.Tx) *Tx {
	return &Tx{impl: tx}
}

func (tx *Tx) MustExec(query string, args ...any) {
	tx.impl.MustExec(query, args...)
}
