// Run `golangci-lint cache clean` after modifying this file.

package gorules

import (
	"github.com/quasilyte/go-ruleguard/dsl"
)

func scraperClock(m dsl.Matcher) {
	m.Match(`time.Sleep($*_)`).
		Where(m.File().PkgPath.Matches(`feedscroll/scraper`)).
		Report(`time.Sleep() is disallowed in scraper, use Clock.Sleep so that tests control time`)
	m.Match(`time.Now()`).
		Where(
			m.File().PkgPath.Matches(`feedscroll/scraper`) &&
				!m.File().Name.Matches(`(clock|rod_source)\.go$`)).
		Report(`time.Now() is disallowed in scraper, use Clock.Now`)
}

func configFromEnv(m dsl.Matcher) {
	m.Match(`os.Getenv($*_)`, `os.LookupEnv($*_)`).
		Where(!m.File().PkgPath.Matches(`feedscroll/config`)).
		Report(`environment is only read in config, pass the value through config.Config instead`)
}

func sqlwOutsideDb(m dsl.Matcher) {
	m.Match(`sqlw.Tx`, `sqlw.Conn`).
		Where(
			!m.File().PkgPath.Matches(`feedscroll/db`) &&
				!m.File().PkgPath.Matches(`feedscroll/cmd`)).
		Report(`references to sqlw are only allowed in db, go through db.Store instead`)
}
