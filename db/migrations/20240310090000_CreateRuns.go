package migrations

type CreateRuns struct{}

func init() {
	registerMigration(&CreateRuns{})
}

func (m *CreateRuns) Version() string {
	return "20240310090000"
}

func (m *CreateRuns) Up(tx *Tx) {
	tx.MustExec(`
		create table runs (
			id text primary key,
			target text not null,
			kind text not null,
			outcome text not null,
			exhaust_reason text not null,
			rounds integer not null,
			productive_rounds integer not null,
			posts integer not null,
			retries integer not null,
			summary text not null,
			started_at text not null,
			finished_at text not null
		)
	`)
	tx.MustExec(`create index runs_target_idx on runs (target, started_at)`)
}

func (m *CreateRuns) Down(tx *Tx) {
	tx.MustExec(`drop table runs`)
}
