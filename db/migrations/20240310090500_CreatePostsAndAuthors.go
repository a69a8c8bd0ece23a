package migrations

type CreatePostsAndAuthors struct{}

func init() {
	registerMigration(&CreatePostsAndAuthors{})
}

func (m *CreatePostsAndAuthors) Version() string {
	return "20240310090500"
}

func (m *CreatePostsAndAuthors) Up(tx *Tx) {
	tx.MustExec(`
		create table authors (
			handle text primary key collate nocase,
			display_name text not null,
			bio text not null,
			location text not null,
			website text not null,
			followers integer not null,
			following integer not null,
			post_count integer not null,
			verified integer not null,
			updated_at text not null
		)
	`)
	tx.MustExec(`
		create table posts (
			id text primary key,
			author_handle text not null collate nocase,
			author_name text not null,
			body text not null,
			created_at text not null,
			likes integer not null,
			reposts integer not null,
			replies integer not null,
			quotes integer not null,
			mentions text not null,
			tags text not null,
			urls text not null,
			locator text not null,
			is_reply integer not null,
			is_repost integer not null,
			scraped_at text not null,
			first_run_id text not null references runs (id) on delete cascade,
			last_run_id text not null
		)
	`)
	tx.MustExec(`create index posts_author_handle_idx on posts (author_handle, created_at)`)
}

func (m *CreatePostsAndAuthors) Down(tx *Tx) {
	tx.MustExec(`drop table posts`)
	tx.MustExec(`drop table authors`)
}
