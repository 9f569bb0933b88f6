package db

// SchemaSQL defines the ingestion tables. Job rows are immutable after
// creation; record retention is an external concern.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS sheet_jobs (
	id                 BIGSERIAL PRIMARY KEY,
	owner_id           BIGINT      NOT NULL,
	source_name        TEXT        NOT NULL,
	uploaded_by        TEXT        NOT NULL,
	declared_row_count INTEGER     NOT NULL,
	column_labels      JSONB       NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sheet_records (
	id             BIGSERIAL PRIMARY KEY,
	owner_id       BIGINT      NOT NULL,
	job_id         BIGINT      NOT NULL REFERENCES sheet_jobs(id),
	payload        JSONB       NOT NULL,
	sequence_index INTEGER     NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sheet_records_job_seq_idx
	ON sheet_records (job_id, sequence_index);

CREATE INDEX IF NOT EXISTS sheet_records_owner_idx
	ON sheet_records (owner_id);
`
