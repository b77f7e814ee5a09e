package db

// SchemaVersion is bumped whenever Schema changes incompatibly.
const SchemaVersion = 2

// Schema creates every table used by the service.
const Schema = `
CREATE TABLE diplomas (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	student_matricule TEXT NOT NULL,
	student_name      TEXT NOT NULL,
	program           TEXT NOT NULL,
	session           TEXT NOT NULL,
	academic_level    TEXT NOT NULL,
	status            TEXT NOT NULL,
	metadata          TEXT NOT NULL DEFAULT '{}',
	replaces_id       TEXT REFERENCES diplomas(id),
	replaced_by_id    TEXT UNIQUE REFERENCES diplomas(id),
	correction_reason TEXT NOT NULL DEFAULT '',
	authority_id      TEXT NOT NULL DEFAULT '',
	corrected_at      TEXT NOT NULL DEFAULT '',
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX idx_diplomas_tenant_status ON diplomas(tenant_id, status);
CREATE INDEX idx_diplomas_matricule ON diplomas(tenant_id, student_matricule);

CREATE TABLE signatures (
	diploma_id     TEXT NOT NULL REFERENCES diplomas(id),
	position       INTEGER NOT NULL,
	signer_id      TEXT NOT NULL,
	signer_role    TEXT NOT NULL,
	signer_title   TEXT NOT NULL,
	signature_ref  TEXT NOT NULL,
	stamp_ref      TEXT NOT NULL DEFAULT '',
	signed_at      TEXT NOT NULL,
	PRIMARY KEY (diploma_id, signer_id),
	UNIQUE (diploma_id, position)
);
CREATE INDEX idx_signatures_signer ON signatures(signer_id);

CREATE TABLE audit_entries (
	tenant_id  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	ts         TEXT NOT NULL,
	action     TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	data       TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL,
	PRIMARY KEY (tenant_id, seq)
);
CREATE INDEX idx_audit_subject ON audit_entries(subject_id);

CREATE TABLE audit_heads (
	tenant_id TEXT PRIMARY KEY,
	seq       INTEGER NOT NULL,
	hash      TEXT NOT NULL
);

CREATE TABLE audit_halts (
	tenant_id TEXT PRIMARY KEY,
	reason    TEXT NOT NULL,
	halted_at TEXT NOT NULL
);
`
