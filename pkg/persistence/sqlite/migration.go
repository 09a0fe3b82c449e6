package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_instances (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				reference_id TEXT NOT NULL,
				reference_type TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('IN_PROGRESS', 'APPROVED', 'REJECTED')),
				current_step INTEGER NOT NULL,
				total_steps INTEGER NOT NULL,
				initiated_by TEXT NOT NULL,
				sla_deadline TEXT,
				sla_breached INTEGER NOT NULL DEFAULT 0,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			CREATE INDEX idx_workflow_instances_reference ON workflow_instances(reference_type, reference_id);
			CREATE INDEX idx_workflow_instances_sla ON workflow_instances(status, sla_breached, sla_deadline);

			CREATE TABLE workflow_steps (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				step_number INTEGER NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'APPROVED', 'REJECTED', 'SKIPPED')),
				required_role TEXT,
				assigned_user_id TEXT,
				sla_hours INTEGER,
				skippable INTEGER NOT NULL DEFAULT 0,
				due_at TEXT,
				action_by TEXT,
				action_at TEXT,
				action_comment TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE (workflow_id, step_number)
			);

			CREATE INDEX idx_workflow_steps_active ON workflow_steps(status, due_at);
		`,
	}
}
